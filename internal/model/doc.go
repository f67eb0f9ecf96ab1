// Package model defines the record types shared by every replica component.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Identities are a closed sum: Final(serverID) or Provisional(localID).
//     The two never compare equal, even when their strings match.
//   - Payloads are a closed set of kind-specific structs (Product,
//     SellerOrder, FAQQuestion, FAQAnswer). Patches are field maps over the
//     constrained Value type.
//   - NO float types anywhere - money is carried in integer cents.
//   - Payloads are treated as immutable; Apply returns new values.
//   - All JSON tags use snake_case.
package model
