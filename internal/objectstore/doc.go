// Package objectstore is the normalized, identity-keyed record store at the
// centre of the replica.
//
// # Ownership
//
// A Store is owned by exactly one goroutine (the engine's event loop). It has
// no internal locking. Other goroutines read through Snapshot values, which
// are immutable once built and safe to share.
//
// # Write rules
//
//   - Exactly one record per identity. Writes are keyed upserts.
//   - Upsert is version-gated: a write whose version is not strictly newer
//     than the stored one is a no-op and returns the stored record.
//   - Put is the owner write used by an in-flight operation. It accepts a
//     version equal to the stored one, so a rollback can land on the same
//     revision as the optimistic write it replaces.
//   - Rekey renames a record atomically and refuses to overwrite an
//     existing identity.
//   - Remove deletes the key outright; there are no tombstones.
//
// # Notifications
//
// Mutating methods never call listeners. Changes accumulate until the owner
// calls Flush at the end of a step, which delivers them to every listener as
// one coalesced Batch.
package objectstore
