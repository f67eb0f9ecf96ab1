// Package harness runs YAML scenarios against a live engine.
//
// A scenario drives the real engine over a scriptable remote: it seeds
// records, dispatches operations, answers or fails their remote calls,
// delivers push events and cancels operations, then asserts on the
// resulting records, views and handles. Every step appends to a trace that
// is compared against a golden file.
//
// # Scenario Format
//
//	name: update_rollback
//	description: "A failed update restores the prior record"
//	seed:
//	  - identity: prod_1
//	    kind: product
//	    version: 3
//	    fields: { name: Hammer, stock: 7 }
//	steps:
//	  - dispatch: { ref: edit, op: update, target: prod_1, patch: { stock: 6 } }
//	  - remote: { ref: edit, fail: { status: 409, message: out of sync } }
//	assertions:
//	  - type: record
//	    identity: prod_1
//	    version: 4
//	    fields: { stock: 7 }
//	  - type: handle
//	    ref: edit
//	    state: rolled_back
//
// Targets and assertion identities accept "@ref" to mean the identity the
// referenced operation currently holds.
//
// # Assertion Types
//
//   - record: a record exists (or is absent) with the given version, pending
//     state and fields
//   - view: a projected view lists exactly the given identities in order
//   - handle: an operation settled in the given state, optionally with an
//     error code
//   - trace_contains: a trace event of the given type and identity exists
//   - trace_count: the trace holds exactly N events of the given type
//
// # Deterministic Testing
//
// The engine runs with sequence provisional ids ("tmp-1"), sequence
// operation ids ("op-1"), a manual clock and no timers, so traces are
// identical across runs.
package harness
