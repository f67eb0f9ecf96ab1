// Package engine implements the mutation coordinator: the single-writer
// event loop that applies user operations optimistically, reconciles them
// with the server, and routes push events.
//
// # Architecture
//
// One goroutine (Run) owns the object store, the provisional id reconciler
// and the push patcher. Every public method submits a closure to the loop
// and waits until the step it ran in is committed. Remote calls run on
// worker goroutines; their completions come back through the same queue.
// A step ends with a commit: the store flushes its coalesced change batch,
// view subscriptions are refreshed, and handles settled by the step are
// released.
//
// # Operation lifecycle
//
//	Dispatch -> optimistic write (pending) -> remote call
//	         -> success: take the server's record whole, clear pending, replay queued events
//	         -> failure: restore prior state as a versioned write, surface *Error
//
// Only one operation may own an identity at a time. A second Dispatch
// addressing a pending record fails with CONCURRENT_MUTATION and writes
// nothing.
//
// # Timeouts
//
// An operation unresolved after the stuck bound is reported on Alerts and
// stays pending until retried or cancelled. An operation unresolved after
// the operation timeout is rolled back. Both are judged against the engine
// clock (WithNow); timers only wake the loop, and Sweep catches anything a
// timer missed. The remote call's context is
// cancelled in both the cancel and timeout cases, but a request the
// transport has already sent cannot be recalled.
//
// # Held push events
//
// While a create of a kind is in flight, push events for unknown identities
// of that kind are held: one of them may be the create's own record. The
// hold is bounded per kind (WithHeldLimit) and released after the stuck
// bound. Releasing early trades the brief double-identity window for
// visibility of other sessions' records; if the released record is the
// create's own, the create confirms into an identity conflict and is
// quarantined.
package engine
