package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/replica/internal/model"
)

// OpType is the kind of mutation an Operation performs.
type OpType int

const (
	OpCreate OpType = iota + 1
	OpUpdate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(t))
}

// Operation is a mutation request submitted through Dispatch.
type Operation struct {
	Type OpType

	// Payload is the user's input for a create.
	Payload model.Payload

	// Identity addresses the record for update and delete. A provisional
	// identity is translated once its create has been confirmed.
	Identity model.Identity

	// Patch holds the changed fields for an update.
	Patch model.Patch
}

// Create builds a create operation.
func Create(p model.Payload) Operation {
	return Operation{Type: OpCreate, Payload: p}
}

// Update builds an update operation.
func Update(id model.Identity, patch model.Patch) Operation {
	return Operation{Type: OpUpdate, Identity: id, Patch: patch}
}

// Delete builds a delete operation.
func Delete(id model.Identity) Operation {
	return Operation{Type: OpDelete, Identity: id}
}

// State is the position of an operation in its lifecycle.
//
//	Idle -> OptimisticallyApplied -> {Confirmed | RolledBack | Quarantined}
//	Idle -> Rejected
//
// Every state except Idle and OptimisticallyApplied is terminal.
type State int

const (
	StateIdle State = iota
	StateOptimisticallyApplied
	StateConfirmed
	StateRolledBack
	StateRejected
	StateQuarantined
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOptimisticallyApplied:
		return "optimistically_applied"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	case StateRejected:
		return "rejected"
	case StateQuarantined:
		return "quarantined"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateConfirmed
}

// Outcome is the settled result of an operation.
type Outcome struct {
	State State

	// Record is the record the operation left behind: the confirmed record,
	// or the restored record after a rolled-back update or delete. It is the
	// zero Record after a confirmed delete or a rolled-back create.
	Record model.Record

	// Err is nil only for Confirmed.
	Err error
}

// Handle observes one dispatched operation. All methods are safe for
// concurrent use.
type Handle struct {
	id  string
	op  Operation
	eng *Engine

	mu         sync.Mutex
	state      State
	identity   model.Identity
	optimistic model.Record
	stuck      bool
	outcome    Outcome
	done       chan struct{}
}

func newHandle(e *Engine, id string, op Operation) *Handle {
	return &Handle{id: id, op: op, eng: e, done: make(chan struct{})}
}

// ID returns the operation id.
func (h *Handle) ID() string { return h.id }

// Operation returns the dispatched request.
func (h *Handle) Operation() Operation { return h.op }

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Identity returns the identity the operation currently addresses. For a
// create it is provisional until confirmation and final afterwards.
func (h *Handle) Identity() model.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

// Optimistic returns the record as it was applied optimistically.
func (h *Handle) Optimistic() model.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.optimistic
}

// Stuck reports whether the operation was reported as stuck.
func (h *Handle) Stuck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stuck
}

// Done is closed once the operation is settled and the store changes that
// settled it have been published.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the settled result. ok is false while the operation is
// still in flight.
func (h *Handle) Outcome() (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.state.Terminal()
}

// Wait blocks until the operation settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		o, _ := h.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel abandons the operation and rolls back its optimistic write. The
// remote call's context is cancelled, but a request already sent may still
// take effect on the server.
func (h *Handle) Cancel(ctx context.Context) error {
	return h.eng.Cancel(ctx, h.id)
}

// Retry re-issues the remote call of an operation that is still in flight.
func (h *Handle) Retry(ctx context.Context) error {
	return h.eng.Retry(ctx, h.id)
}

func (h *Handle) applied(rec model.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateOptimisticallyApplied
	h.identity = rec.Identity
	h.optimistic = rec
}

func (h *Handle) rekeyed(id model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identity = id
}

func (h *Handle) markStuck() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stuck = true
}

func (h *Handle) settle(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = o.State
	h.outcome = o
	if !o.Record.Identity.IsZero() {
		h.identity = o.Record.Identity
	}
}
