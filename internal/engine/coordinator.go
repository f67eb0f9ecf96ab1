package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/tempid"
)

// operation is the loop-owned state of one in-flight mutation.
type operation struct {
	id     string
	op     Operation
	handle *Handle

	kind     model.Kind
	identity model.Identity // provisional for a create until confirmed
	input    model.Payload  // sent to the server on create
	prior    model.Record   // snapshot taken before an update or delete

	attempt   int
	startedAt time.Time
	stuck     bool
	cancel    context.CancelFunc
	timer     *time.Timer
}

func (o *operation) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

type completion struct {
	opID    string
	attempt int
	result  remote.Result
	err     error
}

// Dispatch applies op optimistically and issues its remote call. It returns
// once the optimistic write is committed, so Get already observes it. The
// remote outcome is observed through the handle or the store.
//
// Validation failures, concurrent mutations and writes to quarantined
// records are rejected with an *Error and leave the store untouched.
func (e *Engine) Dispatch(ctx context.Context, op Operation) (*Handle, error) {
	var (
		h   *Handle
		err error
	)
	if derr := e.do(ctx, func() { h, err = e.dispatch(op) }); derr != nil {
		return nil, derr
	}
	return h, err
}

func (e *Engine) dispatch(op Operation) (*Handle, error) {
	o := &operation{id: e.opGen.Generate(), op: op}
	o.handle = newHandle(e, o.id, op)

	var err error
	switch op.Type {
	case OpCreate:
		err = e.applyCreate(o)
	case OpUpdate:
		err = e.applyUpdate(o)
	case OpDelete:
		err = e.applyDelete(o)
	default:
		err = newValidationError(model.Identity{}, nil, "unknown operation type %d", int(op.Type))
	}
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			ee.OpID = o.id
		}
		slog.Info("operation rejected",
			"op_id", o.id,
			"op", op.Type.String(),
			"identity", op.Identity.String(),
			"error", err,
		)
		o.handle.settle(Outcome{State: StateRejected, Err: err})
		return nil, err
	}

	rec, _ := e.store.Get(o.identity)
	o.handle.applied(rec)
	o.startedAt = e.now()
	e.ops[o.id] = o
	e.owners[o.identity] = o

	slog.Debug("optimistic write applied",
		"op_id", o.id,
		"op", op.Type.String(),
		"identity", o.identity.String(),
		"kind", string(o.kind),
		"version", rec.Version,
	)

	e.issue(o)
	return o.handle, nil
}

func (e *Engine) applyCreate(o *operation) error {
	p := o.op.Payload
	if p == nil {
		return newValidationError(model.Identity{}, nil, "create requires a payload")
	}
	if !p.Kind().Valid() {
		return newValidationError(model.Identity{}, nil, "unknown record kind %q", p.Kind())
	}
	guess := model.FillJoins(p, e.ref)
	if err := guess.Validate(); err != nil {
		return newValidationError(model.Identity{}, err, "%v", err)
	}

	id := e.ids.Allocate(p.Kind())
	if _, err := e.store.Put(model.Record{Identity: id, Payload: guess, Pending: model.PendingCreating}); err != nil {
		// A fresh provisional id cannot be occupied.
		panic(fmt.Sprintf("optimistic create at %s: %v", id, err))
	}
	e.store.MoveToFront(id)

	o.kind = p.Kind()
	o.identity = id
	o.input = p
	e.creating[o.kind]++
	return nil
}

// target resolves the record an update or delete addresses and enforces the
// single-operation-per-identity rule.
func (e *Engine) target(addr model.Identity) (model.Record, error) {
	if addr.IsZero() {
		return model.Record{}, newValidationError(addr, nil, "operation requires an identity")
	}
	if rec, ok := e.store.Get(addr); ok && rec.Quarantined {
		return model.Record{}, quarantinedError(addr)
	}
	id, ok := e.ids.Lookup(addr)
	if !ok {
		if st, known := e.ids.StateOf(addr); known && st == tempid.StatePending {
			return model.Record{}, newConcurrentMutationError(addr, e.ownerOf(addr))
		}
		return model.Record{}, newValidationError(addr, objectstore.ErrNotFound, "record not found")
	}
	rec, exists := e.store.Get(id)
	if !exists {
		return model.Record{}, newValidationError(id, objectstore.ErrNotFound, "record not found")
	}
	if rec.Quarantined {
		return model.Record{}, quarantinedError(id)
	}
	if rec.IsPending() {
		return model.Record{}, newConcurrentMutationError(id, e.ownerOf(id))
	}
	return rec, nil
}

func quarantinedError(id model.Identity) *Error {
	return &Error{
		Code:     ErrCodeIdentityConflict,
		Message:  "record is quarantined",
		Identity: id,
		Err:      objectstore.ErrQuarantined,
	}
}

func (e *Engine) ownerOf(id model.Identity) string {
	if o, ok := e.owners[id]; ok {
		return o.id
	}
	return ""
}

func (e *Engine) applyUpdate(o *operation) error {
	rec, err := e.target(o.op.Identity)
	if err != nil {
		return err
	}
	if len(o.op.Patch) == 0 {
		return newValidationError(rec.Identity, nil, "update requires a non-empty patch")
	}
	next, err := model.Apply(rec.Payload, o.op.Patch)
	if err != nil {
		return newValidationError(rec.Identity, err, "%v", err)
	}
	next = model.RefreshJoins(next, o.op.Patch, e.ref)
	if err := next.Validate(); err != nil {
		return newValidationError(rec.Identity, err, "%v", err)
	}

	if _, err := e.store.Put(model.Record{
		Identity: rec.Identity,
		Payload:  next,
		Version:  rec.Version + 1,
		Pending:  model.PendingUpdating,
	}); err != nil {
		return newValidationError(rec.Identity, err, "%v", err)
	}

	o.kind = rec.Kind
	o.identity = rec.Identity
	o.prior = rec
	return nil
}

func (e *Engine) applyDelete(o *operation) error {
	rec, err := e.target(o.op.Identity)
	if err != nil {
		return err
	}
	if _, err := e.store.SetPending(rec.Identity, model.PendingDeleting); err != nil {
		return newValidationError(rec.Identity, err, "%v", err)
	}
	o.kind = rec.Kind
	o.identity = rec.Identity
	o.prior = rec
	return nil
}

// issue starts a new attempt of o's remote call on a worker goroutine. The
// completion is delivered back to the loop tagged with the attempt, so
// completions of superseded attempts can be told apart.
func (e *Engine) issue(o *operation) {
	if o.cancel != nil {
		o.cancel()
	}
	o.stopTimer()
	o.attempt++

	ctx, cancel := context.WithCancel(e.runCtx)
	o.cancel = cancel

	var (
		opID    = o.id
		attempt = o.attempt
		kind    = o.kind
		id      = o.identity
		input   = o.input
		patch   = o.op.Patch
		typ     = o.op.Type
	)
	go func() {
		var c completion
		c.opID, c.attempt = opID, attempt
		switch typ {
		case OpCreate:
			c.result, c.err = e.remote.Create(ctx, kind, input)
		case OpUpdate:
			c.result, c.err = e.remote.Update(ctx, kind, id, patch)
		case OpDelete:
			c.err = e.remote.Delete(ctx, kind, id)
		}
		e.queue.Enqueue(event{Type: EventTypeCompletion, completion: &c})
	}()

	if e.opTimeout > 0 {
		o.timer = time.AfterFunc(e.opTimeout, func() {
			e.queue.Enqueue(event{Type: EventTypeTimeout, opID: opID, attempt: attempt})
		})
	}
}

func (e *Engine) complete(c *completion) {
	o, ok := e.ops[c.opID]
	if !ok || o.attempt != c.attempt {
		slog.Debug("late remote completion ignored",
			"op_id", c.opID,
			"attempt", c.attempt,
			"error", c.err,
		)
		return
	}
	if c.err != nil {
		e.rollback(o, &Error{
			Code:     ErrCodeRemote,
			Message:  remote.Message(c.err),
			OpID:     o.id,
			Identity: o.identity,
			Err:      c.err,
		})
		return
	}
	switch o.op.Type {
	case OpCreate:
		e.confirmCreate(o, c.result)
	case OpUpdate:
		e.confirmUpdate(o, c.result)
	case OpDelete:
		e.confirmDelete(o)
	}
}

func (e *Engine) confirmCreate(o *operation, res remote.Result) {
	final := res.Identity
	if final.IsZero() || final.IsProvisional() {
		e.rollback(o, &Error{
			Code:     ErrCodeRemote,
			Message:  fmt.Sprintf("server returned no final identity (got %q)", final.String()),
			OpID:     o.id,
			Identity: o.identity,
		})
		return
	}
	if res.Payload != nil && res.Payload.Kind() != o.kind {
		e.rollback(o, &Error{
			Code:     ErrCodeRemote,
			Message:  fmt.Sprintf("server returned a %s for a %s create", res.Payload.Kind(), o.kind),
			OpID:     o.id,
			Identity: o.identity,
		})
		return
	}

	provisional := o.identity
	rec, err := e.ids.Resolve(provisional, final)
	if err != nil {
		if errors.Is(err, objectstore.ErrIdentityConflict) {
			e.quarantine(o, final, err)
			return
		}
		e.rollback(o, &Error{Code: ErrCodeRemote, Message: err.Error(), OpID: o.id, Identity: provisional, Err: err})
		return
	}
	delete(e.owners, provisional)
	o.identity = final
	o.handle.rekeyed(final)

	// The kind was checked above, so this cannot fail.
	payload, _ := model.Authoritative(rec.Payload, res.Payload)
	confirmed, err := e.store.Put(model.Record{
		Identity: final,
		Payload:  payload,
		Version:  max(res.Version, rec.Version),
	})
	if err != nil {
		slog.Error("confirmed create could not be written", "op_id", o.id, "identity", final.String(), "error", err)
	}

	slog.Info("create confirmed",
		"op_id", o.id,
		"provisional", provisional.String(),
		"identity", final.String(),
		"version", confirmed.Version,
	)
	e.finish(o, Outcome{State: StateConfirmed, Record: confirmed})
	e.release(final)
	e.createSettled(o.kind)
}

func (e *Engine) confirmUpdate(o *operation, res remote.Result) {
	cur, _ := e.store.Get(o.identity)
	payload, err := model.Authoritative(cur.Payload, res.Payload)
	if err != nil {
		e.rollback(o, &Error{Code: ErrCodeRemote, Message: err.Error(), OpID: o.id, Identity: o.identity, Err: err})
		return
	}
	confirmed, err := e.store.Put(model.Record{
		Identity: o.identity,
		Payload:  payload,
		Version:  max(res.Version, cur.Version),
	})
	if err != nil {
		slog.Error("confirmed update could not be written", "op_id", o.id, "identity", o.identity.String(), "error", err)
	}

	slog.Info("update confirmed",
		"op_id", o.id,
		"identity", o.identity.String(),
		"version", confirmed.Version,
	)
	e.finish(o, Outcome{State: StateConfirmed, Record: confirmed})
	e.release(o.identity)
}

func (e *Engine) confirmDelete(o *operation) {
	e.store.Remove(o.identity)
	if n := e.patcher.Drop(o.identity); n > 0 {
		slog.Debug("queued push events dropped with deleted record", "identity", o.identity.String(), "count", n)
	}
	slog.Info("delete confirmed", "op_id", o.id, "identity", o.identity.String())
	e.finish(o, Outcome{State: StateConfirmed})
}

// rollback restores the state o found before its optimistic write and
// settles o with cause.
func (e *Engine) rollback(o *operation, cause *Error) {
	var restored model.Record

	switch o.op.Type {
	case OpCreate:
		if err := e.ids.Discard(o.identity); err != nil {
			slog.Warn("discard provisional identity", "identity", o.identity.String(), "error", err)
		}
		e.store.Remove(o.identity)
		e.patcher.Drop(o.identity)
	case OpUpdate, OpDelete:
		// The rollback is itself a versioned write, so a stale queued event
		// cannot shadow it.
		rec, err := e.store.Put(model.Record{
			Identity: o.identity,
			Payload:  o.prior.Payload,
			Version:  o.prior.Version + 1,
		})
		if err != nil {
			slog.Error("rollback write failed", "op_id", o.id, "identity", o.identity.String(), "error", err)
		}
		restored = rec
	}

	slog.Warn("operation rolled back",
		"op_id", o.id,
		"op", o.op.Type.String(),
		"identity", o.identity.String(),
		"code", string(cause.Code),
		"error", cause.Message,
	)
	e.finish(o, Outcome{State: StateRolledBack, Record: restored, Err: cause})

	if o.op.Type == OpCreate {
		e.createSettled(o.kind)
	} else {
		e.release(o.identity)
	}
}

// quarantine freezes the provisional record of a create whose final
// identity is already taken. Nothing is merged; an operator decides.
func (e *Engine) quarantine(o *operation, final model.Identity, cause error) {
	provisional := o.identity
	if _, err := e.store.Quarantine(provisional); err != nil {
		slog.Error("quarantine failed", "identity", provisional.String(), "error", err)
	}
	if err := e.ids.Discard(provisional); err != nil {
		slog.Warn("discard provisional identity", "identity", provisional.String(), "error", err)
	}
	rec, _ := e.store.Get(provisional)

	ierr := &Error{
		Code:     ErrCodeIdentityConflict,
		Message:  fmt.Sprintf("server identity %s is already present", final.ID()),
		OpID:     o.id,
		Identity: provisional,
		Err:      cause,
	}
	slog.Error("identity conflict: provisional record quarantined",
		"op_id", o.id,
		"provisional", provisional.String(),
		"identity", final.String(),
		"event", "identity_conflict",
	)
	e.alert(ierr)
	e.finish(o, Outcome{State: StateQuarantined, Record: rec, Err: ierr})
	e.createSettled(o.kind)
}

func (e *Engine) finish(o *operation, out Outcome) {
	o.stopTimer()
	if o.cancel != nil {
		o.cancel()
	}
	delete(e.ops, o.id)
	if e.owners[o.identity] == o {
		delete(e.owners, o.identity)
	}
	o.handle.settle(out)
	e.settled = append(e.settled, o.handle)
}

// release replays the push events queued for id once nothing owns it.
func (e *Engine) release(id model.Identity) {
	for _, out := range e.patcher.Drain(id) {
		slog.Debug("queued push event replayed", "identity", id.String(), "outcome", out.String())
	}
}

// Cancel abandons the in-flight operation opID and rolls it back.
func (e *Engine) Cancel(ctx context.Context, opID string) error {
	var err error
	if derr := e.do(ctx, func() {
		o, ok := e.ops[opID]
		if !ok {
			err = fmt.Errorf("cancel %s: operation is not in flight", opID)
			return
		}
		e.rollback(o, &Error{
			Code:     ErrCodeCancelled,
			Message:  "operation cancelled",
			OpID:     o.id,
			Identity: o.identity,
			Err:      context.Canceled,
		})
	}); derr != nil {
		return derr
	}
	return err
}

// Retry re-issues the remote call of the in-flight operation opID. The
// record stays pending; the previous attempt's context is cancelled and its
// completion, should it still arrive, is ignored.
func (e *Engine) Retry(ctx context.Context, opID string) error {
	var err error
	if derr := e.do(ctx, func() {
		o, ok := e.ops[opID]
		if !ok {
			err = fmt.Errorf("retry %s: operation is not in flight", opID)
			return
		}
		o.startedAt = e.now()
		o.stuck = false
		if o.op.Type == OpCreate {
			e.ids.Rearm(o.identity)
		}
		slog.Info("operation retried", "op_id", o.id, "identity", o.identity.String(), "attempt", o.attempt+1)
		e.issue(o)
	}); derr != nil {
		return derr
	}
	return err
}

// timeout handles the wake-up of o's timer. Expiry is judged against the
// engine clock, so a timer firing early relative to it does nothing and the
// next sweep picks the operation up instead.
func (e *Engine) timeout(opID string, attempt int) {
	o, ok := e.ops[opID]
	if !ok || o.attempt != attempt {
		return
	}
	if e.now().Sub(o.startedAt) < e.opTimeout {
		return
	}
	e.expire(o)
}

func (e *Engine) expire(o *operation) {
	e.rollback(o, &Error{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("no resolution within %s", e.opTimeout),
		OpID:     o.id,
		Identity: o.identity,
		Err:      context.DeadlineExceeded,
	})
}
