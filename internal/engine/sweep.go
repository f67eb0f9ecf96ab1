package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Sweep rolls back operations past the operation timeout, releases push
// events held longer than the stuck bound, and reports operations that have
// been unresolved longer than the stuck bound. Run calls it on every sweep
// interval. Only the stuck reports are returned; timed out operations settle
// through their handles.
func (e *Engine) Sweep(ctx context.Context) ([]*Error, error) {
	var out []*Error
	if err := e.do(ctx, func() { out = e.sweep() }); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) sweep() []*Error {
	now := e.now()
	e.expireOverdue(now)
	if e.stuckAfter <= 0 {
		return nil
	}
	e.releaseHeld(now)

	var found []*Error

	// Creates are tracked through their provisional identity.
	for _, s := range e.ids.Stuck(e.stuckAfter) {
		o, ok := e.owners[s.Identity]
		if !ok {
			continue
		}
		o.stuck = true
		found = append(found, e.stuckError(o, s.Age))
	}

	var ops []*operation
	for _, o := range e.ops {
		if o.op.Type != OpCreate && !o.stuck && now.Sub(o.startedAt) >= e.stuckAfter {
			ops = append(ops, o)
		}
	}
	sortOps(ops)
	for _, o := range ops {
		o.stuck = true
		found = append(found, e.stuckError(o, now.Sub(o.startedAt)))
	}

	for _, err := range found {
		e.alert(err)
	}
	return found
}

func (e *Engine) expireOverdue(now time.Time) {
	if e.opTimeout <= 0 {
		return
	}
	var due []*operation
	for _, o := range e.ops {
		if now.Sub(o.startedAt) >= e.opTimeout {
			due = append(due, o)
		}
	}
	sortOps(due)
	for _, o := range due {
		e.expire(o)
	}
}

func sortOps(ops []*operation) {
	slices.SortFunc(ops, func(a, b *operation) int { return strings.Compare(a.id, b.id) })
}

func (e *Engine) stuckError(o *operation, age time.Duration) *Error {
	o.handle.markStuck()
	slog.Warn("operation stuck",
		"op_id", o.id,
		"op", o.op.Type.String(),
		"identity", o.identity.String(),
		"age", age.String(),
		"event", "stuck_operation",
	)
	return &Error{
		Code:     ErrCodeStuckOperation,
		Message:  fmt.Sprintf("%s unresolved after %s", o.op.Type, age.Round(time.Millisecond)),
		OpID:     o.id,
		Identity: o.identity,
	}
}
