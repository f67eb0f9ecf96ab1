// Package patcher applies push events to the object store.
//
// Events addressed to a record an operation currently owns are queued per
// identity and replayed by Drain once the operation settles. Everything else
// is applied immediately through the store's version gate, which makes
// duplicate and reordered delivery harmless.
package patcher

import (
	"fmt"
	"log/slog"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
)

// DefaultQueueLimit bounds the per-identity pending queue.
const DefaultQueueLimit = 32

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Applied: the event was written to the store.
	Applied Outcome = iota + 1
	// Stale: the version gate rejected the event.
	Stale
	// Queued: the target is pending; the event waits for Drain.
	Queued
	// Dropped: the target is being deleted, so the event is moot.
	Dropped
	// Removed: a delete event removed the record.
	Removed
	// Ignored: nothing to do (quarantined target, or delete of an absent
	// record).
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	case Removed:
		return "removed"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// PendingEvent is an event held while its target is pending.
type PendingEvent struct {
	Event model.PushEvent
	Seq   int64 // arrival order
}

// Patcher applies push events. Not safe for concurrent use; it shares the
// store's owning goroutine.
type Patcher struct {
	store   *objectstore.Store
	limit   int
	seq     int64
	queues  map[model.Identity][]PendingEvent
	dropped int64
}

// New creates a patcher over store. limit <= 0 uses DefaultQueueLimit.
func New(store *objectstore.Store, limit int) *Patcher {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &Patcher{
		store:  store,
		limit:  limit,
		queues: make(map[model.Identity][]PendingEvent),
	}
}

// Apply routes one event. Invalid events return an error and change nothing.
func (p *Patcher) Apply(ev model.PushEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	p.seq++
	return p.route(PendingEvent{Event: ev, Seq: p.seq})
}

// Defer queues ev for its identity without routing it, even when no record
// is pending there. The owner releases it with Drain.
func (p *Patcher) Defer(ev model.PushEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	p.seq++
	p.enqueue(PendingEvent{Event: ev, Seq: p.seq})
	return nil
}

func (p *Patcher) route(pe PendingEvent) (Outcome, error) {
	ev := pe.Event
	rec, exists := p.store.Get(ev.Identity)
	if exists {
		if rec.Kind != ev.Kind {
			return 0, fmt.Errorf("push event %q: kind %s does not match stored %s for %s",
				ev.EventID, ev.Kind, rec.Kind, ev.Identity)
		}
		if rec.Quarantined {
			slog.Warn("push event for quarantined record ignored",
				"identity", ev.Identity.String(),
				"event_id", ev.EventID,
			)
			return Ignored, nil
		}
		switch rec.Pending {
		case model.PendingNone:
		case model.PendingDeleting:
			slog.Debug("push event dropped for record pending delete",
				"identity", ev.Identity.String(),
				"event_id", ev.EventID,
			)
			return Dropped, nil
		default:
			p.enqueue(pe)
			return Queued, nil
		}
	}

	if ev.Delete {
		if !p.store.Remove(ev.Identity) {
			return Ignored, nil
		}
		return Removed, nil
	}

	if exists && ev.Version <= rec.Version {
		return Stale, nil
	}

	var base model.Payload
	if exists {
		base = rec.Payload
	} else {
		zero, err := model.NewPayload(ev.Kind)
		if err != nil {
			return 0, err
		}
		base = zero
	}
	next, err := model.Apply(base, ev.Patch)
	if err != nil {
		return 0, fmt.Errorf("push event %q: %w", ev.EventID, err)
	}
	if _, ok := p.store.Upsert(ev.Identity, next, ev.Version); !ok {
		return Stale, nil
	}
	return Applied, nil
}

func (p *Patcher) enqueue(pe PendingEvent) {
	id := pe.Event.Identity
	q := p.queues[id]
	if len(q) >= p.limit {
		oldest := q[0]
		q[0] = PendingEvent{}
		q = q[1:]
		p.dropped++
		slog.Warn("pending event queue full, dropping oldest",
			"identity", id.String(),
			"dropped_event_id", oldest.Event.EventID,
			"dropped_version", oldest.Event.Version,
			"limit", p.limit,
			"event", "pending_queue_overflow",
		)
	}
	p.queues[id] = append(q, pe)
}

// Drain replays the events queued for id in arrival order. Each replay goes
// through the normal routing, so the version gate discards anything the
// settled operation has already superseded.
func (p *Patcher) Drain(id model.Identity) []Outcome {
	q := p.queues[id]
	if len(q) == 0 {
		return nil
	}
	delete(p.queues, id)

	out := make([]Outcome, 0, len(q))
	for _, pe := range q {
		o, err := p.route(pe)
		if err != nil {
			slog.Warn("queued push event failed",
				"identity", id.String(),
				"event_id", pe.Event.EventID,
				"error", err,
			)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Drop discards the events queued for id and returns how many there were.
func (p *Patcher) Drop(id model.Identity) int {
	n := len(p.queues[id])
	delete(p.queues, id)
	return n
}

// Queued returns a copy of the events waiting for id.
func (p *Patcher) Queued(id model.Identity) []PendingEvent {
	return append([]PendingEvent(nil), p.queues[id]...)
}

// Overflowed returns how many events were lost to queue overflow.
func (p *Patcher) Overflowed() int64 {
	return p.dropped
}
