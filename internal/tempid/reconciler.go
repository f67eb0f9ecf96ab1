// Package tempid tracks provisional identities from allocation until the
// server assigns a final identity or the create is abandoned.
//
// A provisional identity ends in exactly one of two ways: Resolve, which
// rekeys the record in the object store, or Discard, which leaves rollback to
// the caller. Identities that do neither within a bound are reported by
// Stuck so they are never silently dropped.
package tempid

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/replica/internal/model"
)

var (
	// ErrUnknown is returned for provisional identities this reconciler never
	// allocated.
	ErrUnknown = errors.New("unknown provisional identity")

	// ErrSettled is returned when an identity was already resolved or
	// discarded.
	ErrSettled = errors.New("provisional identity already settled")
)

// Rekeyer is the slice of the object store the reconciler needs.
type Rekeyer interface {
	Rekey(oldID, newID model.Identity) (model.Record, error)
}

// State is the lifecycle position of a provisional identity.
type State int

const (
	StatePending State = iota
	StateResolved
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

type entry struct {
	kind        model.Kind
	allocatedAt time.Time
	state       State
	final       model.Identity
	reported    bool
}

// Stuck describes a provisional identity that outlived the stuck bound.
type Stuck struct {
	Identity model.Identity
	Kind     model.Kind
	Age      time.Duration
}

// Reconciler maps provisional identities to final ones.
//
// Not safe for concurrent use; it is owned by the engine's event loop.
type Reconciler struct {
	gen     Generator
	store   Rekeyer
	now     func() time.Time
	entries map[model.Identity]*entry
}

// New creates a reconciler. A nil gen uses a SessionGenerator; a nil now uses
// time.Now.
func New(store Rekeyer, gen Generator, now func() time.Time) *Reconciler {
	if gen == nil {
		gen = NewSessionGenerator(DefaultPrefix)
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		gen:     gen,
		store:   store,
		now:     now,
		entries: make(map[model.Identity]*entry),
	}
}

// Allocate returns a new provisional identity for kind.
func (r *Reconciler) Allocate(kind model.Kind) model.Identity {
	for {
		id := model.Provisional(r.gen.Next(kind))
		if _, dup := r.entries[id]; dup {
			continue
		}
		r.entries[id] = &entry{kind: kind, allocatedAt: r.now()}
		return id
	}
}

// Resolve records provisional -> final and rekeys the stored record. On a
// store error (for example objectstore.ErrIdentityConflict) the mapping is
// not recorded and the identity stays pending.
func (r *Reconciler) Resolve(provisional, final model.Identity) (model.Record, error) {
	e, err := r.pending(provisional)
	if err != nil {
		return model.Record{}, err
	}
	if final.IsProvisional() || final.IsZero() {
		return model.Record{}, fmt.Errorf("resolve %s: final identity required, got %s", provisional, final)
	}
	rec, err := r.store.Rekey(provisional, final)
	if err != nil {
		return rec, fmt.Errorf("resolve %s: %w", provisional, err)
	}
	e.state = StateResolved
	e.final = final
	return rec, nil
}

// Discard marks provisional as abandoned. The caller removes the record.
func (r *Reconciler) Discard(provisional model.Identity) error {
	e, err := r.pending(provisional)
	if err != nil {
		return err
	}
	e.state = StateDiscarded
	return nil
}

// Lookup translates id. Final identities map to themselves. A resolved
// provisional identity maps to its final identity. ok is false while the
// identity is still pending, or when it was discarded or never allocated.
func (r *Reconciler) Lookup(id model.Identity) (model.Identity, bool) {
	if !id.IsProvisional() {
		return id, true
	}
	e, known := r.entries[id]
	if !known || e.state != StateResolved {
		return model.Identity{}, false
	}
	return e.final, true
}

// StateOf returns the lifecycle state of a provisional identity.
func (r *Reconciler) StateOf(id model.Identity) (State, bool) {
	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Stuck returns pending identities older than bound that have not been
// reported before. Each identity is reported once.
func (r *Reconciler) Stuck(bound time.Duration) []Stuck {
	now := r.now()
	var out []Stuck
	for id, e := range r.entries {
		if e.state != StatePending || e.reported {
			continue
		}
		age := now.Sub(e.allocatedAt)
		if age < bound {
			continue
		}
		e.reported = true
		out = append(out, Stuck{Identity: id, Kind: e.kind, Age: age})
	}
	slices.SortFunc(out, func(a, b Stuck) int {
		return strings.Compare(a.Identity.ID(), b.Identity.ID())
	})
	return out
}

// Rearm clears the reported flag and restarts the age of a pending identity,
// used when its create is retried.
func (r *Reconciler) Rearm(provisional model.Identity) {
	if e, ok := r.entries[provisional]; ok && e.state == StatePending {
		e.reported = false
		e.allocatedAt = r.now()
	}
}

// Prune forgets settled identities. Lookups for them fail afterwards.
func (r *Reconciler) Prune() int {
	n := 0
	for id, e := range r.entries {
		if e.state != StatePending {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

func (r *Reconciler) pending(id model.Identity) (*entry, error) {
	if !id.IsProvisional() {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknown)
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknown)
	}
	if e.state != StatePending {
		return nil, fmt.Errorf("%s is %s: %w", id, e.state, ErrSettled)
	}
	return e, nil
}
