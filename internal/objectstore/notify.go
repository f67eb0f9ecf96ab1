package objectstore

import (
	"slices"

	"github.com/roach88/replica/internal/model"
)

// ChangeType classifies a single store mutation.
type ChangeType int

const (
	ChangeUpsert ChangeType = iota + 1
	ChangeRemove
	ChangeRekey
	ChangePending
	ChangeQuarantine
	ChangeOrder
)

func (t ChangeType) String() string {
	switch t {
	case ChangeUpsert:
		return "upsert"
	case ChangeRemove:
		return "remove"
	case ChangeRekey:
		return "rekey"
	case ChangePending:
		return "pending"
	case ChangeQuarantine:
		return "quarantine"
	case ChangeOrder:
		return "order"
	}
	return "unknown"
}

// Change describes one mutation. Previous is set only for rekeys.
type Change struct {
	Type     ChangeType
	Identity model.Identity
	Previous model.Identity
	Kind     model.Kind
	Version  int64
}

// Batch is the coalesced set of changes delivered by one Flush.
type Batch struct {
	Seq      int64
	Changes  []Change
	Snapshot *Snapshot
}

// Touches reports whether the batch changed any record of kind.
func (b Batch) Touches(kind model.Kind) bool {
	for _, c := range b.Changes {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Listener receives coalesced change batches.
type Listener func(Batch)

// Unsubscribe detaches a listener. Calling it more than once is harmless.
type Unsubscribe func()

// Subscribe registers l for every future batch.
func (s *Store) Subscribe(l Listener) Unsubscribe {
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	return func() {
		delete(s.listeners, id)
	}
}

// Pending reports whether changes are waiting for Flush.
func (s *Store) Pending() bool {
	return len(s.changes) > 0
}

// Flush delivers accumulated changes to every listener as one batch, in
// subscription order. It returns the batch and false when nothing changed.
func (s *Store) Flush() (Batch, bool) {
	if len(s.changes) == 0 {
		return Batch{}, false
	}
	s.batchSeq++
	s.snap = nil
	b := Batch{
		Seq:      s.batchSeq,
		Changes:  s.changes,
		Snapshot: s.Snapshot(),
	}
	s.changes = nil

	for _, id := range s.listenerIDs() {
		if l, ok := s.listeners[id]; ok {
			l(b)
		}
	}
	return b, true
}

func (s *Store) listenerIDs() []int {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
