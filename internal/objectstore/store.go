package objectstore

import (
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/model"
)

var (
	// ErrNotFound is returned when an identity has no record.
	ErrNotFound = errors.New("record not found")

	// ErrIdentityConflict is returned by Rekey when the target identity is
	// already occupied.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrQuarantined is returned by writes addressed to a quarantined record.
	ErrQuarantined = errors.New("identity quarantined")

	// ErrStaleVersion is returned by Put when the version is older than the
	// stored one.
	ErrStaleVersion = errors.New("stale version")
)

// Store holds the replica's records. See the package documentation for the
// ownership and write rules.
type Store struct {
	records map[model.Identity]model.Record
	order   map[model.Kind][]model.Identity

	changes   []Change
	batchSeq  int64
	listeners map[int]Listener
	nextSub   int
	snap      *Snapshot
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		records:   make(map[model.Identity]model.Record),
		order:     make(map[model.Kind][]model.Identity),
		listeners: make(map[int]Listener),
	}
	s.snap = s.buildSnapshot()
	return s
}

// Get returns the record stored at id.
func (s *Store) Get(id model.Identity) (model.Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.records)
}

// Upsert inserts or replaces the record at id when version is strictly newer
// than the stored version. It returns the resulting stored record and
// whether the write was applied. The pending state of an existing record is
// preserved. Writes to quarantined records are rejected.
func (s *Store) Upsert(id model.Identity, payload model.Payload, version int64) (model.Record, bool) {
	cur, exists := s.records[id]
	if exists {
		if cur.Quarantined || version <= cur.Version {
			return cur, false
		}
	}
	rec := model.Record{
		Identity: id,
		Kind:     payload.Kind(),
		Version:  version,
		Payload:  payload,
		Pending:  cur.Pending,
	}
	s.write(rec, exists)
	return rec, true
}

// Put writes rec as the owner of its identity. The version may equal the
// stored version but must not be older. Unlike Upsert, Put sets the pending
// state from rec.
func (s *Store) Put(rec model.Record) (model.Record, error) {
	if rec.Payload == nil {
		return model.Record{}, fmt.Errorf("put %s: nil payload", rec.Identity)
	}
	rec.Kind = rec.Payload.Kind()
	rec.Quarantined = false

	cur, exists := s.records[rec.Identity]
	if exists {
		if cur.Quarantined {
			return cur, fmt.Errorf("put %s: %w", rec.Identity, ErrQuarantined)
		}
		if rec.Version < cur.Version {
			return cur, fmt.Errorf("put %s at version %d (stored %d): %w",
				rec.Identity, rec.Version, cur.Version, ErrStaleVersion)
		}
	}
	s.write(rec, exists)
	return rec, nil
}

// SetPending changes only the pending state of a record. The version is not
// touched.
func (s *Store) SetPending(id model.Identity, state model.PendingState) (model.Record, error) {
	cur, ok := s.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("set pending %s: %w", id, ErrNotFound)
	}
	if cur.Quarantined {
		return cur, fmt.Errorf("set pending %s: %w", id, ErrQuarantined)
	}
	if cur.Pending == state {
		return cur, nil
	}
	cur.Pending = state
	s.records[id] = cur
	s.record(Change{Type: ChangePending, Identity: id, Kind: cur.Kind, Version: cur.Version})
	return cur, nil
}

// Remove deletes the record at id. It reports whether a record was removed.
func (s *Store) Remove(id model.Identity) bool {
	cur, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)
	s.order[cur.Kind] = removeID(s.order[cur.Kind], id)
	s.record(Change{Type: ChangeRemove, Identity: id, Kind: cur.Kind, Version: cur.Version})
	return true
}

// Rekey renames the record at oldID to newID in one step. The record keeps
// its position in its kind's list view. It fails with ErrIdentityConflict if
// newID is already present, leaving both records untouched.
func (s *Store) Rekey(oldID, newID model.Identity) (model.Record, error) {
	cur, ok := s.records[oldID]
	if !ok {
		return model.Record{}, fmt.Errorf("rekey %s: %w", oldID, ErrNotFound)
	}
	if cur.Quarantined {
		return cur, fmt.Errorf("rekey %s: %w", oldID, ErrQuarantined)
	}
	if oldID == newID {
		return cur, nil
	}
	if _, taken := s.records[newID]; taken {
		return cur, fmt.Errorf("rekey %s to %s: %w", oldID, newID, ErrIdentityConflict)
	}

	delete(s.records, oldID)
	cur.Identity = newID
	s.records[newID] = cur

	ids := s.order[cur.Kind]
	for i, id := range ids {
		if id == oldID {
			ids[i] = newID
			break
		}
	}
	s.record(Change{Type: ChangeRekey, Identity: newID, Previous: oldID, Kind: cur.Kind, Version: cur.Version})
	return cur, nil
}

// Quarantine freezes the record at id. Quarantined records stay visible but
// reject every further write until removed.
func (s *Store) Quarantine(id model.Identity) (model.Record, error) {
	cur, ok := s.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("quarantine %s: %w", id, ErrNotFound)
	}
	if cur.Quarantined {
		return cur, nil
	}
	cur.Quarantined = true
	s.records[id] = cur
	s.record(Change{Type: ChangeQuarantine, Identity: id, Kind: cur.Kind, Version: cur.Version})
	return cur, nil
}

// MoveToFront places id first in its kind's list view.
func (s *Store) MoveToFront(id model.Identity) {
	cur, ok := s.records[id]
	if !ok {
		return
	}
	ids := removeID(s.order[cur.Kind], id)
	s.order[cur.Kind] = append([]model.Identity{id}, ids...)
	s.record(Change{Type: ChangeOrder, Identity: id, Kind: cur.Kind, Version: cur.Version})
}

// Evict removes every record of kind that is neither pending nor
// quarantined. It returns the evicted identities in list order.
func (s *Store) Evict(kind model.Kind) []model.Identity {
	var evicted []model.Identity
	for _, id := range append([]model.Identity(nil), s.order[kind]...) {
		rec := s.records[id]
		if rec.IsPending() || rec.Quarantined {
			continue
		}
		s.Remove(id)
		evicted = append(evicted, id)
	}
	return evicted
}

// write stores rec and records the change. New records are appended to
// their kind's list view.
func (s *Store) write(rec model.Record, exists bool) {
	s.records[rec.Identity] = rec
	if !exists {
		s.order[rec.Kind] = append(s.order[rec.Kind], rec.Identity)
	}
	s.record(Change{Type: ChangeUpsert, Identity: rec.Identity, Kind: rec.Kind, Version: rec.Version})
}

func (s *Store) record(c Change) {
	s.changes = append(s.changes, c)
	s.snap = nil
}

func removeID(ids []model.Identity, id model.Identity) []model.Identity {
	for i, cur := range ids {
		if cur == id {
			out := make([]model.Identity, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
