package objectstore

import "github.com/roach88/replica/internal/model"

// Snapshot is an immutable view of the store at one batch boundary.
type Snapshot struct {
	seq     int64
	records map[model.Identity]model.Record
	order   map[model.Kind][]model.Identity
}

// Snapshot returns the current state. The same pointer is returned until the
// next mutation, so callers may compare snapshots by pointer.
func (s *Store) Snapshot() *Snapshot {
	if s.snap == nil {
		s.snap = s.buildSnapshot()
	}
	return s.snap
}

func (s *Store) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		seq:     s.batchSeq,
		records: make(map[model.Identity]model.Record, len(s.records)),
		order:   make(map[model.Kind][]model.Identity, len(s.order)),
	}
	for id, rec := range s.records {
		snap.records[id] = rec
	}
	for kind, ids := range s.order {
		snap.order[kind] = append([]model.Identity(nil), ids...)
	}
	return snap
}

// Seq is the number of batches flushed before this snapshot was taken.
func (s *Snapshot) Seq() int64 {
	return s.seq
}

// Get returns the record at id.
func (s *Snapshot) Get(id model.Identity) (model.Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// List returns the records of kind in list-view order.
func (s *Snapshot) List(kind model.Kind) []model.Record {
	ids := s.order[kind]
	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
