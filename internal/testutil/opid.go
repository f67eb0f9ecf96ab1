package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceOpIDs generates "<prefix>-1", "<prefix>-2", ... operation ids.
//
// Unlike engine.FixedGenerator, which panics once its list is consumed, this
// generator never runs out, which suits scenarios whose operation count is
// not known up front. The same scenario always sees the same ids.
//
// Thread-safety: safe for concurrent use.
type SequenceOpIDs struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceOpIDs creates a generator. An empty prefix uses "op".
func NewSequenceOpIDs(prefix string) *SequenceOpIDs {
	if prefix == "" {
		prefix = "op"
	}
	return &SequenceOpIDs{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.OpIDGenerator.
func (g *SequenceOpIDs) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.seq.Add(1))
}
