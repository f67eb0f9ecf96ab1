package tempid

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/model"
)

// DefaultPrefix starts every provisional id so it can never be mistaken for a
// server id in logs.
const DefaultPrefix = "tmp"

// Generator produces local ids for provisional identities.
// Implemented by SessionGenerator (production) and SequenceGenerator (tests).
type Generator interface {
	Next(kind model.Kind) string
}

// SessionGenerator yields "<prefix>-<session>-<kind>-<n>" ids. The session
// segment is taken from a random UUIDv7 tail, so two replicas started in the
// same millisecond still allocate disjoint ids; n is monotonic per process.
//
// Thread-safety: safe for concurrent use.
type SessionGenerator struct {
	prefix  string
	session string
	seq     atomic.Int64
}

// NewSessionGenerator creates a generator with a fresh session segment. An
// empty prefix falls back to DefaultPrefix.
func NewSessionGenerator(prefix string) *SessionGenerator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	u := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	return &SessionGenerator{prefix: prefix, session: u[len(u)-8:]}
}

// Next returns the next id.
func (g *SessionGenerator) Next(kind model.Kind) string {
	return fmt.Sprintf("%s-%s-%s-%d", g.prefix, g.session, kind, g.seq.Add(1))
}

// SequenceGenerator yields "<prefix>-<n>" ids with no session segment, for
// deterministic tests and golden traces.
//
// Thread-safety: safe for concurrent use.
type SequenceGenerator struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceGenerator creates a deterministic generator.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) Next(model.Kind) string {
	return fmt.Sprintf("%s-%d", g.prefix, g.seq.Add(1))
}
