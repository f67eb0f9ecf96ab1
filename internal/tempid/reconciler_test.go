package tempid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
	"github.com/roach88/replica/internal/testutil"
)

func newReconciler(t *testing.T) (*Reconciler, *objectstore.Store, *testutil.ManualClock) {
	t.Helper()
	store := objectstore.New()
	clock := testutil.NewManualClock()
	return New(store, NewSequenceGenerator("tmp"), clock.Now), store, clock
}

func allocate(t *testing.T, r *Reconciler, store *objectstore.Store) model.Identity {
	t.Helper()
	id := r.Allocate(model.KindProduct)
	_, err := store.Put(model.Record{Identity: id, Payload: model.Product{Name: "new"}, Pending: model.PendingCreating})
	require.NoError(t, err)
	return id
}

func TestAllocate(t *testing.T) {
	r, _, _ := newReconciler(t)

	a := r.Allocate(model.KindProduct)
	b := r.Allocate(model.KindFAQAnswer)
	assert.Equal(t, model.Provisional("tmp-1"), a)
	assert.Equal(t, model.Provisional("tmp-2"), b)

	st, ok := r.StateOf(a)
	require.True(t, ok)
	assert.Equal(t, StatePending, st)
}

type repeatGenerator struct{ ids []string }

func (g *repeatGenerator) Next(model.Kind) string {
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id
}

func TestAllocate_SkipsDuplicates(t *testing.T) {
	r := New(objectstore.New(), &repeatGenerator{ids: []string{"x", "x", "y"}}, nil)
	assert.Equal(t, model.Provisional("x"), r.Allocate(model.KindProduct))
	assert.Equal(t, model.Provisional("y"), r.Allocate(model.KindProduct))
}

func TestResolve(t *testing.T) {
	r, store, _ := newReconciler(t)
	id := allocate(t, r, store)

	_, ok := r.Lookup(id)
	assert.False(t, ok, "pending identities do not translate")

	rec, err := r.Resolve(id, model.Final("prod_1"))
	require.NoError(t, err)
	assert.Equal(t, model.Final("prod_1"), rec.Identity)

	final, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, model.Final("prod_1"), final)

	_, ok = store.Get(id)
	assert.False(t, ok)

	_, err = r.Resolve(id, model.Final("prod_2"))
	assert.ErrorIs(t, err, ErrSettled)
	assert.Error(t, r.Discard(id))
}

func TestResolve_Conflict(t *testing.T) {
	r, store, _ := newReconciler(t)
	id := allocate(t, r, store)
	store.Upsert(model.Final("prod_1"), model.Product{Name: "other"}, 1)

	_, err := r.Resolve(id, model.Final("prod_1"))
	require.ErrorIs(t, err, objectstore.ErrIdentityConflict)

	st, _ := r.StateOf(id)
	assert.Equal(t, StatePending, st, "a failed rekey leaves the identity pending")
}

func TestResolve_Invalid(t *testing.T) {
	r, store, _ := newReconciler(t)
	id := allocate(t, r, store)

	_, err := r.Resolve(id, model.Provisional("tmp-9"))
	require.Error(t, err)
	_, err = r.Resolve(id, model.Identity{})
	require.Error(t, err)

	_, err = r.Resolve(model.Provisional("never"), model.Final("prod_1"))
	assert.ErrorIs(t, err, ErrUnknown)
	_, err = r.Resolve(model.Final("prod_0"), model.Final("prod_1"))
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestDiscard(t *testing.T) {
	r, store, _ := newReconciler(t)
	id := allocate(t, r, store)

	require.NoError(t, r.Discard(id))
	st, _ := r.StateOf(id)
	assert.Equal(t, StateDiscarded, st)
	_, ok := r.Lookup(id)
	assert.False(t, ok)

	assert.ErrorIs(t, r.Discard(id), ErrSettled)
}

func TestLookup_Final(t *testing.T) {
	r, _, _ := newReconciler(t)
	id, ok := r.Lookup(model.Final("prod_1"))
	require.True(t, ok)
	assert.Equal(t, model.Final("prod_1"), id)

	_, ok = r.Lookup(model.Provisional("never"))
	assert.False(t, ok)
}

func TestStuck(t *testing.T) {
	r, store, clock := newReconciler(t)
	a := allocate(t, r, store)
	clock.Advance(5 * time.Second)
	b := allocate(t, r, store)
	resolved := allocate(t, r, store)
	_, err := r.Resolve(resolved, model.Final("prod_1"))
	require.NoError(t, err)

	assert.Empty(t, r.Stuck(10*time.Second))

	clock.Advance(6 * time.Second)
	stuck := r.Stuck(10 * time.Second)
	require.Len(t, stuck, 1)
	assert.Equal(t, a, stuck[0].Identity)
	assert.Equal(t, model.KindProduct, stuck[0].Kind)
	assert.Equal(t, 11*time.Second, stuck[0].Age)

	clock.Advance(10 * time.Second)
	stuck = r.Stuck(10 * time.Second)
	require.Len(t, stuck, 1, "each identity is reported once")
	assert.Equal(t, b, stuck[0].Identity)

	r.Rearm(a)
	assert.Empty(t, r.Stuck(10*time.Second), "rearm restarts the age")
	clock.Advance(10 * time.Second)
	stuck = r.Stuck(10 * time.Second)
	require.Len(t, stuck, 1)
	assert.Equal(t, a, stuck[0].Identity)
}

func TestPrune(t *testing.T) {
	r, store, _ := newReconciler(t)
	a := allocate(t, r, store)
	b := allocate(t, r, store)
	c := allocate(t, r, store)
	_, err := r.Resolve(a, model.Final("prod_1"))
	require.NoError(t, err)
	require.NoError(t, r.Discard(b))

	assert.Equal(t, 2, r.Prune())
	_, ok := r.Lookup(a)
	assert.False(t, ok)
	_, known := r.StateOf(b)
	assert.False(t, known)
	st, _ := r.StateOf(c)
	assert.Equal(t, StatePending, st)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "resolved", StateResolved.String())
	assert.Equal(t, "discarded", StateDiscarded.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestSessionGenerator(t *testing.T) {
	g := NewSessionGenerator("")
	first := g.Next(model.KindProduct)
	second := g.Next(model.KindFAQAnswer)

	assert.Regexp(t, regexp.MustCompile(`^tmp-[0-9a-f]{8}-product-1$`), first)
	assert.Regexp(t, regexp.MustCompile(`^tmp-[0-9a-f]{8}-faq_answer-2$`), second)
	assert.NotEqual(t, first[:12], NewSessionGenerator("tmp").Next(model.KindProduct)[:12], "sessions differ")
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "tmp-1", g.Next(model.KindProduct))
	assert.Equal(t, "tmp-2", g.Next(model.KindProduct))
}
