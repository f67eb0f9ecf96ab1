package patcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
)

var prod1 = model.Final("prod_1")

func event(id string, version int64, name string) model.PushEvent {
	return model.PushEvent{
		EventID:  id,
		Identity: prod1,
		Kind:     model.KindProduct,
		Version:  version,
		Patch:    model.Patch{"name": model.String(name)},
	}
}

func nameOf(t *testing.T, s *objectstore.Store, id model.Identity) string {
	t.Helper()
	rec, ok := s.Get(id)
	require.True(t, ok, "%s not stored", id)
	return rec.Payload.(model.Product).Name
}

func TestApply_Idle(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)

	o, err := p.Apply(event("e1", 1, "A"))
	require.NoError(t, err)
	assert.Equal(t, Applied, o)
	assert.Equal(t, "A", nameOf(t, s, prod1))

	o, err = p.Apply(event("e1", 1, "A"))
	require.NoError(t, err)
	assert.Equal(t, Stale, o, "redelivery is stale")

	o, err = p.Apply(event("e3", 3, "C"))
	require.NoError(t, err)
	assert.Equal(t, Applied, o)

	o, err = p.Apply(event("e2", 2, "B"))
	require.NoError(t, err)
	assert.Equal(t, Stale, o, "late arrival loses")
	assert.Equal(t, "C", nameOf(t, s, prod1))
}

func TestApply_PatchIsPartial(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A", SKU: "A-1"}, 1)

	_, err := p.Apply(model.PushEvent{EventID: "e2", Identity: prod1, Kind: model.KindProduct, Version: 2,
		Patch: model.Patch{"stock": model.Int(4)}})
	require.NoError(t, err)

	rec, _ := s.Get(prod1)
	got := rec.Payload.(model.Product)
	assert.Equal(t, "A-1", got.SKU)
	stock, _ := got.Stock()
	assert.Equal(t, int64(4), stock)
}

func TestApply_Invalid(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)

	_, err := p.Apply(model.PushEvent{EventID: "bad", Identity: prod1, Kind: model.KindProduct})
	require.Error(t, err)

	_, err = p.Apply(model.PushEvent{EventID: "field", Identity: prod1, Kind: model.KindProduct, Version: 1,
		Patch: model.Patch{"colour": model.String("red")}})
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())

	s.Upsert(prod1, model.Product{Name: "A"}, 1)
	_, err = p.Apply(model.PushEvent{EventID: "kind", Identity: prod1, Kind: model.KindFAQAnswer, Version: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestApply_Delete(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A"}, 1)

	del := model.PushEvent{EventID: "d", Identity: prod1, Kind: model.KindProduct, Delete: true}
	o, err := p.Apply(del)
	require.NoError(t, err)
	assert.Equal(t, Removed, o)

	o, err = p.Apply(del)
	require.NoError(t, err)
	assert.Equal(t, Ignored, o)
}

func TestApply_QueuesWhilePending(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A"}, 1)
	_, err := s.SetPending(prod1, model.PendingUpdating)
	require.NoError(t, err)

	for _, ev := range []model.PushEvent{event("e3", 3, "C"), event("e2", 2, "B")} {
		o, err := p.Apply(ev)
		require.NoError(t, err)
		assert.Equal(t, Queued, o)
	}
	assert.Equal(t, "A", nameOf(t, s, prod1), "queued events are not applied")

	q := p.Queued(prod1)
	require.Len(t, q, 2)
	assert.Less(t, q[0].Seq, q[1].Seq)

	_, err = s.SetPending(prod1, model.PendingNone)
	require.NoError(t, err)
	assert.Equal(t, []Outcome{Applied, Stale}, p.Drain(prod1))
	assert.Equal(t, "C", nameOf(t, s, prod1))
	assert.Empty(t, p.Queued(prod1))
	assert.Nil(t, p.Drain(prod1))
}

func TestApply_DrainAfterConfirmDiscardsSuperseded(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A"}, 1)
	_, err := s.SetPending(prod1, model.PendingUpdating)
	require.NoError(t, err)

	_, err = p.Apply(event("e2", 2, "pushed"))
	require.NoError(t, err)

	// The operation confirms at version 3.
	_, err = s.Put(model.Record{Identity: prod1, Payload: model.Product{Name: "confirmed"}, Version: 3})
	require.NoError(t, err)

	assert.Equal(t, []Outcome{Stale}, p.Drain(prod1))
	assert.Equal(t, "confirmed", nameOf(t, s, prod1))
}

func TestApply_PendingDelete(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A"}, 1)
	_, err := s.SetPending(prod1, model.PendingDeleting)
	require.NoError(t, err)

	o, err := p.Apply(event("e2", 2, "B"))
	require.NoError(t, err)
	assert.Equal(t, Dropped, o)
	assert.Empty(t, p.Queued(prod1))
}

func TestApply_Quarantined(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	s.Upsert(prod1, model.Product{Name: "A"}, 1)
	_, err := s.Quarantine(prod1)
	require.NoError(t, err)

	o, err := p.Apply(event("e2", 2, "B"))
	require.NoError(t, err)
	assert.Equal(t, Ignored, o)
	assert.Equal(t, "A", nameOf(t, s, prod1))
}

func TestDefer(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)

	require.NoError(t, p.Defer(event("e1", 1, "A")))
	assert.Equal(t, 0, s.Len(), "deferred events wait for Drain")
	require.Len(t, p.Queued(prod1), 1)

	assert.Equal(t, []Outcome{Applied}, p.Drain(prod1))
	assert.Equal(t, "A", nameOf(t, s, prod1))

	assert.Error(t, p.Defer(model.PushEvent{EventID: "bad"}))
}

func TestQueueOverflow(t *testing.T) {
	s := objectstore.New()
	p := New(s, 2)
	for i, name := range []string{"A", "B", "C"} {
		require.NoError(t, p.Defer(event(name, int64(i+1), name)))
	}

	q := p.Queued(prod1)
	require.Len(t, q, 2)
	assert.Equal(t, "B", q[0].Event.EventID, "oldest is dropped")
	assert.Equal(t, "C", q[1].Event.EventID)
	assert.Equal(t, int64(1), p.Overflowed())
}

func TestDrop(t *testing.T) {
	s := objectstore.New()
	p := New(s, 0)
	require.NoError(t, p.Defer(event("e1", 1, "A")))
	require.NoError(t, p.Defer(event("e2", 2, "B")))

	assert.Equal(t, 2, p.Drop(prod1))
	assert.Equal(t, 0, p.Drop(prod1))
	assert.Nil(t, p.Drain(prod1))
}

func TestOutcomeString(t *testing.T) {
	names := map[Outcome]string{
		Applied: "applied", Stale: "stale", Queued: "queued",
		Dropped: "dropped", Removed: "removed", Ignored: "ignored", 0: "unknown",
	}
	for o, want := range names {
		assert.Equal(t, want, o.String())
	}
}
