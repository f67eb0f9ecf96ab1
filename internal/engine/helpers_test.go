package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/tempid"
	"github.com/roach88/replica/internal/testutil"
)

const testWait = 2 * time.Second

// startEngine runs an engine over a manual remote for the duration of the
// test. Timers are disabled unless opts turn them back on.
func startEngine(t *testing.T, opts ...Option) (*Engine, *remote.Manual) {
	t.Helper()
	m := remote.NewManual(16)
	base := []Option{
		WithIDGenerator(tempid.NewSequenceGenerator("tmp")),
		WithOpIDGenerator(testutil.NewSequenceOpIDs("op")),
		WithOperationTimeout(0),
		WithSweepInterval(0),
	}
	e := New(m, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, m
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	t.Cleanup(cancel)
	return ctx
}

func nextCall(t *testing.T, m *remote.Manual) *remote.Call {
	t.Helper()
	c, err := m.Next(testCtx(t))
	require.NoError(t, err, "expected a remote call")
	return c
}

func wait(t *testing.T, h *Handle) Outcome {
	t.Helper()
	out, err := h.Wait(testCtx(t))
	require.NoError(t, err, "operation did not settle")
	return out
}

func product(name string, stock int64) model.Product {
	return model.Product{
		Name:   name,
		SKU:    "SKU-" + name,
		Status: model.ProductActive,
		Variants: []model.Variant{
			{Name: "Default", Stock: stock, IsDefault: true},
		},
	}
}

// seed writes p at id through the push path.
func seed(t *testing.T, e *Engine, id string, p model.Payload, version int64) model.Identity {
	t.Helper()
	obj, err := model.ToObject(p)
	require.NoError(t, err)
	final := model.Final(id)
	_, err = e.Push(testCtx(t), model.PushEvent{
		EventID:  "seed-" + id,
		Identity: final,
		Kind:     p.Kind(),
		Patch:    obj,
		Version:  version,
	})
	require.NoError(t, err)
	return final
}

func stockOf(t *testing.T, rec model.Record) int64 {
	t.Helper()
	p, ok := rec.Payload.(model.Product)
	require.True(t, ok, "payload is %T", rec.Payload)
	n, _ := p.Stock()
	return n
}
