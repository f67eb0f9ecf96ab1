package push

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
)

func stockEvent(id string, version int64, stock int64) model.PushEvent {
	return model.PushEvent{
		EventID:  "ev-" + id,
		Identity: model.Final(id),
		Kind:     model.KindProduct,
		Patch:    model.Patch{"stock": model.Int(stock)},
		Version:  version,
	}
}

func TestEncodeDecode(t *testing.T) {
	ev := stockEvent("prod_1", 3, 7)
	data, err := Encode(ev)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Identity, got.Identity)
	assert.Equal(t, ev.Version, got.Version)
	assert.Equal(t, model.Int(7), got.Patch["stock"])
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing identity", `{"kind":"product","version":1}`},
		{"unknown kind", `{"identity":"prod_1","kind":"widget","version":1}`},
		{"zero version", `{"identity":"prod_1","kind":"product","version":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := hub.Subscribe(ctx, "catalog")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "catalog")
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Subscribers("catalog"))

	require.NoError(t, hub.Topic("catalog").Publish(ctx, stockEvent("prod_1", 2, 5)))

	for _, ch := range []<-chan model.PushEvent{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "prod_1", ev.Identity.ID())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("unexpected event on other topic: %v", ev)
	default:
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := hub.Subscribe(ctx, "catalog")
	require.NoError(t, err)
	hub.Publish(ctx, "catalog", stockEvent("prod_1", 2, 5))
	hub.Publish(ctx, "catalog", stockEvent("prod_1", 3, 4))

	ev := <-ch
	assert.Equal(t, int64(2), ev.Version)
	select {
	case ev := <-ch:
		t.Fatalf("expected drop, got %v", ev)
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := hub.Subscribe(ctx, "catalog")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers("catalog") == 0 }, time.Second, 5*time.Millisecond)
}

type recording struct{ events []model.PushEvent }

func (r *recording) Publish(_ context.Context, ev model.PushEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func TestFanout(t *testing.T) {
	a, b := &recording{}, &recording{}
	require.NoError(t, Fanout{a, b}.Publish(context.Background(), stockEvent("prod_1", 2, 1)))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestDeliver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.PushEvent, 1)

	data, err := Encode(stockEvent("prod_2", 4, 1))
	require.NoError(t, err)
	assert.True(t, deliver(ctx, out, data))
	assert.Equal(t, "prod_2", (<-out).Identity.ID())

	// Garbage is skipped, not fatal.
	assert.True(t, deliver(ctx, out, []byte("garbage")))
	assert.Empty(t, out)

	cancel()
	out <- model.PushEvent{}
	assert.False(t, deliver(ctx, out, data))
}

func TestNATSConfig_Subject(t *testing.T) {
	assert.Equal(t, "replica.push.catalog", NATSConfig{}.subject("catalog"))
	assert.Equal(t, "shop.catalog", NATSConfig{SubjectPrefix: "shop"}.subject("catalog"))
}

func TestWebSocket_RoundTrip(t *testing.T) {
	hub := NewHub(0)
	srv := httptest.NewServer(WebSocketHandler(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := &WebSocketSubscriber{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ch, err := sub.Subscribe(ctx, "catalog")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers("catalog") == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(ctx, "catalog", stockEvent("prod_9", 6, 0))

	select {
	case ev := <-ch:
		assert.Equal(t, "prod_9", ev.Identity.ID())
		assert.Equal(t, int64(6), ev.Version)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}

func TestWebSocketHandler_MissingTopic(t *testing.T) {
	srv := httptest.NewServer(WebSocketHandler(NewHub(0)))
	defer srv.Close()

	sub := &WebSocketSubscriber{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	_, err := sub.Subscribe(context.Background(), "")
	assert.Error(t, err)
}
