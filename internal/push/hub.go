package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/replica/internal/model"
)

// Hub is an in-process topic fan-out.
//
// Thread-safety: safe for concurrent use.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[int]chan model.PushEvent
	next   int
}

// NewHub creates a hub. buffer <= 0 uses DefaultBufferSize.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Hub{buffer: buffer, topics: make(map[string]map[int]chan model.PushEvent)}
}

// Subscribe returns a channel of every event published to topic until ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan model.PushEvent, error) {
	ch := make(chan model.PushEvent, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[int]chan model.PushEvent)
		h.topics[topic] = subs
	}
	subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.topics[topic], id)
		if len(h.topics[topic]) == 0 {
			delete(h.topics, topic)
		}
		close(ch)
	}()
	return ch, nil
}

// Publish delivers ev to every subscriber of topic. A subscriber whose
// buffer is full misses the event; a warning is logged.
func (h *Hub) Publish(_ context.Context, topic string, ev model.PushEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.topics[topic] {
		select {
		case ch <- ev:
		default:
			slog.Warn("push subscriber buffer full, event dropped",
				"topic", topic,
				"event_id", ev.EventID,
				"identity", ev.Identity.String(),
			)
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topic binds the hub to one topic as a Publisher.
func (h *Hub) Topic(topic string) Publisher {
	return hubTopic{hub: h, topic: topic}
}

type hubTopic struct {
	hub   *Hub
	topic string
}

func (t hubTopic) Publish(ctx context.Context, ev model.PushEvent) error {
	t.hub.Publish(ctx, t.topic, ev)
	return nil
}

// Fanout publishes to several publishers, stopping at the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.PushEvent) error {
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
