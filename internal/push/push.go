// Package push carries server change events to replicas.
//
// Every transport delivers decoded model.PushEvent values on a channel that
// is scoped to the subscriber's context: the channel closes, and the
// subscription is torn down, when the context ends. Delivery is
// at-least-once and unordered across reconnects; consumers rely on the
// engine's version gate rather than on the transport.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/replica/internal/model"
)

// DefaultBufferSize bounds each subscription's undelivered events.
const DefaultBufferSize = 256

// Source opens topic subscriptions.
// Implemented by Hub, NATSSubscriber and WebSocketSubscriber.
type Source interface {
	Subscribe(ctx context.Context, topic string) (<-chan model.PushEvent, error)
}

// Publisher sends change events to one topic.
type Publisher interface {
	Publish(ctx context.Context, ev model.PushEvent) error
}

// Encode renders ev in the JSON wire format.
func Encode(ev model.PushEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode push event %q: %w", ev.EventID, err)
	}
	return data, nil
}

// Decode parses and validates one wire message.
func Decode(data []byte) (model.PushEvent, error) {
	var ev model.PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return model.PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	return ev, nil
}
