package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"nhooyr.io/websocket"

	"github.com/roach88/replica/internal/model"
)

// WebSocketSubscriber receives push events from a WebSocketHandler.
type WebSocketSubscriber struct {
	// URL of the handler, e.g. ws://127.0.0.1:8080/push
	URL        string
	BufferSize int
}

// Subscribe connects to the handler for topic and delivers its events until
// ctx ends. Dropped connections are re-dialed; events published while
// disconnected are lost.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, topic string) (<-chan model.PushEvent, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("websocket subscribe: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()
	target := u.String()

	// Fail fast on the first dial so misconfiguration is reported.
	c, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", target, err)
	}

	size := s.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	out := make(chan model.PushEvent, size)
	go func() {
		defer close(out)
		for {
			err := s.read(ctx, c, out, target)
			if ctx.Err() != nil {
				return
			}
			slog.Info("websocket disconnected", "url", target, "error", err)
			for c = nil; c == nil; {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				c, _, err = websocket.Dial(ctx, target, nil)
				if err != nil {
					slog.Info("websocket dial failed", "url", target, "error", err)
					c = nil
				}
			}
		}
	}()
	return out, nil
}

func (s *WebSocketSubscriber) read(ctx context.Context, c *websocket.Conn, out chan<- model.PushEvent, target string) error {
	defer c.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		if !deliver(ctx, out, data, "url", target) {
			return ctx.Err()
		}
	}
}

// WebSocketHandler streams a Hub topic to websocket clients. The topic is
// taken from the "topic" query parameter.
func WebSocketHandler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			http.Error(w, "missing topic", http.StatusBadRequest)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Info("websocket accept failed", "error", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "closing")

		// CloseRead handles control frames and cancels ctx when the
		// client goes away.
		ctx := c.CloseRead(r.Context())
		events, err := hub.Subscribe(ctx, topic)
		if err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				c.Close(websocket.StatusNormalClosure, "")
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := Encode(ev)
				if err != nil {
					slog.Warn("push event not encodable", "event_id", ev.EventID, "error", err)
					continue
				}
				if err := c.Write(ctx, websocket.MessageText, data); err != nil {
					if !errors.Is(err, context.Canceled) {
						slog.Info("websocket write failed", "topic", topic, "error", err)
					}
					return
				}
			}
		}
	})
}
