package model

import "fmt"

// PushEvent is an out-of-band change delivered by the push channel.
// Delivery is at-least-once and possibly out of order.
type PushEvent struct {
	// EventID identifies the event for logging; deduplication relies on
	// Version, not on EventID.
	EventID  string   `json:"event_id,omitempty"`
	Identity Identity `json:"identity"`
	Kind     Kind     `json:"kind"`
	Patch    Patch    `json:"patch,omitempty"`
	Version  int64    `json:"version"`
	Delete   bool     `json:"delete,omitempty"`
}

// Validate checks the fields every event must carry.
func (e PushEvent) Validate() error {
	if e.Identity.IsZero() {
		return fmt.Errorf("push event %q: missing identity", e.EventID)
	}
	if e.Identity.IsProvisional() {
		return fmt.Errorf("push event %q: provisional identity %s", e.EventID, e.Identity)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("push event %q: unknown kind %q", e.EventID, e.Kind)
	}
	if !e.Delete && e.Version <= 0 {
		return fmt.Errorf("push event %q: version must be positive", e.EventID)
	}
	return nil
}
