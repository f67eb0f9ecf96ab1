package model

import "fmt"

// PendingState marks a record that an in-flight operation owns.
type PendingState int

const (
	PendingNone PendingState = iota
	PendingCreating
	PendingUpdating
	PendingDeleting
)

// String returns the lowercase state name.
func (s PendingState) String() string {
	switch s {
	case PendingNone:
		return "none"
	case PendingCreating:
		return "creating"
	case PendingUpdating:
		return "updating"
	case PendingDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("pending(%d)", int(s))
	}
}

// Record is one entity in the replica.
//
// Records are values: the store hands out copies and payloads are never
// mutated in place.
type Record struct {
	Identity Identity     `json:"identity"`
	Kind     Kind         `json:"kind"`
	Version  int64        `json:"version"`
	Payload  Payload      `json:"payload"`
	Pending  PendingState `json:"pending"`

	// Quarantined is set when the record was involved in an identity
	// conflict. Quarantined records accept no further writes.
	Quarantined bool `json:"quarantined,omitempty"`
}

// IsPending reports whether an operation currently owns the record.
func (r Record) IsPending() bool {
	return r.Pending != PendingNone
}

// Object renders the record as a Value tree for canonical output.
func (r Record) Object() (Object, error) {
	obj := Object{
		"identity": String(r.Identity.String()),
		"kind":     String(r.Kind),
		"version":  Int(r.Version),
		"pending":  String(r.Pending.String()),
	}
	if r.Quarantined {
		obj["quarantined"] = Bool(true)
	}
	if r.Payload != nil {
		p, err := ToObject(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Identity, err)
		}
		obj["payload"] = p
	}
	return obj, nil
}
