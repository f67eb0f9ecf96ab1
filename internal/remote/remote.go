// Package remote defines the server boundary the replica writes through.
//
// The engine treats a Remote as an opaque asynchronous boundary: it issues
// calls from worker goroutines and only looks at the returned result or
// error. Retries and backoff belong to the implementation, not to the engine.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/model"
)

// Result is the server's authoritative view of one record.
type Result struct {
	Identity model.Identity
	Payload  model.Payload
	Version  int64
}

// ListParams filters a server-side page.
type ListParams struct {
	Search     string
	Status     string
	CategoryID string
	Cursor     string
	Limit      int
}

// Page is one server page. Items are in server order. NextCursor is empty on
// the last page.
type Page struct {
	Items      []Result
	NextCursor string
}

// Remote is the server API.
type Remote interface {
	Create(ctx context.Context, kind model.Kind, input model.Payload) (Result, error)
	Update(ctx context.Context, kind model.Kind, id model.Identity, patch model.Patch) (Result, error)
	Delete(ctx context.Context, kind model.Kind, id model.Identity) error
	List(ctx context.Context, kind model.Kind, params ListParams) (Page, error)
}

// Error is a rejection reported by the server.
type Error struct {
	Status  int    // server status code, 0 when unknown
	Message string // server message, surfaced to the user
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
	}
	return "remote error: " + e.Message
}

// Errorf builds an *Error with no status code.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Message returns the server message carried by err, or err.Error() when err
// is not a server rejection.
func Message(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
