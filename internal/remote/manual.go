package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/replica/internal/model"
)

// Op names a remote call.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// Call is one pending call on a Manual remote. The caller blocks until the
// call is answered with Succeed or Fail, or its context ends.
type Call struct {
	Op       Op
	Kind     model.Kind
	Identity model.Identity
	Input    model.Payload
	Patch    model.Patch
	Params   ListParams

	once  sync.Once
	reply chan reply
}

type reply struct {
	result Result
	page   Page
	err    error
}

// Succeed answers a create/update/delete call.
func (c *Call) Succeed(res Result) {
	c.answer(reply{result: res})
}

// SucceedPage answers a list call.
func (c *Call) SucceedPage(p Page) {
	c.answer(reply{page: p})
}

// Fail answers the call with err.
func (c *Call) Fail(err error) {
	c.answer(reply{err: err})
}

func (c *Call) answer(r reply) {
	c.once.Do(func() {
		c.reply <- r
	})
}

// Manual is a Remote whose calls are answered by the test (or scenario
// harness) that owns it. Every call is published on Calls in issue order.
//
// Thread-safety: safe for concurrent use.
type Manual struct {
	calls chan *Call
}

// NewManual creates a Manual remote. buffer bounds unanswered calls that can
// be issued before a reader drains Calls.
func NewManual(buffer int) *Manual {
	if buffer <= 0 {
		buffer = 64
	}
	return &Manual{calls: make(chan *Call, buffer)}
}

// Calls delivers every issued call.
func (m *Manual) Calls() <-chan *Call {
	return m.calls
}

// Next waits for the next call.
func (m *Manual) Next(ctx context.Context) (*Call, error) {
	select {
	case c := <-m.calls:
		return c, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for remote call: %w", ctx.Err())
	}
}

func (m *Manual) issue(ctx context.Context, c *Call) (reply, error) {
	c.reply = make(chan reply, 1)
	select {
	case m.calls <- c:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (m *Manual) Create(ctx context.Context, kind model.Kind, input model.Payload) (Result, error) {
	r, err := m.issue(ctx, &Call{Op: OpCreate, Kind: kind, Input: input})
	return r.result, err
}

func (m *Manual) Update(ctx context.Context, kind model.Kind, id model.Identity, patch model.Patch) (Result, error) {
	r, err := m.issue(ctx, &Call{Op: OpUpdate, Kind: kind, Identity: id, Patch: patch})
	return r.result, err
}

func (m *Manual) Delete(ctx context.Context, kind model.Kind, id model.Identity) error {
	_, err := m.issue(ctx, &Call{Op: OpDelete, Kind: kind, Identity: id})
	return err
}

func (m *Manual) List(ctx context.Context, kind model.Kind, params ListParams) (Page, error) {
	r, err := m.issue(ctx, &Call{Op: OpList, Kind: kind, Params: params})
	return r.page, err
}
