package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManual_Create(t *testing.T) {
	m := NewManual(0)
	ctx := testCtx(t)

	type answer struct {
		res Result
		err error
	}
	done := make(chan answer, 1)
	go func() {
		res, err := m.Create(ctx, model.KindProduct, model.Product{Name: "Hammer"})
		done <- answer{res, err}
	}()

	call, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, call.Op)
	assert.Equal(t, model.KindProduct, call.Kind)
	assert.Equal(t, model.Product{Name: "Hammer"}, call.Input)

	call.Succeed(Result{Identity: model.Final("prod_1"), Version: 1})
	call.Fail(errors.New("second answer is ignored"))

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, model.Final("prod_1"), got.res.Identity)
}

func TestManual_Fail(t *testing.T) {
	m := NewManual(4)
	ctx := testCtx(t)

	done := make(chan error, 1)
	go func() {
		_, err := m.Update(ctx, model.KindProduct, model.Final("prod_1"), model.Patch{"name": model.String("x")})
		done <- err
	}()

	call := <-m.Calls()
	assert.Equal(t, OpUpdate, call.Op)
	assert.Equal(t, model.Final("prod_1"), call.Identity)
	call.Fail(&Error{Status: 409, Message: "version conflict"})

	err := <-done
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 409, re.Status)
	assert.Equal(t, "version conflict", Message(err))
}

func TestManual_List(t *testing.T) {
	m := NewManual(4)
	ctx := testCtx(t)

	done := make(chan Page, 1)
	go func() {
		p, _ := m.List(ctx, model.KindFAQQuestion, ListParams{Search: "handle", Limit: 5})
		done <- p
	}()

	call, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpList, call.Op)
	assert.Equal(t, ListParams{Search: "handle", Limit: 5}, call.Params)
	call.SucceedPage(Page{NextCursor: "5"})

	assert.Equal(t, "5", (<-done).NextCursor)
}

func TestManual_ContextCancel(t *testing.T) {
	m := NewManual(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Delete(ctx, model.KindProduct, model.Final("prod_1")) }()

	call, err := m.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, OpDelete, call.Op)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	call.Succeed(Result{}) // late answers do not block
}

func TestManual_NextTimeout(t *testing.T) {
	m := NewManual(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestError(t *testing.T) {
	assert.Equal(t, "remote error 422: bad sku", (&Error{Status: 422, Message: "bad sku"}).Error())
	assert.Equal(t, "remote error: gone", Errorf("%s", "gone").Error())
	assert.Equal(t, "plain", Message(fmt.Errorf("plain")))
	assert.Equal(t, "gone", Message(fmt.Errorf("wrapped: %w", Errorf("gone"))))
}
