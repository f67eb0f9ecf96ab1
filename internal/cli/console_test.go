package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/tempid"
	"github.com/roach88/replica/internal/testutil"
)

func newTestConsole(t *testing.T) (*Console, *remote.Manual, *bytes.Buffer) {
	t.Helper()
	m := remote.NewManual(8)
	eng := engine.New(m,
		engine.WithIDGenerator(tempid.NewSequenceGenerator("tmp")),
		engine.WithOpIDGenerator(testutil.NewSequenceOpIDs("op")),
		engine.WithOperationTimeout(0),
		engine.WithSweepInterval(0),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	out := &bytes.Buffer{}
	return NewConsole(eng, out, 20, 10), m, out
}

func TestConsole_CreateConfirm(t *testing.T) {
	c, m, out := newTestConsole(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Execute(ctx, `create product name="Claw Hammer" stock=5`))
	assert.Contains(t, out.String(), "op-1 create applied to provisional:tmp-1")

	call, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, remote.OpCreate, call.Op)
	p, ok := call.Input.(model.Product)
	require.True(t, ok)
	assert.Equal(t, "Claw Hammer", p.Name)

	call.Succeed(remote.Result{Identity: model.Final("prod_9"), Payload: p, Version: 1})
	c.Wait()
	assert.Contains(t, out.String(), "op-1 confirmed")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "list product"))
	assert.Contains(t, out.String(), "final:prod_9")
	assert.Contains(t, out.String(), "stock=5")
	assert.Contains(t, out.String(), "1 of 1 product")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "get prod_9"))
	assert.Contains(t, out.String(), "final:prod_9 v1 pending=none")
}

func TestConsole_RejectedCreate(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Execute(ctx, "create product sku=NO-NAME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestConsole_Errors(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", "unknown command"},
		{"create", "usage: create"},
		{"create widget", "unknown record kind"},
		{"update prod_1", "usage: update"},
		{"update prod_1 name", "expected field=value"},
		{"delete", "usage: delete"},
		{"cancel", "usage: cancel"},
		{"get prod_404", "not found"},
		{`create product name="open`, "unterminated quote"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := c.Execute(ctx, tt.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConsole_Serve(t *testing.T) {
	c, _, out := newTestConsole(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := strings.NewReader("help\n\nbogus\nsweep\nquit\nhelp\n")
	require.NoError(t, c.Serve(ctx, in))

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "commands:"), "input after quit is not executed")
	assert.Contains(t, text, `error: unknown command "bogus"`)
	assert.Contains(t, text, "0 stuck")
}

func TestParseAssignments(t *testing.T) {
	patch, err := parseAssignments([]string{"name=Claw Hammer", "stock=12", "archived=true", "sku=null", "category_id=cat_tools"})
	require.NoError(t, err)

	assert.Equal(t, model.String("Claw Hammer"), patch["name"])
	assert.Equal(t, model.Int(12), patch["stock"])
	assert.Equal(t, model.Bool(true), patch["archived"])
	assert.Equal(t, model.Null{}, patch["sku"])
	assert.Equal(t, model.String("cat_tools"), patch["category_id"])

	_, err = parseAssignments([]string{"=x"})
	require.Error(t, err)
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"  list   product ", []string{"list", "product"}},
		{`update prod_1 name="Claw Hammer"`, []string{"update", "prod_1", "name=Claw Hammer"}},
		{`create faq_answer body=""`, []string{"create", "faq_answer", "body="}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
