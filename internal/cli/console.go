package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/queryview"
)

const consoleHelp = `commands:
  create <kind> field=value...   optimistic create
  update <id> field=value...     optimistic update (field=null clears)
  delete <id>                    optimistic delete
  cancel <op-id>                 abandon an in-flight operation
  retry <op-id>                  re-issue an in-flight operation
  get <id>                       print one record
  list <kind> [search]           print the first page of a view
  sweep                          report stuck operations
  quit`

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Console is the line-oriented command interpreter of the run command.
// Operation outcomes are printed as they settle.
type Console struct {
	eng      *engine.Engine
	pageSize int
	lowStock int64

	mu  sync.Mutex
	out io.Writer
	wg  sync.WaitGroup
}

// NewConsole creates a console writing to out.
func NewConsole(eng *engine.Engine, out io.Writer, pageSize, lowStock int) *Console {
	return &Console{eng: eng, out: out, pageSize: pageSize, lowStock: int64(lowStock)}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Serve reads commands from in until EOF, quit, or ctx ends.
func (c *Console) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	defer c.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %v", err)
			}
		}
	}
}

// Wait blocks until every outcome watcher has printed.
func (c *Console) Wait() {
	c.wg.Wait()
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields, err := splitLine(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		c.printf("%s", consoleHelp)
		return nil
	case "create":
		if len(args) < 1 {
			return errors.New("usage: create <kind> field=value...")
		}
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		patch, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		p, err := model.NewPayload(kind)
		if err != nil {
			return err
		}
		if p, err = model.Apply(p, patch); err != nil {
			return err
		}
		return c.dispatch(ctx, engine.Create(p))
	case "update":
		if len(args) < 2 {
			return errors.New("usage: update <id> field=value...")
		}
		id, err := model.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		patch, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		return c.dispatch(ctx, engine.Update(id, patch))
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <id>")
		}
		id, err := model.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		return c.dispatch(ctx, engine.Delete(id))
	case "cancel", "retry":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <op-id>", cmd)
		}
		if cmd == "cancel" {
			return c.eng.Cancel(ctx, args[0])
		}
		if err := c.eng.Retry(ctx, args[0]); err != nil {
			return err
		}
		c.printf("%s retried", args[0])
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("usage: get <id>")
		}
		id, err := model.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		rec, ok := c.eng.Get(id)
		if !ok {
			return fmt.Errorf("%s not found", id)
		}
		c.printf("%s v%d pending=%s %s", rec.Identity, rec.Version, rec.Pending, summarize(rec.Payload))
		return nil
	case "list":
		if len(args) < 1 {
			return errors.New("usage: list <kind> [search]")
		}
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		vm := c.eng.View(queryview.Params{
			Kind:              kind,
			Search:            strings.Join(args[1:], " "),
			Limit:             c.pageSize,
			LowStockThreshold: c.lowStock,
		})
		c.printf("%s", newViewOutput(vm))
		return nil
	case "sweep":
		stuck, err := c.eng.Sweep(ctx)
		if err != nil {
			return err
		}
		for _, s := range stuck {
			c.printf("! %v", s)
		}
		c.printf("%d stuck", len(stuck))
		return nil
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func (c *Console) dispatch(ctx context.Context, op engine.Operation) error {
	h, err := c.eng.Dispatch(ctx, op)
	if err != nil {
		return err
	}
	c.printf("%s %s applied to %s", h.ID(), op.Type, h.Identity())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		out, err := h.Wait(ctx)
		if err != nil {
			return
		}
		if out.Err != nil {
			c.printf("%s %s: %v", h.ID(), out.State, out.Err)
			return
		}
		c.printf("%s %s as %s v%d", h.ID(), out.State, h.Identity(), out.Record.Version)
	}()
	return nil
}

// parseAssignments turns field=value pairs into a patch. Integers, true,
// false and null are typed; everything else is a string.
func parseAssignments(args []string) (model.Patch, error) {
	patch := make(model.Patch, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", a)
		}
		patch[k] = parseScalar(v)
	}
	return patch, nil
}

func parseScalar(s string) model.Value {
	switch s {
	case "null":
		return model.Null{}
	case "true":
		return model.Bool(true)
	case "false":
		return model.Bool(false)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.Int(n)
	}
	return model.String(s)
}

// splitLine splits on spaces outside double quotes and removes the quotes,
// so name="Claw Hammer" is one argument.
func splitLine(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' || r == '\t':
			if quoted {
				cur.WriteRune(r)
				continue
			}
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}
