package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/tempid"
	"github.com/roach88/replica/internal/testutil"
)

// StepTimeout bounds every wait on the engine during a run.
const StepTimeout = 2 * time.Second

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine *engine.Engine
	remote *remote.Manual
	clock  *testutil.ManualClock
	ops    map[string]*opRef
	logger *slog.Logger
}

// opRef is a named operation: its handle, or the error that rejected it,
// and its unanswered remote call.
type opRef struct {
	handle *engine.Handle
	err    *engine.Error
	call   *remote.Call
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on its own engine with deterministic id generators and
// a manual clock. The returned error reports a scenario that could not be
// executed; failed assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	m := remote.NewManual(16)
	clock := testutil.NewManualClock()
	eng := engine.New(m,
		engine.WithIDGenerator(tempid.NewSequenceGenerator(tempid.DefaultPrefix)),
		engine.WithOpIDGenerator(testutil.NewSequenceOpIDs("op")),
		engine.WithNow(clock.Now),
		engine.WithOperationTimeout(0),
		engine.WithSweepInterval(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- eng.Run(ctx) }()
	defer func() {
		cancel()
		<-stopped
	}()

	h := &Harness{
		engine: eng,
		remote: m,
		clock:  clock,
		ops:    make(map[string]*opRef),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	if err := h.executeSeed(ctx, scenario.Seed, result); err != nil {
		return nil, fmt.Errorf("failed to execute seed: %w", err)
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Engine: eng, resolve: h.resolve, handle: h.outcome}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) executeSeed(ctx context.Context, seed []SeedRecord, result *Result) error {
	for i, r := range seed {
		kind, err := model.ParseKind(r.Kind)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		fields, err := model.ObjectFromMap(r.Fields)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		id, err := model.ParseIdentity(r.Identity)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		out, err := h.push(ctx, model.PushEvent{
			EventID:  fmt.Sprintf("seed-%d", i+1),
			Identity: id,
			Kind:     kind,
			Patch:    fields,
			Version:  r.Version,
		})
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		result.record(TraceEvent{Type: EventSeed, Identity: id.String(), Version: r.Version, Outcome: out})
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Dispatch != nil:
		return h.dispatch(ctx, step.Dispatch, result)
	case step.Remote != nil:
		return h.answer(ctx, step.Remote, result)
	case step.Push != nil:
		return h.pushStep(ctx, step.Push, result)
	case step.Cancel != "":
		return h.cancel(ctx, step.Cancel, result)
	case step.Retry != "":
		return h.retry(ctx, step.Retry, result)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.record(TraceEvent{Type: EventAdvance, Outcome: d.String()})
		return nil
	case step.Sweep:
		return h.sweep(ctx, result)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) dispatch(ctx context.Context, d *DispatchStep, result *Result) error {
	op, err := h.operation(d)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	handle, err := h.engine.Dispatch(wctx, op)
	if err != nil {
		var eerr *engine.Error
		if !errors.As(err, &eerr) {
			return fmt.Errorf("dispatch %s: %w", d.Ref, err)
		}
		h.ops[d.Ref] = &opRef{err: eerr}
		result.record(TraceEvent{
			Type:     EventDispatch,
			Ref:      d.Ref,
			Op:       d.Op,
			Identity: identityString(eerr.Identity),
			State:    engine.StateRejected.String(),
			Code:     string(eerr.Code),
		})
		h.logger.Info("dispatch rejected", "ref", d.Ref, "code", eerr.Code)
		return nil
	}

	call, err := h.remote.Next(wctx)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", d.Ref, err)
	}
	h.ops[d.Ref] = &opRef{handle: handle, call: call}
	result.record(TraceEvent{
		Type:     EventDispatch,
		Ref:      d.Ref,
		Op:       d.Op,
		Identity: handle.Identity().String(),
		Version:  handle.Optimistic().Version,
		State:    handle.State().String(),
	})
	h.logger.Info("dispatch applied", "ref", d.Ref, "op_id", handle.ID())
	return nil
}

func (h *Harness) operation(d *DispatchStep) (engine.Operation, error) {
	switch d.Op {
	case "create":
		kind, err := model.ParseKind(d.Kind)
		if err != nil {
			return engine.Operation{}, err
		}
		p, err := payload(kind, nil, d.Fields)
		if err != nil {
			return engine.Operation{}, err
		}
		return engine.Create(p), nil
	case "update":
		target, err := h.resolve(d.Target)
		if err != nil {
			return engine.Operation{}, err
		}
		patch, err := model.ObjectFromMap(d.Patch)
		if err != nil {
			return engine.Operation{}, err
		}
		return engine.Update(target, patch), nil
	case "delete":
		target, err := h.resolve(d.Target)
		if err != nil {
			return engine.Operation{}, err
		}
		return engine.Delete(target), nil
	}
	return engine.Operation{}, fmt.Errorf("unknown op %q", d.Op)
}

// payload overlays fields onto base, or onto an empty payload of kind.
func payload(kind model.Kind, base model.Payload, fields map[string]any) (model.Payload, error) {
	if base == nil {
		p, err := model.NewPayload(kind)
		if err != nil {
			return nil, err
		}
		base = p
	}
	obj, err := model.ObjectFromMap(fields)
	if err != nil {
		return nil, err
	}
	return model.Apply(base, obj)
}

func (h *Harness) answer(ctx context.Context, r *RemoteStep, result *Result) error {
	ref := h.ops[r.Ref]
	if ref == nil || ref.call == nil {
		return fmt.Errorf("remote %s: no outstanding call", r.Ref)
	}
	call := ref.call
	ref.call = nil

	if r.Fail != nil {
		call.Fail(&remote.Error{Status: r.Fail.Status, Message: r.Fail.Message})
		result.record(TraceEvent{Type: EventRemote, Ref: r.Ref, Op: string(call.Op), Outcome: "fail"})
	} else {
		res, err := h.serverResult(call, r.Succeed)
		if err != nil {
			return fmt.Errorf("remote %s: %w", r.Ref, err)
		}
		call.Succeed(res)
		result.record(TraceEvent{
			Type:     EventRemote,
			Ref:      r.Ref,
			Op:       string(call.Op),
			Identity: identityString(res.Identity),
			Version:  res.Version,
			Outcome:  "succeed",
		})
	}
	return h.settled(ctx, r.Ref, ref.handle, result)
}

func (h *Harness) serverResult(call *remote.Call, s *RemoteSuccess) (remote.Result, error) {
	res := remote.Result{Identity: call.Identity, Version: s.Version}
	switch call.Op {
	case remote.OpCreate:
		id, err := model.ParseIdentity(s.Identity)
		if err != nil {
			return remote.Result{}, err
		}
		res.Identity = id
		if res.Payload, err = payload(call.Kind, call.Input, s.Fields); err != nil {
			return remote.Result{}, err
		}
	case remote.OpUpdate:
		if len(s.Fields) > 0 {
			cur, ok := h.engine.Get(call.Identity)
			if !ok {
				return remote.Result{}, fmt.Errorf("update target %s is gone", call.Identity)
			}
			p, err := payload(call.Kind, cur.Payload, s.Fields)
			if err != nil {
				return remote.Result{}, err
			}
			res.Payload = p
		}
	}
	return res, nil
}

func (h *Harness) settled(ctx context.Context, name string, handle *engine.Handle, result *Result) error {
	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	out, err := handle.Wait(wctx)
	if err != nil {
		return fmt.Errorf("%s did not settle: %w", name, err)
	}
	ev := TraceEvent{
		Type:     EventSettle,
		Ref:      name,
		Identity: handle.Identity().String(),
		Version:  out.Record.Version,
		State:    out.State.String(),
	}
	var eerr *engine.Error
	if errors.As(out.Err, &eerr) {
		ev.Code = string(eerr.Code)
	}
	result.record(ev)
	return nil
}

func (h *Harness) pushStep(ctx context.Context, p *PushStep, result *Result) error {
	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		return err
	}
	id, err := model.ParseIdentity(p.Identity)
	if err != nil {
		return err
	}
	patch, err := model.ObjectFromMap(p.Patch)
	if err != nil {
		return err
	}
	eventID := p.EventID
	if eventID == "" {
		eventID = fmt.Sprintf("push-%d", len(result.Trace)+1)
	}
	ev := TraceEvent{Type: EventPush, Identity: id.String(), Version: p.Version}
	out, err := h.push(ctx, model.PushEvent{
		EventID:  eventID,
		Identity: id,
		Kind:     kind,
		Patch:    patch,
		Version:  p.Version,
		Delete:   p.Delete,
	})
	if err != nil {
		if errors.Is(err, engine.ErrStopped) {
			return err
		}
		ev.Outcome = "invalid"
	} else {
		ev.Outcome = out
	}
	if p.Delete {
		ev.Op = "delete"
	}
	result.record(ev)
	return nil
}

func (h *Harness) push(ctx context.Context, ev model.PushEvent) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	out, err := h.engine.Push(wctx, ev)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func (h *Harness) cancel(ctx context.Context, name string, result *Result) error {
	ref := h.ops[name]
	if ref == nil || ref.handle == nil {
		return fmt.Errorf("cancel %s: operation was never applied", name)
	}
	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := ref.handle.Cancel(wctx); err != nil {
		return fmt.Errorf("cancel %s: %w", name, err)
	}
	// The abandoned call can no longer be answered.
	ref.call = nil
	result.record(TraceEvent{Type: EventCancel, Ref: name})
	return h.settled(ctx, name, ref.handle, result)
}

func (h *Harness) retry(ctx context.Context, name string, result *Result) error {
	ref := h.ops[name]
	if ref == nil || ref.handle == nil {
		return fmt.Errorf("retry %s: operation was never applied", name)
	}
	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := ref.handle.Retry(wctx); err != nil {
		return fmt.Errorf("retry %s: %w", name, err)
	}
	call, err := h.remote.Next(wctx)
	if err != nil {
		return fmt.Errorf("retry %s: %w", name, err)
	}
	ref.call = call
	result.record(TraceEvent{
		Type:     EventRemote,
		Ref:      name,
		Op:       string(call.Op),
		Identity: ref.handle.Identity().String(),
		Outcome:  "reissued",
	})
	return nil
}

func (h *Harness) sweep(ctx context.Context, result *Result) error {
	wctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	stuck, err := h.engine.Sweep(wctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, s := range stuck {
		result.record(TraceEvent{
			Type:     EventStuck,
			Ref:      h.refOf(s.OpID),
			Identity: identityString(s.Identity),
			Code:     string(s.Code),
		})
	}
	return nil
}

func (h *Harness) refOf(opID string) string {
	for name, ref := range h.ops {
		if ref.handle != nil && ref.handle.ID() == opID {
			return name
		}
	}
	return ""
}

// resolve parses an identity, expanding "@ref" to the identity the named
// operation currently holds.
func (h *Harness) resolve(s string) (model.Identity, error) {
	if name, ok := strings.CutPrefix(s, "@"); ok {
		ref := h.ops[name]
		if ref == nil {
			return model.Identity{}, fmt.Errorf("unknown ref %q", name)
		}
		if ref.handle == nil {
			return ref.err.Identity, nil
		}
		return ref.handle.Identity(), nil
	}
	return model.ParseIdentity(s)
}

// outcome reports the state and error code of a named operation.
func (h *Harness) outcome(name string) (state, code string, ok bool) {
	ref := h.ops[name]
	if ref == nil {
		return "", "", false
	}
	if ref.handle == nil {
		return engine.StateRejected.String(), string(ref.err.Code), true
	}
	state = ref.handle.State().String()
	if out, settled := ref.handle.Outcome(); settled {
		var eerr *engine.Error
		if errors.As(out.Err, &eerr) {
			code = string(eerr.Code)
		}
	}
	return state, code, true
}

func identityString(id model.Identity) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}
