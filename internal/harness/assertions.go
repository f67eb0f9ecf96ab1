package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/queryview"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", ev.Seq, ev.Type, ev.Ref, ev.Identity, ev.State+ev.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the engine after the run.
type AssertionContext struct {
	Engine *engine.Engine

	resolve func(string) (model.Identity, error)
	handle  func(ref string) (state, code string, ok bool)
}

// EvaluateAssertions checks every assertion and returns the failure
// messages in order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(actx, a)
		case AssertView:
			err = assertView(actx, a)
		case AssertHandle:
			err = assertHandle(actx, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertRecord(actx *AssertionContext, a Assertion) error {
	id, err := actx.resolve(a.Identity)
	if err != nil {
		return err
	}
	rec, ok := actx.Engine.Get(id)
	if a.Absent {
		if ok {
			return &AssertionError{Type: AssertRecord, Expected: id.String() + " absent", Actual: fmt.Sprintf("present at version %d", rec.Version)}
		}
		return nil
	}
	if !ok {
		return &AssertionError{Type: AssertRecord, Expected: id.String() + " present", Actual: "absent"}
	}
	if a.Version != 0 && rec.Version != a.Version {
		return &AssertionError{Type: AssertRecord, Expected: fmt.Sprintf("%s version %d", id, a.Version), Actual: fmt.Sprintf("version %d", rec.Version)}
	}
	if a.Pending != "" && rec.Pending.String() != a.Pending {
		return &AssertionError{Type: AssertRecord, Expected: fmt.Sprintf("%s pending %s", id, a.Pending), Actual: "pending " + rec.Pending.String()}
	}

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		want, err := model.MarshalCanonical(a.Fields[k])
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		got, err := fieldValue(rec, k)
		if err != nil {
			return err
		}
		if string(got) != string(want) {
			return &AssertionError{Type: AssertRecord, Expected: fmt.Sprintf("%s.%s = %s", id, k, want), Actual: string(got)}
		}
	}
	return nil
}

// fieldValue renders one payload field as canonical JSON. Products also
// expose "stock", the default variant's stock.
func fieldValue(rec model.Record, key string) ([]byte, error) {
	if p, ok := rec.Payload.(model.Product); ok && key == "stock" {
		n, _ := p.Stock()
		return model.MarshalCanonical(n)
	}
	obj, err := model.ToObject(rec.Payload)
	if err != nil {
		return nil, err
	}
	v, ok := obj[key]
	if !ok {
		return []byte("null"), nil
	}
	return model.MarshalCanonical(v)
}

func assertView(actx *AssertionContext, a Assertion) error {
	kind, err := model.ParseKind(a.Kind)
	if err != nil {
		return err
	}
	vm := actx.Engine.View(queryview.Params{Kind: kind, Search: a.Search, Status: a.Status})

	got := make([]string, len(vm.Rows))
	for i, r := range vm.Rows {
		got[i] = r.Identity.String()
	}
	want := make([]string, len(a.Rows))
	for i, s := range a.Rows {
		id, err := actx.resolve(s)
		if err != nil {
			return err
		}
		want[i] = id.String()
	}
	if !slices.Equal(got, want) {
		return &AssertionError{Type: AssertView, Expected: fmt.Sprintf("%v", want), Actual: fmt.Sprintf("%v", got)}
	}
	return nil
}

func assertHandle(actx *AssertionContext, a Assertion) error {
	state, code, ok := actx.handle(a.Ref)
	if !ok {
		return fmt.Errorf("unknown ref %q", a.Ref)
	}
	if state != a.State {
		return &AssertionError{Type: AssertHandle, Expected: a.Ref + " " + a.State, Actual: state}
	}
	if a.Code != "" && code != a.Code {
		return &AssertionError{Type: AssertHandle, Expected: a.Ref + " error " + a.Code, Actual: "error " + code}
	}
	return nil
}

// matches reports whether ev is of the asserted type and, when given, has
// the asserted identity, ref and outcome/state.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Type != a.Event {
		return false
	}
	if a.Identity != "" && ev.Identity != a.Identity {
		return false
	}
	if a.Ref != "" && ev.Ref != a.Ref {
		return false
	}
	if a.State != "" && ev.State != a.State && ev.Outcome != a.State {
		return false
	}
	return true
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event (identity=%q ref=%q state=%q)", a.Event, a.Identity, a.Ref, a.State),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    trace,
		}
	}
	return nil
}
