package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one executable engine scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Seed records are delivered as push events before the first step.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a server record present before the scenario starts.
type SeedRecord struct {
	Identity string         `yaml:"identity"`
	Kind     string         `yaml:"kind"`
	Version  int64          `yaml:"version"`
	Fields   map[string]any `yaml:"fields"`
}

// Step is exactly one action.
type Step struct {
	Dispatch *DispatchStep `yaml:"dispatch,omitempty"`
	Remote   *RemoteStep   `yaml:"remote,omitempty"`
	Push     *PushStep     `yaml:"push,omitempty"`
	Cancel   string        `yaml:"cancel,omitempty"`
	Retry    string        `yaml:"retry,omitempty"`
	Advance  string        `yaml:"advance,omitempty"`
	Sweep    bool          `yaml:"sweep,omitempty"`
}

// DispatchStep submits an operation and names it Ref.
type DispatchStep struct {
	Ref    string         `yaml:"ref"`
	Op     string         `yaml:"op"`
	Kind   string         `yaml:"kind,omitempty"`
	Target string         `yaml:"target,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Patch  map[string]any `yaml:"patch,omitempty"`
}

// RemoteStep answers the remote call of operation Ref.
type RemoteStep struct {
	Ref     string         `yaml:"ref"`
	Succeed *RemoteSuccess `yaml:"succeed,omitempty"`
	Fail    *RemoteFailure `yaml:"fail,omitempty"`
}

// RemoteSuccess is the server's answer. Fields overlay the request payload.
type RemoteSuccess struct {
	Identity string         `yaml:"identity,omitempty"`
	Version  int64          `yaml:"version"`
	Fields   map[string]any `yaml:"fields,omitempty"`
}

// RemoteFailure is a server rejection.
type RemoteFailure struct {
	Status  int    `yaml:"status"`
	Message string `yaml:"message"`
}

// PushStep delivers one push event.
type PushStep struct {
	EventID  string         `yaml:"event_id,omitempty"`
	Identity string         `yaml:"identity"`
	Kind     string         `yaml:"kind"`
	Version  int64          `yaml:"version"`
	Patch    map[string]any `yaml:"patch,omitempty"`
	Delete   bool           `yaml:"delete,omitempty"`
}

// Assertion checks the final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	// record, trace_contains
	Identity string         `yaml:"identity,omitempty"`
	Absent   bool           `yaml:"absent,omitempty"`
	Version  int64          `yaml:"version,omitempty"`
	Pending  string         `yaml:"pending,omitempty"`
	Fields   map[string]any `yaml:"fields,omitempty"`

	// view
	Kind   string   `yaml:"kind,omitempty"`
	Search string   `yaml:"search,omitempty"`
	Status string   `yaml:"status,omitempty"`
	Rows   []string `yaml:"rows,omitempty"`

	// handle
	Ref   string `yaml:"ref,omitempty"`
	State string `yaml:"state,omitempty"`
	Code  string `yaml:"code,omitempty"`

	// trace_contains, trace_count
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord        = "record"
	AssertView          = "view"
	AssertHandle        = "handle"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Seed {
		if r.Identity == "" || r.Kind == "" {
			return fmt.Errorf("seed[%d]: identity and kind are required", i)
		}
		if r.Version <= 0 {
			return fmt.Errorf("seed[%d]: version must be positive", i)
		}
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, refs map[string]bool) error {
	set := 0
	for _, ok := range []bool{step.Dispatch != nil, step.Remote != nil, step.Push != nil, step.Cancel != "", step.Retry != "", step.Advance != "", step.Sweep} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}

	switch {
	case step.Dispatch != nil:
		d := step.Dispatch
		if d.Ref == "" {
			return fmt.Errorf("steps[%d].dispatch: ref is required", i)
		}
		if refs[d.Ref] {
			return fmt.Errorf("steps[%d].dispatch: duplicate ref %q", i, d.Ref)
		}
		switch d.Op {
		case "create":
			if d.Kind == "" {
				return fmt.Errorf("steps[%d].dispatch: kind is required for create", i)
			}
		case "update", "delete":
			if d.Target == "" {
				return fmt.Errorf("steps[%d].dispatch: target is required for %s", i, d.Op)
			}
		default:
			return fmt.Errorf("steps[%d].dispatch: unknown op %q", i, d.Op)
		}
		refs[d.Ref] = true
	case step.Remote != nil:
		r := step.Remote
		if !refs[r.Ref] {
			return fmt.Errorf("steps[%d].remote: unknown ref %q", i, r.Ref)
		}
		if (r.Succeed == nil) == (r.Fail == nil) {
			return fmt.Errorf("steps[%d].remote: exactly one of succeed or fail is required", i)
		}
	case step.Push != nil:
		if step.Push.Identity == "" || step.Push.Kind == "" {
			return fmt.Errorf("steps[%d].push: identity and kind are required", i)
		}
	case step.Cancel != "":
		if !refs[step.Cancel] {
			return fmt.Errorf("steps[%d].cancel: unknown ref %q", i, step.Cancel)
		}
	case step.Retry != "":
		if !refs[step.Retry] {
			return fmt.Errorf("steps[%d].retry: unknown ref %q", i, step.Retry)
		}
	case step.Advance != "":
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d].advance: %w", i, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, refs map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecord:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for record", index)
		}
	case AssertView:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for view", index)
		}
	case AssertHandle:
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for handle", index)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
