package harness

// Trace event types.
const (
	EventSeed     = "seed"
	EventDispatch = "dispatch"
	EventRemote   = "remote"
	EventSettle   = "settle"
	EventPush     = "push"
	EventCancel   = "cancel"
	EventAdvance  = "advance"
	EventStuck    = "stuck"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Ref      string `json:"ref,omitempty"`
	Op       string `json:"op,omitempty"`
	Identity string `json:"identity,omitempty"`
	Version  int64  `json:"version,omitempty"`
	State    string `json:"state,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (ev TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":  ev.Seq,
		"type": ev.Type,
	}
	for k, v := range map[string]string{
		"ref":      ev.Ref,
		"op":       ev.Op,
		"identity": ev.Identity,
		"state":    ev.State,
		"outcome":  ev.Outcome,
		"code":     ev.Code,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if ev.Version != 0 {
		m["version"] = ev.Version
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends ev with the next sequence number.
func (r *Result) record(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
