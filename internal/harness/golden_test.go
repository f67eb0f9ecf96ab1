package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceSnapshot_Marshal(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Seq: 1, Type: EventPush, Identity: "final:prod_1", Version: 2, Outcome: "applied"},
			{Seq: 2, Type: EventCancel, Ref: "edit"},
		},
	}
	data, err := s.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"identity":"final:prod_1","outcome":"applied","seq":1,"type":"push","version":2},{"ref":"edit","seq":2,"type":"cancel"}]}`,
		string(data))
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertView,
		Expected: "[final:prod_1]",
		Actual:   "[]",
		Trace:    []TraceEvent{{Seq: 1, Type: EventSeed, Identity: "final:prod_1", Outcome: "applied"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: view")
	assert.Contains(t, msg, "Expected: [final:prod_1]")
	assert.Contains(t, msg, "[1] seed  final:prod_1 applied")
}
