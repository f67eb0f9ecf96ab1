package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: "expects the wrong stock"
seed:
  - { identity: prod_1, kind: product, version: 1, fields: { name: Hammer, stock: 7 } }
steps:
  - push: { identity: prod_1, kind: product, version: 2, patch: { stock: 4 } }
assertions:
  - { type: record, identity: prod_1, fields: { stock: 5 } }
  - { type: record, identity: prod_9 }
  - { type: trace_count, event: push, count: 3 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "stock = 5")
	assert.Contains(t, result.Errors[1], "absent")
	assert.Contains(t, result.Errors[2], "3 push events")
}

func TestRun_RejectedCreate(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: rejected_create
description: "a product without a name never reaches the server"
steps:
  - dispatch: { ref: blank, op: create, kind: product, fields: { sku: X-1 } }
assertions:
  - { type: handle, ref: blank, state: rejected, code: VALIDATION }
  - { type: view, kind: product, rows: [] }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, EventDispatch, result.Trace[0].Type)
	assert.Equal(t, "VALIDATION", result.Trace[0].Code)
}

func TestRun_DeleteConfirmed(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: delete_confirmed
description: "a confirmed delete removes the record and drops its queued events"
seed:
  - { identity: faq_1, kind: faq_question, version: 1, fields: { question: "Is it waterproof?", product_id: prod_1 } }
steps:
  - dispatch: { ref: drop, op: delete, target: faq_1 }
  - push: { identity: faq_1, kind: faq_question, version: 2, patch: { answer_count: 1 } }
  - remote: { ref: drop, succeed: { version: 0 } }
assertions:
  - { type: record, identity: faq_1, absent: true }
  - { type: handle, ref: drop, state: confirmed }
  - { type: trace_contains, event: push, state: dropped }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
}

func TestRun_UnansweredRemote(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: double_answer
description: "a call can only be answered once"
steps:
  - dispatch: { ref: w, op: create, kind: product, fields: { name: W } }
  - remote: { ref: w, fail: { status: 500, message: boom } }
  - remote: { ref: w, fail: { status: 500, message: boom } }
assertions:
  - { type: handle, ref: w, state: rolled_back }
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outstanding call")
}
