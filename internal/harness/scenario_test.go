package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "update_rollback.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "update_rollback", s.Name)
	require.Len(t, s.Seed, 1)
	assert.Equal(t, int64(3), s.Seed[0].Version)
	require.Len(t, s.Steps, 4)
	require.NotNil(t, s.Steps[0].Dispatch)
	assert.Equal(t, "update", s.Steps[0].Dispatch.Op)
	assert.Equal(t, 6, s.Steps[0].Dispatch.Patch["stock"])
	require.NotNil(t, s.Steps[3].Remote)
	assert.Equal(t, 409, s.Steps[3].Remote.Fail.Status)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseScenario_Invalid(t *testing.T) {
	const header = "name: x\ndescription: d\n"
	const tail = "assertions:\n  - { type: trace_count, event: push, count: 0 }\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    header + "stepz: []\n",
			wantErr: "field stepz not found",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - sweep: true\n" + tail,
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			yaml:    header + tail,
			wantErr: "steps list is required",
		},
		{
			name:    "two actions in one step",
			yaml:    header + "steps:\n  - { sweep: true, cancel: a }\n" + tail,
			wantErr: "exactly one action",
		},
		{
			name:    "unknown op",
			yaml:    header + "steps:\n  - dispatch: { ref: a, op: upsert, target: prod_1 }\n" + tail,
			wantErr: `unknown op "upsert"`,
		},
		{
			name:    "create without kind",
			yaml:    header + "steps:\n  - dispatch: { ref: a, op: create }\n" + tail,
			wantErr: "kind is required",
		},
		{
			name:    "duplicate ref",
			yaml:    header + "steps:\n  - dispatch: { ref: a, op: delete, target: p }\n  - dispatch: { ref: a, op: delete, target: p }\n" + tail,
			wantErr: `duplicate ref "a"`,
		},
		{
			name:    "remote for unknown ref",
			yaml:    header + "steps:\n  - remote: { ref: a, fail: { status: 1, message: m } }\n" + tail,
			wantErr: `unknown ref "a"`,
		},
		{
			name:    "remote with both answers",
			yaml:    header + "steps:\n  - dispatch: { ref: a, op: delete, target: p }\n  - remote: { ref: a, succeed: { version: 1 }, fail: { status: 1, message: m } }\n" + tail,
			wantErr: "exactly one of succeed or fail",
		},
		{
			name:    "bad advance",
			yaml:    header + "steps:\n  - advance: soon\n" + tail,
			wantErr: "advance",
		},
		{
			name:    "seed without version",
			yaml:    header + "seed:\n  - { identity: p, kind: product }\nsteps:\n  - sweep: true\n" + tail,
			wantErr: "version must be positive",
		},
		{
			name:    "unknown assertion",
			yaml:    header + "steps:\n  - sweep: true\nassertions:\n  - { type: final_state }\n",
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name:    "handle for unknown ref",
			yaml:    header + "steps:\n  - sweep: true\nassertions:\n  - { type: handle, ref: a, state: confirmed }\n",
			wantErr: `unknown ref "a"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
