package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSeedCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	out, err := execute(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 8 records")

	// A second seed leaves the catalogue alone.
	out, err = execute(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 0 records")
}

func TestSeedCommand_RequiresDB(t *testing.T) {
	_, err := execute(t, "seed")
	require.Error(t, err)
}

func TestViewCommand_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")
	_, err := execute(t, "seed", "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "view", "product", "--db", db, "--status", "low_stock", "--sort", "stock", "--format", "json")
	require.NoError(t, err)

	// Payload is an interface, so decode only the rendered columns.
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Total      int `json:"total"`
			NextCursor int `json:"next_cursor"`
			Rows       []struct {
				Status  string `json:"status"`
				Summary string `json:"summary"`
			} `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	require.Len(t, resp.Data.Rows, 2)
	assert.Contains(t, resp.Data.Rows[0].Summary, "Chef's Knife")
	assert.Contains(t, resp.Data.Rows[1].Summary, "Pruning Shears")
	assert.Equal(t, "low_stock", resp.Data.Rows[0].Status)
	assert.Equal(t, -1, resp.Data.NextCursor)
}

func TestViewCommand_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")
	_, err := execute(t, "seed", "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "view", "faq_question", "--db", db, "--search", "FIBREGLASS")
	require.NoError(t, err)
	assert.Contains(t, out, "answers=1")
	assert.Contains(t, out, "Claw Hammer")
	assert.Contains(t, out, "1 of 1 faq_question")
}

func TestViewCommand_Invalid(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	_, err := execute(t, "view", "widget", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "view", "product", "--db", db, "--sort", "colour")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
