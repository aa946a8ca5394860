package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/cashback"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CASHBACK_DATABASE_PATH", ":memory:")
	t.Setenv("CASHBACK_LOGGING_LEVEL", "error")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.toml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCycleCommand_StatementDay(t *testing.T) {
	// GIVEN: A card closing on the 15th
	// WHEN: Two cycles are printed from June 1
	// THEN: They are 2024-06-S15 and 2024-07-S15, contiguous

	out, err := run(t, "cycle", "--statement-day", "15", "--date", "2024-06-01", "--count", "2")
	require.NoError(t, err)

	var cycles []cashback.Cycle
	require.NoError(t, json.Unmarshal([]byte(out), &cycles))
	require.Len(t, cycles, 2)
	assert.Equal(t, "2024-06-S15", cycles[0].Label)
	assert.Equal(t, time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC), cycles[0].Start.UTC())
	assert.Equal(t, "2024-07-S15", cycles[1].Label)
	assert.True(t, cycles[0].End.Equal(cycles[1].Start))
}

func TestCycleCommand_CalendarDefault(t *testing.T) {
	out, err := run(t, "cycle", "--date", "2024-02-29")
	require.NoError(t, err)

	var cycles []cashback.Cycle
	require.NoError(t, json.Unmarshal([]byte(out), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, "2024-02", cycles[0].Label)
}

func TestCycleCommand_Rejects(t *testing.T) {
	_, err := run(t, "cycle", "--date", "yesterday")
	assert.Error(t, err)

	_, err = run(t, "cycle", "--statement-day", "40")
	assert.Error(t, err)

	_, err = run(t, "cycle", "--account", "missing")
	assert.Error(t, err)
}

func TestMigrateAndCloseCycles(t *testing.T) {
	_, err := run(t, "migrate", "--reset")
	require.NoError(t, err)

	out, err := run(t, "close-cycles")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Closed":0,"Skipped":0,"Failed":0}`, out)
}
