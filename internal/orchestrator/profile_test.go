package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tally-lab/project-tally/internal/aggregate"
)

func TestDefaultProfiles(t *testing.T) {
	ps := DefaultProfiles()

	daily := ps.For(aggregate.GranDaily)
	require.Equal(t, []string{"date"}, daily.KeyColumns)
	require.Equal(t, 1100, daily.MaxRows)

	overall := ps.For(aggregate.GranOverall)
	require.Empty(t, overall.KeyColumns)
	require.Equal(t, 1, overall.MaxRows)
}

func TestLoadProfilesMissingDir(t *testing.T) {
	ps, err := LoadProfiles(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Equal(t, 1100, ps.For(aggregate.GranDaily).MaxRows)
}

func TestLoadProfilesOverlay(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "daily.yaml"), []byte(
		"granularity: daily\nmax_rows: 400\n"), 0o644)
	require.NoError(t, err)

	ps, err := LoadProfiles(dir)
	require.NoError(t, err)

	daily := ps.For(aggregate.GranDaily)
	require.Equal(t, 400, daily.MaxRows)
	require.Equal(t, []string{"date"}, daily.KeyColumns, "omitted key columns inherit the default")

	require.Equal(t, 530, ps.For(aggregate.GranWeekly).MaxRows, "untouched granularities keep defaults")
}

func TestLoadProfilesRejectsUnknownGranularity(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "hourly.yaml"), []byte(
		"granularity: hourly\nmax_rows: 10\n"), 0o644)
	require.NoError(t, err)

	_, err = LoadProfiles(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown granularity")
}

func TestLoadProfilesRejectsNonPositiveMaxRows(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "daily.yaml"), []byte(
		"granularity: daily\nmax_rows: 0\n"), 0o644)
	require.NoError(t, err)

	_, err = LoadProfiles(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_rows")
}
