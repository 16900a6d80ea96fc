package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/pkg/petri"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func smallConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "petri.yaml")
	require.NoError(t, os.WriteFile(path, []byte("culture:\n  population_size: 4\n"), 0o644))
	return path
}

func TestRunPrintsSummary(t *testing.T) {
	out, err := execute(t, "run", "--config", smallConfig(t), "--cultures", "2", "--generations", "1", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "culture=culture-1 generation=1")
	assert.Contains(t, out, "culture=culture-2 generation=1")
	assert.Contains(t, out, "population_id=petri resumed=false")
	assert.Contains(t, out, "champion_fitness=")
}

func TestRunThenExportThroughSQLite(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "petri.db")
	cfg := smallConfig(t)

	_, err := execute(t, "run", "--config", cfg, "--cultures", "1", "--generations", "2",
		"--store", "sqlite", "--db-path", db, "--population-id", "trial",
		"--champions-csv", filepath.Join(dir, "champions.csv"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "champions.csv"))

	out, err := execute(t, "resume", "--config", cfg, "--generations", "3",
		"--store", "sqlite", "--db-path", db, "--population-id", "trial")
	require.NoError(t, err)
	assert.Contains(t, out, "culture=culture-1 generation=3")
	assert.Contains(t, out, "resumed=true")

	out, err = execute(t, "export", "--config", cfg, "--store", "sqlite", "--db-path", db,
		"--population-id", "trial", "--out", filepath.Join(dir, "exports"))
	require.NoError(t, err)
	assert.Contains(t, out, "exported population_id=trial cultures=1 champions=3")
	assert.FileExists(t, filepath.Join(dir, "exports", "trial", "population.json"))
	assert.FileExists(t, filepath.Join(dir, "exports", "trial", "champions.csv"))
}

func TestResumeWithEmptyStoreFails(t *testing.T) {
	_, err := execute(t, "resume", "--config", smallConfig(t), "--generations", "1")
	assert.ErrorIs(t, err, petri.ErrNothingToResume)
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "--scape", "maze")
	assert.ErrorContains(t, err, "unknown scape")

	_, err = execute(t, "run", "--cultures", "0")
	assert.ErrorContains(t, err, "run.cultures")

	_, err = execute(t, "run", "--log-format", "xml", "--generations", "1")
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	out, err := execute(t, "config", "defaults")
	require.NoError(t, err)
	assert.Contains(t, out, "population_id: petri")
	assert.Contains(t, out, "name: xor")

	path := filepath.Join(t.TempDir(), "out.yaml")
	out, err = execute(t, "config", "defaults", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote config")
	assert.FileExists(t, path)
}
