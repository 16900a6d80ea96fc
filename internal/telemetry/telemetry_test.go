package telemetry

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/evo"
	"petri/internal/genome"
	"petri/internal/model"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("generation developed", "culture", "alpha")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "alpha", rec["culture"])

	buf.Reset()
	logger, err = NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestMetricsObserveReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	champ := evo.NewEntity(genome.Linear(1, 1))
	champ.Fitness = 0.75
	m.ObserveReport(evo.Report{
		Culture:  "alpha",
		Champion: champ,
		Diagnostics: evo.Diagnostics{
			Mean:         0.5,
			SpeciesCount: 3,
			Evaluations:  10,
			Failures:     2,
			Replacements: map[string]int{"predator": 4},
		},
		Elapsed: 20 * time.Millisecond,
	})
	m.RecordMigration("alpha", "beta")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("alpha")))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.ChampionFitness.WithLabelValues("alpha")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Species.WithLabelValues("alpha")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("alpha")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Failures.WithLabelValues("alpha")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Replacements.WithLabelValues("alpha", "predator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Migrations.WithLabelValues("alpha", "beta")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "petri_champion_fitness")

	var nilMetrics *Metrics
	nilMetrics.ObserveReport(evo.Report{})
	nilMetrics.RecordMigration("a", "b")
}

func TestChampionLogAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "champions.csv")
	log, err := NewChampionLog(path)
	require.NoError(t, err)

	rows := []model.ChampionRecord{
		{Culture: "alpha", Generation: 1, EntityID: "e1", Fitness: 0.5, Species: 2, Genes: 5},
		{Culture: "beta", Generation: 1, EntityID: "e2", Fitness: 0.25, Species: 3, Genes: 7},
	}
	for _, r := range rows {
		require.NoError(t, log.Write(r))
	}
	require.NoError(t, log.Close())

	got, err := ReadChampions(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	again := filepath.Join(t.TempDir(), "copy.csv")
	require.NoError(t, WriteChampions(again, got))
	copied, err := ReadChampions(again)
	require.NoError(t, err)
	assert.Equal(t, rows, copied)
}

func TestNilChampionLog(t *testing.T) {
	log, err := NewChampionLog("")
	require.NoError(t, err)
	assert.Nil(t, log)
	assert.NoError(t, log.Write(model.ChampionRecord{}))
	assert.NoError(t, log.Close())

	_, err = ReadChampions(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing.csv"))
}
