package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"petri/internal/evo"
)

// Metrics tracks incubator progress per culture.
type Metrics struct {
	Generations     *prometheus.CounterVec
	ChampionFitness *prometheus.GaugeVec
	MeanFitness     *prometheus.GaugeVec
	Species         *prometheus.GaugeVec
	Evaluations     *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Replacements    *prometheus.CounterVec
	Migrations      *prometheus.CounterVec
	GenerationTime  *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry so that several incubators can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petri_generations_total",
			Help: "Generations developed per culture",
		}, []string{"culture"}),
		ChampionFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "petri_champion_fitness",
			Help: "Fitness of the current champion per culture",
		}, []string{"culture"}),
		MeanFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "petri_mean_fitness",
			Help: "Mean fitness of the population per culture",
		}, []string{"culture"}),
		Species: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "petri_species",
			Help: "Number of live species per culture",
		}, []string{"culture"}),
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petri_evaluations_total",
			Help: "Genome evaluations per culture",
		}, []string{"culture"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petri_failed_evaluations_total",
			Help: "Evaluations that failed or did not converge, per culture",
		}, []string{"culture"}),
		Replacements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petri_replacements_total",
			Help: "Offspring placements by outcome",
		}, []string{"culture", "outcome"}),
		Migrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petri_migrations_total",
			Help: "Entities moved between cultures",
		}, []string{"from", "to"}),
		GenerationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "petri_generation_seconds",
			Help:    "Wall time of one generation",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"culture"}),
	}
}

// ObserveReport records one developed generation.
func (m *Metrics) ObserveReport(r evo.Report) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(r.Culture).Inc()
	if r.Champion != nil {
		m.ChampionFitness.WithLabelValues(r.Culture).Set(r.Champion.Fitness)
	}
	m.MeanFitness.WithLabelValues(r.Culture).Set(r.Diagnostics.Mean)
	m.Species.WithLabelValues(r.Culture).Set(float64(r.Diagnostics.SpeciesCount))
	m.Evaluations.WithLabelValues(r.Culture).Add(float64(r.Diagnostics.Evaluations))
	m.Failures.WithLabelValues(r.Culture).Add(float64(r.Diagnostics.Failures))
	for outcome, n := range r.Diagnostics.Replacements {
		m.Replacements.WithLabelValues(r.Culture, outcome).Add(float64(n))
	}
	m.GenerationTime.WithLabelValues(r.Culture).Observe(r.Elapsed.Seconds())
}

func (m *Metrics) RecordMigration(from, to string) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(from, to).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
