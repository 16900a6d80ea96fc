// Package petri is the public entry point: it turns a configuration into a
// running incubator and exposes the persisted results.
package petri

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"petri/internal/config"
	"petri/internal/evo"
	"petri/internal/genome"
	"petri/internal/platform"
	"petri/internal/scape"
	"petri/internal/storage"
	"petri/internal/telemetry"
)

var ErrNothingToResume = errors.New("no stored population to resume")

type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

// New builds a client for cfg. A nil cfg uses the embedded defaults and a
// nil logger discards output.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Default(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	store, err := storage.NewStore(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	return &Client{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		metrics:  telemetry.NewMetrics(registry),
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Config() *config.Config {
	return c.cfg
}

// Registry exposes the run metrics for an HTTP handler.
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// Evaluator builds the fitness function of the configured scape along with
// the boundary widths it expects.
func (c *Client) Evaluator() (evo.Evaluator, int, int, error) {
	sc := c.cfg.Scape
	switch sc.Name {
	case "xor":
		ds := scape.NewXORDataset(c.cfg.Run.Seed)
		in, out := ds.Width()
		return c.supervised(ds), in, out, nil
	case "csv":
		ds, err := scape.LoadCSV(sc.CSVPath, scape.CSVOptions{
			InputColumns:  sc.InputColumns,
			OutputColumns: sc.OutputColumns,
			TestFraction:  sc.TestFraction,
			Seed:          c.cfg.Run.Seed,
		})
		if err != nil {
			return nil, 0, 0, err
		}
		in, out := ds.Width()
		return c.supervised(ds), in, out, nil
	case "cart-pole":
		return scape.InteractiveEvaluator{
			Network:        c.cfg.Derived.Network,
			StartPositions: sc.StartPositions,
			Steps:          sc.Steps,
		}, 2, 1, nil
	default:
		return nil, 0, 0, fmt.Errorf("unknown scape %q", sc.Name)
	}
}

func (c *Client) supervised(ds scape.Dataset) scape.SupervisedEvaluator {
	return scape.SupervisedEvaluator{
		Dataset:     ds,
		Network:     c.cfg.Derived.Network,
		SampleCount: c.cfg.Scape.SampleCount,
		Random:      c.cfg.Scape.Random,
		Workers:     c.cfg.Scape.Workers,
	}
}

// Build assembles an incubator with the configured number of cultures,
// each seeded from the same boundary genome with its own random stream.
func (c *Client) Build() (*platform.Incubator, error) {
	eval, inputs, outputs, err := c.Evaluator()
	if err != nil {
		return nil, err
	}
	seed := genome.Linear(inputs, outputs)
	cultures := make([]*evo.Culture, 0, c.cfg.Run.Cultures)
	for i := 0; i < c.cfg.Run.Cultures; i++ {
		cc := c.cfg.Derived.Culture
		cc.Seed = c.cfg.Run.Seed + int64(i)
		culture, err := evo.NewCulture(fmt.Sprintf("culture-%d", i+1), cc, eval, seed, c.logger)
		if err != nil {
			return nil, err
		}
		cultures = append(cultures, culture)
	}

	var goal func(platform.Champion) bool
	if target := c.cfg.Run.FitnessGoal; target != 0 {
		dir := c.cfg.Derived.Direction
		goal = func(ch platform.Champion) bool {
			return !dir.Better(target, ch.Entity.Fitness)
		}
	}
	return platform.NewIncubator(platform.Config{
		Cultures:      cultures,
		Store:         c.store,
		PopulationID:  c.cfg.Run.PopulationID,
		PersistOnStop: c.cfg.Storage.PersistOnStop,
		Generations:   c.cfg.Run.Generations,
		Goal:          goal,
		Metrics:       c.metrics,
	}, c.logger)
}

type RunRequest struct {
	// Resume restores the stored population instead of seeding a new one.
	Resume bool
}

type RunSummary struct {
	PopulationID string
	Resumed      bool
	Generations  map[string]int
	// Champion is the best entity across every culture.
	Champion *evo.Entity
	Culture  string
	Saved    bool
}

// Run populates or resumes the incubator and blocks until it stops, either
// at the configured limits or when ctx is cancelled.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	inc, err := c.Build()
	if err != nil {
		return RunSummary{}, err
	}
	if err := inc.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	if req.Resume {
		if !inc.Load(ctx) {
			return RunSummary{}, fmt.Errorf("%w: %s", ErrNothingToResume, c.cfg.Run.PopulationID)
		}
	} else if err := populate(ctx, inc.Cultures()); err != nil {
		return RunSummary{}, err
	}

	champions, err := telemetry.NewChampionLog(c.cfg.Telemetry.ChampionsCSV)
	if err != nil {
		return RunSummary{}, err
	}
	defer champions.Close()
	inc.Subscribe(platform.ObserverFuncs{Champion: func(ch platform.Champion) {
		if err := champions.Write(ch.Record()); err != nil {
			c.logger.Warn("champion log write failed", slog.String("error", err.Error()))
		}
		c.logger.Info("champion published",
			slog.String("culture", ch.Culture),
			slog.Int("generation", ch.Generation),
			slog.Float64("fitness", ch.Entity.Fitness),
			slog.Int("genes", len(ch.Entity.Genome)),
		)
	}})

	if err := inc.Start(ctx); err != nil {
		return RunSummary{}, err
	}
	runErr := inc.Wait()

	summary := RunSummary{
		PopulationID: c.cfg.Run.PopulationID,
		Resumed:      req.Resume,
		Generations:  make(map[string]int),
	}
	dir := c.cfg.Derived.Direction
	for _, culture := range inc.Cultures() {
		summary.Generations[culture.Name()] = culture.Generation()
		champ := culture.Champion()
		if champ != nil && (summary.Champion == nil || dir.Better(champ.Fitness, summary.Champion.Fitness)) {
			summary.Champion = champ
			summary.Culture = culture.Name()
		}
	}
	// The incubator already saved on its way out; report the outcome.
	summary.Saved = inc.Saved()
	return summary, runErr
}

// populate seeds every culture in parallel. Each culture owns its random
// stream, so the cultures share nothing while populating.
func populate(ctx context.Context, cultures []*evo.Culture) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, culture := range cultures {
		grp.Go(func() error {
			if err := culture.Populate(gctx); err != nil {
				return fmt.Errorf("populate %s: %w", culture.Name(), err)
			}
			return nil
		})
	}
	return grp.Wait()
}

type ExportRequest struct {
	PopulationID string
	OutDir       string
}

type ExportSummary struct {
	Directory  string
	Population string
	Champions  string
	Cultures   int
	Records    int
}

// Export writes the stored population as JSON and its champion history as
// CSV into OutDir.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.PopulationID == "" {
		req.PopulationID = c.cfg.Run.PopulationID
	}
	if req.OutDir == "" {
		req.OutDir = "exports"
	}
	if err := c.store.Init(ctx); err != nil {
		return ExportSummary{}, err
	}
	p, ok, err := c.store.GetPopulation(ctx, req.PopulationID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("population not found: %s", req.PopulationID)
	}
	history, _, err := c.store.GetChampions(ctx, req.PopulationID)
	if err != nil {
		return ExportSummary{}, err
	}

	dir := filepath.Join(req.OutDir, req.PopulationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportSummary{}, fmt.Errorf("create export directory: %w", err)
	}
	payload, err := storage.EncodePopulation(p)
	if err != nil {
		return ExportSummary{}, err
	}
	summary := ExportSummary{
		Directory:  filepath.Clean(dir),
		Population: filepath.Join(dir, "population.json"),
		Champions:  filepath.Join(dir, "champions.csv"),
		Cultures:   len(p.Cultures),
		Records:    len(history),
	}
	if err := os.WriteFile(summary.Population, payload, 0o644); err != nil {
		return ExportSummary{}, fmt.Errorf("write population: %w", err)
	}
	if err := telemetry.WriteChampions(summary.Champions, history); err != nil {
		return ExportSummary{}, err
	}
	return summary, nil
}
