// Package evo is the genetic layer: species bookkeeping, selection,
// breeding and replacement inside island cultures.
package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"petri/internal/genome"
	"petri/internal/nn"
)

var (
	ErrNotPopulated = errors.New("culture is not populated")
	ErrNoEvaluator  = errors.New("evaluator is required")
)

// Evaluator scores one genome. A returned error is absorbed as the worst
// fitness for the culture's direction.
type Evaluator interface {
	Evaluate(ctx context.Context, g genome.Genome) (float64, error)
}

type EvaluatorFunc func(ctx context.Context, g genome.Genome) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, g genome.Genome) (float64, error) {
	return f(ctx, g)
}

// Archipelago links a culture to its siblings for migration. Calls are
// made without holding the calling culture's lock.
type Archipelago interface {
	Immigrant(rng *rand.Rand, from *Culture) (*Entity, bool)
	Emigrate(rng *rand.Rand, from *Culture, child *Entity) bool
}

type CultureConfig struct {
	Direction      Direction
	PopulationSize int
	// OffspringPerGeneration is the number of breeding steps in one
	// generation. Zero means PopulationSize.
	OffspringPerGeneration int
	TournamentSize         int
	MateAttempts           int
	StagnationLimit        int
	ChildCap               int
	Speciation             SpeciationConfig
	Mutation               nn.MutationConfig
	Network                nn.Options
	Policies               []genome.Policy
	Seed                   int64
}

func DefaultCultureConfig() CultureConfig {
	return CultureConfig{
		Direction:       Maximize,
		PopulationSize:  20,
		TournamentSize:  3,
		MateAttempts:    5,
		StagnationLimit: 15,
		ChildCap:        8,
		Speciation:      DefaultSpeciationConfig(),
		Mutation:        nn.DefaultMutationConfig(),
		Network:         nn.DefaultOptions(),
		Policies:        []genome.Policy{genome.Shrink, genome.Balance, genome.Grow},
		Seed:            1,
	}
}

func (cfg CultureConfig) Validate() error {
	if cfg.PopulationSize <= 0 {
		return fmt.Errorf("population size must be > 0")
	}
	if cfg.OffspringPerGeneration < 0 {
		return fmt.Errorf("offspring per generation must be >= 0")
	}
	if cfg.TournamentSize <= 0 {
		return fmt.Errorf("tournament size must be > 0")
	}
	if cfg.MateAttempts <= 0 {
		return fmt.Errorf("mate attempts must be > 0")
	}
	if cfg.Speciation.Threshold <= 0 {
		return fmt.Errorf("speciation threshold must be > 0")
	}
	if len(cfg.Policies) == 0 {
		return fmt.Errorf("at least one crossover policy is required")
	}
	return nil
}

// Culture is one island: a fixed number of entity slots evolving under
// its own species catalog.
type Culture struct {
	name   string
	cfg    CultureConfig
	eval   Evaluator
	seed   genome.Genome
	logger *slog.Logger
	// rng belongs to the goroutine that populates or develops the culture.
	rng *rand.Rand

	mu           sync.Mutex
	entities     []*Entity
	catalog      *Catalog
	champion     *Entity
	generation   int
	replacements map[string]int
	archipelago  Archipelago

	taskMu   sync.Mutex
	inflight atomic.Bool
	task     *Task
}

func NewCulture(name string, cfg CultureConfig, eval Evaluator, seed genome.Genome, logger *slog.Logger) (*Culture, error) {
	if eval == nil {
		return nil, ErrNoEvaluator
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("culture %s: %w", name, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("culture %s seed: %w", name, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	seed.Observe()
	return &Culture{
		name:         name,
		cfg:          cfg,
		eval:         eval,
		seed:         seed.Clone(),
		logger:       logger.With(slog.String("culture", name)),
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		catalog:      NewCatalog(cfg.Direction, cfg.Speciation),
		replacements: make(map[string]int),
	}, nil
}

func (c *Culture) Name() string {
	return c.name
}

func (c *Culture) Config() CultureConfig {
	return c.cfg
}

// SetArchipelago wires the migration hub. A nil hub disables migration.
func (c *Culture) SetArchipelago(a Archipelago) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archipelago = a
}

// Populate fills every slot with a seed genome carrying one fresh hidden
// path and evaluates it. It must not run concurrently with Develop.
func (c *Culture) Populate(ctx context.Context) error {
	entities := make([]*Entity, 0, c.cfg.PopulationSize)
	for i := 0; i < c.cfg.PopulationSize; i++ {
		e := NewEntity(genome.SeedHiddenPath(c.rng, c.seed))
		e.Fitness, _ = c.evaluate(ctx, e.Genome)
		if err := ctx.Err(); err != nil {
			return err
		}
		entities = append(entities, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.install(entities)
	c.logger.Info("culture populated",
		slog.Int("entities", len(entities)),
		slog.Float64("champion", c.champion.Fitness),
	)
	return nil
}

// Restore installs persisted entities and resumes at generation.
func (c *Culture) Restore(generation int, entities []*Entity) error {
	if len(entities) == 0 {
		return ErrNotPopulated
	}
	cloned := make([]*Entity, len(entities))
	for i, e := range entities {
		if err := e.Genome.Validate(); err != nil {
			return fmt.Errorf("restore entity %s: %w", e.ID, err)
		}
		e.Genome.Observe()
		cloned[i] = e.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.install(cloned)
	c.generation = generation
	return nil
}

func (c *Culture) install(entities []*Entity) {
	c.entities = entities
	c.catalog = NewCatalog(c.cfg.Direction, c.cfg.Speciation)
	c.champion = nil
	for _, e := range entities {
		c.catalog.Add(e)
		if c.champion == nil || c.cfg.Direction.Better(e.Fitness, c.champion.Fitness) {
			c.champion = e
		}
	}
	c.replacements = make(map[string]int)
}

func (c *Culture) evaluate(ctx context.Context, g genome.Genome) (float64, bool) {
	fitness, err := c.eval.Evaluate(ctx, g)
	if err != nil {
		c.logger.Debug("evaluation failed", slog.String("error", err.Error()))
		return c.cfg.Direction.Worst(), false
	}
	if math.IsNaN(fitness) {
		return c.cfg.Direction.Worst(), false
	}
	return fitness, true
}

// Develop starts one generation in the background. While a generation is
// in flight every call returns the same task.
func (c *Culture) Develop(ctx context.Context) *Task {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.inflight.Load() {
		return c.task
	}
	c.inflight.Store(true)
	t := newTask(c)
	c.task = t
	go func() {
		report, err := c.develop(ctx)
		c.inflight.Store(false)
		t.finish(report, err)
	}()
	return t
}

// Developing reports whether a generation is in flight.
func (c *Culture) Developing() bool {
	return c.inflight.Load()
}

type breedStats struct {
	evaluations int
	failures    int
}

func (c *Culture) develop(ctx context.Context) (Report, error) {
	start := time.Now()
	c.mu.Lock()
	if len(c.entities) == 0 {
		c.mu.Unlock()
		return Report{}, ErrNotPopulated
	}
	c.replacements = make(map[string]int)
	c.mu.Unlock()

	steps := c.cfg.OffspringPerGeneration
	if steps == 0 {
		steps = c.cfg.PopulationSize
	}
	var stats breedStats
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if err := c.breed(ctx, &stats); err != nil {
			return Report{}, err
		}
	}

	c.mu.Lock()
	c.catalog.Age()
	c.generation++
	report := c.reportLocked()
	c.mu.Unlock()

	report.Diagnostics.Evaluations = stats.evaluations
	report.Diagnostics.Failures = stats.failures
	report.Elapsed = time.Since(start)
	c.logger.Info("generation developed",
		slog.Int("generation", report.Generation),
		slog.Float64("champion", report.Champion.Fitness),
		slog.Float64("mean", report.Diagnostics.Mean),
		slog.Int("species", report.Diagnostics.SpeciesCount),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (c *Culture) reportLocked() Report {
	fitness := make([]float64, len(c.entities))
	for i, e := range c.entities {
		fitness[i] = e.Fitness
	}
	d := computeDiagnostics(c.cfg.Direction, fitness)
	d.SpeciesCount = c.catalog.Len()
	d.Threshold = c.catalog.Threshold
	d.Replacements = make(map[string]int, len(c.replacements))
	for k, v := range c.replacements {
		d.Replacements[k] = v
	}
	return Report{
		Culture:     c.name,
		Generation:  c.generation,
		Champion:    c.champion.Clone(),
		Diagnostics: d,
	}
}

// Champion returns a copy of the best entity, or nil before population.
func (c *Culture) Champion() *Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.champion.Clone()
}

// Entities returns copies of every slot in slot order.
func (c *Culture) Entities() []*Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entity, len(c.entities))
	for i, e := range c.entities {
		out[i] = e.Clone()
	}
	return out
}

func (c *Culture) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Culture) Species() []Species {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Snapshot()
}

// Sample returns a copy of a random entity for a sibling culture.
func (c *Culture) Sample(rng *rand.Rand) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entities) == 0 {
		return nil, false
	}
	return c.entities[rng.Intn(len(c.entities))].Clone(), true
}

// Admit lets a migrant from a sibling culture in when it beats the champion
// or a randomly sampled member by shared fitness.
func (c *Culture) Admit(rng *rand.Rand, migrant *Entity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entities) == 0 || migrant == nil {
		return false
	}
	child := migrant.Clone()
	child.Children = 0
	// Species ids from the sibling's catalog mean nothing here.
	child.Species = c.catalog.Assign(child.Genome)
	if c.cfg.Direction.Better(child.Fitness, c.champion.Fitness) {
		c.swap(c.champion, child)
		c.champion = child
		c.replacements["admitted"]++
		return true
	}
	victim := c.entities[rng.Intn(len(c.entities))]
	if victim == c.champion {
		return false
	}
	if c.cfg.Direction.Better(c.catalog.SharedIfAdded(child), c.catalog.Shared(victim)) {
		c.swap(victim, child)
		c.replacements["admitted"]++
		return true
	}
	return false
}
