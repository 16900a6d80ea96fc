// Package platform runs cultures side by side: it schedules their
// generations, publishes champions, moves migrants between them and owns
// the persistence boundary.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"petri/internal/evo"
	"petri/internal/model"
	"petri/internal/storage"
	"petri/internal/telemetry"
)

var (
	ErrNoCultures     = errors.New("incubator needs at least one culture")
	ErrAlreadyStarted = errors.New("incubator already started")
	ErrNotStarted     = errors.New("incubator not started")
)

type Config struct {
	Cultures []*evo.Culture
	// Store is optional; without one Save and Load report false.
	Store        storage.Store
	PopulationID string
	// PersistOnStop saves the population once the supervisor exits.
	PersistOnStop bool
	// Generations stops resubmitting a culture once it reaches this
	// generation. Zero runs until stopped.
	Generations int
	// Goal stops the incubator once a published champion satisfies it.
	Goal    func(Champion) bool
	Metrics *telemetry.Metrics
}

// Incubator is the multi-island scheduler. It is the Archipelago of every
// culture it holds.
type Incubator struct {
	cfg      Config
	logger   *slog.Logger
	cultures []*evo.Culture
	byName   map[string]*evo.Culture
	watchers *registry

	histMu  sync.Mutex
	history []model.ChampionRecord

	mu      sync.Mutex
	started bool
	halt    chan struct{}
	once    sync.Once
	done    chan struct{}
	err     error
	saved   bool
}

func NewIncubator(cfg Config, logger *slog.Logger) (*Incubator, error) {
	if len(cfg.Cultures) == 0 {
		return nil, ErrNoCultures
	}
	if cfg.PopulationID == "" {
		cfg.PopulationID = "petri"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	inc := &Incubator{
		cfg:      cfg,
		logger:   logger.With(slog.String("population", cfg.PopulationID)),
		cultures: append([]*evo.Culture(nil), cfg.Cultures...),
		byName:   make(map[string]*evo.Culture, len(cfg.Cultures)),
		watchers: newRegistry(),
		halt:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, c := range inc.cultures {
		if c == nil {
			return nil, fmt.Errorf("culture is nil")
		}
		if _, dup := inc.byName[c.Name()]; dup {
			return nil, fmt.Errorf("duplicate culture: %s", c.Name())
		}
		inc.byName[c.Name()] = c
		c.SetArchipelago(inc)
	}
	return inc, nil
}

// Init prepares the store, if any.
func (inc *Incubator) Init(ctx context.Context) error {
	if inc.cfg.Store == nil {
		return nil
	}
	if err := inc.cfg.Store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	return nil
}

func (inc *Incubator) Cultures() []*evo.Culture {
	return append([]*evo.Culture(nil), inc.cultures...)
}

func (inc *Incubator) Culture(name string) (*evo.Culture, bool) {
	c, ok := inc.byName[name]
	return c, ok
}

// Subscribe registers o for champion and completion notifications.
func (inc *Incubator) Subscribe(o Observer) Token {
	return inc.watchers.subscribe(o)
}

// Unsubscribe removes a subscription. It is safe at any time, including
// from inside a notification, and reports whether the token was live.
func (inc *Incubator) Unsubscribe(t Token) bool {
	return inc.watchers.unsubscribe(t)
}

// Start launches one generation per culture and the supervisor loop that
// resubmits each culture as its generation completes. Every culture must
// already be populated.
func (inc *Incubator) Start(ctx context.Context) error {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	if inc.started {
		return ErrAlreadyStarted
	}
	for _, c := range inc.cultures {
		if len(c.Entities()) == 0 {
			return fmt.Errorf("culture %s: %w", c.Name(), evo.ErrNotPopulated)
		}
	}
	inc.started = true
	go inc.supervise(ctx)
	inc.logger.Info("incubator started", slog.Int("cultures", len(inc.cultures)))
	return nil
}

// Halt stops resubmission without waiting. In-flight generations finish
// naturally. It is safe to call from an observer.
func (inc *Incubator) Halt() {
	inc.once.Do(func() { close(inc.halt) })
}

// Stop halts resubmission and waits for the supervisor to drain.
func (inc *Incubator) Stop() error {
	inc.Halt()
	return inc.Wait()
}

// Wait blocks until the supervisor exits and returns the errors of
// generations that failed for reasons other than cancellation.
func (inc *Incubator) Wait() error {
	inc.mu.Lock()
	started := inc.started
	inc.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-inc.done
	return inc.err
}

// Saved reports whether the save on the way out succeeded. It is false
// until the supervisor exits and whenever PersistOnStop is off.
func (inc *Incubator) Saved() bool {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	return inc.saved
}

// Done is closed once the supervisor exits.
func (inc *Incubator) Done() <-chan struct{} {
	return inc.done
}

func (inc *Incubator) halted() bool {
	select {
	case <-inc.halt:
		return true
	default:
		return false
	}
}

func (inc *Incubator) supervise(ctx context.Context) {
	completions := make(chan *evo.Task)
	pending := 0
	submit := func(c *evo.Culture) {
		t := c.Develop(ctx)
		pending++
		go func() {
			<-t.Done()
			completions <- t
		}()
	}
	for _, c := range inc.cultures {
		submit(c)
	}

	var errs []error
	halt, cancelled := inc.halt, ctx.Done()
	for pending > 0 {
		select {
		case <-halt:
			halt = nil
		case <-cancelled:
			cancelled = nil
			inc.Halt()
		case t := <-completions:
			pending--
			report, err := t.Result()
			name := t.Culture().Name()
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					inc.logger.Error("generation failed", slog.String("culture", name), slog.String("error", err.Error()))
					errs = append(errs, fmt.Errorf("culture %s: %w", name, err))
				}
				continue
			}
			inc.publish(report)
			if inc.halted() || ctx.Err() != nil {
				continue
			}
			if inc.cfg.Generations > 0 && report.Generation >= inc.cfg.Generations {
				inc.logger.Info("culture finished", slog.String("culture", name), slog.Int("generation", report.Generation))
				continue
			}
			submit(t.Culture())
		}
	}

	inc.Halt()
	for _, o := range inc.watchers.snapshot() {
		o.OnComplete()
	}
	if inc.cfg.PersistOnStop {
		// The run context may already be cancelled; persistence still runs.
		saved := inc.Save(context.WithoutCancel(ctx))
		inc.mu.Lock()
		inc.saved = saved
		inc.mu.Unlock()
	}
	inc.err = errors.Join(errs...)
	inc.logger.Info("incubator stopped")
	close(inc.done)
}

func (inc *Incubator) publish(r evo.Report) {
	inc.cfg.Metrics.ObserveReport(r)
	if r.Champion == nil {
		return
	}
	champ := Champion{
		Culture:     r.Culture,
		Generation:  r.Generation,
		Entity:      r.Champion,
		Diagnostics: r.Diagnostics,
	}
	inc.histMu.Lock()
	inc.history = append(inc.history, champ.Record())
	inc.histMu.Unlock()

	for _, o := range inc.watchers.snapshot() {
		// Each observer gets its own copy of the champion.
		c := champ
		c.Entity = champ.Entity.Clone()
		o.OnChampion(c)
	}
	if inc.cfg.Goal != nil && inc.cfg.Goal(champ) {
		inc.logger.Info("fitness goal reached",
			slog.String("culture", r.Culture),
			slog.Float64("fitness", r.Champion.Fitness),
		)
		inc.Halt()
	}
}

// History returns every champion published so far, plus any loaded from
// the store.
func (inc *Incubator) History() []model.ChampionRecord {
	inc.histMu.Lock()
	defer inc.histMu.Unlock()
	return append([]model.ChampionRecord(nil), inc.history...)
}

// Immigrant samples a random entity from a culture other than from.
func (inc *Incubator) Immigrant(rng *rand.Rand, from *evo.Culture) (*evo.Entity, bool) {
	sibling, ok := inc.sibling(rng, from)
	if !ok {
		return nil, false
	}
	e, ok := sibling.Sample(rng)
	if ok {
		inc.cfg.Metrics.RecordMigration(sibling.Name(), from.Name())
	}
	return e, ok
}

// Emigrate offers child to a random sibling culture, which admits it or
// not under its own lock.
func (inc *Incubator) Emigrate(rng *rand.Rand, from *evo.Culture, child *evo.Entity) bool {
	sibling, ok := inc.sibling(rng, from)
	if !ok {
		return false
	}
	if !sibling.Admit(rng, child) {
		return false
	}
	inc.cfg.Metrics.RecordMigration(from.Name(), sibling.Name())
	inc.logger.Debug("entity emigrated",
		slog.String("from", from.Name()),
		slog.String("to", sibling.Name()),
		slog.Float64("fitness", child.Fitness),
	)
	return true
}

func (inc *Incubator) sibling(rng *rand.Rand, from *evo.Culture) (*evo.Culture, bool) {
	if len(inc.cultures) < 2 {
		return nil, false
	}
	i := rng.Intn(len(inc.cultures) - 1)
	for _, c := range inc.cultures {
		if c == from {
			continue
		}
		if i == 0 {
			return c, true
		}
		i--
	}
	return nil, false
}
