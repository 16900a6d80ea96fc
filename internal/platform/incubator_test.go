package platform

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/evo"
	"petri/internal/genome"
	"petri/internal/model"
	"petri/internal/storage"
)

// geneCount rewards larger genomes, which keeps runs cheap and
// deterministic.
var geneCount = evo.EvaluatorFunc(func(_ context.Context, g genome.Genome) (float64, error) {
	return float64(len(g)), nil
})

func newCultures(t *testing.T, populate bool, names ...string) []*evo.Culture {
	t.Helper()
	out := make([]*evo.Culture, 0, len(names))
	for i, name := range names {
		cfg := evo.DefaultCultureConfig()
		cfg.PopulationSize = 6
		cfg.OffspringPerGeneration = 3
		cfg.Seed = int64(i + 1)
		c, err := evo.NewCulture(name, cfg, geneCount, genome.Linear(2, 1), nil)
		require.NoError(t, err)
		if populate {
			require.NoError(t, c.Populate(context.Background()))
		}
		out = append(out, c)
	}
	return out
}

type recorder struct {
	mu        sync.Mutex
	champions []Champion
	completed int
}

func (r *recorder) OnChampion(c Champion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.champions = append(r.champions, c)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.champions), r.completed
}

func TestIncubatorRunsEachCultureToTheGenerationLimit(t *testing.T) {
	inc, err := NewIncubator(Config{
		Cultures:    newCultures(t, true, "alpha", "beta"),
		Generations: 3,
	}, nil)
	require.NoError(t, err)

	rec := &recorder{}
	inc.Subscribe(rec)
	require.NoError(t, inc.Start(context.Background()))
	require.NoError(t, inc.Wait())

	for _, c := range inc.Cultures() {
		assert.Equal(t, 3, c.Generation(), c.Name())
	}
	champions, completed := rec.counts()
	assert.Equal(t, 6, champions)
	assert.Equal(t, 1, completed)

	// Generations within one culture are published in order.
	last := map[string]int{}
	for _, c := range rec.champions {
		assert.Equal(t, last[c.Culture]+1, c.Generation)
		last[c.Culture] = c.Generation
	}
	assert.Len(t, inc.History(), 6)
}

func TestIncubatorStartGuards(t *testing.T) {
	_, err := NewIncubator(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoCultures)

	_, err = NewIncubator(Config{Cultures: newCultures(t, false, "same", "same")}, nil)
	assert.Error(t, err)

	inc, err := NewIncubator(Config{Cultures: newCultures(t, false, "empty")}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, inc.Start(context.Background()), evo.ErrNotPopulated)
	assert.ErrorIs(t, inc.Wait(), ErrNotStarted)

	inc, err = NewIncubator(Config{Cultures: newCultures(t, true, "alpha"), Generations: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, inc.Start(context.Background()))
	assert.ErrorIs(t, inc.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, inc.Wait())
}

func TestIncubatorStopDrainsInFlightGenerations(t *testing.T) {
	inc, err := NewIncubator(Config{Cultures: newCultures(t, true, "alpha", "beta")}, nil)
	require.NoError(t, err)

	first := make(chan struct{})
	var once sync.Once
	rec := &recorder{}
	inc.Subscribe(rec)
	inc.Subscribe(ObserverFuncs{Champion: func(Champion) {
		once.Do(func() { close(first) })
	}})

	require.NoError(t, inc.Start(context.Background()))
	select {
	case <-first:
	case <-time.After(10 * time.Second):
		t.Fatal("no champion published")
	}
	require.NoError(t, inc.Stop())

	_, completed := rec.counts()
	assert.Equal(t, 1, completed)
	for _, c := range inc.Cultures() {
		assert.False(t, c.Developing(), c.Name())
	}
	// Stopping twice is harmless.
	require.NoError(t, inc.Stop())
}

func TestIncubatorCancellationEndsRun(t *testing.T) {
	inc, err := NewIncubator(Config{Cultures: newCultures(t, true, "alpha")}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	inc.Subscribe(ObserverFuncs{Champion: func(Champion) { cancel() }})
	require.NoError(t, inc.Start(ctx))

	select {
	case <-inc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("incubator did not stop after cancellation")
	}
	assert.NoError(t, inc.Wait())
}

func TestIncubatorGoalHaltsResubmission(t *testing.T) {
	inc, err := NewIncubator(Config{
		Cultures: newCultures(t, true, "alpha", "beta"),
		Goal:     func(Champion) bool { return true },
	}, nil)
	require.NoError(t, err)

	require.NoError(t, inc.Start(context.Background()))
	require.NoError(t, inc.Wait())
	for _, c := range inc.Cultures() {
		assert.Equal(t, 1, c.Generation(), c.Name())
	}
}

func TestUnsubscribeFromInsideNotification(t *testing.T) {
	inc, err := NewIncubator(Config{
		Cultures:    newCultures(t, true, "alpha"),
		Generations: 3,
	}, nil)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls int
		token Token
	)
	token = inc.Subscribe(ObserverFuncs{Champion: func(Champion) {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.True(t, inc.Unsubscribe(token))
	}})
	rec := &recorder{}
	inc.Subscribe(rec)

	require.NoError(t, inc.Start(context.Background()))
	require.NoError(t, inc.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	champions, _ := rec.counts()
	assert.Equal(t, 3, champions)
	assert.False(t, inc.Unsubscribe(token))
}

func TestObserversReceiveIndependentCopies(t *testing.T) {
	inc, err := NewIncubator(Config{Cultures: newCultures(t, true, "alpha"), Generations: 1}, nil)
	require.NoError(t, err)

	inc.Subscribe(ObserverFuncs{Champion: func(c Champion) {
		c.Entity.Genome = nil
	}})
	rec := &recorder{}
	inc.Subscribe(rec)
	require.NoError(t, inc.Start(context.Background()))
	require.NoError(t, inc.Wait())

	require.Len(t, rec.champions, 1)
	assert.NotEmpty(t, rec.champions[0].Entity.Genome)
}

func TestMigrationBetweenCultures(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	solo, err := NewIncubator(Config{Cultures: newCultures(t, true, "alone")}, nil)
	require.NoError(t, err)
	_, ok := solo.Immigrant(rng, solo.Cultures()[0])
	assert.False(t, ok)
	assert.False(t, solo.Emigrate(rng, solo.Cultures()[0], evo.NewEntity(genome.Linear(2, 1))))

	cultures := newCultures(t, true, "alpha", "beta")
	inc, err := NewIncubator(Config{Cultures: cultures}, nil)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, e := range cultures[1].Entities() {
		ids[e.ID] = true
	}
	for i := 0; i < 5; i++ {
		e, ok := inc.Immigrant(rng, cultures[0])
		require.True(t, ok)
		assert.True(t, ids[e.ID])
	}

	// A migrant that beats every champion is always admitted.
	star := evo.NewEntity(genome.Linear(2, 1))
	star.Fitness = 1e6
	assert.True(t, inc.Emigrate(rng, cultures[0], star))
	assert.Equal(t, star.ID, cultures[1].Champion().ID)
}

func TestSaveAndLoadPopulation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	orig, err := NewIncubator(Config{
		Cultures:     newCultures(t, true, "alpha", "beta"),
		Store:        store,
		PopulationID: "pop",
		Generations:  2,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, orig.Init(ctx))
	require.NoError(t, orig.Start(ctx))
	require.NoError(t, orig.Wait())
	require.True(t, orig.Save(ctx))

	resumed, err := NewIncubator(Config{
		Cultures:     newCultures(t, false, "alpha", "beta"),
		Store:        store,
		PopulationID: "pop",
	}, nil)
	require.NoError(t, err)
	require.True(t, resumed.Load(ctx))

	for _, c := range orig.Cultures() {
		twin, ok := resumed.Culture(c.Name())
		require.True(t, ok)
		assert.Equal(t, c.Generation(), twin.Generation())
		assert.Equal(t, c.Entities(), twin.Entities())
		assert.Equal(t, c.Champion().Fitness, twin.Champion().Fitness)
	}
	assert.Equal(t, orig.History(), resumed.History())

	missing, err := NewIncubator(Config{
		Cultures:     newCultures(t, false, "alpha"),
		Store:        store,
		PopulationID: "other",
	}, nil)
	require.NoError(t, err)
	assert.False(t, missing.Load(ctx))

	storeless, err := NewIncubator(Config{Cultures: newCultures(t, true, "alpha")}, nil)
	require.NoError(t, err)
	assert.False(t, storeless.Save(ctx))
	assert.False(t, storeless.Load(ctx))
}

func TestPersistOnStop(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	inc, err := NewIncubator(Config{
		Cultures:      newCultures(t, true, "alpha"),
		Store:         store,
		PopulationID:  "auto",
		PersistOnStop: true,
		Generations:   1,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, inc.Init(ctx))
	require.NoError(t, inc.Start(ctx))
	require.NoError(t, inc.Wait())

	p, ok, err := store.GetPopulation(ctx, "auto")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, p.Cultures, 1)
	assert.Equal(t, 1, p.Cultures[0].Generation)
	assert.Len(t, p.Cultures[0].Entities, 6)
	assert.True(t, inc.Saved())
}

// brokenStore keeps its old records but refuses new populations.
type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) SavePopulation(context.Context, model.Population) error {
	return errors.New("disk full")
}

func TestSavedReportsFailedFinalSave(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.Init(ctx))
	old := model.Population{ID: "auto", Cultures: []model.Culture{{Name: "alpha", Generation: 1}}}
	require.NoError(t, mem.SavePopulation(ctx, storage.Stamp(old)))

	inc, err := NewIncubator(Config{
		Cultures:      newCultures(t, true, "alpha"),
		Store:         brokenStore{mem},
		PopulationID:  "auto",
		PersistOnStop: true,
		Generations:   1,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, inc.Init(ctx))
	assert.False(t, inc.Saved())
	require.NoError(t, inc.Start(ctx))
	require.NoError(t, inc.Wait())

	assert.False(t, inc.Saved())
	_, ok, err := mem.GetPopulation(ctx, "auto")
	require.NoError(t, err)
	assert.True(t, ok, "the stale record is still there")
}
