package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/genome"
	"petri/internal/model"
)

func samplePopulation() model.Population {
	return Stamp(model.Population{
		ID: "p1",
		Cultures: []model.Culture{{
			Name:       "alpha",
			Generation: 3,
			Entities: []model.Entity{{
				ID: "e1",
				Genome: []genome.Gene{
					{Source: genome.InputRef, Destination: 1},
					{Source: 1, Destination: 2, Weight: 0.75},
					{Source: 2, Destination: genome.OutputRef},
				},
				Fitness:  1.5,
				Species:  4,
				Children: 2,
			}},
		}},
	})
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]Store{
		"memory":       NewMemoryStore(),
		"sqlite":       NewSQLiteStore(filepath.Join(dir, "petri.db")),
		"badger":       NewBadgerStore(filepath.Join(dir, "badger")),
		"badger-inmem": NewBadgerStore(""),
	}
}

func TestStoresRoundTripPopulations(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Init(ctx))
			t.Cleanup(func() { _ = CloseIfSupported(store) })

			_, ok, err := store.GetPopulation(ctx, "p1")
			require.NoError(t, err)
			assert.False(t, ok)

			want := samplePopulation()
			require.NoError(t, store.SavePopulation(ctx, want))
			got, ok, err := store.GetPopulation(ctx, "p1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)

			// Later saves overwrite.
			want.Cultures[0].Generation = 9
			require.NoError(t, store.SavePopulation(ctx, want))
			got, _, err = store.GetPopulation(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, 9, got.Cultures[0].Generation)

			require.NoError(t, store.DeletePopulation(ctx, "p1"))
			_, ok, err = store.GetPopulation(ctx, "p1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoresRoundTripChampions(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Init(ctx))
			t.Cleanup(func() { _ = CloseIfSupported(store) })

			history := []model.ChampionRecord{
				{Culture: "alpha", Generation: 1, EntityID: "e1", Fitness: 0.5, Species: 1, Genes: 4},
				{Culture: "beta", Generation: 2, EntityID: "e2", Fitness: 0.25, Species: 2, Genes: 6},
			}
			require.NoError(t, store.SaveChampions(ctx, "run-1", history))

			got, ok, err := store.GetChampions(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, history, got)

			_, ok, err = store.GetChampions(ctx, "run-2")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoresRejectStaleRecords(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Init(ctx))
			t.Cleanup(func() { _ = CloseIfSupported(store) })

			stale := samplePopulation()
			stale.SchemaVersion = CurrentSchemaVersion + 1
			assert.ErrorIs(t, store.SavePopulation(ctx, stale), ErrVersionMismatch)
		})
	}
}

func TestStoresRequireInit(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.SavePopulation(context.Background(), samplePopulation())
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
}

func TestMemoryStoreIsolatesCallerSlices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))

	p := samplePopulation()
	require.NoError(t, store.SavePopulation(ctx, p))
	p.Cultures[0].Entities[0].Genome[1].Weight = 99

	got, _, err := store.GetPopulation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Cultures[0].Entities[0].Genome[1].Weight)
}

func TestDecodePopulationChecksVersion(t *testing.T) {
	payload, err := EncodePopulation(samplePopulation())
	require.NoError(t, err)
	got, err := DecodePopulation(payload)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = DecodePopulation([]byte(`{"schema_version":0,"codec_version":1,"id":"x"}`))
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, err = DecodePopulation([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	for kind, want := range map[string]any{
		"":       &MemoryStore{},
		"memory": &MemoryStore{},
		"sqlite": &SQLiteStore{},
		"badger": &BadgerStore{},
	} {
		store, err := NewStore(kind, "x")
		require.NoError(t, err)
		assert.IsType(t, want, store)
	}
	_, err := NewStore("postgres", "")
	assert.Error(t, err)
	assert.NoError(t, CloseIfSupported(NewMemoryStore()))
}

func TestMemoryStoreInitKeepsData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.SavePopulation(ctx, samplePopulation()))

	require.NoError(t, store.Init(ctx))
	_, ok, err := store.GetPopulation(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
}
