package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"petri/internal/model"
)

const (
	populationPrefix = "population/"
	championPrefix   = "champions/"
)

// BadgerStore keeps records in an embedded Badger key-value store. An empty
// path opens an in-memory database.
type BadgerStore struct {
	path string

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.path, err)
		}
		opts = badger.DefaultOptions(s.path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SavePopulation(ctx context.Context, population model.Population) error {
	if err := checkVersion(population.VersionedRecord); err != nil {
		return err
	}
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.put(ctx, populationPrefix+population.ID, payload)
}

func (s *BadgerStore) GetPopulation(ctx context.Context, id string) (model.Population, bool, error) {
	payload, ok, err := s.get(ctx, populationPrefix+id)
	if err != nil || !ok {
		return model.Population{}, false, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.Population{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *BadgerStore) DeletePopulation(ctx context.Context, id string) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(populationPrefix + id))
	})
}

func (s *BadgerStore) SaveChampions(ctx context.Context, runID string, history []model.ChampionRecord) error {
	payload, err := EncodeChampions(history)
	if err != nil {
		return err
	}
	return s.put(ctx, championPrefix+runID, payload)
}

func (s *BadgerStore) GetChampions(ctx context.Context, runID string) ([]model.ChampionRecord, bool, error) {
	payload, ok, err := s.get(ctx, championPrefix+runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeChampions(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode champions %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) put(ctx context.Context, key string, payload []byte) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

func (s *BadgerStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *BadgerStore) getDB(ctx context.Context) (*badger.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
