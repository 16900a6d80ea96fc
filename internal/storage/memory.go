package storage

import (
	"context"
	"sync"

	"petri/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	populations map[string]model.Population
	champions   map[string][]model.ChampionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.populations = make(map[string]model.Population)
	s.champions = make(map[string][]model.ChampionRecord)
	return nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return err
	}
	s.populations[population.ID] = clonePopulation(population)
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Population{}, false, ErrNotInitialized
	}
	population, ok := s.populations[id]
	if !ok {
		return model.Population{}, false, nil
	}
	return clonePopulation(population), true, nil
}

func (s *MemoryStore) DeletePopulation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	delete(s.populations, id)
	return nil
}

func (s *MemoryStore) SaveChampions(_ context.Context, runID string, history []model.ChampionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.champions[runID] = append([]model.ChampionRecord(nil), history...)
	return nil
}

func (s *MemoryStore) GetChampions(_ context.Context, runID string) ([]model.ChampionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	history, ok := s.champions[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.ChampionRecord(nil), history...), true, nil
}
