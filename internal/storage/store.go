package storage

import (
	"context"

	"petri/internal/model"
)

// Store persists incubator populations and per-run champion histories.
type Store interface {
	Init(ctx context.Context) error
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	DeletePopulation(ctx context.Context, id string) error
	SaveChampions(ctx context.Context, runID string, history []model.ChampionRecord) error
	GetChampions(ctx context.Context, runID string) ([]model.ChampionRecord, bool, error)
}
