package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"petri/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrNotInitialized  = errors.New("store is not initialized")
)

// Stamp returns p carrying the current schema and codec versions.
func Stamp(p model.Population) model.Population {
	p.VersionedRecord = model.Versioned(CurrentSchemaVersion, CurrentCodecVersion)
	return p
}

func EncodePopulation(p model.Population) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePopulation(data []byte) (model.Population, error) {
	var population model.Population
	if err := json.Unmarshal(data, &population); err != nil {
		return model.Population{}, err
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return model.Population{}, err
	}
	return population, nil
}

func EncodeChampions(history []model.ChampionRecord) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeChampions(data []byte) ([]model.ChampionRecord, error) {
	var history []model.ChampionRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func clonePopulation(p model.Population) model.Population {
	out := p
	out.Cultures = make([]model.Culture, len(p.Cultures))
	for i, c := range p.Cultures {
		entities := make([]model.Entity, len(c.Entities))
		for j, e := range c.Entities {
			e.Genome = append(e.Genome[:0:0], e.Genome...)
			entities[j] = e
		}
		c.Entities = entities
		out.Cultures[i] = c
	}
	return out
}
