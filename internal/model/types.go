package model

import "petri/internal/genome"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Population is the persisted state of every culture in an incubator.
type Population struct {
	VersionedRecord
	ID       string    `json:"id"`
	Cultures []Culture `json:"cultures"`
}

type Culture struct {
	Name       string   `json:"name"`
	Generation int      `json:"generation"`
	Entities   []Entity `json:"entities"`
}

type Entity struct {
	ID       string        `json:"id"`
	Genome   []genome.Gene `json:"genome"`
	Fitness  float64       `json:"fitness"`
	Species  int64         `json:"species"`
	Children int           `json:"children"`
}

// ChampionRecord is one row of the champion history kept per run.
type ChampionRecord struct {
	Culture    string  `json:"culture" csv:"culture"`
	Generation int     `json:"generation" csv:"generation"`
	EntityID   string  `json:"entity_id" csv:"entity_id"`
	Fitness    float64 `json:"fitness" csv:"fitness"`
	Species    int64   `json:"species" csv:"species"`
	Genes      int     `json:"genes" csv:"genes"`
}

// Versioned stamps the current schema and codec versions.
func Versioned(schema, codec int) VersionedRecord {
	return VersionedRecord{SchemaVersion: schema, CodecVersion: codec}
}
