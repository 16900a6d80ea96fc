package evo

import (
	"math/rand"

	"github.com/google/uuid"

	"petri/internal/genome"
)

// Entity is one member of a culture. Entities are owned by their culture
// and only mutated under its lock; callers outside get clones.
type Entity struct {
	ID       string
	Genome   genome.Genome
	Fitness  float64
	Species  int64
	Children int
}

func NewEntity(g genome.Genome) *Entity {
	return &Entity{ID: uuid.NewString(), Genome: g}
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Genome = e.Genome.Clone()
	return &out
}

// Copulate blends e with mate using policy, with the fitter parent
// dominant. Identical genomes reproduce asexually and report so.
func (e *Entity) Copulate(rng *rand.Rand, mate *Entity, dir Direction, policy genome.Policy) (genome.Genome, bool) {
	if mate == nil || e.Genome.Equal(mate.Genome) {
		return e.Genome.Clone(), true
	}
	dominant, recessive := e, mate
	if dir.Better(mate.Fitness, e.Fitness) {
		dominant, recessive = mate, e
	}
	return genome.Blend(rng, genome.Align(dominant.Genome, recessive.Genome), policy), false
}
