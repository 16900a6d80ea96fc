package evo

import (
	"math"
	"sort"
	"sync/atomic"

	"petri/internal/genome"
)

var lastSpeciesID atomic.Int64

// NewSpeciesID is process wide so migrants never collide across cultures.
func NewSpeciesID() int64 {
	return lastSpeciesID.Add(1)
}

// ObserveSpecies advances the species allocator past id.
func ObserveSpecies(id int64) {
	for {
		cur := lastSpeciesID.Load()
		if id <= cur || lastSpeciesID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Species is a snapshot of one catalog bucket.
type Species struct {
	ID             int64
	Representative genome.Genome
	Members        int
	Average        float64
	Best           float64
	Stagnation     int
}

type speciesBucket struct {
	id             int64
	representative genome.Genome
	members        map[string]float64
	best           float64
	stagnation     int
}

func (b *speciesBucket) average() float64 {
	mean, n := 0.0, 0.0
	for _, f := range b.members {
		n++
		mean += (f - mean) / n
	}
	return mean
}

// Catalog tracks species membership, fitness sharing and stagnation for one
// culture. It is not safe for concurrent use; the culture lock guards it.
type Catalog struct {
	SpeciationConfig

	dir     Direction
	buckets map[int64]*speciesBucket
}

type SpeciationConfig struct {
	// Threshold is the compatibility distance below which a genome joins
	// an existing species.
	Threshold     float64
	DisjointCoeff float64
	WeightCoeff   float64
	// TargetSpecies enables threshold adaptation when positive.
	TargetSpecies int
	MinThreshold  float64
	MaxThreshold  float64
	ThresholdStep float64
}

func DefaultSpeciationConfig() SpeciationConfig {
	return SpeciationConfig{
		Threshold:     1.0,
		DisjointCoeff: 1.0,
		WeightCoeff:   0.4,
		MinThreshold:  0.05,
		MaxThreshold:  8.0,
		ThresholdStep: 0.1,
	}
}

func NewCatalog(dir Direction, cfg SpeciationConfig) *Catalog {
	return &Catalog{
		SpeciationConfig: cfg,
		dir:              dir,
		buckets:          make(map[int64]*speciesBucket),
	}
}

// Distance is the configured compatibility between two genomes.
func (c *Catalog) Distance(a, b genome.Genome) float64 {
	return Compatibility(a, b, c.DisjointCoeff, c.WeightCoeff)
}

// Compatible reports whether two genomes fall within the threshold.
func (c *Catalog) Compatible(a, b genome.Genome) bool {
	return c.Distance(a, b) < c.Threshold
}

// Assign returns the id of the closest compatible species, or a fresh id
// when no representative is close enough.
func (c *Catalog) Assign(g genome.Genome) int64 {
	best, bestDist := int64(0), math.MaxFloat64
	for _, id := range c.IDs() {
		dist := c.Distance(g, c.buckets[id].representative)
		if dist < bestDist {
			best, bestDist = id, dist
		}
	}
	if best != 0 && bestDist < c.Threshold {
		return best
	}
	return NewSpeciesID()
}

// Add registers e under e.Species, creating the bucket with e as its
// representative when the species is new to this catalog.
func (c *Catalog) Add(e *Entity) {
	if e.Species == 0 {
		e.Species = c.Assign(e.Genome)
	}
	ObserveSpecies(e.Species)
	b, ok := c.buckets[e.Species]
	if !ok {
		b = &speciesBucket{
			id:             e.Species,
			representative: e.Genome.Clone(),
			members:        make(map[string]float64),
			best:           e.Fitness,
		}
		c.buckets[e.Species] = b
	}
	b.members[e.ID] = e.Fitness
	if c.dir.Better(e.Fitness, b.best) {
		b.best = e.Fitness
		b.stagnation = 0
	}
}

// Remove drops e from its species. Empty species go extinct.
func (c *Catalog) Remove(e *Entity) {
	b, ok := c.buckets[e.Species]
	if !ok {
		return
	}
	delete(b.members, e.ID)
	if len(b.members) == 0 {
		delete(c.buckets, e.Species)
	}
}

// Shared is the fitness-sharing score of a registered entity.
func (c *Catalog) Shared(e *Entity) float64 {
	b, ok := c.buckets[e.Species]
	if !ok {
		return e.Fitness
	}
	return c.dir.Share(b.average(), len(b.members))
}

// SharedIfAdded is the score e would have after joining its species.
func (c *Catalog) SharedIfAdded(e *Entity) float64 {
	b, ok := c.buckets[e.Species]
	if !ok {
		return e.Fitness
	}
	if _, member := b.members[e.ID]; member {
		return c.Shared(e)
	}
	n := float64(len(b.members) + 1)
	avg := b.average()
	avg += (e.Fitness - avg) / n
	return c.dir.Share(avg, len(b.members)+1)
}

// Average is the mean fitness of species id.
func (c *Catalog) Average(id int64) (float64, bool) {
	b, ok := c.buckets[id]
	if !ok {
		return 0, false
	}
	return b.average(), true
}

// Stagnant reports whether species id went more than limit generations
// without improving its best fitness. Extinct species count as stagnant.
func (c *Catalog) Stagnant(id int64, limit int) bool {
	b, ok := c.buckets[id]
	if !ok {
		return true
	}
	return limit > 0 && b.stagnation > limit
}

// Age closes a generation: every species grows one generation staler and
// the threshold moves toward the target species count.
func (c *Catalog) Age() {
	for _, b := range c.buckets {
		b.stagnation++
	}
	if c.TargetSpecies <= 0 {
		return
	}
	switch n := len(c.buckets); {
	case n > c.TargetSpecies:
		c.Threshold = math.Min(c.MaxThreshold, c.Threshold+c.ThresholdStep)
	case n < c.TargetSpecies:
		c.Threshold = math.Max(c.MinThreshold, c.Threshold-c.ThresholdStep)
	}
}

func (c *Catalog) Len() int {
	return len(c.buckets)
}

func (c *Catalog) IDs() []int64 {
	ids := make([]int64, 0, len(c.buckets))
	for id := range c.buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Catalog) Get(id int64) (Species, bool) {
	b, ok := c.buckets[id]
	if !ok {
		return Species{}, false
	}
	return Species{
		ID:             b.id,
		Representative: b.representative.Clone(),
		Members:        len(b.members),
		Average:        b.average(),
		Best:           b.best,
		Stagnation:     b.stagnation,
	}, true
}

func (c *Catalog) Snapshot() []Species {
	out := make([]Species, 0, len(c.buckets))
	for _, id := range c.IDs() {
		s, _ := c.Get(id)
		out = append(out, s)
	}
	return out
}
