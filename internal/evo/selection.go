package evo

import (
	"context"
	"fmt"
	"math"

	"petri/internal/genome"
	"petri/internal/nn"
)

const (
	outcomeChampion  = "champion"
	outcomeOverbred  = "overbred"
	outcomeSibling   = "sibling"
	outcomeStagnant  = "stagnant"
	outcomePredator  = "predator"
	outcomeSacrifice = "sacrifice"
	outcomeEmigrated = "emigrated"
	outcomeDiscarded = "discarded"
	outcomeEmigrate  = "emigrate"
)

// fitter orders two entities by shared fitness, then raw fitness.
func (c *Culture) fitter(a *Entity, sharedA float64, b *Entity, sharedB float64) bool {
	dir := c.cfg.Direction
	if sharedA != sharedB {
		return dir.Better(sharedA, sharedB)
	}
	return dir.Better(a.Fitness, b.Fitness)
}

// selectFather runs a tournament on shared fitness, skipping stagnant
// species. Callers hold c.mu.
func (c *Culture) selectFather() *Entity {
	var best *Entity
	var bestShared float64
	for i := 0; i < c.cfg.TournamentSize; i++ {
		cand := c.entities[c.rng.Intn(len(c.entities))]
		if c.catalog.Stagnant(cand.Species, c.cfg.StagnationLimit) {
			continue
		}
		shared := c.catalog.Shared(cand)
		if best == nil || c.fitter(cand, shared, best, bestShared) {
			best, bestShared = cand, shared
		}
	}
	if best == nil {
		return c.champion
	}
	return best
}

// selectMother looks for a same-species partner that is at least as fit as
// the species average, falling back to any same-species partner met along
// the way. Callers hold c.mu.
func (c *Culture) selectMother(father *Entity) *Entity {
	dir := c.cfg.Direction
	avg, _ := c.catalog.Average(father.Species)
	var good, alright *Entity
	for i := 0; i < c.cfg.MateAttempts; i++ {
		cand := c.entities[c.rng.Intn(len(c.entities))]
		if cand == father || cand.Species != father.Species {
			continue
		}
		if !dir.Better(avg, cand.Fitness) {
			if good == nil || dir.Better(cand.Fitness, good.Fitness) {
				good = cand
			}
			continue
		}
		if alright == nil || dir.Better(cand.Fitness, alright.Fitness) {
			alright = cand
		}
	}
	if good != nil {
		return good
	}
	return alright
}

// breed runs one selection, crossover, evaluation and replacement step.
func (c *Culture) breed(ctx context.Context, stats *breedStats) error {
	c.mu.Lock()
	father := c.selectFather()
	var mother *Entity
	if m := c.selectMother(father); m != nil {
		mother = m.Clone()
	}
	father = father.Clone()
	arch := c.archipelago
	speciation := c.catalog.SpeciationConfig
	c.mu.Unlock()

	immigrant := false
	if mother == nil && arch != nil {
		cand, ok := arch.Immigrant(c.rng, c)
		if ok && Compatibility(father.Genome, cand.Genome, speciation.DisjointCoeff, speciation.WeightCoeff) < speciation.Threshold {
			mother, immigrant = cand, true
		}
	}

	policy := c.cfg.Policies[c.rng.Intn(len(c.cfg.Policies))]
	g, asexual := father.Copulate(c.rng, mother, c.cfg.Direction, policy)
	children := father.Children
	if mother != nil && mother.Children > children {
		children = mother.Children
	}
	g, mutated, err := c.mutate(g, asexual, children)
	if err != nil {
		return err
	}

	child := NewEntity(g)
	var ok bool
	child.Fitness, ok = c.evaluate(ctx, g)
	stats.evaluations++
	if !ok {
		stats.failures++
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	liveFather := c.lookup(father.ID)
	var liveMother *Entity
	if mother != nil && !immigrant {
		liveMother = c.lookup(mother.ID)
	}
	if liveFather != nil {
		liveFather.Children++
	}
	if liveMother != nil && liveMother != liveFather {
		liveMother.Children++
	}
	if !mutated && mother != nil && mother.Species == father.Species {
		child.Species = father.Species
	} else {
		child.Species = c.catalog.Assign(child.Genome)
	}
	outcome := c.replace(child, liveFather, liveMother)
	if outcome != outcomeEmigrate {
		c.replacements[outcome]++
	}
	c.mu.Unlock()

	if outcome == outcomeEmigrate {
		outcome = outcomeDiscarded
		if arch != nil && arch.Emigrate(c.rng, c, child) {
			outcome = outcomeEmigrated
		}
		c.mu.Lock()
		c.replacements[outcome]++
		c.mu.Unlock()
	}
	return nil
}

func (c *Culture) mutate(g genome.Genome, asexual bool, children int) (genome.Genome, bool, error) {
	nw, err := nn.Compile(g, c.cfg.Network)
	if err != nil {
		return nil, false, fmt.Errorf("compile offspring: %w", err)
	}
	cfg := c.cfg.Mutation
	cfg.Probability = math.Min(1, cfg.Probability*float64(1+children))
	var changed int
	if asexual {
		changed = nw.ForceMutation(c.rng, cfg)
	} else {
		changed = nw.Mutate(c.rng, cfg)
	}
	if changed == 0 {
		return g, false, nil
	}
	return nw.Genome(), true, nil
}

func (c *Culture) lookup(id string) *Entity {
	for _, e := range c.entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// swap puts child in victim's slot. Callers hold c.mu.
func (c *Culture) swap(victim, child *Entity) {
	for i, e := range c.entities {
		if e == victim {
			c.catalog.Remove(victim)
			c.entities[i] = child
			c.catalog.Add(child)
			return
		}
	}
}

// replace finds a slot for child and reports how. outcomeEmigrate means no
// slot qualified. Callers hold c.mu.
func (c *Culture) replace(child, father, mother *Entity) string {
	dir := c.cfg.Direction
	if dir.Better(child.Fitness, c.champion.Fitness) {
		c.swap(c.champion, child)
		c.champion = child
		return outcomeChampion
	}

	for _, p := range []*Entity{father, mother} {
		if p != nil && p != c.champion && c.cfg.ChildCap > 0 && p.Children > c.cfg.ChildCap {
			c.swap(p, child)
			return outcomeOverbred
		}
	}

	if victim, outcome := c.predator(child); victim != nil {
		c.swap(victim, child)
		return outcome
	}

	if father != nil && mother != nil && dir.Better(father.Fitness, mother.Fitness) {
		father, mother = mother, father
	}
	for _, p := range []*Entity{father, mother} {
		if p != nil && p != c.champion && dir.Better(child.Fitness, p.Fitness) {
			c.swap(p, child)
			return outcomeSacrifice
		}
	}
	return outcomeEmigrate
}

// predator samples prey for child. A weaker member of the child's own
// species wins first, then a member of a stagnant species, then the
// weakest by shared fitness if child beats it outright.
func (c *Culture) predator(child *Entity) (*Entity, string) {
	dir := c.cfg.Direction
	var sibling, stagnant, weakest *Entity
	var weakestShared float64
	for i := 0; i < c.cfg.TournamentSize; i++ {
		cand := c.entities[c.rng.Intn(len(c.entities))]
		if cand == c.champion {
			continue
		}
		if cand.Species == child.Species && dir.Better(child.Fitness, cand.Fitness) {
			if sibling == nil || dir.Better(sibling.Fitness, cand.Fitness) {
				sibling = cand
			}
		}
		if c.catalog.Stagnant(cand.Species, c.cfg.StagnationLimit) {
			if stagnant == nil || dir.Better(stagnant.Fitness, cand.Fitness) {
				stagnant = cand
			}
		}
		shared := c.catalog.Shared(cand)
		if weakest == nil || c.fitter(weakest, weakestShared, cand, shared) {
			weakest, weakestShared = cand, shared
		}
	}
	switch {
	case sibling != nil:
		return sibling, outcomeSibling
	case stagnant != nil:
		return stagnant, outcomeStagnant
	case weakest != nil && dir.Better(child.Fitness, weakest.Fitness):
		return weakest, outcomePredator
	}
	return nil, ""
}
