package evo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/genome"
)

func TestDirection(t *testing.T) {
	assert.True(t, Maximize.Better(2, 1))
	assert.False(t, Maximize.Better(1, 1))
	assert.True(t, Minimize.Better(1, 2))
	assert.True(t, Maximize.Better(0, Maximize.Worst()))
	assert.True(t, Minimize.Better(0, Minimize.Worst()))

	d, err := ParseDirection("MIN")
	require.NoError(t, err)
	assert.Equal(t, Minimize, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestCopulateUsesFitterParentAsDominant(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	base := genome.Linear(2, 1)
	a := NewEntity(genome.SeedHiddenPath(rng, base))
	b := NewEntity(genome.SeedHiddenPath(rng, base))
	a.Fitness, b.Fitness = 1, 2

	child, asexual := a.Copulate(rng, b, Maximize, genome.Balance)
	assert.False(t, asexual)
	require.NoError(t, child.Validate())
	// Balance keeps the dominant parent's unique genes only.
	want := genome.Align(b.Genome, a.Genome)
	assert.Len(t, child, len(want.Common)+len(want.Dominant))

	self, asexual := a.Copulate(rng, a.Clone(), Maximize, genome.Grow)
	assert.True(t, asexual)
	assert.True(t, self.Equal(a.Genome))

	_, asexual = a.Copulate(rng, nil, Maximize, genome.Grow)
	assert.True(t, asexual)
}

func TestDiagnostics(t *testing.T) {
	d := computeDiagnostics(Minimize, []float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, d.Mean, 1e-12)
	assert.Equal(t, 1.0, d.Best)
	assert.Equal(t, 4.0, d.Worst)
	assert.Greater(t, d.StdDev, 0.0)
	assert.Equal(t, 2.0, d.Median)

	single := computeDiagnostics(Maximize, []float64{7})
	assert.Zero(t, single.StdDev)
	assert.Equal(t, 7.0, single.Best)

	failed := computeDiagnostics(Minimize, []float64{0.2, 0.3, Minimize.Worst(), Minimize.Worst()})
	assert.InDelta(t, 0.25, failed.Mean, 1e-12)
	assert.False(t, math.IsNaN(failed.StdDev))
	assert.Equal(t, 0.2, failed.Best)
	assert.Equal(t, 0.3, failed.Worst)
	assert.Equal(t, 0.2, failed.Median)

	none := computeDiagnostics(Maximize, []float64{Maximize.Worst()})
	assert.Zero(t, none.Mean)
	assert.Equal(t, Maximize.Worst(), none.Best)
}
