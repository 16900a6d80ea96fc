package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/genome"
)

const (
	nodeA genome.NodeID = 1_000_001
	nodeB genome.NodeID = 1_000_002
	nodeN genome.NodeID = 1_000_003
)

func chainGenome() genome.Genome {
	return genome.New(
		genome.Gene{Source: genome.InputRef, Destination: nodeA, Weight: 1},
		genome.Gene{Source: nodeA, Destination: nodeB, Weight: 0.5},
		genome.Gene{Source: nodeB, Destination: genome.OutputRef, Weight: 1},
		genome.Gene{Source: genome.BiasMark, Destination: nodeA, Weight: 0},
	)
}

func TestQueryThreeNodeChain(t *testing.T) {
	nw, err := Compile(chainGenome(), DefaultOptions())
	require.NoError(t, err)

	out, err := nw.Query([]float64{2})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0], 1e-12)
	require.NoError(t, nw.checkConsistency())
}

func TestQueryRejectsWrongWidth(t *testing.T) {
	nw, err := Compile(chainGenome(), DefaultOptions())
	require.NoError(t, err)

	_, err = nw.Query([]float64{1, 2})
	assert.ErrorIs(t, err, ErrShape)
}

func TestCompileRejectsInvalidGenome(t *testing.T) {
	bad := genome.Genome{{Source: nodeA, Destination: genome.InputRef, Weight: 1}}
	_, err := Compile(bad, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidGenome)
}

func TestNapRestoresFreshState(t *testing.T) {
	nw, err := Compile(chainGenome(), DefaultOptions())
	require.NoError(t, err)

	first, err := nw.Query([]float64{2})
	require.NoError(t, err)

	view, ok := nw.Neuron(nodeA)
	require.True(t, ok)
	assert.Equal(t, 0, view.LastFired)

	nw.Nap()
	for _, id := range nw.NeuronIDs() {
		view, ok := nw.Neuron(id)
		require.True(t, ok)
		assert.Equal(t, NeverFired, view.LastFired, id.String())
		assert.Zero(t, view.Signal, id.String())
	}

	// A fresh query with another input sees none of the first one.
	other, err := nw.Query([]float64{3})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.InDelta(t, 1.5, other[0], 1e-12)

	nw.Nap()
	second, err := nw.Query([]float64{2})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRefractoryNeuronIgnoresSameDepth(t *testing.T) {
	nw, err := Compile(chainGenome(), DefaultOptions())
	require.NoError(t, err)

	_, err = nw.Query([]float64{2})
	require.NoError(t, err)
	// Without a nap the input neuron is still refractory at depth -1.
	out, err := nw.Query([]float64{100})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out[0], 1e-12)
}

func TestThresholdIsMonotone(t *testing.T) {
	assert.True(t, math.IsInf(threshold(0, 3, 10), 1))
	assert.True(t, math.IsInf(threshold(-4, 3, 10), 1))
	prev := math.Inf(1)
	for cycle := 1; cycle <= 12; cycle++ {
		cur := threshold(cycle, 3, 10)
		assert.LessOrEqual(t, cur, prev, "cycle %d", cycle)
		prev = cur
	}
	assert.Zero(t, threshold(11, 3, 10))
	assert.InDelta(t, 3.0, threshold(1, 3, 10), 1e-12)
	assert.InDelta(t, 0.3, threshold(2, 3, 0), 1e-12)
}

func TestGenomeRoundTrip(t *testing.T) {
	g := genome.New(
		genome.Gene{Source: genome.InputRef, Destination: nodeA},
		genome.Gene{Source: nodeA, Destination: nodeA, Weight: -0.25},
		genome.Gene{Source: nodeA, Destination: nodeB, Weight: 0.5},
		genome.Gene{Source: nodeB, Destination: nodeA, Weight: 0.75},
		genome.Gene{Source: nodeB, Destination: genome.OutputRef},
		genome.Gene{Source: genome.BiasMark, Destination: nodeB, Weight: 0.1},
		genome.Gene{Source: genome.RecoveryMark, Destination: nodeA, Weight: 4},
	)
	nw, err := Compile(g, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, g.Equal(nw.Genome()), "got %v", nw.Genome())
	assert.Equal(t, []genome.NodeID{nodeA}, nw.Inputs())
	assert.Equal(t, []genome.NodeID{nodeB}, nw.Outputs())
	// two references, two neurons, four clock relays
	assert.Equal(t, 8, nw.Len())
}

func TestRoundTripWithoutClock(t *testing.T) {
	g := chainGenome()
	opts := DefaultOptions()
	opts.PerceptionFrequency = 0
	nw, err := Compile(g, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, nw.Len())
	assert.True(t, g.Equal(nw.Genome()))
}

func TestOutputsFollowIDOrder(t *testing.T) {
	g := genome.New(
		genome.Gene{Source: genome.InputRef, Destination: nodeA},
		genome.Gene{Source: nodeA, Destination: nodeN, Weight: 1},
		genome.Gene{Source: nodeA, Destination: nodeB, Weight: 2},
		genome.Gene{Source: nodeN, Destination: genome.OutputRef},
		genome.Gene{Source: nodeB, Destination: genome.OutputRef},
	)
	nw, err := Compile(g, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []genome.NodeID{nodeB, nodeN}, nw.Outputs())

	out, err := nw.Query([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, out)
}

func TestQueryTerminatesForMutatedXORGenomes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seed := genome.SeedHiddenPath(rng, genome.Linear(2, 1))
	cfg := DefaultMutationConfig()

	nw, err := Compile(seed, DefaultOptions())
	require.NoError(t, err)
	out, err := nw.Query([]float64{1, 0})
	require.NoError(t, err)
	require.Len(t, out, 1)

	for round := 0; round < 200; round++ {
		nw.ForceMutation(rng, cfg)
		require.NoError(t, nw.checkConsistency(), "round %d", round)

		g := nw.Genome()
		require.NoError(t, g.Validate(), "round %d", round)
		fresh, err := Compile(g, DefaultOptions())
		require.NoError(t, err)
		assert.Len(t, fresh.Inputs(), 2)
		assert.Len(t, fresh.Outputs(), 1)

		out, err := fresh.Query([]float64{1, 0})
		if err != nil {
			// Mutation can close high-gain loops that the refractory
			// threshold does not damp within the firing budget, and the
			// budget ends the query. Only cyclic genomes get that far.
			require.True(t, errors.Is(err, ErrNonConvergent), "round %d: %v", round, err)
			require.True(t, hasCycle(g), "round %d: acyclic genome did not converge", round)
			continue
		}
		require.Len(t, out, 1)
	}
}

// hasCycle reports whether the synapses of g contain a directed cycle,
// self-loops included.
func hasCycle(g genome.Genome) bool {
	next := make(map[genome.NodeID][]genome.NodeID)
	for _, gene := range g {
		if gene.Kind() == genome.Synapse {
			next[gene.Source] = append(next[gene.Source], gene.Destination)
		}
	}
	const (
		unseen = iota
		open
		done
	)
	state := make(map[genome.NodeID]int)
	var visit func(id genome.NodeID) bool
	visit = func(id genome.NodeID) bool {
		state[id] = open
		for _, to := range next[id] {
			switch state[to] {
			case open:
				return true
			case unseen:
				if visit(to) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}
	for id := range next {
		if state[id] == unseen && visit(id) {
			return true
		}
	}
	return false
}
