package scape

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickLeadingAndRandomSubsets(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	lead := pick(rng, xorCases, 2, false)
	require.Len(t, lead, 2)
	assert.Equal(t, xorCases[:2], lead)

	all := pick(rng, xorCases, 0, false)
	assert.Len(t, all, len(xorCases))

	shuffled := pick(rng, xorCases, 10, true)
	assert.ElementsMatch(t, xorCases, shuffled)
}

func TestXORDatasetServesTruthTable(t *testing.T) {
	d := NewXORDataset(7)
	in, out := d.Width()
	assert.Equal(t, 2, in)
	assert.Equal(t, 1, out)
	assert.Equal(t, "xor", d.Name())

	train, err := d.FetchTraining(context.Background(), 0, false)
	require.NoError(t, err)
	require.Len(t, train, 4)
	for _, s := range train {
		want := 0.0
		if s.Input[0] != s.Input[1] {
			want = 1
		}
		assert.Equal(t, want, s.Output[0])
	}

	test, err := d.FetchTest(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Len(t, test, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.FetchTraining(ctx, 0, false)
	assert.ErrorIs(t, err, context.Canceled)
}
