package scape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/genome"
	"petri/internal/nn"
)

// sumGenome feeds both inputs straight into one output neuron, so the
// output is x1+x2 whenever that sum is positive.
func sumGenome() genome.Genome {
	return genome.New(
		genome.Gene{Source: genome.InputRef, Destination: 10},
		genome.Gene{Source: genome.InputRef, Destination: 11},
		genome.Gene{Source: 10, Destination: 20, Weight: 1},
		genome.Gene{Source: 11, Destination: 20, Weight: 1},
		genome.Gene{Source: 20, Destination: genome.OutputRef},
	)
}

func TestSupervisedEvaluatorMeanSquaredError(t *testing.T) {
	eval := SupervisedEvaluator{
		Dataset: NewXORDataset(1),
		Network: nn.DefaultOptions(),
		Workers: 2,
	}

	// Only the (1, 1) case misses, by 2.
	mse, err := eval.Evaluate(context.Background(), sumGenome())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mse, 1e-12)

	held, err := eval.Test(context.Background(), sumGenome())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, held, 1e-12)
}

func TestSupervisedEvaluatorRejectsMismatchedGenomes(t *testing.T) {
	eval := SupervisedEvaluator{Dataset: NewXORDataset(1), Network: nn.DefaultOptions()}
	_, err := eval.Evaluate(context.Background(), genome.Linear(3, 1))
	assert.ErrorIs(t, err, ErrWidth)

	_, err = SupervisedEvaluator{}.Evaluate(context.Background(), sumGenome())
	assert.Error(t, err)
}

func TestSupervisedEvaluatorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eval := SupervisedEvaluator{Dataset: NewXORDataset(1), Network: nn.DefaultOptions()}
	_, err := eval.Evaluate(ctx, sumGenome())
	assert.ErrorIs(t, err, context.Canceled)
}
