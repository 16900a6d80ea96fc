// Package scape holds the boundary collaborators that score genomes: offline
// datasets and interactive agents.
package scape

import (
	"context"
	"errors"
	"math/rand"
)

var (
	ErrEmptyDataset = errors.New("dataset has no samples")
	ErrWidth        = errors.New("genome boundary does not match dataset width")
)

// Sample is one supervised example.
type Sample struct {
	Input  []float64
	Output []float64
}

// Dataset serves training and held-out samples. count <= 0 fetches every
// sample; random draws a shuffled subset instead of the leading rows.
type Dataset interface {
	Name() string
	Width() (inputs, outputs int)
	FetchTraining(ctx context.Context, count int, random bool) ([]Sample, error)
	FetchTest(ctx context.Context, count int, random bool) ([]Sample, error)
}

func pick(rng *rand.Rand, samples []Sample, count int, random bool) []Sample {
	if count <= 0 || count > len(samples) {
		count = len(samples)
	}
	if !random {
		return append([]Sample(nil), samples[:count]...)
	}
	out := make([]Sample, count)
	for i, j := range rng.Perm(len(samples))[:count] {
		out[i] = samples[j]
	}
	return out
}
