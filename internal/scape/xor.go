package scape

import (
	"context"
	"math/rand"
	"sync"
)

// XORDataset is the two-input exclusive-or truth table. The test split
// replays the table in a shuffled order with repeats.
type XORDataset struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewXORDataset(seed int64) *XORDataset {
	return &XORDataset{rng: rand.New(rand.NewSource(seed))}
}

var xorCases = []Sample{
	{Input: []float64{0, 0}, Output: []float64{0}},
	{Input: []float64{0, 1}, Output: []float64{1}},
	{Input: []float64{1, 0}, Output: []float64{1}},
	{Input: []float64{1, 1}, Output: []float64{0}},
}

var xorTest = []Sample{
	xorCases[3], xorCases[2], xorCases[1], xorCases[0],
	xorCases[3], xorCases[0], xorCases[2], xorCases[1],
}

func (*XORDataset) Name() string {
	return "xor"
}

func (*XORDataset) Width() (int, int) {
	return 2, 1
}

func (d *XORDataset) FetchTraining(ctx context.Context, count int, random bool) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return pick(d.rng, xorCases, count, random), nil
}

func (d *XORDataset) FetchTest(ctx context.Context, count int, random bool) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return pick(d.rng, xorTest, count, random), nil
}
