package scape

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"petri/internal/genome"
	"petri/internal/nn"
)

// SupervisedEvaluator scores a genome by mean squared error over dataset
// samples, so smaller is better. Every sample runs on its own freshly
// compiled network, which lets samples run in parallel.
type SupervisedEvaluator struct {
	Dataset     Dataset
	Network     nn.Options
	SampleCount int
	Random      bool
	Workers     int
}

func (e SupervisedEvaluator) Evaluate(ctx context.Context, g genome.Genome) (float64, error) {
	return e.score(ctx, g, false)
}

// Test scores g against the held-out split.
func (e SupervisedEvaluator) Test(ctx context.Context, g genome.Genome) (float64, error) {
	return e.score(ctx, g, true)
}

func (e SupervisedEvaluator) score(ctx context.Context, g genome.Genome, test bool) (float64, error) {
	if e.Dataset == nil {
		return 0, fmt.Errorf("dataset is required")
	}
	inputs, outputs := e.Dataset.Width()
	if len(g.Inputs()) != inputs || len(g.Outputs()) != outputs {
		return 0, fmt.Errorf("%w: genome %dx%d, dataset %s %dx%d",
			ErrWidth, len(g.Inputs()), len(g.Outputs()), e.Dataset.Name(), inputs, outputs)
	}

	fetch := e.Dataset.FetchTraining
	if test {
		fetch = e.Dataset.FetchTest
	}
	samples, err := fetch(ctx, e.SampleCount, e.Random)
	if err != nil {
		return 0, fmt.Errorf("fetch samples: %w", err)
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyDataset, e.Dataset.Name())
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	errs := make([]float64, len(samples))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i, s := range samples {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			nw, err := nn.Compile(g, e.Network)
			if err != nil {
				return err
			}
			out, err := nw.Query(s.Input)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			d := floats.Distance(out, s.Output, 2)
			errs[i] = d * d / float64(len(out))
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}
	return stat.Mean(errs, nil), nil
}
