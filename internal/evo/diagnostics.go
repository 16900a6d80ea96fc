package evo

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Diagnostics summarises a culture at the end of a generation.
type Diagnostics struct {
	Mean         float64
	StdDev       float64
	Best         float64
	Worst        float64
	Median       float64
	SpeciesCount int
	Threshold    float64
	Evaluations  int
	Failures     int
	Replacements map[string]int
}

// computeDiagnostics summarises the entities that evaluated successfully.
// Failed evaluations carry dir.Worst() and would swamp every statistic.
func computeDiagnostics(dir Direction, fitness []float64) Diagnostics {
	scored := make([]float64, 0, len(fitness))
	for _, f := range fitness {
		if f != dir.Worst() {
			scored = append(scored, f)
		}
	}
	if len(scored) == 0 {
		if len(fitness) == 0 {
			return Diagnostics{}
		}
		return Diagnostics{Best: dir.Worst(), Worst: dir.Worst()}
	}
	var d Diagnostics
	d.Mean, d.StdDev = stat.MeanStdDev(scored, nil)
	if len(scored) == 1 {
		d.StdDev = 0
	}
	hi, lo := floats.Max(scored), floats.Min(scored)
	if dir == Minimize {
		hi, lo = lo, hi
	}
	d.Best, d.Worst = hi, lo

	sort.Float64s(scored)
	d.Median = stat.Quantile(0.5, stat.Empirical, scored, nil)
	return d
}
