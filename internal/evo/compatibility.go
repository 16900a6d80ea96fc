package evo

import (
	"math"

	"petri/internal/genome"
)

// Compatibility is the structural distance between two genomes: disjoint
// genes normalised by the larger genome plus the mean absolute weight
// difference over shared genes. It is symmetric in its arguments.
func Compatibility(a, b genome.Genome, disjointCoeff, weightCoeff float64) float64 {
	aligned := genome.Align(a, b)
	size := math.Max(float64(len(a)), float64(len(b)))
	if size == 0 {
		return 0
	}
	dist := disjointCoeff * float64(aligned.Disjoint()) / size
	if len(aligned.Common) > 0 {
		diff := 0.0
		for _, s := range aligned.Common {
			diff += math.Abs(s.Dominant - s.Recessive)
		}
		dist += weightCoeff * diff / float64(len(aligned.Common))
	}
	return dist
}
