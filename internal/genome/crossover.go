package genome

import (
	"fmt"
	"math/rand"
	"strings"
)

// Shared is an edge carried by both parents.
type Shared struct {
	Source      NodeID
	Destination NodeID
	Dominant    float64
	Recessive   float64
}

func (s Shared) Average() float64 {
	return (s.Dominant + s.Recessive) / 2
}

// Alignment splits two parents into disjoint ordered gene lists.
type Alignment struct {
	Common    []Shared
	Dominant  []Gene
	Recessive []Gene
}

// Align merges two sorted genomes in one linear pass. dominant is the
// fitter parent.
func Align(dominant, recessive Genome) Alignment {
	var a Alignment
	i, j := 0, 0
	for i < len(dominant) && j < len(recessive) {
		d, r := dominant[i], recessive[j]
		switch {
		case d.SameEdge(r):
			a.Common = append(a.Common, Shared{
				Source:      d.Source,
				Destination: d.Destination,
				Dominant:    d.Weight,
				Recessive:   r.Weight,
			})
			i++
			j++
		case d.keyLess(r):
			a.Dominant = append(a.Dominant, d)
			i++
		default:
			a.Recessive = append(a.Recessive, r)
			j++
		}
	}
	a.Dominant = append(a.Dominant, dominant[i:]...)
	a.Recessive = append(a.Recessive, recessive[j:]...)
	return a
}

// Disjoint is the number of genes carried by only one parent.
func (a Alignment) Disjoint() int {
	return len(a.Dominant) + len(a.Recessive)
}

// Nudge moves current a uniform random fraction of the way to target. The
// result always lies between current and target.
func Nudge(rng *rand.Rand, current, target float64) float64 {
	return current - rng.Float64()*(current-target)
}

// Policy selects which aligned genes an offspring inherits.
type Policy uint8

const (
	Shrink Policy = iota
	Balance
	Grow
)

var policyNames = map[Policy]string{
	Shrink:  "shrink",
	Balance: "balance",
	Grow:    "grow",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

func ParsePolicy(name string) (Policy, error) {
	key := strings.TrimSpace(strings.ToLower(name))
	for p, n := range policyNames {
		if n == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported blend policy: %s", name)
}

// Blend builds one offspring from an alignment.
func Blend(rng *rand.Rand, a Alignment, policy Policy) Genome {
	genes := make([]Gene, 0, len(a.Common)+a.Disjoint())
	for _, s := range a.Common {
		genes = append(genes, Gene{
			Source:      s.Source,
			Destination: s.Destination,
			Weight:      Nudge(rng, s.Average(), s.Dominant),
		})
	}
	if policy >= Balance {
		for _, d := range a.Dominant {
			d.Weight = Nudge(rng, d.Weight, d.Weight/2)
			genes = append(genes, d)
		}
	}
	if policy >= Grow {
		for _, r := range a.Recessive {
			r.Weight = Nudge(rng, r.Weight/2, 0)
			genes = append(genes, r)
		}
	}
	return New(genes...)
}

// Crossover produces one offspring per policy.
func Crossover(rng *rand.Rand, dominant, recessive Genome, policies ...Policy) []Genome {
	if len(policies) == 0 {
		policies = []Policy{Balance}
	}
	a := Align(dominant, recessive)
	out := make([]Genome, 0, len(policies))
	for _, p := range policies {
		out = append(out, Blend(rng, a, p))
	}
	return out
}
