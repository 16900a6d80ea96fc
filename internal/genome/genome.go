// Package genome holds the heritable edge-list representation of a network.
package genome

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
)

// NodeID identifies a neuron. Negative values are reserved sentinels.
type NodeID int64

const (
	// Seed is the origin of the identifier space. Fresh identifiers are
	// allocated strictly above it; clock relays carry it as their identity.
	Seed NodeID = 0

	InputRef     NodeID = -1
	OutputRef    NodeID = -2
	BiasMark     NodeID = -3
	RecoveryMark NodeID = -5
)

var lastNodeID atomic.Int64

// NewNodeID returns a process-wide unique ordinary identifier.
func NewNodeID() NodeID {
	return NodeID(lastNodeID.Add(1))
}

// Observe advances the allocator past id so that identifiers loaded from
// storage are never handed out again.
func Observe(id NodeID) {
	for {
		cur := lastNodeID.Load()
		if int64(id) <= cur {
			return
		}
		if lastNodeID.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// IsReserved reports whether id is one of the sentinel identifiers.
func IsReserved(id NodeID) bool {
	return id <= Seed
}

func (id NodeID) String() string {
	switch id {
	case Seed:
		return "seed"
	case InputRef:
		return "input"
	case OutputRef:
		return "output"
	case BiasMark:
		return "bias"
	case RecoveryMark:
		return "recovery"
	default:
		return fmt.Sprintf("n%d", int64(id))
	}
}

// EdgeKind classifies a gene by what it encodes.
type EdgeKind uint8

const (
	Synapse EdgeKind = iota
	Bias
	Recovery
)

func (k EdgeKind) String() string {
	switch k {
	case Bias:
		return "bias"
	case Recovery:
		return "recovery"
	default:
		return "synapse"
	}
}

// Gene is a directed weighted edge, or a scalar attribute of Destination
// when Source is a marker.
type Gene struct {
	Source      NodeID
	Destination NodeID
	Weight      float64
}

func (g Gene) Kind() EdgeKind {
	switch g.Source {
	case BiasMark:
		return Bias
	case RecoveryMark:
		return Recovery
	default:
		return Synapse
	}
}

// SameEdge compares genes by endpoints only.
func (g Gene) SameEdge(o Gene) bool {
	return g.Source == o.Source && g.Destination == o.Destination
}

// Less orders genes by (source, destination, weight).
func (g Gene) Less(o Gene) bool {
	if g.Source != o.Source {
		return g.Source < o.Source
	}
	if g.Destination != o.Destination {
		return g.Destination < o.Destination
	}
	return g.Weight < o.Weight
}

// keyLess orders genes by (source, destination) only.
func (g Gene) keyLess(o Gene) bool {
	if g.Source != o.Source {
		return g.Source < o.Source
	}
	return g.Destination < o.Destination
}

func (g Gene) String() string {
	return fmt.Sprintf("%s->%s(%.4g)", g.Source, g.Destination, g.Weight)
}

func (g Gene) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{int64(g.Source), int64(g.Destination), g.Weight})
}

func (g *Gene) UnmarshalJSON(data []byte) error {
	var raw [3]json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode gene: %w", err)
	}
	src, err := raw[0].Int64()
	if err != nil {
		return fmt.Errorf("decode gene source: %w", err)
	}
	dst, err := raw[1].Int64()
	if err != nil {
		return fmt.Errorf("decode gene destination: %w", err)
	}
	w, err := raw[2].Float64()
	if err != nil {
		return fmt.Errorf("decode gene weight: %w", err)
	}
	*g = Gene{Source: NodeID(src), Destination: NodeID(dst), Weight: w}
	return nil
}

var (
	ErrUnsorted      = errors.New("genome is not sorted")
	ErrDuplicateEdge = errors.New("genome has duplicate edge")
	ErrBoundary      = errors.New("gene violates reference boundary")
)

// Genome is an ordered edge list, sorted by gene key and deduplicated by
// endpoints.
type Genome []Gene

// New sorts genes and keeps the first gene of every endpoint pair.
func New(genes ...Gene) Genome {
	out := make(Genome, len(genes))
	copy(out, genes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	w := 0
	for i := range out {
		if w > 0 && out[w-1].SameEdge(out[i]) {
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

// Equal reports whether both genomes carry the same keys and weights.
func (g Genome) Equal(o Genome) bool {
	if len(g) != len(o) {
		return false
	}
	for i := range g {
		if g[i] != o[i] {
			return false
		}
	}
	return true
}

// Inputs returns the input neuron ids in sort order.
func (g Genome) Inputs() []NodeID {
	var ids []NodeID
	for _, gene := range g {
		if gene.Source == InputRef {
			ids = append(ids, gene.Destination)
		}
	}
	return ids
}

// Outputs returns the output neuron ids in sort order.
func (g Genome) Outputs() []NodeID {
	var ids []NodeID
	for _, gene := range g {
		if gene.Destination == OutputRef {
			ids = append(ids, gene.Source)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Nodes returns every ordinary neuron id referenced by the genome.
func (g Genome) Nodes() []NodeID {
	seen := make(map[NodeID]struct{}, len(g))
	var ids []NodeID
	add := func(id NodeID) {
		if IsReserved(id) {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, gene := range g {
		add(gene.Source)
		add(gene.Destination)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g Genome) Validate() error {
	for i, gene := range g {
		if i > 0 {
			prev := g[i-1]
			if prev.SameEdge(gene) {
				return fmt.Errorf("%w: %s", ErrDuplicateEdge, gene)
			}
			if !prev.keyLess(gene) {
				return fmt.Errorf("%w at index %d", ErrUnsorted, i)
			}
		}
		switch {
		case gene.Destination == InputRef:
			return fmt.Errorf("%w: %s feeds the input reference", ErrBoundary, gene)
		case gene.Source == OutputRef:
			return fmt.Errorf("%w: %s leaves the output reference", ErrBoundary, gene)
		case gene.Source == InputRef && gene.Destination == OutputRef:
			return fmt.Errorf("%w: %s bypasses the network", ErrBoundary, gene)
		case gene.Destination == BiasMark || gene.Destination == RecoveryMark:
			return fmt.Errorf("%w: %s targets a marker", ErrBoundary, gene)
		case gene.Kind() != Synapse && IsReserved(gene.Destination):
			return fmt.Errorf("%w: marker %s targets a reference", ErrBoundary, gene)
		case gene.Source == Seed || gene.Destination == Seed:
			return fmt.Errorf("%w: %s uses the seed identity", ErrBoundary, gene)
		}
	}
	return nil
}

// Observe advances the identifier allocator past every id in g.
func (g Genome) Observe() {
	for _, gene := range g {
		Observe(gene.Source)
		Observe(gene.Destination)
	}
}

// Linear builds the boundary genome: the input reference wired to fresh
// input neurons and fresh output neurons wired to the output reference,
// all with zero weights.
func Linear(inputs, outputs int) Genome {
	genes := make([]Gene, 0, inputs+outputs)
	for i := 0; i < inputs; i++ {
		genes = append(genes, Gene{Source: InputRef, Destination: NewNodeID()})
	}
	for i := 0; i < outputs; i++ {
		genes = append(genes, Gene{Source: NewNodeID(), Destination: OutputRef})
	}
	return New(genes...)
}

// SeedHiddenPath connects a random input neuron to a random output neuron
// through one fresh hidden neuron with random positive weights.
func SeedHiddenPath(rng *rand.Rand, g Genome) Genome {
	inputs, outputs := g.Inputs(), g.Outputs()
	if len(inputs) == 0 || len(outputs) == 0 {
		return g.Clone()
	}
	in := inputs[rng.Intn(len(inputs))]
	out := outputs[rng.Intn(len(outputs))]
	hidden := NewNodeID()
	genes := append(g.Clone(),
		Gene{Source: in, Destination: hidden, Weight: rng.Float64()},
		Gene{Source: hidden, Destination: out, Weight: rng.Float64()},
	)
	return New(genes...)
}
