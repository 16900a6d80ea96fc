package nn

import (
	"fmt"
	"math"
	"math/rand"

	"petri/internal/genome"
)

// MutationConfig holds the per-neuron structural mutation rolls. Each roll
// is an independent probability, evaluated in field order.
type MutationConfig struct {
	// Probability is the overall per-genome mutation probability.
	Probability float64
	// GrowthPercent scales the per-neuron probability so that roughly
	// GrowthPercent% of the neurons mutate, independent of network size.
	GrowthPercent float64

	DeleteEdge   float64
	Alter        float64
	CreateEdge   float64
	Walk         float64
	Spawn        float64
	DeleteNeuron float64
	WeightPower  float64
}

func DefaultMutationConfig() MutationConfig {
	return MutationConfig{
		Probability:   0.5,
		GrowthPercent: 10,
		DeleteEdge:    0.1,
		Alter:         0.6,
		CreateEdge:    0.2,
		Walk:          0.7,
		Spawn:         0.1,
		DeleteNeuron:  0.05,
		WeightPower:   0.5,
	}
}

const forcedMutationAttempts = 16

func (nw *Network) mutable(h handle) bool {
	n := &nw.neurons[h]
	return !n.dead && !n.clock && h != nw.input && h != nw.output
}

// referenceAdjacent reports whether h carries an edge touching a reference.
func (nw *Network) referenceAdjacent(h handle) bool {
	n := &nw.neurons[h]
	for _, d := range n.dendrites {
		if d.peer == nw.input {
			return true
		}
	}
	for _, a := range n.axons {
		if a == nw.output {
			return true
		}
	}
	return false
}

func (nw *Network) mutableHandles() []handle {
	out := make([]handle, 0, nw.live)
	for i := range nw.neurons {
		if nw.mutable(handle(i)) {
			out = append(out, handle(i))
		}
	}
	return out
}

func (nw *Network) mutableDendrites(h handle) []link {
	var out []link
	for _, d := range nw.neurons[h].dendrites {
		if nw.mutable(d.peer) {
			out = append(out, d)
		}
	}
	return out
}

func (nw *Network) mutableAxons(h handle) []handle {
	var out []handle
	for _, a := range nw.neurons[h].axons {
		if nw.mutable(a) {
			out = append(out, a)
		}
	}
	return out
}

// Mutate visits every mutable neuron once and mutates it with the growth
// scaled probability. It returns the number of neurons changed.
func (nw *Network) Mutate(rng *rand.Rand, cfg MutationConfig) int {
	candidates := nw.mutableHandles()
	if len(candidates) == 0 {
		return 0
	}
	n := float64(len(candidates))
	p := cfg.Probability * math.Max(1, n*cfg.GrowthPercent/100) / n

	changed := 0
	for _, h := range candidates {
		if nw.neurons[h].dead {
			continue
		}
		if rng.Float64() >= p {
			continue
		}
		if nw.mutateNeuron(rng, h, cfg) {
			changed++
		}
	}
	return changed
}

// ForceMutation mutates at least one neuron when any neuron is mutable.
func (nw *Network) ForceMutation(rng *rand.Rand, cfg MutationConfig) int {
	if changed := nw.Mutate(rng, cfg); changed > 0 {
		return changed
	}
	for i := 0; i < forcedMutationAttempts; i++ {
		candidates := nw.mutableHandles()
		if len(candidates) == 0 {
			return 0
		}
		if nw.mutateNeuron(rng, candidates[rng.Intn(len(candidates))], cfg) {
			return 1
		}
	}
	return 0
}

// MutateNeuron runs the mutation rolls on one neuron.
func (nw *Network) MutateNeuron(rng *rand.Rand, id genome.NodeID, cfg MutationConfig) (bool, error) {
	h, err := nw.lookup(id)
	if err != nil {
		return false, err
	}
	if !nw.mutable(h) {
		return false, fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	return nw.mutateNeuron(rng, h, cfg), nil
}

func (nw *Network) mutateNeuron(rng *rand.Rand, h handle, cfg MutationConfig) bool {
	changed := false
	if rng.Float64() < cfg.DeleteEdge && nw.deleteRandomEdge(rng, h) {
		changed = true
	}
	if rng.Float64() < cfg.Alter && nw.alterRandom(rng, h, cfg.WeightPower) {
		changed = true
	}
	if rng.Float64() < cfg.CreateEdge && nw.createRandomEdge(rng, h, cfg) {
		changed = true
	}
	if rng.Float64() < cfg.Spawn && nw.spawn(rng, h) {
		changed = true
	}
	if rng.Float64() < cfg.DeleteNeuron && !nw.referenceAdjacent(h) {
		nw.bridgeAndRemove(h)
		changed = true
	}
	return changed
}

// canCut reports whether removing a→b keeps a path out of every reference
// adjacent endpoint.
func (nw *Network) canCut(a, b handle) bool {
	if nw.referenceAdjacent(a) && len(nw.mutableAxons(a)) <= 1 {
		return false
	}
	if nw.referenceAdjacent(b) && len(nw.mutableDendrites(b)) <= 1 {
		return false
	}
	return true
}

func (nw *Network) deleteRandomEdge(rng *rand.Rand, h handle) bool {
	dendrites := nw.mutableDendrites(h)
	axons := nw.mutableAxons(h)
	total := len(dendrites) + len(axons)
	if total == 0 {
		return false
	}
	pick := rng.Intn(total)
	a, b := h, handle(0)
	if pick < len(dendrites) {
		a, b = dendrites[pick].peer, h
	} else {
		b = axons[pick-len(dendrites)]
	}
	if !nw.canCut(a, b) {
		return false
	}
	return nw.unlink(a, b)
}

func (nw *Network) alterRandom(rng *rand.Rand, h handle, power float64) bool {
	dendrites := nw.mutableDendrites(h)
	axons := nw.mutableAxons(h)
	delta := rng.NormFloat64() * power
	pick := rng.Intn(len(dendrites) + len(axons) + 1)
	switch {
	case pick < len(dendrites):
		d := dendrites[pick]
		nw.setWeight(d.peer, h, d.weight+delta)
	case pick < len(dendrites)+len(axons):
		t := axons[pick-len(dendrites)]
		w, _ := nw.weight(h, t)
		nw.setWeight(h, t, w+delta)
	default:
		n := &nw.neurons[h]
		n.bias += delta
		n.hasBias = true
	}
	return true
}

// walk moves up to hops steps from h through mutable dendrites or axons.
func (nw *Network) walk(rng *rand.Rand, h handle, hops int) handle {
	cur := h
	for i := 0; i < hops; i++ {
		up := nw.mutableDendrites(cur)
		down := nw.mutableAxons(cur)
		total := len(up) + len(down)
		if total == 0 {
			break
		}
		pick := rng.Intn(total)
		if pick < len(up) {
			cur = up[pick].peer
		} else {
			cur = down[pick-len(up)]
		}
	}
	return cur
}

func (nw *Network) createRandomEdge(rng *rand.Rand, h handle, cfg MutationConfig) bool {
	var partner handle
	if rng.Float64() < cfg.Walk {
		partner = nw.walk(rng, h, rng.Intn(3))
	} else {
		candidates := nw.mutableHandles()
		partner = candidates[rng.Intn(len(candidates))]
	}
	from, to := h, partner
	if rng.Float64() < 0.5 {
		from, to = partner, h
	}
	if _, exists := nw.weight(from, to); exists {
		return false
	}
	nw.link(from, to, rng.NormFloat64()*cfg.WeightPower)
	return true
}

func (nw *Network) spawn(rng *rand.Rand, h handle) bool {
	dendrites := nw.mutableDendrites(h)
	axons := nw.mutableAxons(h)
	switch rng.Intn(3) {
	case 0:
		total := len(dendrites) + len(axons)
		if total == 0 {
			return false
		}
		pick := rng.Intn(total)
		if pick < len(dendrites) {
			nw.cloneParallel(h, dendrites[pick].peer, true)
		} else {
			nw.cloneParallel(h, axons[pick-len(dendrites)], false)
		}
	case 1:
		if len(dendrites) == 0 {
			return false
		}
		nw.splice(dendrites[rng.Intn(len(dendrites))].peer, h)
	default:
		if len(axons) == 0 {
			return false
		}
		nw.splice(h, axons[rng.Intn(len(axons))])
	}
	return true
}

// cloneParallel adds a sibling of h at the same depth. The weight of the
// edge between h and peer is split evenly with the sibling; the sibling
// copies the mutable edges on the other side of h.
func (nw *Network) cloneParallel(h, peer handle, dendrite bool) handle {
	src := nw.neurons[h]
	m := nw.ensure(genome.NewNodeID())
	nw.neurons[m].bias = src.bias
	nw.neurons[m].hasBias = src.hasBias
	nw.neurons[m].recovery = src.recovery
	nw.neurons[m].hasRecov = src.hasRecov

	if dendrite {
		w, _ := nw.weight(peer, h)
		nw.setWeight(peer, h, w/2)
		nw.link(peer, m, w/2)
		for _, t := range nw.mutableAxons(h) {
			wt, _ := nw.weight(h, t)
			nw.link(m, t, wt)
		}
		return m
	}
	w, _ := nw.weight(h, peer)
	nw.setWeight(h, peer, w/2)
	nw.link(m, peer, w/2)
	for _, d := range nw.mutableDendrites(h) {
		nw.link(d.peer, m, d.weight)
	}
	return m
}

// splice replaces a→b with a→m→b, keeping the original weight on the
// first leg.
func (nw *Network) splice(a, b handle) handle {
	w, _ := nw.weight(a, b)
	nw.unlink(a, b)
	m := nw.ensure(genome.NewNodeID())
	nw.link(a, m, w)
	nw.link(m, b, 1)
	return m
}

// bridgeAndRemove deletes h after wiring every surviving dendrite source to
// every axon target with the product of the two weights.
func (nw *Network) bridgeAndRemove(h handle) {
	n := &nw.neurons[h]
	dendrites := append([]link(nil), n.dendrites...)
	axons := append([]handle(nil), n.axons...)
	for _, d := range dendrites {
		if d.peer == h {
			continue
		}
		for _, t := range axons {
			if t == h {
				continue
			}
			wt, _ := nw.weight(h, t)
			product := d.weight * wt
			if existing, ok := nw.weight(d.peer, t); ok {
				nw.setWeight(d.peer, t, existing+product)
				continue
			}
			nw.link(d.peer, t, product)
		}
	}
	nw.remove(h)
}

// DeleteNeuron removes a hidden neuron, bridging its dendrites to its axons.
func (nw *Network) DeleteNeuron(id genome.NodeID) error {
	h, err := nw.lookup(id)
	if err != nil {
		return err
	}
	if !nw.mutable(h) || nw.referenceAdjacent(h) {
		return fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	nw.bridgeAndRemove(h)
	return nil
}

func (nw *Network) edgeHandles(from, to genome.NodeID) (handle, handle, error) {
	a, err := nw.lookup(from)
	if err != nil {
		return 0, 0, err
	}
	b, err := nw.lookup(to)
	if err != nil {
		return 0, 0, err
	}
	if !nw.mutable(a) || !nw.mutable(b) {
		return 0, 0, fmt.Errorf("%w: edge %s->%s", ErrImmutable, from, to)
	}
	return a, b, nil
}

func (nw *Network) Connect(from, to genome.NodeID, w float64) error {
	a, b, err := nw.edgeHandles(from, to)
	if err != nil {
		return err
	}
	if _, exists := nw.weight(a, b); exists {
		return fmt.Errorf("%w: %s->%s", ErrEdgeExists, from, to)
	}
	nw.link(a, b, w)
	return nil
}

func (nw *Network) Disconnect(from, to genome.NodeID) error {
	a, b, err := nw.edgeHandles(from, to)
	if err != nil {
		return err
	}
	if !nw.unlink(a, b) {
		return fmt.Errorf("%w: %s->%s", ErrEdgeNotFound, from, to)
	}
	return nil
}

// Splice inserts a fresh neuron into the edge from→to and returns its id.
func (nw *Network) Splice(from, to genome.NodeID) (genome.NodeID, error) {
	a, b, err := nw.edgeHandles(from, to)
	if err != nil {
		return 0, err
	}
	if _, exists := nw.weight(a, b); !exists {
		return 0, fmt.Errorf("%w: %s->%s", ErrEdgeNotFound, from, to)
	}
	return nw.neurons[nw.splice(a, b)].id, nil
}

// CloneParallel adds a sibling of id that shares the edge to peer. peer is
// an upstream neuron when dendrite is set, a downstream one otherwise.
func (nw *Network) CloneParallel(id, peer genome.NodeID, dendrite bool) (genome.NodeID, error) {
	from, to := peer, id
	if !dendrite {
		from, to = id, peer
	}
	a, b, err := nw.edgeHandles(from, to)
	if err != nil {
		return 0, err
	}
	if _, exists := nw.weight(a, b); !exists {
		return 0, fmt.Errorf("%w: %s->%s", ErrEdgeNotFound, from, to)
	}
	if dendrite {
		return nw.neurons[nw.cloneParallel(b, a, true)].id, nil
	}
	return nw.neurons[nw.cloneParallel(a, b, false)].id, nil
}
