// Package nn compiles genomes into cycle-tolerant spiking graphs and
// propagates signals through them by depth.
package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"petri/internal/genome"
)

var (
	ErrNonConvergent = errors.New("network did not converge")
	ErrShape         = errors.New("vector width mismatch")
	ErrImmutable     = errors.New("neuron is immutable")
	ErrUnknownNeuron = errors.New("neuron not found")
	ErrInvalidGenome = errors.New("invalid genome")
	ErrEdgeExists    = errors.New("edge already exists")
	ErrEdgeNotFound  = errors.New("edge not found")
	ErrSilent        = errors.New("network stopped acting")
)

// NeverFired is the last-fired depth of a neuron that has not fired since
// it was built or napped.
const NeverFired = math.MinInt32

const (
	defaultRecovery          = 10.0
	refractorySpan           = 10
	defaultConvergenceFactor = 5
	defaultEpsilon           = 1e-9
	defaultSilenceLimit      = 8
)

type Options struct {
	// PerceptionFrequency is the length of the clock chain from the input
	// reference back to itself. Zero disables the chain.
	PerceptionFrequency int
	ConvergenceFactor   int
	Epsilon             float64
	ClockPulse          float64
	// SilenceLimit is how many perceptions an interactive episode may take
	// without delivering an action before it is abandoned.
	SilenceLimit int
}

func DefaultOptions() Options {
	return Options{
		PerceptionFrequency: 4,
		ConvergenceFactor:   defaultConvergenceFactor,
		Epsilon:             defaultEpsilon,
		ClockPulse:          1,
		SilenceLimit:        defaultSilenceLimit,
	}
}

func (o Options) normalized() Options {
	if o.PerceptionFrequency < 0 {
		o.PerceptionFrequency = 0
	}
	if o.ConvergenceFactor <= 0 {
		o.ConvergenceFactor = defaultConvergenceFactor
	}
	if o.Epsilon <= 0 {
		o.Epsilon = defaultEpsilon
	}
	if o.ClockPulse == 0 {
		o.ClockPulse = 1
	}
	if o.SilenceLimit <= 0 {
		o.SilenceLimit = defaultSilenceLimit
	}
	return o
}

type handle int32

type link struct {
	peer   handle
	weight float64
}

type neuron struct {
	id        genome.NodeID
	bias      float64
	hasBias   bool
	recovery  float64
	hasRecov  bool
	dendrites []link
	axons     []handle

	lastFired int
	signal    float64
	lastRaw   float64

	clock bool
	dead  bool
}

// Network exclusively owns the neurons of one genome instantiation.
type Network struct {
	opts    Options
	neurons []neuron
	index   map[genome.NodeID]handle
	live    int

	input   handle
	output  handle
	inputs  []handle
	outputs []handle
	clock   []handle
}

// Compile builds a live graph from g and attaches the clock chain.
func Compile(g genome.Genome, opts Options) (*Network, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGenome, err)
	}
	opts = opts.normalized()
	nw := &Network{
		opts:    opts,
		neurons: make([]neuron, 0, len(g)+opts.PerceptionFrequency+2),
		index:   make(map[genome.NodeID]handle, len(g)),
	}
	nw.input = nw.ensure(genome.InputRef)
	nw.output = nw.ensure(genome.OutputRef)

	for _, gene := range g {
		dst := nw.ensure(gene.Destination)
		switch gene.Kind() {
		case genome.Bias:
			nw.neurons[dst].bias = gene.Weight
			nw.neurons[dst].hasBias = true
		case genome.Recovery:
			nw.neurons[dst].recovery = gene.Weight
			nw.neurons[dst].hasRecov = true
		default:
			src := nw.ensure(gene.Source)
			nw.link(src, dst, gene.Weight)
		}
	}

	nw.inputs = append([]handle(nil), nw.neurons[nw.input].axons...)
	for _, d := range nw.neurons[nw.output].dendrites {
		nw.outputs = append(nw.outputs, d.peer)
	}
	sort.Slice(nw.outputs, func(i, j int) bool {
		return nw.neurons[nw.outputs[i]].id < nw.neurons[nw.outputs[j]].id
	})

	prev := nw.input
	for i := 0; i < nw.opts.PerceptionFrequency; i++ {
		relay := nw.add(genome.Seed)
		nw.neurons[relay].clock = true
		nw.link(prev, relay, 1)
		nw.clock = append(nw.clock, relay)
		prev = relay
	}
	if len(nw.clock) > 0 {
		nw.link(prev, nw.input, 1)
	}
	return nw, nil
}

func (nw *Network) add(id genome.NodeID) handle {
	h := handle(len(nw.neurons))
	nw.neurons = append(nw.neurons, neuron{id: id, lastFired: NeverFired})
	nw.live++
	return h
}

func (nw *Network) ensure(id genome.NodeID) handle {
	if h, ok := nw.index[id]; ok {
		return h
	}
	h := nw.add(id)
	nw.index[id] = h
	return h
}

func (nw *Network) lookup(id genome.NodeID) (handle, error) {
	h, ok := nw.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNeuron, id)
	}
	return h, nil
}

// link wires a→b. Callers guarantee the edge does not exist yet.
func (nw *Network) link(a, b handle, w float64) {
	nw.neurons[b].dendrites = append(nw.neurons[b].dendrites, link{peer: a, weight: w})
	nw.neurons[a].axons = append(nw.neurons[a].axons, b)
}

func (nw *Network) unlink(a, b handle) bool {
	dn := &nw.neurons[b]
	idx := dendriteIndex(dn, a)
	if idx < 0 {
		return false
	}
	dn.dendrites = append(dn.dendrites[:idx], dn.dendrites[idx+1:]...)
	an := &nw.neurons[a]
	for i, t := range an.axons {
		if t == b {
			an.axons = append(an.axons[:i], an.axons[i+1:]...)
			break
		}
	}
	return true
}

func dendriteIndex(n *neuron, from handle) int {
	for i, d := range n.dendrites {
		if d.peer == from {
			return i
		}
	}
	return -1
}

func (nw *Network) weight(a, b handle) (float64, bool) {
	idx := dendriteIndex(&nw.neurons[b], a)
	if idx < 0 {
		return 0, false
	}
	return nw.neurons[b].dendrites[idx].weight, true
}

func (nw *Network) setWeight(a, b handle, w float64) {
	n := &nw.neurons[b]
	if idx := dendriteIndex(n, a); idx >= 0 {
		n.dendrites[idx].weight = w
	}
}

func (nw *Network) remove(h handle) {
	n := &nw.neurons[h]
	for len(n.dendrites) > 0 {
		nw.unlink(n.dendrites[0].peer, h)
	}
	for len(n.axons) > 0 {
		nw.unlink(h, n.axons[0])
	}
	n.dead = true
	delete(nw.index, n.id)
	nw.live--
}

// fire applies the firing rule to h for incomingDepth. forced replaces the
// dendrite sum when non-nil.
func (nw *Network) fire(h handle, incomingDepth int, forced *float64) bool {
	n := &nw.neurons[h]
	cycle := incomingDepth - n.lastFired
	if cycle <= 0 {
		return false
	}

	raw := n.bias
	if forced != nil {
		raw += *forced
	} else {
		for _, d := range n.dendrites {
			if d.peer == h {
				raw += n.signal * d.weight
				continue
			}
			up := &nw.neurons[d.peer]
			if up.lastFired == incomingDepth {
				raw += up.signal * d.weight
			}
		}
	}

	potential := raw - threshold(cycle, n.lastRaw, n.recovery)
	if potential <= nw.opts.Epsilon {
		return false
	}
	n.signal = potential
	n.lastRaw = raw
	n.lastFired = incomingDepth + 1
	return true
}

// threshold is the refractory curve: infinite inside the refractory window,
// decaying by the recovery base per depth step, and zero after the span.
func threshold(cycle int, lastRaw, recovery float64) float64 {
	switch {
	case cycle <= 0:
		return math.Inf(1)
	case cycle > refractorySpan:
		return 0
	}
	if recovery <= 1 {
		recovery = defaultRecovery
	}
	return lastRaw / math.Pow(recovery, float64(cycle-1))
}

type entry struct {
	h     handle
	depth int
}

// worklist is a FIFO that compacts its backing array as it drains.
type worklist struct {
	items []entry
	head  int
}

func (w *worklist) push(e entry) {
	w.items = append(w.items, e)
}

func (w *worklist) pop() (entry, bool) {
	if w.head == len(w.items) {
		w.items = w.items[:0]
		w.head = 0
		return entry{}, false
	}
	e := w.items[w.head]
	w.head++
	if w.head > 1024 && w.head*2 > len(w.items) {
		n := copy(w.items, w.items[w.head:])
		w.items = w.items[:n]
		w.head = 0
	}
	return e, true
}

func (nw *Network) fanOut(w *worklist, h handle) {
	depth := nw.neurons[h].lastFired
	for _, t := range nw.neurons[h].axons {
		w.push(entry{h: t, depth: depth})
	}
}

// Query propagates one input vector until the graph quiesces. Call Nap
// between independent queries.
func (nw *Network) Query(inputs []float64) ([]float64, error) {
	if len(inputs) != len(nw.inputs) {
		return nil, fmt.Errorf("%w: inputs got=%d want=%d", ErrShape, len(inputs), len(nw.inputs))
	}
	budget := nw.live * nw.opts.ConvergenceFactor
	fired := 0

	var wl worklist
	for i, h := range nw.inputs {
		v := inputs[i]
		if nw.fire(h, -1, &v) {
			fired++
			nw.fanOut(&wl, h)
		}
	}
	for {
		e, ok := wl.pop()
		if !ok {
			break
		}
		if e.h == nw.input || e.h == nw.output {
			continue
		}
		if !nw.fire(e.h, e.depth, nil) {
			continue
		}
		fired++
		if fired > budget {
			return nil, ErrNonConvergent
		}
		nw.fanOut(&wl, e.h)
	}

	out := make([]float64, len(nw.outputs))
	for i, h := range nw.outputs {
		out[i] = nw.neurons[h].signal
	}
	return out, nil
}

// Nap resets transient firing state without touching structure.
func (nw *Network) Nap() {
	for i := range nw.neurons {
		n := &nw.neurons[i]
		n.lastFired = NeverFired
		n.signal = 0
		n.lastRaw = 0
	}
}

// Genome extracts the current structure. Clock relays are not heritable.
func (nw *Network) Genome() genome.Genome {
	genes := make([]genome.Gene, 0, nw.live*2)
	for i := range nw.neurons {
		n := &nw.neurons[i]
		if n.dead || n.clock {
			continue
		}
		if n.hasBias {
			genes = append(genes, genome.Gene{Source: genome.BiasMark, Destination: n.id, Weight: n.bias})
		}
		if n.hasRecov {
			genes = append(genes, genome.Gene{Source: genome.RecoveryMark, Destination: n.id, Weight: n.recovery})
		}
		for _, d := range n.dendrites {
			up := &nw.neurons[d.peer]
			if up.clock {
				continue
			}
			genes = append(genes, genome.Gene{Source: up.id, Destination: n.id, Weight: d.weight})
		}
	}
	return genome.New(genes...)
}

// Len counts live neurons, including references and clock relays.
func (nw *Network) Len() int {
	return nw.live
}

// NeuronIDs lists ordinary neuron ids in ascending order.
func (nw *Network) NeuronIDs() []genome.NodeID {
	ids := make([]genome.NodeID, 0, len(nw.index))
	for id := range nw.index {
		if !genome.IsReserved(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (nw *Network) Inputs() []genome.NodeID {
	return nw.ids(nw.inputs)
}

func (nw *Network) Outputs() []genome.NodeID {
	return nw.ids(nw.outputs)
}

func (nw *Network) ids(hs []handle) []genome.NodeID {
	out := make([]genome.NodeID, len(hs))
	for i, h := range hs {
		out[i] = nw.neurons[h].id
	}
	return out
}

// NeuronView is a read-only snapshot of one neuron.
type NeuronView struct {
	ID        genome.NodeID
	Bias      float64
	Dendrites map[genome.NodeID]float64
	Axons     []genome.NodeID
	LastFired int
	Signal    float64
}

func (nw *Network) Neuron(id genome.NodeID) (NeuronView, bool) {
	h, ok := nw.index[id]
	if !ok {
		return NeuronView{}, false
	}
	n := &nw.neurons[h]
	view := NeuronView{
		ID:        n.id,
		Bias:      n.bias,
		Dendrites: make(map[genome.NodeID]float64, len(n.dendrites)),
		Axons:     make([]genome.NodeID, 0, len(n.axons)),
		LastFired: n.lastFired,
		Signal:    n.signal,
	}
	for _, d := range n.dendrites {
		view.Dendrites[nw.neurons[d.peer].id] = d.weight
	}
	for _, a := range n.axons {
		view.Axons = append(view.Axons, nw.neurons[a].id)
	}
	return view, true
}

// checkConsistency verifies that every dendrite has a matching axon and
// the reverse.
func (nw *Network) checkConsistency() error {
	for i := range nw.neurons {
		b := handle(i)
		n := &nw.neurons[b]
		if n.dead {
			if len(n.dendrites) > 0 || len(n.axons) > 0 {
				return fmt.Errorf("dead neuron %s still linked", n.id)
			}
			continue
		}
		for _, d := range n.dendrites {
			if nw.neurons[d.peer].dead {
				return fmt.Errorf("neuron %s has dendrite from dead neuron", n.id)
			}
			if !containsHandle(nw.neurons[d.peer].axons, b) {
				return fmt.Errorf("dendrite %s->%s has no axon", nw.neurons[d.peer].id, n.id)
			}
		}
		for _, a := range n.axons {
			if dendriteIndex(&nw.neurons[a], b) < 0 {
				return fmt.Errorf("axon %s->%s has no dendrite", n.id, nw.neurons[a].id)
			}
		}
	}
	return nil
}

func containsHandle(hs []handle, h handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
