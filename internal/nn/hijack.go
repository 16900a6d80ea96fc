package nn

import (
	"context"
	"fmt"
)

// Agent is the sense/act side of an interactive episode.
type Agent interface {
	Activate(ctx context.Context) error
	Deactivate()
	Active() bool
	Perceive(ctx context.Context) ([]float64, error)
	Act(ctx context.Context, action []float64) error
}

// Episode summarizes one interactive run. Err records why the episode ended
// early; it is informational and never fatal to the caller.
type Episode struct {
	Perceptions int
	Actions     int
	Firings     int
	Depth       int
	Err         error
}

// Hijack drives agent with the network until the agent reports itself
// inactive. Dequeuing the input reference samples a fresh perception;
// dequeuing the output reference delivers an action. An episode that keeps
// perceiving without acting ends with ErrSilent.
func (nw *Network) Hijack(ctx context.Context, agent Agent) Episode {
	var ep Episode
	if err := agent.Activate(ctx); err != nil {
		agent.Deactivate()
		ep.Err = fmt.Errorf("activate agent: %w", err)
		return ep
	}

	fail := func(err error) {
		agent.Deactivate()
		ep.Err = err
	}

	budget := nw.live * nw.opts.ConvergenceFactor
	sincePerception := 0
	silent := 0
	lastActed := NeverFired

	var wl worklist
	wl.push(entry{h: nw.input, depth: -1})
	for agent.Active() {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}
		e, ok := wl.pop()
		if !ok {
			// Quiesced without a clock: sample again one depth later.
			wl.push(entry{h: nw.input, depth: ep.Depth + 1})
			continue
		}
		if e.depth > ep.Depth {
			ep.Depth = e.depth
		}

		switch e.h {
		case nw.input:
			silent++
			if silent > nw.opts.SilenceLimit {
				fail(ErrSilent)
				continue
			}
			perception, err := agent.Perceive(ctx)
			if err != nil {
				fail(fmt.Errorf("perceive: %w", err))
				continue
			}
			if len(perception) != len(nw.inputs) {
				fail(fmt.Errorf("%w: perception got=%d want=%d", ErrShape, len(perception), len(nw.inputs)))
				continue
			}
			ep.Perceptions++
			sincePerception = 0
			for i, h := range nw.inputs {
				v := perception[i]
				if nw.fire(h, e.depth, &v) {
					ep.Firings++
					nw.fanOut(&wl, h)
				}
			}
			if len(nw.clock) > 0 {
				pulse := nw.opts.ClockPulse
				if nw.fire(nw.clock[0], e.depth, &pulse) {
					ep.Firings++
					nw.fanOut(&wl, nw.clock[0])
				}
			}

		case nw.output:
			if e.depth == lastActed {
				continue
			}
			lastActed = e.depth
			action := make([]float64, len(nw.outputs))
			for i, h := range nw.outputs {
				if nw.neurons[h].lastFired == e.depth {
					action[i] = nw.neurons[h].signal
				}
			}
			if err := agent.Act(ctx, action); err != nil {
				fail(fmt.Errorf("act: %w", err))
				continue
			}
			ep.Actions++
			silent = 0

		default:
			if !nw.fire(e.h, e.depth, nil) {
				continue
			}
			ep.Firings++
			sincePerception++
			if sincePerception > budget {
				fail(ErrNonConvergent)
				continue
			}
			nw.fanOut(&wl, e.h)
		}
	}
	return ep
}
