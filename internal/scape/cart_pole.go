package scape

import (
	"context"
	"fmt"
	"math"
	"sync"

	"petri/internal/genome"
	"petri/internal/nn"
)

// CartPoleAgent is a simplified 1D balancing task driven through the
// interactive engine. It perceives position and velocity, acts with a
// force, and stays active until the episode ends or the cart leaves the
// track.
type CartPoleAgent struct {
	mu      sync.Mutex
	start   float64
	limit   int
	x, v    float64
	steps   int
	reward  float64
	active  bool
	history []float64
}

func NewCartPoleAgent(start float64, steps int) *CartPoleAgent {
	return &CartPoleAgent{start: start, limit: steps}
}

func (a *CartPoleAgent) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit <= 0 {
		return fmt.Errorf("cart-pole episode needs a positive step limit")
	}
	a.x, a.v = a.start, 0
	a.steps, a.reward = 0, 0
	a.history = a.history[:0]
	a.active = true
	return nil
}

func (a *CartPoleAgent) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}

func (a *CartPoleAgent) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *CartPoleAgent) Perceive(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return []float64{a.x, a.v}, nil
}

func (a *CartPoleAgent) Act(ctx context.Context, action []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(action) != 1 {
		return fmt.Errorf("cart-pole requires one output, got %d", len(action))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var reward float64
	a.x, a.v, reward = cartPoleStep(a.x, a.v, action[0])
	a.reward += reward
	a.steps++
	a.history = append(a.history, a.x)
	if a.steps >= a.limit || math.Abs(a.x) > 2.0 {
		a.active = false
	}
	return nil
}

// Performance returns the accumulated reward and the number of steps.
func (a *CartPoleAgent) Performance() (reward float64, steps int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reward, a.steps
}

func cartPoleStep(x, v, force float64) (nextX, nextV, reward float64) {
	const (
		dt       = 0.1
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	force = math.Max(-maxForce, math.Min(maxForce, force))
	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	reward = 1.0 - math.Min(1.0, math.Abs(x)/2.0)
	return x, v, reward
}

// InteractiveEvaluator scores a genome by average reward per step over one
// cart-pole episode per start position. Every episode is measured against
// the full Steps horizon, so steps an episode never reached earn nothing.
// Larger is better.
type InteractiveEvaluator struct {
	Network        nn.Options
	StartPositions []float64
	Steps          int
}

func DefaultInteractiveEvaluator() InteractiveEvaluator {
	return InteractiveEvaluator{
		Network:        nn.DefaultOptions(),
		StartPositions: []float64{-0.8, -0.4, 0.0, 0.4, 0.8},
		Steps:          60,
	}
}

func (e InteractiveEvaluator) Evaluate(ctx context.Context, g genome.Genome) (float64, error) {
	if len(g.Inputs()) != 2 || len(g.Outputs()) != 1 {
		return 0, fmt.Errorf("%w: cart-pole needs 2 inputs and 1 output", ErrWidth)
	}
	horizon := len(e.StartPositions) * e.Steps
	if horizon <= 0 {
		return 0, nil
	}
	total := 0.0
	for _, start := range e.StartPositions {
		nw, err := nn.Compile(g, e.Network)
		if err != nil {
			return 0, err
		}
		agent := NewCartPoleAgent(start, e.Steps)
		// Agent failures and silence end the episode early; the reward
		// earned so far stands.
		nw.Hijack(ctx, agent)
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		reward, _ := agent.Performance()
		total += reward
	}
	return total / float64(horizon), nil
}
