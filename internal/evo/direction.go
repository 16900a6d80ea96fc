package evo

import (
	"fmt"
	"math"
	"strings"
)

// Direction tells every comparison in the genetic layer which way is better.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max", "maximize", "":
		return Maximize, nil
	case "min", "minimize":
		return Minimize, nil
	default:
		return Maximize, fmt.Errorf("unknown fitness direction %q", s)
	}
}

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

// Better reports whether a is strictly better than b.
func (d Direction) Better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// Worst is the score given to genomes that fail evaluation. It is finite so
// that records stay JSON encodable.
func (d Direction) Worst() float64 {
	if d == Minimize {
		return math.MaxFloat64
	}
	return -math.MaxFloat64
}

// Share spreads a species average across its members. Under minimization
// crowding makes the shared score larger, which is worse.
func (d Direction) Share(average float64, members int) float64 {
	if members <= 0 {
		return average
	}
	if d == Minimize {
		return average * float64(members)
	}
	return average / float64(members)
}
