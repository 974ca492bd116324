// Package rating computes logistic (Elo) rating updates for a decided match.
package rating

import "math"

const (
	DefaultKFactor = 32
	DefaultStart   = 1000
	DefaultFloor   = 0
)

// Engine holds the process-wide rating constants. The zero value is not
// usable; use New or Default.
type Engine struct {
	K     float64
	Floor int
}

func New(k float64, floor int) Engine {
	if k <= 0 {
		k = DefaultKFactor
	}
	return Engine{K: k, Floor: floor}
}

func Default() Engine { return New(DefaultKFactor, DefaultFloor) }

// ExpectedWin is the logistic probability that a player rated a beats b.
func ExpectedWin(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Compute returns the updated (winner, loser) ratings. Values are rounded
// half-up and clamped at the floor.
func (e Engine) Compute(winner, loser int) (int, int) {
	delta := e.K * (1 - ExpectedWin(winner, loser))
	return e.clamp(roundHalfUp(float64(winner) + delta)), e.clamp(roundHalfUp(float64(loser) - delta))
}

// Clamp applies the floor to a stored value.
func (e Engine) Clamp(v int) int { return e.clamp(v) }

func (e Engine) clamp(v int) int {
	if v < e.Floor {
		return e.Floor
	}
	return v
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
