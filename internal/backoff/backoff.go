// Package backoff computes the delay between delivery attempts of a failed
// email job. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// DefaultInterval is the retry delay used when nothing is configured.
const DefaultInterval = 5 * time.Second

// Strategy returns the delay before retrying after failed attempt n
// (1-indexed: attempt 1 is the first failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval after every failure.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial*attempt, capped at Max when Max > 0.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capAt(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential doubles the delay on every failure: Initial*2^(attempt-1).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponentialBase(e.Initial, e.Max, attempt))
}

// ExponentialWithJitter picks a uniformly random delay in
// [0, Initial*2^(attempt-1)], capped at Max, so a burst of failures from one
// outage does not retry in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponentialBase(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter only
}

// Default returns the Constant strategy with DefaultInterval.
func Default() Strategy {
	return Constant{Interval: DefaultInterval}
}

// FromConfig builds a strategy by name: constant, linear, exponential or
// jitter. An empty name selects constant. initial <= 0 uses DefaultInterval.
func FromConfig(name string, initial, max time.Duration) (Strategy, error) {
	if initial <= 0 {
		initial = DefaultInterval
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "constant", "fixed":
		return Constant{Interval: initial}, nil
	case "linear":
		return Linear{Initial: initial, Max: max}, nil
	case "exponential":
		return Exponential{Initial: initial, Max: max}, nil
	case "jitter", "exponential_jitter":
		return ExponentialWithJitter{Initial: initial, Max: max}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

func exponentialBase(initial, max time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if max > 0 && base > float64(max) {
		base = float64(max)
	}
	// guard against overflow on very large attempt counts
	if base > math.MaxInt64 {
		base = math.MaxInt64
	}
	return base
}

func capAt(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
