// Package retry implements the four backoff strategies named by an
// envelope's RetryPolicy: immediate, linear, exponential with
// jitter, and fibonacci. No example repo in the retrieval pack pulls in a
// dedicated backoff library, so these are plain functions in the
// teacher's style rather than an adapter over a third-party package.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/tenzoki/rfpflow/internal/envelope"
)

// Strategy computes the delay before attempt n (1-indexed: the delay
// preceding the n-th retry, not the first send).
type Strategy interface {
	NextDelay(attempt int) time.Duration
}

// FromPolicy builds the Strategy named by policy. A nil policy or unknown
// strategy name defaults to Immediate.
func FromPolicy(policy *envelope.RetryPolicy) Strategy {
	if policy == nil {
		return Immediate{}
	}
	switch policy.Strategy {
	case "linear":
		return Linear{StepMs: policy.StepMs}
	case "exponential":
		return Exponential{BaseMs: policy.BaseMs, Factor: policy.Factor, CapMs: policy.CapMs}
	case "fibonacci":
		return Fibonacci{BaseMs: policy.BaseMs, CapMs: policy.CapMs}
	default:
		return Immediate{}
	}
}

// MaxAttempts returns the policy's configured attempt ceiling, defaulting
// to 1 (no retry) when unset.
func MaxAttempts(policy *envelope.RetryPolicy) int {
	if policy == nil || policy.MaxAttempts <= 0 {
		return 1
	}
	return policy.MaxAttempts
}

// Immediate retries with no delay.
type Immediate struct{}

func (Immediate) NextDelay(attempt int) time.Duration { return 0 }

// Linear grows delay by a fixed step per attempt: delay = attempt * step.
type Linear struct {
	StepMs int64
}

func (l Linear) NextDelay(attempt int) time.Duration {
	step := l.StepMs
	if step <= 0 {
		step = 100
	}
	return time.Duration(int64(attempt)*step) * time.Millisecond
}

// Exponential grows delay as base * factor^(attempt-1), capped, with
// +/-20% jitter to avoid synchronized retry storms across agents.
type Exponential struct {
	BaseMs int64
	Factor float64
	CapMs  int64
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	base := e.BaseMs
	if base <= 0 {
		base = 100
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 2.0
	}
	raw := float64(base) * math.Pow(factor, float64(attempt-1))
	if e.CapMs > 0 && raw > float64(e.CapMs) {
		raw = float64(e.CapMs)
	}
	jitter := raw * 0.2 * (2*rand.Float64() - 1)
	delayed := raw + jitter
	if e.CapMs > 0 && delayed > float64(e.CapMs) {
		delayed = float64(e.CapMs)
	}
	if delayed < 0 {
		delayed = 0
	}
	return time.Duration(delayed) * time.Millisecond
}

// Fibonacci grows delay along the Fibonacci sequence scaled by base,
// capped.
type Fibonacci struct {
	BaseMs int64
	CapMs  int64
}

func (f Fibonacci) NextDelay(attempt int) time.Duration {
	base := f.BaseMs
	if base <= 0 {
		base = 100
	}
	a, b := 1, 1
	for i := 1; i < attempt; i++ {
		a, b = b, a+b
	}
	raw := float64(a) * float64(base)
	if f.CapMs > 0 && raw > float64(f.CapMs) {
		raw = float64(f.CapMs)
	}
	return time.Duration(raw) * time.Millisecond
}
