package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tenzoki/rfpflow/internal/envelope"
)

func TestImmediateHasNoDelay(t *testing.T) {
	s := FromPolicy(nil)
	assert.Equal(t, time.Duration(0), s.NextDelay(1))
}

func TestLinearGrowsByStep(t *testing.T) {
	s := Linear{StepMs: 100}
	assert.Equal(t, 100*time.Millisecond, s.NextDelay(1))
	assert.Equal(t, 300*time.Millisecond, s.NextDelay(3))
}

func TestExponentialGrowsAndCaps(t *testing.T) {
	s := Exponential{BaseMs: 100, Factor: 2, CapMs: 500}
	d1 := s.NextDelay(1)
	d2 := s.NextDelay(2)
	assert.GreaterOrEqual(t, d1, 80*time.Millisecond)
	assert.LessOrEqual(t, d1, 120*time.Millisecond)
	assert.GreaterOrEqual(t, d2, 160*time.Millisecond)
	assert.LessOrEqual(t, d2, 240*time.Millisecond)

	for i := 0; i < 50; i++ {
		dCapped := s.NextDelay(10)
		assert.LessOrEqual(t, dCapped, 500*time.Millisecond)
	}
}

func TestFibonacciSequence(t *testing.T) {
	s := Fibonacci{BaseMs: 100}
	assert.Equal(t, 100*time.Millisecond, s.NextDelay(1))
	assert.Equal(t, 100*time.Millisecond, s.NextDelay(2))
	assert.Equal(t, 200*time.Millisecond, s.NextDelay(3))
	assert.Equal(t, 300*time.Millisecond, s.NextDelay(4))
	assert.Equal(t, 500*time.Millisecond, s.NextDelay(5))
}

func TestFromPolicySelectsStrategy(t *testing.T) {
	s := FromPolicy(&envelope.RetryPolicy{Strategy: "fibonacci", BaseMs: 50})
	_, ok := s.(Fibonacci)
	assert.True(t, ok)

	s = FromPolicy(&envelope.RetryPolicy{Strategy: "unknown"})
	_, ok = s.(Immediate)
	assert.True(t, ok)
}

func TestMaxAttemptsDefault(t *testing.T) {
	assert.Equal(t, 1, MaxAttempts(nil))
	assert.Equal(t, 5, MaxAttempts(&envelope.RetryPolicy{MaxAttempts: 5}))
}
