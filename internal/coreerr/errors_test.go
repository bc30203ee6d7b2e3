package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(KindMalformed, "missing sender")
	assert.Equal(t, "malformed: missing sender", err.Error())
	assert.True(t, Is(err, KindMalformed))
	assert.False(t, Is(err, KindTimeout))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUnavailable, cause)
	assert.Equal(t, "unavailable: dial tcp: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsReturnsFalseForPlainErrors(t *testing.T) {
	assert.False(t, Is(errors.New("not a taxonomy error"), KindTimeout))
	assert.False(t, Is(nil, KindTimeout))
}

func TestExhaustedErrorCarriesAttemptHistory(t *testing.T) {
	err := &Error{
		Kind:     KindExhausted,
		Attempts: 3,
		History: []AttemptRecord{
			{Attempt: 1, Err: "timeout", Kind: KindTimeout},
			{Attempt: 2, Err: "timeout", Kind: KindTimeout},
			{Attempt: 3, Err: "breaker open", Kind: KindBreakerOpen},
		},
	}
	assert.Equal(t, 3, err.Attempts)
	assert.Len(t, err.History, 3)
	assert.Equal(t, KindBreakerOpen, err.History[2].Kind)
}
