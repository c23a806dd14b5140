package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindRateLimit, "governor.admit", errors.New("window full")).WithScope("domain", "example.com")
	err.RetryAfter = 1500 * time.Millisecond

	msg := err.Error()
	assert.Contains(t, msg, "RATE_LIMIT_EXCEEDED")
	assert.Contains(t, msg, "[domain=example.com]")
	assert.Contains(t, msg, "governor.admit")
	assert.Contains(t, msg, "retry after 1.5s")
	assert.Contains(t, msg, "window full")
}

func TestErrorsIsMatchesKind(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("saving: %w", New(KindStorage, "session.save", cause))

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSession)
	assert.Equal(t, KindStorage, KindOf(err))
}

func TestFatalAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		retryable bool
	}{
		{"storage", New(KindStorage, "op", nil), true, false},
		{"configuration", New(KindConfiguration, "op", nil), true, false},
		{"timeout", New(KindTimeout, "op", nil), false, true},
		{"circuit open", New(KindCircuitOpen, "op", nil), false, false},
		{"plain error", errors.New("boom"), false, true},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
