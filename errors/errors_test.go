package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"not connected", ErrNotConnected, true},
		{"backend unavailable", ErrBackendUnavailable, true},
		{"context canceled", context.Canceled, true},
		{"wrapped backend error", fmt.Errorf("set token: %w", ErrBackendUnavailable), true},
		{"network in message", errors.New("network unreachable"), true},
		{"unknown action", ErrUnknownAction, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: errors.New("timeout")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(errors.New("disk full on /data")))
	assert.False(t, IsFatal(ErrQueryNotFound))
	assert.True(t, IsFatal(WrapFatal(errors.New("x"), "Agent", "Run", "bootstrap")))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrUnknownAction))
	assert.True(t, IsInvalid(fmt.Errorf("parse: %w", ErrInvalidStorageKey)))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Router", "Handle", "dispatch"))

	err := Wrap(ErrQueryNotFound, "Router", "Handle", "resolve query")
	require.Error(t, err)
	assert.Equal(t, "Router.Handle: resolve query failed: query not found", err.Error())
	assert.ErrorIs(t, err, ErrQueryNotFound)
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	err := WrapInvalid(base, "Bridge", "Update", "serialize value")
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Bridge", ce.Component)
	assert.Equal(t, "Update", ce.Operation)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Bridge.Update: serialize value failed")

	assert.True(t, IsTransient(WrapTransient(base, "Client", "Connect", "dial")))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(ErrUnknownAction, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))

	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
