package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesKind(t *testing.T) {
	err := New(Timeout, "call exceeded deadline")
	assert.True(t, Is(err, Timeout))
	assert.False(t, Is(err, ServerDown))
}

func TestIs_SeesThroughWrapping(t *testing.T) {
	inner := New(ServerDown, "process exited")
	wrapped := fmt.Errorf("calling tool: %w", inner)
	assert.True(t, Is(wrapped, ServerDown))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(LLMUnavailable, "reaching gateway", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "llm_unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIs_NonKindError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Timeout))
	assert.False(t, Is(nil, Timeout))
}

func TestAs_ExposesKindAndMessage(t *testing.T) {
	var e *Error
	require.True(t, errors.As(Wrap(ConfigError, "bad path", errors.New("x")), &e))
	assert.Equal(t, ConfigError, e.Kind)
	assert.Equal(t, "bad path", e.Message)
}
