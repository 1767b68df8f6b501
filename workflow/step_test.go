package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep_Defaults(t *testing.T) {
	s := NewStep(0, KindMCP, "dexscreener", "getTokenPrice", map[string]any{"symbol": "ETH"})

	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, -1, s.ParentStepIndex)
	assert.Equal(t, 2, s.MaxRetries)
	assert.Equal(t, 0, s.Attempts)
}

func TestCanRetry(t *testing.T) {
	s := NewStep(0, KindMCP, "dexscreener", "getTokenPrice", nil)

	s.Attempts = 1
	assert.True(t, s.CanRetry())
	s.Attempts = 3
	assert.False(t, s.CanRetry())
}

func TestMarshalArgs(t *testing.T) {
	s := NewStep(0, KindMCP, "dexscreener", "getTokenPrice", map[string]any{"symbol": "ETH"})

	raw, err := s.MarshalArgs()
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"ETH"}`, string(raw))
}
