package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSuccessResetsFailures(t *testing.T) {
	p := NewProgress()
	p.RecordFailure("getTokenPrice", "dexscreener")
	p.RecordFailure("getTokenPrice", "dexscreener")
	assert.Equal(t, 2, p.ConsecutiveFailures)

	p.RecordSuccess(3, "getTokenPrice", "dexscreener")
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.Equal(t, 3, p.LastProgressAt)
}

func TestStagnationCount(t *testing.T) {
	p := NewProgress()
	p.RecordSuccess(2, "tool", "mcp")
	assert.Equal(t, 6, p.StagnationCount(8))
}

func TestMaxRepeatCount(t *testing.T) {
	p := NewProgress()
	p.RecordSuccess(1, "getTokenPrice", "dexscreener")
	p.RecordSuccess(2, "getTokenPrice", "dexscreener")
	p.RecordSuccess(3, "searchPairs", "dexscreener")

	assert.Equal(t, 2, p.MaxRepeatCount())
	assert.Equal(t, 2, p.RepeatCount("getTokenPrice", "dexscreener"))
	assert.Equal(t, 1, p.RepeatCount("searchPairs", "dexscreener"))
}
