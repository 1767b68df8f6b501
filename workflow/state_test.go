package workflow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNewState_InitializesCollaborators(t *testing.T) {
	s := NewState("price of ETH", "en", 5)

	assert.NotNil(t, s.DataStore)
	assert.NotNil(t, s.Memory)
	assert.NotNil(t, s.Progress)
	assert.Equal(t, 0, s.Iteration)
	assert.Empty(t, s.History)
}

func TestLastStep_EmptyHistory(t *testing.T) {
	s := NewState("q", "en", 5)
	assert.Nil(t, s.LastStep())
}

// TestAppendStep_IterationTracksHistoryLength is a property test for
// invariant (a): after any sequence of appended terminal steps, Iteration
// always equals len(History), regardless of the mix of successes and
// failures appended.
func TestAppendStep_IterationTracksHistoryLength(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("iteration equals history length after any run of terminal steps", prop.ForAll(
		func(outcomes []bool) bool {
			s := NewState("q", "en", 10)
			for i, succeeded := range outcomes {
				step := NewStep(i, KindMCP, "mcp", "tool", nil)
				if succeeded {
					step.Status = StatusCompleted
				} else {
					step.Status = StatusFailed
				}
				s.AppendStep(step)
			}
			return s.Iteration == len(s.History) && s.Iteration == len(outcomes)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestAppendStep_PanicsOnNonTerminalStatus(t *testing.T) {
	s := NewState("q", "en", 10)
	step := NewStep(0, KindMCP, "mcp", "tool", nil)

	assert.Panics(t, func() { s.AppendStep(step) })
}

func TestSuccessCount(t *testing.T) {
	s := NewState("q", "en", 10)
	ok := NewStep(0, KindMCP, "mcp", "tool", nil)
	ok.Status = StatusCompleted
	fail := NewStep(1, KindMCP, "mcp", "tool", nil)
	fail.Status = StatusFailed

	s.AppendStep(ok)
	s.AppendStep(fail)

	assert.Equal(t, 1, s.SuccessCount())
}
