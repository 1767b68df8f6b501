package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/agentcore/workflow"
)

func TestResolveArgs_StepReference(t *testing.T) {
	store := workflow.NewDataStore()
	store.PutStepResult(2, "getTokenPrice", map[string]any{"price": 42})

	resolved := ResolveArgs("analyze", map[string]any{"data": "{{step_2_result}}"}, store)

	assert.Equal(t, map[string]any{"price": 42}, resolved["data"])
}

func TestResolveArgs_UnresolvedReferenceLeftAsIs(t *testing.T) {
	store := workflow.NewDataStore()
	resolved := ResolveArgs("analyze", map[string]any{"data": "{{step_9_result}}"}, store)
	assert.Equal(t, "{{step_9_result}}", resolved["data"])
}

func TestResolveArgs_TweetHeuristicFillsContent(t *testing.T) {
	store := workflow.NewDataStore()
	store.PutStepResult(0, "analyze", map[string]any{"text": "ETH is up 4% today"})

	resolved := ResolveArgs("postTweet", map[string]any{}, store)

	assert.Equal(t, "ETH is up 4% today", resolved["content"])
}

func TestResolveArgs_SearchHeuristicFillsQuery(t *testing.T) {
	store := workflow.NewDataStore()
	store.PutStepResult(0, "analyze", map[string]any{"query": "solana memecoins"})

	resolved := ResolveArgs("searchPairs", map[string]any{"query": ""}, store)

	assert.Equal(t, "solana memecoins", resolved["query"])
}

func TestResolveArgs_ExistingNonEmptyValueWins(t *testing.T) {
	store := workflow.NewDataStore()
	store.PutStepResult(0, "analyze", map[string]any{"text": "fallback"})

	resolved := ResolveArgs("postTweet", map[string]any{"content": "explicit content"}, store)

	assert.Equal(t, "explicit content", resolved["content"])
}
