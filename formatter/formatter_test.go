package formatter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/agentcore/model/modeltest"
	"github.com/taskforge/agentcore/workflow"
)

func TestFormat_LLMKindIsIdempotent(t *testing.T) {
	f := New(modeltest.NewClient(), nil)
	var chunks []string

	out, err := f.Format(context.Background(), workflow.KindLLM, "already formatted text", "summarize", "", "en", func(c string) {
		chunks = append(chunks, c)
	})

	require.NoError(t, err)
	assert.Equal(t, "already formatted text", out)
	assert.Equal(t, []string{"already formatted text"}, chunks)
}

func TestFormat_MCPKindStreamsMarkdown(t *testing.T) {
	client := modeltest.NewClient().ScriptStream("## Price\n", "ETH is $3,200")
	f := New(client, nil)
	var chunks []string

	out, err := f.Format(context.Background(), workflow.KindMCP, map[string]any{"price": 3200}, "getTokenPrice", "dexscreener", "en", func(c string) {
		chunks = append(chunks, c)
	})

	require.NoError(t, err)
	assert.Equal(t, "## Price\nETH is $3,200", out)
	assert.Len(t, chunks, 2)
}

func TestFormat_TrimsOversizedInput(t *testing.T) {
	client := modeltest.NewClient().ScriptStream("ok")
	f := New(client, nil)

	huge := map[string]any{"blob": strings.Repeat("x", maxInputChars+1000)}
	_, err := f.Format(context.Background(), workflow.KindMCP, huge, "tool", "mcp", "en", func(string) {})

	require.NoError(t, err)
	req := client.Calls()[0]
	assert.LessOrEqual(t, len(req.Messages[0].Text()), maxInputChars+600)
}
