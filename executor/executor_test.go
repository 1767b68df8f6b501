package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/mcp"
	"github.com/taskforge/agentcore/model/modeltest"
	"github.com/taskforge/agentcore/workflow"
)

// testOpts trims the retry backoff so retry-path tests run fast.
func testOpts() *Options {
	return &Options{BaseRetryDelay: time.Millisecond}
}

type stubLauncher struct{}

func (stubLauncher) Launch(_ context.Context, _, _ string, _ map[string]string) (any, error) {
	return "handle", nil
}
func (stubLauncher) Probe(_ context.Context, _ any) error { return nil }

type stubCaller struct {
	calls int
	fail  int // number of leading calls that fail with errText
	errText string
	result  json.RawMessage
}

func (c *stubCaller) CallTool(_ context.Context, _ any, _ mcp.CallRequest) (mcp.CallResponse, error) {
	c.calls++
	if c.calls <= c.fail {
		return mcp.CallResponse{}, assertErr(c.errText)
	}
	return mcp.CallResponse{Result: c.result}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type stubCredentials struct{}

func (stubCredentials) Fields(_ context.Context, _, _ string) (map[string]string, error) {
	return map[string]string{}, nil
}

func testAgent() agent.Descriptor {
	return agent.Descriptor{
		Name:    "crypto.analyst",
		Mission: "track token prices",
		MCPs: []agent.MCPServer{
			{Name: "dexscreener", Tools: []string{"getTokenPrice"}},
		},
	}
}

func TestExecute_MCPSuccess(t *testing.T) {
	caller := &stubCaller{result: json.RawMessage(`{"price":42}`)}
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	ex := New(sessions, modeltest.NewClient(), stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindMCP, "dexscreener", "getTokenPrice", map[string]any{"symbol": "ETH"})
	state := workflow.NewState("price of ETH", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.NoError(t, outcome.Err)
	assert.Equal(t, workflow.StatusCompleted, step.Status)
	assert.Equal(t, map[string]any{"price": float64(42)}, outcome.RawResult)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	caller := &stubCaller{fail: 1, errText: "internal server error", result: json.RawMessage(`{"ok":true}`)}
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	ex := New(sessions, modeltest.NewClient(), stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindMCP, "dexscreener", "getTokenPrice", map[string]any{})
	state := workflow.NewState("q", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.NoError(t, outcome.Err)
	assert.Equal(t, workflow.StatusCompleted, step.Status)
	assert.Equal(t, 2, caller.calls)
}

func TestExecute_AuthFailureSurfacesImmediately(t *testing.T) {
	caller := &stubCaller{fail: 99, errText: "unauthorized: invalid api key"}
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	ex := New(sessions, modeltest.NewClient(), stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindMCP, "dexscreener", "getTokenPrice", map[string]any{})
	state := workflow.NewState("q", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.Error(t, outcome.Err)
	assert.Equal(t, workflow.StatusFailed, step.Status)
	assert.Equal(t, 1, caller.calls, "auth failures must not be retried")
}

func TestExecute_InvalidArgumentTriggersRepairAndRetries(t *testing.T) {
	caller := &stubCaller{fail: 1, errText: "invalid configuration: symbol missing", result: json.RawMessage(`{"price":42}`)}
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	client := modeltest.NewClient().ScriptText(`{"symbol":"ETH"}`)
	ex := New(sessions, client, stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindMCP, "dexscreener", "getTokenPrice", map[string]any{})
	state := workflow.NewState("price of ETH", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.NoError(t, outcome.Err)
	assert.Equal(t, workflow.StatusCompleted, step.Status)
	assert.Equal(t, 2, caller.calls, "the repaired call must actually re-invoke the tool")
	assert.Equal(t, map[string]any{"symbol": "ETH"}, step.Args, "step.Args must carry the corrected arguments")
	require.Len(t, client.Calls(), 1, "repair must issue exactly one model call")
}

func TestExecute_InvalidArgumentRepairFailsSurfacesOriginalError(t *testing.T) {
	caller := &stubCaller{fail: 99, errText: "invalid configuration: symbol missing"}
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	client := modeltest.NewClient().ScriptText("not json")
	ex := New(sessions, client, stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindMCP, "dexscreener", "getTokenPrice", map[string]any{})
	state := workflow.NewState("price of ETH", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.Error(t, outcome.Err)
	assert.Equal(t, workflow.StatusFailed, step.Status)
	assert.Equal(t, 1, caller.calls, "repair is attempted once; a malformed repair response must not retry the tool call")
}

func TestExecute_LLMStepUsesCapabilityPrompt(t *testing.T) {
	client := modeltest.NewClient().ScriptText("summary text")
	ex := New(mcp.NewManager(stubLauncher{}, &stubCaller{}, nil, 8), client, stubCredentials{}, "u1", testOpts())

	step := workflow.NewStep(0, workflow.KindLLM, "", "summarize", map[string]any{"text": "raw data"})
	state := workflow.NewState("q", "en", 10)

	outcome := ex.Execute(context.Background(), step, state, testAgent())

	require.NoError(t, outcome.Err)
	assert.Equal(t, "summary text", outcome.RawResult)
	require.Len(t, client.Calls(), 1)
	assert.Contains(t, client.Calls()[0].Messages[0].Text(), "summarize")
}
