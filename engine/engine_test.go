package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/events"
	"github.com/taskforge/agentcore/formatter"
	"github.com/taskforge/agentcore/language"
	"github.com/taskforge/agentcore/mcp"
	"github.com/taskforge/agentcore/model/modeltest"
	"github.com/taskforge/agentcore/observer"
	"github.com/taskforge/agentcore/persistence"
	"github.com/taskforge/agentcore/planner"
	"github.com/taskforge/agentcore/workflow"
)

type stubLauncher struct {
	launchErr error
}

func (s stubLauncher) Launch(_ context.Context, _, _ string, _ map[string]string) (any, error) {
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	return "handle", nil
}
func (stubLauncher) Probe(_ context.Context, _ any) error { return nil }

type stubCaller struct {
	err    error
	result json.RawMessage
}

func (c stubCaller) CallTool(_ context.Context, _ any, _ mcp.CallRequest) (mcp.CallResponse, error) {
	if c.err != nil {
		return mcp.CallResponse{}, c.err
	}
	return mcp.CallResponse{Result: c.result}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type stubCredentials struct{}

func (stubCredentials) Fields(_ context.Context, _, _ string) (map[string]string, error) {
	return map[string]string{}, nil
}

// fakePlanner hands out steps from a fixed queue, then concludes with reason.
type fakePlanner struct {
	steps         []*workflow.Step
	next          int
	concludeAfter bool
	concludeReason string
}

func (f *fakePlanner) Plan(_ context.Context, state *workflow.State, _ agent.Descriptor) (*workflow.Step, planner.TerminalSignal) {
	if f.next >= len(f.steps) {
		reason := f.concludeReason
		if reason == "" {
			reason = "no more steps"
		}
		return nil, planner.TerminalSignal{Conclude: true, Reason: reason}
	}
	step := f.steps[f.next]
	f.next++
	step.Index = state.Iteration
	return step, planner.TerminalSignal{}
}

// fakeObserver completes once at least minSteps have been recorded.
type fakeObserver struct {
	minSteps int
}

func (f *fakeObserver) Observe(_ context.Context, state *workflow.State, _ agent.Descriptor) observer.Decision {
	if len(state.History) >= f.minSteps {
		return observer.Decision{Complete: true, Reason: "enough"}
	}
	return observer.Decision{Complete: false}
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

func newStepFixture(index int, tool string) *workflow.Step {
	return workflow.NewStep(index, workflow.KindMCP, "dexscreener", tool, map[string]any{})
}

func newTestEngine(t *testing.T, pl planner.Planner, obs observer.Observer, caller mcp.Caller, launcher mcp.Launcher) *Engine {
	t.Helper()
	modelClient := modeltest.NewClient().ScriptText("final answer text")
	sessions := mcp.NewManager(launcher, caller, nil, 8)
	return New(Config{
		Sessions:  sessions,
		Model:     modelClient,
		Credentials: stubCredentials{},
		Planner:   pl,
		Observer:  obs,
		Formatter: formatter.New(modelClient, nil),
		Language:  language.New(modelClient),
		Repo:      persistence.NoopRepository{},
		HardCap:   20,
	})
}

func drain(sink *events.ChannelSink) []events.Event {
	var out []events.Event
	for ev := range sink.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRun_HappyPath_EmitsOrderedEventsAndFinalResult(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	pl := &fakePlanner{steps: []*workflow.Step{newStepFixture(0, "getTokenPrice")}}
	obs := &fakeObserver{minSteps: 1}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})

	sink := events.NewChannelSink(64)
	err := eng.Run(context.Background(), Request{UserID: "u1", Query: "price of ETH", Agent: testAgent()}, sink)
	require.NoError(t, err)
	sink.Close(context.Background())
	evs := drain(sink)

	require.NotEmpty(t, evs)
	assert.Equal(t, events.TagExecutionStart, evs[0].Tag)

	var sawFinal bool
	var finalData events.FinalResultData
	for _, ev := range evs {
		if ev.Tag == events.TagFinalResult {
			sawFinal = true
			finalData = ev.Data.(events.FinalResultData)
		}
	}
	require.True(t, sawFinal, "run must always emit a final_result")
	assert.True(t, finalData.Success)
	assert.Equal(t, 1, finalData.ExecutionSummary.TotalSteps)
}

func TestRun_PlannerConcludeIsSuccessPath(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	pl := &fakePlanner{steps: nil, concludeReason: "data is sufficient"}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})

	sink := events.NewChannelSink(64)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	var finalData events.FinalResultData
	for _, ev := range evs {
		if ev.Tag == events.TagFinalResult {
			finalData = ev.Data.(events.FinalResultData)
		}
	}
	assert.True(t, finalData.Success, "a voluntary planner conclude is a success path")
}

func TestRun_HardCapTerminates(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	steps := make([]*workflow.Step, 0, 25)
	for i := 0; i < 25; i++ {
		steps = append(steps, newStepFixture(i, "getTokenPrice"))
	}
	pl := &fakePlanner{steps: steps}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})
	eng.cfg.HardCap = 3

	sink := events.NewChannelSink(128)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	var finalData events.FinalResultData
	for _, ev := range evs {
		if ev.Tag == events.TagFinalResult {
			finalData = ev.Data.(events.FinalResultData)
		}
	}
	assert.False(t, finalData.Success)
	assert.Equal(t, 3, finalData.ExecutionSummary.TotalSteps)
}

func TestRun_ConsecutiveFailuresTerminates(t *testing.T) {
	caller := stubCaller{err: assertErr("internal server error")}
	steps := make([]*workflow.Step, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, newStepFixture(i, "getTokenPrice"))
	}
	pl := &fakePlanner{steps: steps}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})

	sink := events.NewChannelSink(256)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	stepErrors := 0
	for _, ev := range evs {
		if ev.Tag == events.TagStepError {
			stepErrors++
		}
	}
	assert.Equal(t, 5, stepErrors, "consecutive-failure guard must stop the run after 5 failing steps")
}

func TestRun_AuthPreProbeShortCircuits(t *testing.T) {
	caller := stubCaller{}
	pl := &fakePlanner{}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{launchErr: assertErr("unauthorized: missing api key")})

	sink := events.NewChannelSink(16)
	err := eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	require.NoError(t, err, "an auth pre-probe failure is reported through events, not as a returned error")

	require.Len(t, evs, 2, "auth pre-probe must emit exactly mcp_connection_error then final_result, nothing else")
	assert.Equal(t, events.TagMCPConnectionError, evs[0].Tag)
	assert.Equal(t, events.TagFinalResult, evs[1].Tag)
	assert.False(t, evs[1].Data.(events.FinalResultData).Success)
}

func TestRun_CancellationEmitsCancelled(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	pl := &fakePlanner{steps: []*workflow.Step{newStepFixture(0, "getTokenPrice")}}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := events.NewChannelSink(16)
	err := eng.Run(ctx, Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	require.Error(t, err)
	_, ok := err.(*CancelledError)
	assert.True(t, ok)

	var sawCancelled bool
	for _, ev := range evs {
		if ev.Tag == events.TagCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestRun_PersistenceDualWritePerSuccessfulStep(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	pl := &fakePlanner{steps: []*workflow.Step{newStepFixture(0, "getTokenPrice")}}
	obs := &fakeObserver{minSteps: 1}
	repo := &memoryRepo{}

	modelClient := modeltest.NewClient().ScriptText("final answer text")
	sessions := mcp.NewManager(stubLauncher{}, caller, nil, 8)
	eng := New(Config{
		Sessions:    sessions,
		Model:       modelClient,
		Credentials: stubCredentials{},
		Planner:     pl,
		Observer:    obs,
		Formatter:   formatter.New(modelClient, nil),
		Language:    language.New(modelClient),
		Repo:        repo,
	})

	sink := events.NewChannelSink(64)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	drain(sink)

	require.Len(t, repo.records, 2)
	assert.Equal(t, persistence.ContentRawResult, repo.records[0].ContentType)
	assert.Equal(t, persistence.ContentFormattedResult, repo.records[1].ContentType)
}

func TestRun_StepCompleteEventsCarryCorrectProgress(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	pl := &fakePlanner{steps: []*workflow.Step{newStepFixture(0, "getTokenPrice"), newStepFixture(1, "getTokenPrice")}}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})
	eng.cfg.HardCap = 2

	sink := events.NewChannelSink(64)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	var completes []events.StepCompleteData
	for _, ev := range evs {
		if ev.Tag == events.TagStepComplete {
			completes = append(completes, ev.Data.(events.StepCompleteData))
		}
	}
	require.Len(t, completes, 2)
	assert.Equal(t, 0, completes[0].Step)
	assert.Equal(t, 1, completes[0].Progress.Total)
	assert.Equal(t, 1, completes[0].Progress.Completed)
	assert.Equal(t, 1, completes[1].Step)
	assert.Equal(t, 2, completes[1].Progress.Total)
	assert.Equal(t, 2, completes[1].Progress.Completed)
}

func TestRun_RepeatedPlannerStepAccruesStagnationAndTerminates(t *testing.T) {
	caller := stubCaller{result: json.RawMessage(`{"price":42}`)}
	steps := make([]*workflow.Step, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, newStepFixture(i, "getTokenPrice"))
	}
	pl := &fakePlanner{steps: steps}
	obs := &fakeObserver{minSteps: 999}
	eng := newTestEngine(t, pl, obs, caller, stubLauncher{})
	eng.cfg.StagnationThreshold = 3

	sink := events.NewChannelSink(128)
	eng.Run(context.Background(), Request{UserID: "u1", Query: "q", Agent: testAgent()}, sink)
	sink.Close(context.Background())
	evs := drain(sink)

	var finalData events.FinalResultData
	var completes int
	for _, ev := range evs {
		if ev.Tag == events.TagFinalResult {
			finalData = ev.Data.(events.FinalResultData)
		}
		if ev.Tag == events.TagStepComplete {
			completes++
		}
	}
	assert.False(t, finalData.Success, "a run that stops on the stagnation guard is not a success")
	assert.Equal(t, 4, completes, "a repeated decision is accepted and executed, it just never resets the stagnation clock")
	assert.Equal(t, 4, finalData.ExecutionSummary.TotalSteps)
}

type memoryRepo struct {
	records []persistence.Record
}

func (m *memoryRepo) Write(_ context.Context, rec persistence.Record) error {
	m.records = append(m.records, rec)
	return nil
}
