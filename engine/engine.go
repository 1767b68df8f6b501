// Package engine composes the Planner, Executor, Observer, Result
// Formatter, MCP Session Manager, and persistence hook into the Engine
// Loop: the single component external collaborators drive, producing a
// lazy, ordered stream of events terminated by exactly one final_result (or
// a cancelled event).
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/events"
	"github.com/taskforge/agentcore/executor"
	"github.com/taskforge/agentcore/formatter"
	"github.com/taskforge/agentcore/language"
	"github.com/taskforge/agentcore/mcp"
	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/observer"
	"github.com/taskforge/agentcore/persistence"
	"github.com/taskforge/agentcore/planner"
	"github.com/taskforge/agentcore/telemetry"
	"github.com/taskforge/agentcore/workflow"
)

// Defaults for Config fields left unset at construction, per the
// termination policy and retry/timeout budget.
const (
	defaultHardCap                     = 20
	defaultMemoryCapacity              = 20
	defaultConsecutiveFailureThreshold = 5
	defaultStagnationThreshold         = 8
	defaultRepeatedActionThreshold     = 5
	defaultBaseRetryDelay              = 1 * time.Second
	defaultMCPCallTimeout              = 30 * time.Second
	defaultLLMCallTimeout              = 15 * time.Second
)

// Config wires the Engine's collaborators. Sessions, Model, and
// Credentials are shared across runs; Planner and Observer are stateless
// and safe to share. Every termination-policy threshold and retry/timeout
// budget is an explicit field here rather than a package-level constant,
// so no run-level behavior is pinned by unexported magic numbers.
type Config struct {
	Sessions    *mcp.Manager
	Model       model.Client
	Credentials executor.Credentials
	Planner     planner.Planner
	Observer    observer.Observer
	Formatter   *formatter.Formatter
	Language    *language.Resolver
	Repo        persistence.Repository
	Log         telemetry.Logger

	// HardCap overrides the default 20-iteration ceiling; zero uses the
	// default.
	HardCap int
	// MemoryCapacity overrides the default per-run Memory scratchpad size.
	MemoryCapacity int

	// ConsecutiveFailureThreshold overrides the default 5-failure
	// termination guard; zero uses the default.
	ConsecutiveFailureThreshold int
	// StagnationThreshold overrides the default 8-iteration
	// no-progress termination guard; zero uses the default.
	StagnationThreshold int
	// RepeatedActionThreshold overrides the default 5-repeat
	// termination guard; zero uses the default.
	RepeatedActionThreshold int

	// BaseRetryDelay overrides the Executor's retry backoff unit
	// (default 1s, per attempt N sleeping BaseRetryDelay*N).
	BaseRetryDelay time.Duration
	// MCPCallTimeout overrides the Executor's per-call bound on MCP tool
	// invocations (default 30s).
	MCPCallTimeout time.Duration
	// LLMCallTimeout overrides the Executor's per-call bound on LLM
	// capability calls and argument-repair calls (default 15s).
	LLMCallTimeout time.Duration
}

// Engine runs Plan-Act-Observe loops for one process; a single instance
// serves many concurrent runs.
type Engine struct {
	cfg Config
}

// New validates cfg and returns a ready Engine.
func New(cfg Config) *Engine {
	if cfg.HardCap <= 0 {
		cfg.HardCap = defaultHardCap
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = defaultMemoryCapacity
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = defaultConsecutiveFailureThreshold
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = defaultStagnationThreshold
	}
	if cfg.RepeatedActionThreshold <= 0 {
		cfg.RepeatedActionThreshold = defaultRepeatedActionThreshold
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = defaultBaseRetryDelay
	}
	if cfg.MCPCallTimeout <= 0 {
		cfg.MCPCallTimeout = defaultMCPCallTimeout
	}
	if cfg.LLMCallTimeout <= 0 {
		cfg.LLMCallTimeout = defaultLLMCallTimeout
	}
	if cfg.Repo == nil {
		cfg.Repo = persistence.NoopRepository{}
	}
	if cfg.Log == nil {
		cfg.Log = telemetry.NewNoopLogger()
	}
	return &Engine{cfg: cfg}
}

// Request describes one engine run.
type Request struct {
	UserID                       string
	Query                        string
	Agent                        agent.Descriptor
	ConversationLanguageOverride string
	BrowserLanguageHint          string
	// InitialWorkflow, when non-empty, is executed step-by-step before the
	// loop falls back to being fully Planner-driven.
	InitialWorkflow []*workflow.Step
}

// Run drives one Plan-Act-Observe loop to completion, emitting events to
// sink. It returns nil on any normal termination (the caller should read
// the final_result or cancelled event from sink for the outcome);
// CancelledError and EngineError are the only returned errors.
func (e *Engine) Run(ctx context.Context, req Request, sink events.Sink) error {
	runID := uuid.NewString()
	agentName := string(req.Agent.Name)

	lang := e.cfg.Language.Resolve(ctx, req.Query, req.Agent.DefaultLanguage, req.ConversationLanguageOverride, req.BrowserLanguageHint)
	state := workflow.NewState(req.Query, lang, e.cfg.MemoryCapacity)

	if authErr := e.probeAuth(ctx, req, runID, agentName, sink); authErr != nil {
		if cancelled, ok := authErr.(*CancelledError); ok {
			return cancelled
		}
		return nil
	}

	mode := "planner_driven"
	if len(req.InitialWorkflow) > 0 {
		mode = "workflow_driven"
	}
	_ = sink.Send(ctx, events.Event{Tag: events.TagExecutionStart, Data: events.ExecutionStartData{
		TaskID: runID,
		Mode:   mode,
		WorkflowInfo: events.WorkflowInfo{
			TotalSteps: len(req.InitialWorkflow),
			MCPs:       req.Agent.MCPNames(),
		},
	}})

	ex := executor.New(e.cfg.Sessions, e.cfg.Model, e.cfg.Credentials, req.UserID, &executor.Options{
		BaseRetryDelay: e.cfg.BaseRetryDelay,
		MCPTimeout:     e.cfg.MCPCallTimeout,
		LLMTimeout:     e.cfg.LLMCallTimeout,
	})
	pending := append([]*workflow.Step(nil), req.InitialWorkflow...)

	for {
		select {
		case <-ctx.Done():
			_ = sink.Send(context.WithoutCancel(ctx), events.Event{Tag: events.TagCancelled, Data: events.CancelledData{Reason: ctx.Err().Error()}})
			return &CancelledError{Reason: ctx.Err().Error()}
		default:
		}

		if reason, stop := e.checkTerminationGuards(state); stop {
			state.Reason = reason
			break
		}

		step, term, repeats := e.nextStep(ctx, state, req, &pending)
		if term.Conclude {
			if term.Reason == string(workflow.ReasonPlannerFailure) {
				state.Reason = workflow.ReasonPlannerFailure
			} else {
				state.Reason = workflow.ReasonPlannerConcluded
			}
			break
		}

		if repeats {
			e.cfg.Log.Warn(ctx, "engine: planner repeated last successful step, accepting as stagnation", "tool", step.Tool, "mcp", step.MCPName)
		}
		e.runStep(ctx, ex, step, state, req, runID, agentName, sink, repeats)

		if step.Status == workflow.StatusCompleted {
			decision := e.cfg.Observer.Observe(ctx, state, req.Agent)
			if decision.Complete {
				state.IsComplete = true
				state.Reason = workflow.ReasonObserverComplete
				break
			}
		}
	}

	e.emitFinalResult(ctx, state, agentName, sink)
	return nil
}

// checkTerminationGuards evaluates the loop guards in priority order.
func (e *Engine) checkTerminationGuards(state *workflow.State) (workflow.TerminationReason, bool) {
	switch {
	case state.Iteration >= e.cfg.HardCap:
		return workflow.ReasonHardCap, true
	case state.Progress.ConsecutiveFailures >= e.cfg.ConsecutiveFailureThreshold:
		return workflow.ReasonConsecutiveFailure, true
	case state.Progress.StagnationCount(state.Iteration) >= e.cfg.StagnationThreshold:
		return workflow.ReasonStagnation, true
	case state.Progress.MaxRepeatCount() >= e.cfg.RepeatedActionThreshold:
		return workflow.ReasonRepeatedAction, true
	default:
		return "", false
	}
}

// nextStep returns the next step to run, along with whether a Planner
// decision repeats the last successful (kind, mcp, tool) triple. Steps drawn
// from a pending InitialWorkflow are never subject to the anti-repetition
// guard — only Planner-proposed steps are.
func (e *Engine) nextStep(ctx context.Context, state *workflow.State, req Request, pending *[]*workflow.Step) (*workflow.Step, planner.TerminalSignal, bool) {
	if len(*pending) > 0 {
		step := (*pending)[0]
		*pending = (*pending)[1:]
		step.Index = state.Iteration
		return step, planner.TerminalSignal{}, false
	}
	step, term := e.cfg.Planner.Plan(ctx, state, req.Agent)
	if step == nil {
		return step, term, false
	}
	return step, term, planner.RepeatsLastSuccess(state, step)
}

func (e *Engine) runStep(ctx context.Context, ex *executor.Executor, step *workflow.Step, state *workflow.State, req Request, runID, agentName string, sink events.Sink, repeats bool) {
	step.Status = workflow.StatusExecuting
	now := time.Now().UTC().Format(time.RFC3339)
	_ = sink.Send(ctx, events.Event{Tag: events.TagStepExecuting, Data: events.StepExecutingData{
		Step:      step.Index,
		Tool:      step.Tool,
		AgentName: agentName,
		Message:   fmt.Sprintf("executing %s", step.Tool),
		ToolDetails: events.ToolDetails{
			ToolType:       string(step.Kind),
			ToolName:       step.Tool,
			MCPName:        step.MCPName,
			Args:           step.Args,
			ExpectedOutput: step.ExpectedOutput,
			Reasoning:      step.Reasoning,
			Timestamp:      now,
		},
	}})

	outcome := ex.Execute(ctx, step, state, req.Agent)

	e.writeRawRecord(ctx, runID, step, outcome)

	if outcome.Err != nil {
		state.Progress.RecordFailure(step.Tool, step.MCPName)
		state.AppendStep(step)
		if outcome.Classification.IsAuth() {
			e.emitMCPConnectionError(ctx, sink, step, agentName, outcome)
		} else {
			e.emitStepError(ctx, sink, step, outcome)
		}
		e.emitStepComplete(ctx, sink, step, state, false)
		return
	}

	_ = sink.Send(ctx, events.Event{Tag: events.TagStepRawResult, Data: events.StepRawResultData{
		Step:      step.Index,
		Success:   true,
		Result:    outcome.RawResult,
		AgentName: agentName,
		ExecutionDetails: events.ExecutionDetails{
			ToolType:       string(step.Kind),
			ToolName:       step.Tool,
			MCPName:        step.MCPName,
			RawResult:      outcome.RawResult,
			Args:           step.Args,
			ExpectedOutput: step.ExpectedOutput,
			Timestamp:      now,
		},
	}})

	formatted, ferr := e.cfg.Formatter.Format(ctx, step.Kind, outcome.RawResult, step.Tool, step.MCPName, state.UserLanguage, func(chunk string) {
		_ = sink.Send(ctx, events.Event{Tag: events.TagStepResultChunk, Data: events.StepResultChunkData{Step: step.Index, Chunk: chunk, AgentName: agentName}})
	})
	if ferr != nil {
		formatted = renderFallback(outcome.RawResult)
	}
	step.FormattedResult = formatted
	step.Status = workflow.StatusCompleted

	e.writeFormattedRecord(ctx, runID, step, formatted)

	originalSize := len(renderFallback(outcome.RawResult))
	_ = sink.Send(ctx, events.Event{Tag: events.TagStepFormattedResult, Data: events.StepFormattedResultData{
		Step:            step.Index,
		Success:         true,
		FormattedResult: formatted,
		AgentName:       agentName,
		FormattingDetails: events.FormattingDetails{
			ToolType:        string(step.Kind),
			ToolName:        step.Tool,
			MCPName:         step.MCPName,
			OriginalResult:  outcome.RawResult,
			FormattedResult: formatted,
			ProcessingInfo: events.ProcessingInfo{
				OriginalDataSize:  originalSize,
				FormattedDataSize: len(formatted),
				NeedsFormatting:   step.Kind == workflow.KindMCP,
			},
			Timestamp: now,
		},
	}})

	state.DataStore.PutStepResult(step.Index, step.Tool, outcome.RawResult)
	if repeats {
		state.Progress.RecordRepeatTick(step.Tool, step.MCPName)
	} else {
		state.Progress.RecordSuccess(state.Iteration+1, step.Tool, step.MCPName)
	}
	state.Memory.Remember(workflow.MemoryEntry{Tool: step.Tool, Summary: formatted, Lang: state.UserLanguage})
	state.AppendStep(step)

	e.emitStepComplete(ctx, sink, step, state, true)
}

func (e *Engine) emitStepError(ctx context.Context, sink events.Sink, step *workflow.Step, outcome executor.Outcome) {
	_ = sink.Send(ctx, events.Event{Tag: events.TagStepError, Data: events.StepErrorData{
		Step:     step.Index,
		Error:    outcome.Err.Error(),
		MCPName:  step.MCPName,
		Action:   step.Tool,
		Attempts: step.Attempts,
	}})
}

func (e *Engine) emitMCPConnectionError(ctx context.Context, sink events.Sink, step *workflow.Step, agentName string, outcome executor.Outcome) {
	_ = sink.Send(ctx, events.Event{Tag: events.TagMCPConnectionError, Data: events.MCPConnectionErrorData{
		MCPName:            step.MCPName,
		Step:               step.Index,
		AgentName:          agentName,
		ErrorType:          string(outcome.Classification),
		Title:              "Authentication required",
		Message:            outcome.Err.Error(),
		IsRetryable:        false,
		RequiresUserAction: true,
		OriginalError:      outcome.Err.Error(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}})
}

// emitStepComplete reports progress against state.History, which already
// includes step (both runStep branches append before calling this).
func (e *Engine) emitStepComplete(ctx context.Context, sink events.Sink, step *workflow.Step, state *workflow.State, success bool) {
	total := len(state.History)
	completed := state.SuccessCount()
	pct := float64(0)
	if total > 0 {
		pct = 100 * float64(completed) / float64(total)
	}
	_ = sink.Send(ctx, events.Event{Tag: events.TagStepComplete, Data: events.StepCompleteData{
		Step:    step.Index,
		Success: success,
		Progress: events.Progress{
			Completed:  completed,
			Total:      total,
			Percentage: pct,
		},
	}})
}

// probeAuth checks every MCP in the agent's manifest before any step runs;
// an unverified or failed session emits mcp_connection_error and a
// best-effort final_result, satisfying the contract that the caller always
// sees a terminal event.
func (e *Engine) probeAuth(ctx context.Context, req Request, runID, agentName string, sink events.Sink) error {
	for _, server := range req.Agent.MCPs {
		select {
		case <-ctx.Done():
			_ = sink.Send(context.WithoutCancel(ctx), events.Event{Tag: events.TagCancelled, Data: events.CancelledData{Reason: ctx.Err().Error()}})
			return &CancelledError{Reason: ctx.Err().Error()}
		default:
		}

		authFields, err := e.cfg.Credentials.Fields(ctx, req.UserID, server.Name)
		if err != nil {
			authFields = map[string]string{}
		}
		if _, err := e.cfg.Sessions.EnsureSession(ctx, req.UserID, server.Name, authFields, server.RequiredAuthFields); err != nil {
			var authReq *mcp.AuthRequired
			missing := server.RequiredAuthFields
			if ok := errorsAs(err, &authReq); ok && len(authReq.MissingParams) > 0 {
				missing = authReq.MissingParams
			}
			_ = sink.Send(ctx, events.Event{Tag: events.TagMCPConnectionError, Data: events.MCPConnectionErrorData{
				MCPName:            server.Name,
				AgentName:          agentName,
				ErrorType:          string(mcp.ClassMCPAuthRequired),
				Title:              "Authentication required",
				Message:            fmt.Sprintf("%s requires authentication before this run can start", server.Name),
				AuthFieldsRequired: missing,
				IsRetryable:        false,
				RequiresUserAction: true,
				OriginalError:      err.Error(),
				Timestamp:          time.Now().UTC().Format(time.RFC3339),
			}})
			_ = sink.Send(ctx, events.Event{Tag: events.TagFinalResult, Data: events.FinalResultData{
				FinalResult: fmt.Sprintf("Cannot proceed: %s requires authentication.", server.Name),
				Success:     false,
			}})
			return &AuthError{MCPName: server.Name, MissingParams: missing}
		}
	}
	return nil
}

func (e *Engine) writeRawRecord(ctx context.Context, runID string, step *workflow.Step, outcome executor.Outcome) {
	var payload json.RawMessage
	if outcome.Err != nil {
		payload, _ = json.Marshal(map[string]string{"error": outcome.Err.Error()})
	} else {
		payload, _ = json.Marshal(outcome.RawResult)
	}
	_ = e.cfg.Repo.Write(ctx, persistence.Record{
		RunID:       runID,
		StepIndex:   step.Index,
		ContentType: persistence.ContentRawResult,
		Tool:        step.Tool,
		MCPName:     step.MCPName,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	})
}

func (e *Engine) writeFormattedRecord(ctx context.Context, runID string, step *workflow.Step, formatted string) {
	payload, _ := json.Marshal(formatted)
	_ = e.cfg.Repo.Write(ctx, persistence.Record{
		RunID:       runID,
		StepIndex:   step.Index,
		ContentType: persistence.ContentFormattedResult,
		Tool:        step.Tool,
		MCPName:     step.MCPName,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	})
}

func (e *Engine) emitFinalResult(ctx context.Context, state *workflow.State, agentName string, sink events.Sink) {
	success := state.Reason == workflow.ReasonObserverComplete || state.Reason == workflow.ReasonPlannerConcluded
	answer := e.composeFinalAnswer(ctx, state)

	failed := 0
	for _, s := range state.History {
		if s.Status == workflow.StatusFailed {
			failed++
		}
	}
	total := len(state.History)
	rate := float64(0)
	if total > 0 {
		rate = float64(total-failed) / float64(total)
	}

	_ = sink.Send(ctx, events.Event{Tag: events.TagFinalResult, Data: events.FinalResultData{
		FinalResult: answer,
		Success:     success,
		ExecutionSummary: events.ExecutionSummary{
			TotalSteps:     total,
			CompletedSteps: total - failed,
			FailedSteps:    failed,
			SuccessRate:    rate,
		},
	}})
}

// composeFinalAnswer asks the LLM for a direct answer to the original
// query, grounded only in the successful steps recorded in history.
func (e *Engine) composeFinalAnswer(ctx context.Context, state *workflow.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\n", state.OriginalQuery)
	b.WriteString("Collected data:\n")
	hasData := false
	for _, step := range state.History {
		if step.Status != workflow.StatusCompleted {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", step.Tool, step.FormattedResult)
		hasData = true
	}
	if !hasData {
		b.WriteString("(none)\n")
	}
	b.WriteString("\nUsing only the data above, give a direct, final answer to the original query.\n")
	fmt.Fprintf(&b, "Respond in language: %s.\n", state.UserLanguage)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMCallTimeout)
	defer cancel()
	resp, err := e.cfg.Model.Complete(callCtx, model.Request{Messages: []model.Message{model.NewTextMessage(model.RoleUser, b.String())}})
	if err != nil {
		return "Unable to generate a final answer from the collected data."
	}
	return resp.Text
}

func renderFallback(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	enc, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(enc)
}

// errorsAs is a tiny indirection so probeAuth reads as a single expression;
// it mirrors errors.As without importing it twice in call sites.
func errorsAs(err error, target **mcp.AuthRequired) bool {
	return errors.As(err, target)
}
