// Package workflow defines the shared, in-memory state of a single engine
// run: the planned step sequence, the data store used for argument
// inference, and the progress monitor that feeds the termination policy.
// None of this is durable — runs are re-driven from persisted workflow
// definitions by the caller, never replayed from this package's state.
package workflow

import "encoding/json"

// StepKind distinguishes an MCP tool invocation from an LLM capability call.
type StepKind string

const (
	// KindMCP dispatches to an external MCP tool server.
	KindMCP StepKind = "mcp"
	// KindLLM dispatches to one of the predefined LLM capabilities.
	KindLLM StepKind = "llm"
)

// StepStatus tracks a step's position in its monotonic lifecycle:
// pending -> executing -> (completed | failed), with failed -> executing
// permitted while attempts remain.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusExecuting StepStatus = "executing"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// Step is a single planned unit of work.
type Step struct {
	// Index is the step's position in history, assigned when it is first
	// scheduled. Indices are stable once assigned.
	Index int
	// Kind selects the dispatch path: mcp or llm.
	Kind StepKind
	// MCPName names the MCP server to invoke. Set only when Kind == KindMCP.
	MCPName string
	// Tool is the tool name (for KindMCP) or LLM capability name (for
	// KindLLM, restricted to {analyze, compare, summarize, format,
	// translate, extract}).
	Tool string
	// Args carries the JSON-encodable invocation arguments. May contain
	// sentinel placeholders the Executor resolves via the data store.
	Args map[string]any
	// ExpectedOutput is the Planner's natural-language description of what
	// this step should produce, used for argument inference and logging.
	ExpectedOutput string
	// Reasoning is the Planner's natural-language justification, carried
	// through to step_executing events for observability.
	Reasoning string
	// ParentStepIndex references the step whose raw result motivated this
	// one, when applicable (e.g. an analyse step citing a collect step).
	// -1 when this step has no parent.
	ParentStepIndex int

	Status          StepStatus
	Attempts        int
	MaxRetries      int
	RawResult       any
	FormattedResult string
	Error           error
}

// NewStep returns a pending step with the default retry budget.
func NewStep(index int, kind StepKind, mcpName, tool string, args map[string]any) *Step {
	return &Step{
		Index:           index,
		Kind:            kind,
		MCPName:         mcpName,
		Tool:            tool,
		Args:            args,
		Status:          StatusPending,
		MaxRetries:      2,
		ParentStepIndex: -1,
	}
}

// CanRetry reports whether the step may re-enter the executing state after a
// failure: attempts < maxRetries+1.
func (s *Step) CanRetry() bool {
	return s.Attempts < s.MaxRetries+1
}

// MarshalArgs renders Args as canonical JSON, used by prompts and the
// persistence hook.
func (s *Step) MarshalArgs() (json.RawMessage, error) {
	if s.Args == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(s.Args)
}
