// Package planner asks the LLM for the next workflow step given the run's
// current state, validates the structured decision it returns, and hands a
// Step back to the engine loop. The anti-repetition check on a proposed
// step is RepeatsLastSuccess, which the engine loop calls.
package planner

import (
	"encoding/json"

	"github.com/taskforge/agentcore/workflow"
)

// DecisionKind distinguishes a concrete next action from the terminal
// conclude decision.
type DecisionKind string

const (
	DecisionMCP      DecisionKind = "mcp"
	DecisionLLM      DecisionKind = "llm"
	DecisionConclude DecisionKind = "conclude"
)

// capabilities is the closed set of LLM-dispatched tool names a DecisionLLM
// decision may name.
var capabilities = map[string]bool{
	"analyze":   true,
	"compare":   true,
	"summarize": true,
	"format":    true,
	"translate": true,
	"extract":   true,
}

// Decision is the Planner's structured output for one iteration.
type Decision struct {
	Kind            DecisionKind   `json:"kind"`
	MCPName         string         `json:"mcpName,omitempty"`
	Tool            string         `json:"tool,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
	ExpectedOutput  string         `json:"expectedOutput,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
	ParentStepIndex *int           `json:"parentStepIndex,omitempty"`
	Reason          string         `json:"reason,omitempty"` // populated only for conclude
}

// decisionSchema is the JSON Schema the jsonschema-backed Validator
// compiles once and checks every raw Decision payload against before it is
// unmarshalled into the typed struct above.
const decisionSchema = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "enum": ["mcp", "llm", "conclude"]},
    "mcpName": {"type": "string"},
    "tool": {"type": "string"},
    "args": {"type": "object"},
    "expectedOutput": {"type": "string"},
    "reasoning": {"type": "string"},
    "parentStepIndex": {"type": "integer"},
    "reason": {"type": "string"}
  }
}`

// errMalformed is the error for a decision that fails schema or semantic
// validation. Plan retries with a repair prompt on it; once the repair
// attempts are used up, Plan returns a planner_failure TerminalSignal
// rather than this error.
type errMalformed struct{ detail string }

func (e *errMalformed) Error() string { return "planner: malformed decision: " + e.detail }

// validate checks a parsed Decision against the kind-specific contract:
// kind=mcp requires a non-empty mcpName+tool drawn from the agent's
// catalogue; kind=llm restricts tool to the fixed capability set.
func validate(d Decision, catalogue map[string][]string) error {
	switch d.Kind {
	case DecisionMCP:
		if d.MCPName == "" || d.Tool == "" {
			return &errMalformed{detail: "mcp decision missing mcpName/tool"}
		}
		tools, ok := catalogue[d.MCPName]
		if !ok {
			return &errMalformed{detail: "mcp decision names unknown mcp " + d.MCPName}
		}
		if !containsString(tools, d.Tool) {
			return &errMalformed{detail: "mcp decision names unlisted tool " + d.Tool}
		}
	case DecisionLLM:
		if !capabilities[d.Tool] {
			return &errMalformed{detail: "llm decision names unsupported capability " + d.Tool}
		}
	case DecisionConclude:
		// no further requirements
	default:
		return &errMalformed{detail: "unknown decision kind " + string(d.Kind)}
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// toStep converts a validated mcp/llm Decision into a pending workflow Step
// at the given index.
func toStep(index int, d Decision) *workflow.Step {
	step := workflow.NewStep(index, workflow.StepKind(d.Kind), d.MCPName, d.Tool, d.Args)
	step.ExpectedOutput = d.ExpectedOutput
	step.Reasoning = d.Reasoning
	if d.ParentStepIndex != nil {
		step.ParentStepIndex = *d.ParentStepIndex
	}
	return step
}

// marshalDecision re-serializes a Decision as JSON; nothing in the package
// calls it.
func marshalDecision(d Decision) ([]byte, error) {
	return json.Marshal(d)
}
