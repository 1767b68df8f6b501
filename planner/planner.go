package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/telemetry"
	"github.com/taskforge/agentcore/workflow"
)

// maxRepairAttempts is how many times the LLM gets a "repair" prompt before
// the Planner gives up and conclude{reason:"planner_failure"}s the run.
const maxRepairAttempts = 2

// decisionTimeout bounds a single decision-prompt call.
const decisionTimeout = 15 * time.Second

// Planner asks for the next workflow step given the run's current state.
type Planner interface {
	Plan(ctx context.Context, state *workflow.State, ag agent.Descriptor) (*workflow.Step, TerminalSignal)
}

// TerminalSignal is returned alongside a nil Step when the Planner decides
// the run should conclude (either the LLM chose to, or structural failure
// exhausted its repair budget).
type TerminalSignal struct {
	Conclude bool
	Reason   string
}

// Options overrides the Planner's timing behavior; a nil Options, or zero
// fields within one, fall back to the defaults above.
type Options struct {
	// DecisionTimeout bounds a single decision-prompt call.
	DecisionTimeout time.Duration
}

// LLMPlanner is the production Planner: one model.Client call per
// iteration, validated against decisionSchema and the agent's tool
// catalogue, with malformed-JSON self-repair.
type LLMPlanner struct {
	client          model.Client
	schema          *jsonschema.Schema
	log             telemetry.Logger
	decisionTimeout time.Duration
}

// New compiles the decision schema once and returns a ready Planner.
func New(client model.Client, log telemetry.Logger, opts *Options) (*LLMPlanner, error) {
	var doc any
	if err := json.Unmarshal([]byte(decisionSchema), &doc); err != nil {
		return nil, fmt.Errorf("planner: invalid embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("planner-decision.json", doc); err != nil {
		return nil, fmt.Errorf("planner: add schema resource: %w", err)
	}
	sch, err := c.Compile("planner-decision.json")
	if err != nil {
		return nil, fmt.Errorf("planner: compile schema: %w", err)
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	timeout := decisionTimeout
	if opts != nil && opts.DecisionTimeout > 0 {
		timeout = opts.DecisionTimeout
	}
	return &LLMPlanner{client: client, schema: sch, log: log, decisionTimeout: timeout}, nil
}

// Plan issues the decision prompt, retrying on malformed output. The prompt
// tells the LLM not to repeat the last successful step; Plan itself does not
// check the returned step for repetition.
func (p *LLMPlanner) Plan(ctx context.Context, state *workflow.State, ag agent.Descriptor) (*workflow.Step, TerminalSignal) {
	prompt := p.buildPrompt(state, ag, "")

	var lastErr error
	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		if attempt > 0 {
			prompt = p.buildPrompt(state, ag, lastErr.Error())
		}
		resp, err := p.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		decision, err := p.parse(resp.Text, ag)
		if err != nil {
			lastErr = err
			p.log.Warn(ctx, "planner: decision rejected, retrying", "attempt", attempt, "error", err.Error())
			continue
		}
		if decision.Kind == DecisionConclude {
			return nil, TerminalSignal{Conclude: true, Reason: decision.Reason}
		}
		step := toStep(state.Iteration, decision)
		return step, TerminalSignal{}
	}

	p.log.Error(ctx, "planner: exhausted repair attempts", "error", lastErr.Error())
	return nil, TerminalSignal{Conclude: true, Reason: string(workflow.ReasonPlannerFailure)}
}

// complete issues one bounded decision-prompt call.
func (p *LLMPlanner) complete(ctx context.Context, prompt string) (model.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.decisionTimeout)
	defer cancel()
	return p.client.Complete(callCtx, model.Request{
		Messages:    []model.Message{model.NewTextMessage(model.RoleUser, prompt)},
		Temperature: 0.2,
		JSONMode:    true,
	})
}

// parse validates raw LLM text against the schema, then against the agent's
// tool catalogue.
func (p *LLMPlanner) parse(raw string, ag agent.Descriptor) (Decision, error) {
	raw = strings.TrimSpace(raw)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Decision{}, &errMalformed{detail: "not valid JSON: " + err.Error()}
	}
	if err := p.schema.Validate(doc); err != nil {
		return Decision{}, &errMalformed{detail: "schema: " + err.Error()}
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, &errMalformed{detail: "decode: " + err.Error()}
	}
	if err := validate(d, ag.ToolCatalogue()); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// RepeatsLastSuccess reports whether next proposes the same (kind, mcp,
// tool) triple as the immediately preceding step, when that step succeeded.
// The anti-repetition constraint is enforced in the prompt; the engine loop
// calls this post-hoc on every Planner-proposed step and, on a violation,
// still runs the step but records a stagnation tick instead of progress,
// per the contract that a repeated decision is never itself fatal.
func RepeatsLastSuccess(state *workflow.State, next *workflow.Step) bool {
	last := state.LastStep()
	if last == nil || last.Status != workflow.StatusCompleted {
		return false
	}
	return last.Kind == next.Kind && last.MCPName == next.MCPName && last.Tool == next.Tool
}

func (p *LLMPlanner) buildPrompt(state *workflow.State, ag agent.Descriptor, repairNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n", ag.Mission)
	fmt.Fprintf(&b, "Original query: %s\n", state.OriginalQuery)
	fmt.Fprintf(&b, "Iteration: %d\n", state.Iteration)
	fmt.Fprintf(&b, "Successful steps so far: %d\n", state.SuccessCount())

	if last := state.LastStep(); last != nil {
		fmt.Fprintf(&b, "Last step: kind=%s mcp=%s tool=%s status=%s\n", last.Kind, last.MCPName, last.Tool, last.Status)
	}

	if entries := state.Memory.Entries(); len(entries) > 0 {
		b.WriteString("Remembered facts from this conversation:\n")
		for _, entry := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", entry.Tool, entry.Summary)
		}
	}

	b.WriteString("Tool catalogue:\n")
	for _, mcpName := range ag.MCPNames() {
		server, _ := ag.MCP(mcpName)
		fmt.Fprintf(&b, "- %s: %s\n", mcpName, strings.Join(server.Tools, ", "))
	}

	b.WriteString("\nDecision rules:\n")
	b.WriteString("1. Respond with exactly one JSON object: {kind, mcpName?, tool, args, expectedOutput, reasoning} or {kind:\"conclude\", reason}.\n")
	b.WriteString("2. kind=\"mcp\" must name an mcpName and tool from the catalogue above.\n")
	b.WriteString("3. kind=\"llm\" tool must be one of: analyze, compare, summarize, format, translate, extract.\n")
	b.WriteString("4. If the previous step succeeded with a given tool, propose a different tool unless no alternative exists.\n")
	b.WriteString("5. Conclude only when the collected data fully answers the original query.\n")

	fmt.Fprintf(&b, "\nRespond only in language: %s.\n", state.UserLanguage)

	if repairNote != "" {
		fmt.Fprintf(&b, "\nYour previous response was rejected: %s\nReturn only the corrected JSON object, nothing else.\n", repairNote)
	}
	return b.String()
}
