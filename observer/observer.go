// Package observer asks the LLM whether the data collected so far answers
// the original query, and applies a deterministic post-hoc gate for
// multi-target queries (e.g. several @-handles) that the LLM's judgement
// alone cannot be trusted to enforce.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/workflow"
)

// maxSummaryChars is the truncation bound applied to each step's data
// summary before it enters the prompt.
const maxSummaryChars = 2000

// Decision is the Observer's structured verdict for one iteration.
type Decision struct {
	Complete bool
	Reason   string
}

// Observer judges whether history contains enough data to answer the
// original query.
type Observer interface {
	Observe(ctx context.Context, state *workflow.State, ag agent.Descriptor) Decision
}

// defaultTimeout bounds a single sufficiency-judgement call.
const defaultTimeout = 15 * time.Second

// Options overrides the Observer's timing behavior; a nil Options, or zero
// fields within one, fall back to the defaults above.
type Options struct {
	Timeout time.Duration
}

// LLMObserver is the production Observer.
type LLMObserver struct {
	client  model.Client
	timeout time.Duration
}

// New returns an Observer backed by client.
func New(client model.Client, opts *Options) *LLMObserver {
	timeout := defaultTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	return &LLMObserver{client: client, timeout: timeout}
}

type rawVerdict struct {
	Complete bool   `json:"complete"`
	Reason   string `json:"reason"`
}

// Observe composes the data-sufficiency prompt, parses the verdict
// (defaulting to continue on malformed output), and applies the
// multi-target coverage gate before returning.
func (o *LLMObserver) Observe(ctx context.Context, state *workflow.State, ag agent.Descriptor) Decision {
	if len(state.History) == 0 {
		return Decision{Complete: false}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Complete(callCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, o.buildPrompt(state, ag))},
		JSONMode: true,
	})
	if err != nil {
		return Decision{Complete: false, Reason: "observer call failed: " + err.Error()}
	}

	var v rawVerdict
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &v); jsonErr != nil {
		return Decision{Complete: false, Reason: "malformed observer output"}
	}

	decision := Decision{Complete: v.Complete, Reason: v.Reason}
	if decision.Complete && !CoversAllTargets(state.OriginalQuery, state.History) {
		decision.Complete = false
		decision.Reason = "multi-target coverage incomplete"
	}
	return decision
}

func (o *LLMObserver) buildPrompt(state *workflow.State, ag agent.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n", ag.Mission)
	fmt.Fprintf(&b, "Original query: %s\n\n", state.OriginalQuery)
	b.WriteString("Collected data so far:\n")
	for _, step := range state.History {
		if step.Status != workflow.StatusCompleted {
			continue
		}
		fmt.Fprintf(&b, "- step %d (%s/%s): %s\n", step.Index, step.MCPName, step.Tool, Summarize(step.RawResult))
	}

	if entries := state.Memory.Entries(); len(entries) > 0 {
		b.WriteString("\nRemembered facts from this conversation:\n")
		for _, entry := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", entry.Tool, entry.Summary)
		}
	}

	b.WriteString("\nGiven the collected data, can the user's original query be answered completely and accurately?\n")
	b.WriteString("Judge (a) completeness, (b) quality, and (c) specific requirements such as cardinality constraints (e.g. \"top 3\"), time ranges, or enumerated targets (e.g. multiple @-handles).\n")
	b.WriteString(`Respond with exactly one JSON object: {"complete": bool, "reason": string}.`)
	fmt.Fprintf(&b, "\nRespond in language: %s.\n", state.UserLanguage)
	return b.String()
}
