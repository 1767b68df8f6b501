package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/mcp"
	"github.com/taskforge/agentcore/mcp/retry"
	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/toolerrors"
	"github.com/taskforge/agentcore/workflow"
)

// Defaults for Options fields left unset at construction.
const (
	// defaultBaseDelay is the retry backoff unit: attempt N sleeps
	// defaultBaseDelay*N before re-invoking.
	defaultBaseDelay  = 1 * time.Second
	defaultMCPTimeout = 30 * time.Second
	defaultLLMTimeout = 15 * time.Second
)

// Options overrides the Executor's timing behavior; a nil Options, or zero
// fields within one, fall back to the defaults above.
type Options struct {
	BaseRetryDelay time.Duration
	MCPTimeout     time.Duration
	LLMTimeout     time.Duration
}

// retryableGroups is the set of mcp.RetryGroup values the Executor retries
// with backoff; everything else (auth, config, invalid_argument-equivalent)
// surfaces immediately as a terminal failure for this step.
var retryableGroups = map[mcp.RetryGroup]bool{
	mcp.RetryTransient:             true,
	mcp.RetryRateLimit:             true,
	mcp.RetryTimeout:               true,
	mcp.RetryConnectionRecoverable: true,
}

// Credentials resolves a user's stored auth fields for an MCP server. The
// Session Manager uses the result to run its verification probe.
type Credentials interface {
	Fields(ctx context.Context, userID, mcpName string) (map[string]string, error)
}

// Outcome is the result of one Execute call: either a raw success value, or
// a terminal failure with its mechanical classification.
type Outcome struct {
	RawResult      any
	Classification mcp.Classification
	Err            error
}

// Executor dispatches steps for a single engine run, bound to one user and
// one session pool.
type Executor struct {
	sessions    *mcp.Manager
	model       model.Client
	credentials Credentials
	userID      string

	baseDelay  time.Duration
	mcpTimeout time.Duration
	llmTimeout time.Duration
}

// New returns an Executor bound to userID for the duration of one run.
func New(sessions *mcp.Manager, modelClient model.Client, credentials Credentials, userID string, opts *Options) *Executor {
	ex := &Executor{
		sessions:    sessions,
		model:       modelClient,
		credentials: credentials,
		userID:      userID,
		baseDelay:   defaultBaseDelay,
		mcpTimeout:  defaultMCPTimeout,
		llmTimeout:  defaultLLMTimeout,
	}
	if opts != nil {
		if opts.BaseRetryDelay > 0 {
			ex.baseDelay = opts.BaseRetryDelay
		}
		if opts.MCPTimeout > 0 {
			ex.mcpTimeout = opts.MCPTimeout
		}
		if opts.LLMTimeout > 0 {
			ex.llmTimeout = opts.LLMTimeout
		}
	}
	return ex
}

// Execute runs step to completion, retrying transient failures up to
// step.MaxRetries+1 total attempts. It mutates step in place (Status,
// Attempts, RawResult, Error) and returns the final Outcome.
func (e *Executor) Execute(ctx context.Context, step *workflow.Step, state *workflow.State, ag agent.Descriptor) Outcome {
	step.Status = workflow.StatusExecuting

	var outcome Outcome
	for step.CanRetry() {
		step.Attempts++
		if step.Attempts > 1 {
			select {
			case <-ctx.Done():
				outcome = Outcome{Err: ctx.Err()}
				step.Status = workflow.StatusFailed
				step.Error = outcome.Err
				return outcome
			case <-time.After(e.baseDelay * time.Duration(step.Attempts-1)):
			}
		}

		outcome = e.dispatch(ctx, step, state, ag)
		if outcome.Err == nil {
			step.Status = workflow.StatusCompleted
			step.RawResult = outcome.RawResult
			step.Error = nil
			return outcome
		}

		step.Error = outcome.Err
		if step.Kind == workflow.KindLLM || !retryableGroups[mcp.Group(outcome.Classification)] {
			break
		}
	}

	step.Status = workflow.StatusFailed
	return outcome
}

func (e *Executor) dispatch(ctx context.Context, step *workflow.Step, state *workflow.State, ag agent.Descriptor) Outcome {
	args := ResolveArgs(step.Tool, step.Args, state.DataStore)

	switch step.Kind {
	case workflow.KindMCP:
		return e.dispatchMCP(ctx, step, args, ag)
	case workflow.KindLLM:
		return e.dispatchLLM(ctx, step, args, state)
	default:
		return Outcome{Err: toolerrors.Errorf("executor: unknown step kind %q", step.Kind)}
	}
}

func (e *Executor) dispatchMCP(ctx context.Context, step *workflow.Step, args map[string]any, ag agent.Descriptor) Outcome {
	server, ok := ag.MCP(step.MCPName)
	if !ok {
		return Outcome{Classification: mcp.ClassConfigInvalid, Err: toolerrors.Errorf("executor: mcp %q not in agent catalogue", step.MCPName)}
	}

	authFields, err := e.credentials.Fields(ctx, e.userID, step.MCPName)
	if err != nil {
		return Outcome{Classification: mcp.ClassAuthMissingParams, Err: toolerrors.FromError(err)}
	}

	sess, err := e.sessions.EnsureSession(ctx, e.userID, step.MCPName, authFields, server.RequiredAuthFields)
	if err != nil {
		return Outcome{Classification: mcp.ClassMCPAuthRequired, Err: toolerrors.FromError(err)}
	}

	outcome := e.invokeMCP(ctx, sess, step.Tool, args)
	if outcome.Err == nil || !retry.IsRepairable(outcome.Classification) {
		return outcome
	}

	repaired, ok := e.repairArgs(ctx, step.Tool, args, outcome.Err)
	if !ok {
		return outcome
	}
	step.Args = repaired

	retried := e.invokeMCP(ctx, sess, step.Tool, repaired)
	if retried.Err != nil {
		retried.Err = &retry.RetryableError{Prompt: retry.BuildRepairPrompt(step.Tool, retried.Err.Error(), "{}", ""), Cause: retried.Err}
	}
	return retried
}

// invokeMCP marshals args and makes one bounded call through the session
// pool, decoding the result into its natural JSON representation.
func (e *Executor) invokeMCP(ctx context.Context, sess *mcp.Session, tool string, args map[string]any) Outcome {
	payload, err := json.Marshal(args)
	if err != nil {
		return Outcome{Classification: mcp.ClassConfigInvalid, Err: toolerrors.FromError(err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.mcpTimeout)
	defer cancel()

	result, class, err := e.sessions.Invoke(callCtx, sess, tool, payload)
	if err != nil {
		return Outcome{Classification: class, Err: err}
	}

	var raw any
	if len(result) > 0 {
		if jsonErr := json.Unmarshal(result, &raw); jsonErr != nil {
			raw = string(result)
		}
	}
	return Outcome{RawResult: raw}
}

// repairArgs asks the model for corrected arguments against the server's
// rejection message, once. It reports ok=false if the model call fails or
// its response is not a valid JSON object, in which case the caller
// surfaces the original failure unchanged.
func (e *Executor) repairArgs(ctx context.Context, tool string, args map[string]any, cause error) (map[string]any, bool) {
	exampleJSON, _ := json.Marshal(args)
	prompt := retry.BuildRepairPrompt(tool, cause.Error(), string(exampleJSON), "")

	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	resp, err := e.model.Complete(callCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return nil, false
	}

	var repaired map[string]any
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &repaired); jsonErr != nil {
		return nil, false
	}
	return repaired, true
}

// capabilityPrompt builds the universal capability prompt for kind=llm
// steps: the action name, its arguments, and the run's language directive.
func capabilityPrompt(tool string, args map[string]any, lang string) string {
	payload, _ := json.Marshal(args)
	return fmt.Sprintf(
		"Capability: %s\nArguments: %s\n\nPerform this capability and return only the result text.\nRespond in language: %s.",
		tool, payload, lang,
	)
}

func (e *Executor) dispatchLLM(ctx context.Context, step *workflow.Step, args map[string]any, state *workflow.State) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	resp, err := e.model.Complete(callCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, capabilityPrompt(step.Tool, args, state.UserLanguage))},
	})
	if err != nil {
		return Outcome{Classification: mcp.ClassServerInternal, Err: toolerrors.FromError(err)}
	}
	return Outcome{RawResult: resp.Text}
}
