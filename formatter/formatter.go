// Package formatter renders a step's raw result into user-facing text: for
// kind=mcp results, an LLM call produces streamed markdown in the run's
// resolved language; for kind=llm results, the formatted output is the raw
// output verbatim (idempotence law — no second LLM call).
package formatter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/workflow"
)

// maxInputChars is the pre-trim bound applied before any value reaches the
// formatting LLM call: the Formatter never sends the full blob past this.
const maxInputChars = 2000

// defaultStreamStartTimeout bounds how long Format waits for the first
// chunk of a kind=mcp streaming call.
const defaultStreamStartTimeout = 60 * time.Second

// Options overrides the Formatter's timing behavior; a nil Options, or
// zero fields within one, fall back to the defaults above.
type Options struct {
	StreamStartTimeout time.Duration
}

// Formatter renders raw step results into chunks of user-facing text.
type Formatter struct {
	client             model.Client
	streamStartTimeout time.Duration
}

// New returns a Formatter backed by client.
func New(client model.Client, opts *Options) *Formatter {
	timeout := defaultStreamStartTimeout
	if opts != nil && opts.StreamStartTimeout > 0 {
		timeout = opts.StreamStartTimeout
	}
	return &Formatter{client: client, streamStartTimeout: timeout}
}

// Format renders raw for a step of the given kind, tool, and mcpName,
// streaming chunks of text to emit (typically as step_result_chunk events)
// and returning the fully assembled formatted result.
func (f *Formatter) Format(ctx context.Context, kind workflow.StepKind, raw any, tool, mcpName, language string, emit func(chunk string)) (string, error) {
	text := renderRaw(raw)

	if kind == workflow.KindLLM {
		emit(text)
		return text, nil
	}

	trimmed := text
	if len(trimmed) > maxInputChars {
		trimmed = trimmed[:maxInputChars] + "..."
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	startTimer := time.AfterFunc(f.streamStartTimeout, cancel)
	defer startTimer.Stop()

	streamer, err := f.client.Stream(streamCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, f.buildPrompt(trimmed, tool, mcpName, language))},
	})
	if err != nil {
		return "", err
	}
	defer streamer.Close()

	var b strings.Builder
	for {
		chunk, err := streamer.Recv()
		startTimer.Stop()
		if err != nil {
			break
		}
		if chunk.Type != model.ChunkText || chunk.Text == "" {
			continue
		}
		b.WriteString(chunk.Text)
		emit(chunk.Text)
	}
	return b.String(), nil
}

func (f *Formatter) buildPrompt(trimmed, tool, mcpName, language string) string {
	var b strings.Builder
	b.WriteString("Render the following tool result as concise, user-friendly markdown.\n")
	b.WriteString("Tool: " + tool + "\n")
	if mcpName != "" {
		b.WriteString("Source: " + mcpName + "\n")
	}
	b.WriteString("Raw result:\n" + trimmed + "\n\n")
	b.WriteString("Respond in language: " + language + ".\n")
	return b.String()
}

// renderRaw reduces an arbitrary raw result to text: strings pass through;
// everything else is JSON-encoded.
func renderRaw(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	enc, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(enc)
}
