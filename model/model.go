// Package model defines the provider-agnostic message and streaming types
// used by the Planner, Observer, Result Formatter, and Language Resolver.
// Every LLM call in the engine goes through the single Client interface so
// swapping providers swaps all four callers at once.
package model

import "context"

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// Message is a single chat message. Parts preserve structure (text vs tool
// use/result) rather than flattening to plain strings, mirroring how
// providers represent multi-part turns.
type Message struct {
	Role  ConversationRole
	Parts []Part
}

// Part is implemented by every message content block.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct{ Text string }

// ToolUsePart declares a tool invocation requested by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultPart carries a tool result attached to a user-role message so a
// subsequent call can read it.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Text returns the concatenation of every TextPart in the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// NewTextMessage is a convenience constructor for single-part text messages.
func NewTextMessage(role ConversationRole, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// TokenUsage tracks token counts for a model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request captures inputs for a model invocation.
type Request struct {
	// Model is the provider-specific model identifier.
	Model string
	// Messages is the ordered transcript, typically system prompt + history.
	Messages []Message
	// Temperature controls sampling when supported.
	Temperature float32
	// MaxTokens caps output tokens when supported.
	MaxTokens int
	// JSONMode requests a structured-JSON-only response when the provider
	// supports it; used by the Planner and Observer.
	JSONMode bool
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Text  string
	Usage TokenUsage
}

// ChunkType classifies a streaming chunk.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkUsage ChunkType = "usage"
	ChunkStop  ChunkType = "stop"
)

// Chunk is a streaming event from the model.
type Chunk struct {
	Type       ChunkType
	Text       string
	UsageDelta *TokenUsage
	StopReason string
}

// Streamer delivers incremental model output. Callers must drain Recv until
// it returns io.EOF (or another terminal error) and then call Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic model client. Implementations translate
// Requests into provider-specific calls.
type Client interface {
	// Complete performs a non-streaming invocation, used by the Planner and
	// Observer which need the full structured-JSON response before acting.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream performs a streaming invocation, used by the Result Formatter
	// to emit step_result_chunk events as markdown renders.
	Stream(ctx context.Context, req Request) (Streamer, error)
}
