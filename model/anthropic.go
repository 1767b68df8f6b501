package model

import (
	"context"
	"errors"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts github.com/anthropics/anthropic-sdk-go to the
// engine's provider-agnostic Client interface.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicClient constructs a Client backed by the Anthropic Messages
// API. maxTokens caps output when a Request does not specify one.
func NewAnthropicClient(apiKey string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("model: anthropic api key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: int64(maxTokens),
	}, nil
}

func (c *AnthropicClient) params(req Request) anthropic.MessageNewParams {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	modelID := req.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-5"
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Text()})
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Text())},
		})
	}
	return params
}

// Complete performs a non-streaming Messages.New call and flattens the
// response to plain text, used by the Planner/Observer for their
// structured-JSON decisions.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	msg, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return Response{}, err
	}
	var text string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += b.Text
		}
	}
	return Response{
		Text: text,
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream performs a streaming Messages.NewStreaming call, used by the
// Result Formatter to emit chunk-by-chunk markdown.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	s := c.client.Messages.NewStreaming(ctx, c.params(req))
	return &anthropicStreamer{stream: s, msg: &anthropic.Message{}}, nil
}

type anthropicStreamer struct {
	stream *anthropic.MessageStream
	msg    *anthropic.Message
}

func (s *anthropicStreamer) Recv() (Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	}
	event := s.stream.Current()
	if err := s.msg.Accumulate(event); err != nil {
		return Chunk{}, err
	}
	switch delta := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
			return Chunk{Type: ChunkText, Text: text.Text}, nil
		}
	case anthropic.MessageDeltaEvent:
		return Chunk{
			Type:       ChunkUsage,
			UsageDelta: &TokenUsage{OutputTokens: int(delta.Usage.OutputTokens)},
		}, nil
	case anthropic.MessageStopEvent:
		return Chunk{Type: ChunkStop, StopReason: string(s.msg.StopReason)}, nil
	}
	return Chunk{Type: ChunkText}, nil
}

func (s *anthropicStreamer) Close() error {
	return s.stream.Close()
}
