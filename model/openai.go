package model

import (
	"context"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient adapts github.com/openai/openai-go to the engine's
// provider-agnostic Client interface via the Chat Completions API.
type OpenAIClient struct {
	client    openai.Client
	maxTokens int64
}

// NewOpenAIClient constructs a Client backed by the OpenAI Chat Completions
// API. maxTokens caps output when a Request does not specify one.
func NewOpenAIClient(apiKey string, maxTokens int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("model: openai api key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIClient{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: int64(maxTokens),
	}, nil
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	modelID := req.Model
	if modelID == "" {
		modelID = openai.ChatModelGPT4o
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := openai.ChatCompletionNewParams{
		Model:               modelID,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Text()))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Text()))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Text()))
		}
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Complete performs a non-streaming chat completion call.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("model: openai returned no choices")
	}
	return Response{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream performs a streaming chat completion call.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	return &openAIStreamer{stream: stream}, nil
}

type openAIStreamer struct {
	stream *openai.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStreamer) Recv() (Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	}
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return Chunk{Type: ChunkText}, nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		return Chunk{Type: ChunkStop, StopReason: choice.FinishReason}, nil
	}
	return Chunk{Type: ChunkText, Text: choice.Delta.Content}, nil
}

func (s *openAIStreamer) Close() error {
	return s.stream.Close()
}
