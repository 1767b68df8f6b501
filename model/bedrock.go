package model

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient adapts the AWS Bedrock Converse API to the engine's
// provider-agnostic Client interface. It splits system vs. conversational
// messages the way Converse expects, matching the shape of production
// Bedrock-backed planners.
type BedrockClient struct {
	runtime      *bedrockruntime.Client
	defaultModel string
	maxTokens    int32
}

// NewBedrockClient constructs a Client backed by an already-configured
// bedrockruntime.Client (credentials/region resolved by the caller via the
// AWS SDK's standard config loading).
func NewBedrockClient(runtime *bedrockruntime.Client, defaultModel string, maxTokens int) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("model: bedrock runtime client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockClient{runtime: runtime, defaultModel: defaultModel, maxTokens: int32(maxTokens)}, nil
}

func (c *BedrockClient) buildInput(req Request) (*bedrockruntime.ConverseInput, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: msg.Text()})
			continue
		}
		role := brtypes.ConversationRoleUser
		if msg.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg.Text()}},
		})
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(req.Temperature),
		},
	}
	if len(system) > 0 {
		input.System = system
	}
	return input, nil
}

// Complete issues a single Converse call and flattens the assistant message
// to plain text.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return Response{}, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return Response{}, err
	}
	var text string
	if msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += t.Value
			}
		}
	}
	usage := TokenUsage{}
	if out.Usage != nil {
		usage = TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return Response{Text: text, Usage: usage}, nil
}

// Stream issues a ConverseStream call and adapts the event stream to the
// engine's chunk-oriented Streamer.
func (c *BedrockClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, err
	}
	return &bedrockStreamer{events: out.GetStream()}, nil
}

type bedrockStreamer struct {
	events *bedrockruntime.ConverseStreamEventStream
}

func (s *bedrockStreamer) Recv() (Chunk, error) {
	evt, ok := <-s.events.Events()
	if !ok {
		if err := s.events.Err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	}
	switch e := evt.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
			return Chunk{Type: ChunkText, Text: d.Value}, nil
		}
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage != nil {
			return Chunk{Type: ChunkUsage, UsageDelta: &TokenUsage{
				OutputTokens: int(aws.ToInt32(e.Value.Usage.OutputTokens)),
			}}, nil
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return Chunk{Type: ChunkStop, StopReason: string(e.Value.StopReason)}, nil
	}
	return Chunk{Type: ChunkText}, nil
}

func (s *bedrockStreamer) Close() error {
	return s.events.Close()
}
