package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/contract"
)

// DefaultGroqBaseURL is the OpenAI-compatible Groq endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqService implements LLMService against any OpenAI-compatible API.
type GroqService struct {
	client *openai.Client
	logger *slog.Logger
}

// NewGroqService creates a Groq service. An empty baseURL uses the
// public Groq endpoint; pointing it elsewhere targets any compatible
// server.
func NewGroqService(apiKey, baseURL string, logger *slog.Logger) *GroqService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	cfg.BaseURL = baseURL

	return &GroqService{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// InitializeModel verifies the model is served by the endpoint.
func (s *GroqService) InitializeModel(ctx context.Context, modelName string) error {
	if _, err := s.client.GetModel(ctx, modelName); err != nil {
		return fmt.Errorf("model %s not available: %w", modelName, err)
	}
	s.logger.Info("Model initialized", "model", modelName)
	return nil
}

// GenerateResponse runs a single blocking completion.
func (s *GroqService) GenerateResponse(ctx context.Context, messages []chat.ChatMessage, opts GenOptions) (*Completion, error) {
	req := s.buildRequest(messages, opts)

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	s.logger.Debug("Completion finished",
		"model", req.Model,
		"finish_reason", choice.FinishReason,
		"total_tokens", resp.Usage.TotalTokens)

	return &Completion{
		Content: choice.Message.Content,
		Usage: &chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			FinishReason:     string(choice.FinishReason),
		},
	}, nil
}

// GenerateStream runs a streaming completion. Each content delta is
// forwarded to onDelta before being accumulated, so callers see
// fragments at wire latency. The final usage block, when the endpoint
// sends one, is attached to the returned completion.
func (s *GroqService) GenerateStream(ctx context.Context, messages []chat.ChatMessage, opts GenOptions, onDelta StreamHandler) (*Completion, error) {
	req := s.buildRequest(messages, opts)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}
	defer stream.Close()

	completion := &Completion{}
	var content []byte
	var finishReason string

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("receiving stream chunk: %w", err)
		}

		if resp.Usage != nil {
			completion.Usage = &chat.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue // usage-only chunk
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		if err := onDelta(choice.Delta.Content); err != nil {
			return nil, fmt.Errorf("stream handler: %w", err)
		}
		content = append(content, choice.Delta.Content...)
	}

	completion.Content = string(content)
	if completion.Usage != nil {
		completion.Usage.FinishReason = finishReason
	} else if finishReason != "" {
		completion.Usage = &chat.Usage{FinishReason: finishReason}
	}

	s.logger.Debug("Stream finished",
		"model", req.Model,
		"finish_reason", finishReason,
		"content_bytes", len(completion.Content))

	return completion, nil
}

func (s *GroqService) buildRequest(messages []chat.ChatMessage, opts GenOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*opts.FrequencyPenalty)
	}
	if opts.ReasoningEffort != "" {
		req.ReasoningEffort = opts.ReasoningEffort
	}
	if opts.Schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   contract.SchemaName,
				Schema: opts.Schema,
				Strict: true,
			},
		}
	}
	return req
}
