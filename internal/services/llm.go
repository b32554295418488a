package services

import (
	"context"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/contract"
)

// Completion is one raw generation result. Content is the unparsed
// completion text; structured decoding happens in the engine.
type Completion struct {
	Content string
	Usage   *chat.Usage
}

// GenOptions carries per-request generation parameters. Pointer fields
// left nil fall back to the provider's configured defaults. Schema, when
// set, requests structured JSON output.
type GenOptions struct {
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	ReasoningEffort  string
	Schema           contract.SchemaMap
}

// StreamHandler receives each content delta as it arrives. Returning an
// error aborts the stream.
type StreamHandler func(delta string) error

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// InitializeModel prepares the model for use on startup
	InitializeModel(ctx context.Context, modelName string) error

	// GenerateResponse runs a single blocking completion
	GenerateResponse(ctx context.Context, messages []chat.ChatMessage, opts GenOptions) (*Completion, error)

	// GenerateStream runs a streaming completion, invoking onDelta for
	// each content fragment, and returns the accumulated completion
	GenerateStream(ctx context.Context, messages []chat.ChatMessage, opts GenOptions, onDelta StreamHandler) (*Completion, error)
}
