package services

import (
	"context"
	"sync"

	"github.com/storyloom/narrate/pkg/chat"
)

// MockLLMAPI is a mock implementation of LLMService for testing
type MockLLMAPI struct {
	InitializeModelFunc  func(ctx context.Context, modelName string) error
	GenerateResponseFunc func(ctx context.Context, messages []chat.ChatMessage, opts GenOptions) (*Completion, error)
	GenerateStreamFunc   func(ctx context.Context, messages []chat.ChatMessage, opts GenOptions, onDelta StreamHandler) (*Completion, error)

	// Scripted defaults used when the Func fields are unset.
	Completion      *Completion
	StreamFragments []string
	StreamErr       error // returned after the fragments are delivered
	Err             error

	// Track calls for testing
	InitializeModelCalls  []string
	GenerateResponseCalls []GenerateCall
	GenerateStreamCalls   []GenerateCall

	mu sync.Mutex // protects all fields above
}

type GenerateCall struct {
	Messages []chat.ChatMessage
	Opts     GenOptions
}

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		InitializeModelCalls:  make([]string, 0),
		GenerateResponseCalls: make([]GenerateCall, 0),
		GenerateStreamCalls:   make([]GenerateCall, 0),
	}
}

func (m *MockLLMAPI) InitializeModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	m.InitializeModelCalls = append(m.InitializeModelCalls, modelName)
	fn := m.InitializeModelFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return nil
}

func (m *MockLLMAPI) GenerateResponse(ctx context.Context, messages []chat.ChatMessage, opts GenOptions) (*Completion, error) {
	m.mu.Lock()
	m.GenerateResponseCalls = append(m.GenerateResponseCalls, GenerateCall{Messages: messages, Opts: opts})
	fn := m.GenerateResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, opts)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Completion != nil {
		return m.Completion, nil
	}
	return &Completion{Content: "{}"}, nil
}

func (m *MockLLMAPI) GenerateStream(ctx context.Context, messages []chat.ChatMessage, opts GenOptions, onDelta StreamHandler) (*Completion, error) {
	m.mu.Lock()
	m.GenerateStreamCalls = append(m.GenerateStreamCalls, GenerateCall{Messages: messages, Opts: opts})
	fn := m.GenerateStreamFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, opts, onDelta)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	var content string
	for _, frag := range m.StreamFragments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := onDelta(frag); err != nil {
			return nil, err
		}
		content += frag
	}
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	if m.Completion != nil {
		c := *m.Completion
		if c.Content == "" {
			c.Content = content
		}
		return &c, nil
	}
	return &Completion{Content: content}, nil
}
