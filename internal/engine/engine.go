// Package engine orchestrates a chat turn: story context resolution,
// transition policy, prompt assembly, backend generation and response
// contract enforcement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyloom/narrate/internal/services"
	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/contract"
	"github.com/storyloom/narrate/pkg/prompts"
	"github.com/storyloom/narrate/pkg/story"
)

// Defaults are the generation settings used when a request does not
// override them.
type Defaults struct {
	ModelName        string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	ReasoningEffort  string
	HistoryLimit     int
	SnippetLimit     int
	Thresholds       story.Thresholds
}

// Engine runs chat turns. It is stateless across turns; all story
// position and history arrive on the request.
type Engine struct {
	llm      services.LLMService
	storyCtx *services.StoryContextService
	logger   *slog.Logger
	defaults Defaults
	schema   contract.SchemaMap

	// now is injectable so prompt dates and timings are testable.
	now func() time.Time
}

func New(llm services.LLMService, storyCtx *services.StoryContextService, logger *slog.Logger, defaults Defaults) *Engine {
	if defaults.HistoryLimit <= 0 {
		defaults.HistoryLimit = 20
	}
	if defaults.Thresholds == (story.Thresholds{}) {
		defaults.Thresholds = story.DefaultThresholds
	}
	return &Engine{
		llm:      llm,
		storyCtx: storyCtx,
		logger:   logger,
		defaults: defaults,
		schema:   contract.ResponseSchema(),
		now:      time.Now,
	}
}

// turnState carries everything derived from the request before the
// backend call.
type turnState struct {
	mode     string
	policy   story.Policy
	messages []chat.ChatMessage
	opts     services.GenOptions
	timing   chat.Timing
}

// prepare validates the request and assembles the prompt. All errors
// here are caller errors.
func (e *Engine) prepare(ctx context.Context, req *chat.ChatRequest) (*turnState, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	st := &turnState{mode: req.ResolveMode()}

	var resolved *story.Context
	if req.Scene != nil && req.StoryID != "" && e.storyCtx != nil {
		retrStart := e.now()
		resolved = e.storyCtx.Resolve(ctx, req.StoryID, req.Scene, req.Candidates)
		st.timing.StoryRetrMS = e.now().Sub(retrStart).Milliseconds()
	}

	var snippets []story.Snippet
	if req.StoryID != "" && e.storyCtx != nil && e.defaults.SnippetLimit > 0 {
		snippets = e.storyCtx.Retrieve(ctx, req.StoryID, req.UserMessage, e.defaults.SnippetLimit)
	}

	builder := prompts.New().
		WithUniverse(req.Universe).
		WithScene(req.Scene).
		WithCandidates(req.Candidates).
		WithResolvedContext(resolved).
		WithSnippets(snippets).
		WithHistory(req.ChatHistory).
		WithHistoryLimit(e.defaults.HistoryLimit).
		WithUserMessage(req.UserMessage).
		WithDate(e.now().Format("2006-01-02"))

	switch st.mode {
	case chat.ModeAction:
		builder.WithStrategy(prompts.StrategyActionResolution)
	case chat.ModeBranch:
		builder.WithStrategy(prompts.StrategyBranching)
		policy, err := e.defaults.Thresholds.Decide(req.LoopCount, req.Candidates)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		st.policy = policy
		builder.WithPolicy(policy)
	default:
		builder.WithStrategy(prompts.StrategyConversational)
	}

	messages, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	st.messages = messages
	st.opts = e.genOptions(req)
	return st, nil
}

func (e *Engine) genOptions(req *chat.ChatRequest) services.GenOptions {
	opts := services.GenOptions{
		Model:            e.defaults.ModelName,
		Temperature:      e.defaults.Temperature,
		TopP:             e.defaults.TopP,
		MaxTokens:        e.defaults.MaxTokens,
		FrequencyPenalty: e.defaults.FrequencyPenalty,
		ReasoningEffort:  e.defaults.ReasoningEffort,
		Schema:           e.schema,
	}
	if req.ModelCfg != nil && req.ModelCfg.ModelName != "" {
		opts.Model = req.ModelCfg.ModelName
	}
	if gc := req.GenCfg; gc != nil {
		if gc.Temperature != nil {
			opts.Temperature = gc.Temperature
		}
		if gc.TopP != nil {
			opts.TopP = gc.TopP
		}
		if gc.MaxNewTokens != nil {
			opts.MaxTokens = gc.MaxNewTokens
		}
		if gc.FrequencyPenalty != nil {
			opts.FrequencyPenalty = gc.FrequencyPenalty
		}
		if gc.ReasoningEffort != "" {
			opts.ReasoningEffort = gc.ReasoningEffort
		}
	}
	return opts
}

// finish decodes and validates the raw completion and fills usage and
// timing. Decode failures are hard; field-level breaches are recorded
// on the response and it is delivered anyway.
func (e *Engine) finish(req *chat.ChatRequest, st *turnState, completion *services.Completion, start, genStart time.Time) (*chat.ChatResponse, error) {
	resp, err := contract.Decode(completion.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}

	resp.PolicyViolations = contract.Validate(resp, req.Scene, req.Candidates, st.policy)
	if len(resp.PolicyViolations) > 0 {
		e.logger.Warn("Response breached contract",
			"mode", st.mode,
			"violations", resp.PolicyViolations)
	}

	resp.Usage = completion.Usage
	end := e.now()
	st.timing.GenerateMS = end.Sub(genStart).Milliseconds()
	st.timing.TotalMS = end.Sub(start).Milliseconds()
	timing := st.timing
	resp.Timing = &timing
	return resp, nil
}

// Chat runs one blocking chat turn.
func (e *Engine) Chat(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error) {
	start := e.now()

	st, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	genStart := e.now()
	completion, err := e.llm.GenerateResponse(ctx, st.messages, st.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	return e.finish(req, st, completion, start, genStart)
}

// EventType discriminates stream events.
type EventType int

const (
	// EventDelta carries one raw content fragment.
	EventDelta EventType = iota

	// EventFinal carries the decoded, validated response after the
	// backend finishes.
	EventFinal

	// EventError carries a mid-stream failure. At most one is emitted
	// per turn and it is always the last event.
	EventError
)

// Event is one item of a streamed turn.
type Event struct {
	Type     EventType
	Delta    string
	Response *chat.ChatResponse
	Err      error
}

// EmitFunc delivers one event to the transport. Returning an error
// aborts the turn; the engine treats it as the client being gone.
type EmitFunc func(Event) error

// ChatStream runs one streaming chat turn. Errors returned directly
// occur before any event is emitted and can still map to a transport
// status. Once deltas flow, failures are delivered as a single
// EventError and ChatStream returns nil: the transport stays intact.
func (e *Engine) ChatStream(ctx context.Context, req *chat.ChatRequest, emit EmitFunc) error {
	start := e.now()

	st, err := e.prepare(ctx, req)
	if err != nil {
		return err
	}

	genStart := e.now()
	streaming := false
	completion, err := e.llm.GenerateStream(ctx, st.messages, st.opts, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		streaming = true
		return emit(Event{Type: EventDelta, Delta: delta})
	})
	if err != nil {
		// Cancellation means the client is gone and no frame can reach
		// it. A deadline is different: the transport is still alive and
		// must be terminated with an error frame and the sentinel.
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		if !streaming {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		e.logger.Error("Stream failed mid-turn", "error", err)
		return emit(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrBackend, err)})
	}

	resp, err := e.finish(req, st, completion, start, genStart)
	if err != nil {
		if !streaming {
			return err
		}
		e.logger.Error("Stream completion unparseable", "error", err)
		return emit(Event{Type: EventError, Err: err})
	}

	return emit(Event{Type: EventFinal, Response: resp})
}
