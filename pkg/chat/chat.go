package chat

import (
	"fmt"

	"github.com/storyloom/narrate/pkg/story"
)

const (
	ChatRoleUser   = "user"
	ChatRoleAgent  = "assistant"
	ChatRoleSystem = "system"
)

// Turn types. Narrative turns are scene description written by the
// narrator; character_message turns are spoken dialogue and must name
// their speaker.
const (
	TurnNarrative        = "narrative"
	TurnCharacterMessage = "character_message"
)

// Generation modes, selecting the prompt strategy.
const (
	ModeChat   = "chat"   // freeform persona conversation
	ModeAction = "action" // resolve a committed user action against the current node
	ModeBranch = "branch" // branching-choice turn with transition policy
)

// ChatMessage is a single role-tagged message sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatTurn is one item of conversation history or generated output.
// Speaker is required for character_message turns and must be absent
// for narrative turns.
type ChatTurn struct {
	Role    string `json:"role,omitempty"` // "user" or "assistant"
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

func (t ChatTurn) Validate() error {
	switch t.Type {
	case TurnNarrative:
		if t.Speaker != "" {
			return fmt.Errorf("narrative turn must not have a speaker")
		}
	case TurnCharacterMessage:
		if t.Speaker == "" {
			return fmt.Errorf("character_message turn requires a speaker")
		}
	default:
		return fmt.Errorf("unknown turn type %q", t.Type)
	}
	return nil
}

// ModelConfig is the caller's model selection, passed through to the backend.
type ModelConfig struct {
	ModelName string `json:"model_name,omitempty"`
}

// GenConfig carries generation parameters. Pointers distinguish
// "not supplied" from zero values; unset fields use configured defaults.
type GenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxNewTokens     *int     `json:"max_new_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	ReasoningEffort  string   `json:"reasoning_effort,omitempty"`
}

// ChatRequest is a single chat turn request. The engine is stateless:
// the full history, story position and loop count arrive on every call.
type ChatRequest struct {
	UserMessage string            `json:"user_message"`
	LoopCount   int               `json:"loop_count"`
	ChatHistory []ChatTurn        `json:"chat_history,omitempty"`
	Universe    *story.Universe   `json:"universe,omitempty"`
	Scene       *story.Node       `json:"scene,omitempty"`
	Candidates  []story.Candidate `json:"candidates,omitempty"`
	StoryID     string            `json:"story_id,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	IsTest      bool              `json:"is_test,omitempty"`
	ModelCfg    *ModelConfig      `json:"model_cfg,omitempty"`
	GenCfg      *GenConfig        `json:"gen_cfg,omitempty"`
}

func (cr *ChatRequest) Validate() error {
	if cr.UserMessage == "" {
		return fmt.Errorf("user_message cannot be empty")
	}
	if cr.LoopCount < 0 {
		return fmt.Errorf("loop_count cannot be negative")
	}
	if cr.Universe == nil {
		return fmt.Errorf("universe is required")
	}
	for i, turn := range cr.ChatHistory {
		if err := turn.Validate(); err != nil {
			return fmt.Errorf("chat_history[%d]: %w", i, err)
		}
	}
	return nil
}

// ResolveMode returns the effective generation mode. Callers that omit
// mode get branching behavior when a scene is present, plain chat otherwise.
func (cr *ChatRequest) ResolveMode() string {
	if cr.Mode != "" {
		return cr.Mode
	}
	if cr.Scene != nil {
		return ModeBranch
	}
	return ModeChat
}

// Usage reports backend token accounting for one generation.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// Timing reports per-phase latency in milliseconds.
type Timing struct {
	StoryRetrMS int64 `json:"story_retr_ms,omitempty"`
	GenerateMS  int64 `json:"generate_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// ChatResponse is the structured generation result returned to the caller.
// PolicyViolations records soft contract breaches; the envelope is still
// delivered with the backend's values passed through unmodified.
type ChatResponse struct {
	TextOutput            []ChatTurn `json:"text_output,omitempty"`
	NextNodeID            string     `json:"next_node_id,omitempty"`
	ImagePrompt           string     `json:"image_prompt,omitempty"`
	NextChoiceDescription []string   `json:"next_choice_description,omitempty"`
	PolicyViolations      []string   `json:"policy_violations,omitempty"`
	Usage                 *Usage     `json:"usage,omitempty"`
	Timing                *Timing    `json:"timing,omitempty"`
	Error                 string     `json:"error,omitempty"`
}
