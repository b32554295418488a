package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/story"
)

// Strategy selects the prompt-construction variant. The variants share
// the persona, date and history primitives and differ in how story data
// and rules are framed.
type Strategy int

const (
	// StrategyConversational builds a plain persona chat prompt with no
	// story-graph data.
	StrategyConversational Strategy = iota

	// StrategyActionResolution resolves a committed user action against
	// the current node only; candidate branches are withheld.
	StrategyActionResolution

	// StrategyBranching builds the full branching-choice prompt: current
	// node, candidate list, transition policy and segregation rules.
	StrategyBranching
)

var (
	// ErrMissingPersona is returned when no universe/persona data is
	// supplied; the engine cannot construct a prompt without an identity.
	ErrMissingPersona = errors.New("persona is required to build prompt")

	// ErrMissingStoryNode is returned when a story-graph strategy is
	// requested without scene data.
	ErrMissingStoryNode = errors.New("story node is required to build prompt")
)

// Builder constructs the ordered message sequence submitted to the
// generation backend using a fluent interface. For identical inputs the
// output is byte-identical; no wall-clock values are sampled internally.
type Builder struct {
	strategy     Strategy
	universe     *story.Universe
	scene        *story.Node
	candidates   []story.Candidate
	resolved     *story.Context
	snippets     []story.Snippet
	policy       story.Policy
	hasPolicy    bool
	history      []chat.ChatTurn
	historyLimit int
	userMessage  string
	userName     string
	date         string
}

// New creates a new prompt builder with default settings.
func New() *Builder {
	return &Builder{
		historyLimit: 20, // default history window
		userName:     "User",
	}
}

// WithStrategy selects the prompt variant.
func (b *Builder) WithStrategy(s Strategy) *Builder {
	b.strategy = s
	return b
}

// WithUniverse sets the persona/world data (required).
func (b *Builder) WithUniverse(u *story.Universe) *Builder {
	b.universe = u
	return b
}

// WithScene sets the current story node.
func (b *Builder) WithScene(n *story.Node) *Builder {
	b.scene = n
	return b
}

// WithCandidates sets the transition targets for branching turns.
func (b *Builder) WithCandidates(cs []story.Candidate) *Builder {
	b.candidates = cs
	return b
}

// WithResolvedContext attaches node text resolved by the story loader.
func (b *Builder) WithResolvedContext(ctx *story.Context) *Builder {
	b.resolved = ctx
	return b
}

// WithSnippets attaches retrieved story snippets for grounding.
func (b *Builder) WithSnippets(sn []story.Snippet) *Builder {
	b.snippets = sn
	return b
}

// WithPolicy sets the transition policy directive for branching turns.
func (b *Builder) WithPolicy(p story.Policy) *Builder {
	b.policy = p
	b.hasPolicy = true
	return b
}

// WithHistory sets the conversation history.
func (b *Builder) WithHistory(turns []chat.ChatTurn) *Builder {
	b.history = turns
	return b
}

// WithHistoryLimit sets the history window size.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// WithUserMessage sets the user's current input.
func (b *Builder) WithUserMessage(msg string) *Builder {
	b.userMessage = msg
	return b
}

// WithUserName sets the name the persona addresses the user by.
func (b *Builder) WithUserName(name string) *Builder {
	if name != "" {
		b.userName = name
	}
	return b
}

// WithDate injects the current-date string (YYYY-MM-DD). The date is an
// external input: the builder never reads the clock.
func (b *Builder) WithDate(date string) *Builder {
	b.date = date
	return b
}

// Build constructs and returns the final message array for the backend.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if b.universe == nil {
		return nil, ErrMissingPersona
	}
	if b.strategy != StrategyConversational && b.scene == nil {
		return nil, ErrMissingStoryNode
	}

	messages := make([]chat.ChatMessage, 0, len(b.history)+4)

	// 1. Date context
	if b.date != "" {
		messages = append(messages, chat.ChatMessage{
			Role:    chat.ChatRoleSystem,
			Content: DateBlock(b.date),
		})
	}

	// 2. Retrieved story context, before the persona so it reads as background
	if block := SnippetBlock(b.snippets); block != "" {
		messages = append(messages, chat.ChatMessage{
			Role:    chat.ChatRoleSystem,
			Content: block,
		})
	}

	// 3. Main system prompt
	messages = append(messages, chat.ChatMessage{
		Role:    chat.ChatRoleSystem,
		Content: b.systemPrompt(),
	})

	// 4. Windowed chat history
	messages = append(messages, b.renderHistory()...)

	// 5. Current user input
	messages = append(messages, b.renderUserMessage())

	return messages, nil
}

// systemPrompt assembles the strategy-specific system prompt.
func (b *Builder) systemPrompt() string {
	var parts []string

	parts = append(parts, fmt.Sprintf(SystemRuleTemplate, b.universe.Protagonist, b.userName))

	switch b.strategy {
	case StrategyConversational:
		parts = append(parts, RoleplayRule)
	case StrategyActionResolution:
		parts = append(parts, "<STORY_DATA>\n"+SceneBlock(b.scene, b.resolved)+"\n</STORY_DATA>")
		parts = append(parts, ActionRule)
	case StrategyBranching:
		var sd strings.Builder
		sd.WriteString("<STORY_DATA>\n")
		sd.WriteString(SceneBlock(b.scene, b.resolved))
		sd.WriteString("\n\n")
		sd.WriteString(CandidateBlock(b.candidates, b.resolved))
		if b.hasPolicy {
			sd.WriteString("\n\n")
			sd.WriteString(b.policy.InstructionText(b.scene.NodeID))
		}
		sd.WriteString("\n</STORY_DATA>")
		parts = append(parts, sd.String())
		parts = append(parts, BranchingRule)
	}

	parts = append(parts, PersonaBlock(b.universe))
	parts = append(parts, ResponseInstruction)

	return strings.Join(parts, "\n\n")
}

// historyTurn is the compact JSON shape past assistant turns are
// re-serialized into, so the backend can tell its own past narration
// apart from past dialogue.
type historyTurn struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// renderHistory converts chat turns to role-tagged messages, windowed to
// the history limit.
func (b *Builder) renderHistory() []chat.ChatMessage {
	turns := b.history
	if len(turns) > b.historyLimit {
		turns = turns[len(turns)-b.historyLimit:]
	}

	messages := make([]chat.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.ChatRoleUser:
			messages = append(messages, chat.ChatMessage{
				Role:    chat.ChatRoleUser,
				Content: turn.Text,
			})
		case chat.ChatRoleAgent:
			content, err := json.Marshal(historyTurn{
				Type:    turn.Type,
				Speaker: turn.Speaker,
				Text:    turn.Text,
			})
			if err != nil {
				// Marshal of a flat string struct cannot fail; guard anyway.
				content = []byte(turn.Text)
			}
			messages = append(messages, chat.ChatMessage{
				Role:    chat.ChatRoleAgent,
				Content: string(content),
			})
		}
	}
	return messages
}

// renderUserMessage appends the current input as the final message.
// Action resolution prefixes it so the backend treats it as a committed
// action rather than speech.
func (b *Builder) renderUserMessage() chat.ChatMessage {
	content := b.userMessage
	if b.strategy == StrategyActionResolution {
		content = "[User Action]: " + content
	}
	return chat.ChatMessage{
		Role:    chat.ChatRoleUser,
		Content: content,
	}
}
