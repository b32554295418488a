package chat

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/storyloom/narrate/pkg/story"
)

func TestChatTurn_Validate(t *testing.T) {
	tests := []struct {
		name      string
		turn      ChatTurn
		expectErr bool
	}{
		{name: "narrative without speaker", turn: ChatTurn{Type: TurnNarrative, Text: "x"}},
		{name: "narrative with speaker", turn: ChatTurn{Type: TurnNarrative, Text: "x", Speaker: "Mirae"}, expectErr: true},
		{name: "character message with speaker", turn: ChatTurn{Type: TurnCharacterMessage, Text: "x", Speaker: "Mirae"}},
		{name: "character message without speaker", turn: ChatTurn{Type: TurnCharacterMessage, Text: "x"}, expectErr: true},
		{name: "unknown type", turn: ChatTurn{Type: "poem", Text: "x"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestChatRequest_Validate(t *testing.T) {
	universe := &story.Universe{Protagonist: "Mirae"}

	if err := (&ChatRequest{UserMessage: "hi", Universe: universe}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (&ChatRequest{Universe: universe}).Validate(); err == nil {
		t.Error("empty user_message should be rejected")
	}
	if err := (&ChatRequest{UserMessage: "hi", LoopCount: -1, Universe: universe}).Validate(); err == nil {
		t.Error("negative loop_count should be rejected")
	}
	if err := (&ChatRequest{UserMessage: "hi"}).Validate(); err == nil {
		t.Error("missing universe should be rejected")
	}

	bad := &ChatRequest{
		UserMessage: "hi",
		Universe:    universe,
		ChatHistory: []ChatTurn{{Type: TurnCharacterMessage, Text: "x"}},
	}
	if err := bad.Validate(); err == nil {
		t.Error("invalid history turn should be rejected")
	}
}

func TestChatRequest_ResolveMode(t *testing.T) {
	if mode := (&ChatRequest{Mode: ModeAction}).ResolveMode(); mode != ModeAction {
		t.Errorf("explicit mode should win, got %s", mode)
	}
	if mode := (&ChatRequest{Scene: &story.Node{NodeID: "A"}}).ResolveMode(); mode != ModeBranch {
		t.Errorf("scene implies branch mode, got %s", mode)
	}
	if mode := (&ChatRequest{}).ResolveMode(); mode != ModeChat {
		t.Errorf("no scene implies chat mode, got %s", mode)
	}
}

func TestChatResponse_RoundTrip(t *testing.T) {
	original := ChatResponse{
		TextOutput: []ChatTurn{
			{Role: ChatRoleAgent, Type: TurnNarrative, Text: "Rain hammers the skylight."},
			{Role: ChatRoleAgent, Type: TurnCharacterMessage, Text: "You came back.", Speaker: "Mirae"},
		},
		NextNodeID:            "B",
		ImagePrompt:           "a flooded library at night",
		NextChoiceDescription: []string{"You offer to help.", "You turn to leave."},
		PolicyViolations:      []string{"stayed at node \"A\" under MUST_MOVE policy"},
		Usage:                 &Usage{PromptTokens: 42, CompletionTokens: 17, TotalTokens: 59, FinishReason: "stop"},
		Timing:                &Timing{StoryRetrMS: 3, GenerateMS: 1200, TotalMS: 1210},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ChatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip lost data:\noriginal: %+v\ndecoded:  %+v", original, decoded)
	}
}
