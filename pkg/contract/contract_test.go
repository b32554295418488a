package contract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/story"
)

const validCompletion = `{
	"text_output": [
		{"type": "narrative", "text": "Rain hammers the skylight.", "speaker": null},
		{"type": "character_message", "text": "You came back.", "speaker": "Mirae"},
		{"type": "narrative", "text": "She sets down a dripping ledger.", "speaker": null},
		{"type": "character_message", "text": "The lower stacks flooded again.", "speaker": "Mirae"},
		{"type": "narrative", "text": "Ink glows faintly along the shelves.", "speaker": null},
		{"type": "character_message", "text": "Stay sharp tonight.", "speaker": "Warden Sol"},
		{"type": "narrative", "text": "Thunder rolls over the atrium.", "speaker": null},
		{"type": "narrative", "text": "The rain does not let up.", "speaker": null}
	],
	"next_node_id": "A",
	"image_prompt": "a flooded library at night",
	"next_choice_description": ["You offer to help.", "You turn to leave."]
}`

// validTurns builds a contract-clean text_output of n narrative turns.
func validTurns(n int) []chat.ChatTurn {
	turns := make([]chat.ChatTurn, n)
	for i := range turns {
		turns[i] = chat.ChatTurn{Type: chat.TurnNarrative, Text: "The rain continues."}
	}
	return turns
}

func testScene() *story.Node {
	return &story.Node{
		NodeID:      "A",
		Description: "The restricted stacks.",
		Characters:  []string{"Mirae", "Warden Sol"},
	}
}

func testCandidates() []story.Candidate {
	return []story.Candidate{
		{CandidateID: "B", Condition: "user agrees to help"},
		{CandidateID: "C", Condition: "user leaves"},
	}
}

func TestDecode(t *testing.T) {
	resp, err := Decode(validCompletion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.TextOutput) != 8 {
		t.Fatalf("expected 8 text_output items, got %d", len(resp.TextOutput))
	}
	if resp.TextOutput[0].Speaker != "" {
		t.Errorf("null speaker should decode to empty, got %q", resp.TextOutput[0].Speaker)
	}
	if resp.TextOutput[1].Speaker != "Mirae" {
		t.Errorf("expected speaker Mirae, got %q", resp.TextOutput[1].Speaker)
	}
	if resp.NextNodeID != "A" || resp.ImagePrompt == "" || len(resp.NextChoiceDescription) != 2 {
		t.Errorf("envelope fields not carried through: %+v", resp)
	}
}

func TestDecode_MarkdownFence(t *testing.T) {
	fenced := "```json\n" + validCompletion + "\n```"
	resp, err := Decode(fenced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.NextNodeID != "A" {
		t.Errorf("expected next_node_id A, got %q", resp.NextNodeID)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot respond in JSON right now.",
		`{"text_output": "not an array"}`,
	} {
		if _, err := Decode(raw); err == nil {
			t.Errorf("expected hard decode error for %q", raw)
		}
	}
}

func TestValidate_Clean(t *testing.T) {
	resp, err := Decode(validCompletion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	violations := Validate(resp, testScene(), testCandidates(), story.PolicyConditional)
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %v", violations)
	}
}

func TestValidate_Transition(t *testing.T) {
	tests := []struct {
		name       string
		nextNodeID string
		policy     story.Policy
		want       string // substring of the expected violation, "" for none
	}{
		{name: "stay under stay policy", nextNodeID: "A", policy: story.PolicyMustStay},
		{name: "move under stay policy", nextNodeID: "B", policy: story.PolicyMustStay, want: "moved"},
		{name: "move under move policy", nextNodeID: "B", policy: story.PolicyMustMove},
		{name: "stay under move policy", nextNodeID: "A", policy: story.PolicyMustMove, want: "stayed"},
		{name: "unknown target", nextNodeID: "Z", policy: story.PolicyConditional, want: "neither"},
		{name: "empty target", nextNodeID: "", policy: story.PolicyConditional, want: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &chat.ChatResponse{
				TextOutput: validTurns(8),
				NextNodeID: tt.nextNodeID,
			}
			violations := Validate(resp, testScene(), testCandidates(), tt.policy)
			if tt.want == "" {
				if len(violations) != 0 {
					t.Errorf("expected no violations, got %v", violations)
				}
				return
			}
			if len(violations) == 0 {
				t.Fatal("expected a violation, got none")
			}
			found := false
			for _, v := range violations {
				if strings.Contains(v, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected violation containing %q, got %v", tt.want, violations)
			}
			// Soft failure: the backend's value is passed through untouched.
			if resp.NextNodeID != tt.nextNodeID {
				t.Errorf("next_node_id was modified to %q", resp.NextNodeID)
			}
		})
	}
}

func TestValidate_Transition_SingleViolation(t *testing.T) {
	// Wrong policy direction must flag "stayed"/"moved" on the violating
	// side only, never both.
	resp := &chat.ChatResponse{
		TextOutput: validTurns(8),
		NextNodeID: "B",
	}
	violations := Validate(resp, testScene(), testCandidates(), story.PolicyMustStay)
	if len(violations) != 1 {
		t.Errorf("expected exactly one violation, got %v", violations)
	}
}

func TestValidate_Speakers(t *testing.T) {
	tests := []struct {
		name    string
		turn    chat.ChatTurn
		violate bool
	}{
		{name: "known speaker", turn: chat.ChatTurn{Type: chat.TurnCharacterMessage, Text: "hi", Speaker: "Mirae"}},
		{name: "case-insensitive match", turn: chat.ChatTurn{Type: chat.TurnCharacterMessage, Text: "hi", Speaker: "warden sol"}},
		{name: "unknown speaker", turn: chat.ChatTurn{Type: chat.TurnCharacterMessage, Text: "hi", Speaker: "Ghost"}, violate: true},
		{name: "speaker on narrative", turn: chat.ChatTurn{Type: chat.TurnNarrative, Text: "hi", Speaker: "Mirae"}, violate: true},
		{name: "missing speaker", turn: chat.ChatTurn{Type: chat.TurnCharacterMessage, Text: "hi"}, violate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &chat.ChatResponse{
				TextOutput: append(validTurns(7), tt.turn),
				NextNodeID: "A",
			}
			violations := Validate(resp, testScene(), testCandidates(), story.PolicyConditional)
			if tt.violate && len(violations) == 0 {
				t.Error("expected a violation, got none")
			}
			if !tt.violate && len(violations) != 0 {
				t.Errorf("expected no violations, got %v", violations)
			}
		})
	}
}

func TestValidate_EmptyOutput(t *testing.T) {
	resp := &chat.ChatResponse{NextNodeID: "A"}
	violations := Validate(resp, testScene(), testCandidates(), story.PolicyMustStay)
	if len(violations) != 1 || !strings.Contains(violations[0], "empty") {
		t.Errorf("expected empty text_output violation, got %v", violations)
	}
}

func TestValidate_NoScene(t *testing.T) {
	// Plain chat turns carry no story state; only turn-shape checks apply.
	resp := &chat.ChatResponse{
		TextOutput: validTurns(8),
	}
	if violations := Validate(resp, nil, nil, story.PolicyConditional); len(violations) != 0 {
		t.Errorf("expected no violations without a scene, got %v", violations)
	}
}

func TestValidate_LengthOutOfRange(t *testing.T) {
	for _, n := range []int{3, 13} {
		resp := &chat.ChatResponse{
			TextOutput: validTurns(n),
			NextNodeID: "A",
		}
		violations := Validate(resp, testScene(), testCandidates(), story.PolicyMustStay)
		if len(violations) != 1 || !strings.Contains(violations[0], "length") {
			t.Errorf("length %d: expected a single length violation, got %v", n, violations)
		}
	}
}

func TestResponseSchema_Marshals(t *testing.T) {
	data, err := json.Marshal(ResponseSchema())
	if err != nil {
		t.Fatalf("schema must marshal: %v", err)
	}
	for _, key := range []string{"text_output", "next_node_id", "image_prompt", "next_choice_description"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing property %q", key)
		}
	}
}
