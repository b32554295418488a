package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/story"
)

// Advisory bounds on text_output, mirroring the schema. Outside the
// range is a quality failure, not a correctness one.
const (
	minTextOutput = 8
	maxTextOutput = 12
)

// envelope mirrors the schema exactly; speaker is a pointer so the
// backend's explicit null survives decoding.
type envelope struct {
	TextOutput []struct {
		Type    string  `json:"type"`
		Text    string  `json:"text"`
		Speaker *string `json:"speaker"`
	} `json:"text_output"`
	NextNodeID            string   `json:"next_node_id"`
	ImagePrompt           string   `json:"image_prompt"`
	NextChoiceDescription []string `json:"next_choice_description"`
}

// Decode parses the backend's raw completion into a ChatResponse.
// A completion that cannot be parsed as the response envelope is a hard
// failure; field-level breaches are left to Validate.
func Decode(raw string) (*chat.ChatResponse, error) {
	cleaned := stripFences(raw)

	var env envelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}

	resp := &chat.ChatResponse{
		NextNodeID:            env.NextNodeID,
		ImagePrompt:           env.ImagePrompt,
		NextChoiceDescription: env.NextChoiceDescription,
	}
	for _, item := range env.TextOutput {
		turn := chat.ChatTurn{
			Role: chat.ChatRoleAgent,
			Type: item.Type,
			Text: item.Text,
		}
		if item.Speaker != nil {
			turn.Speaker = *item.Speaker
		}
		resp.TextOutput = append(resp.TextOutput, turn)
	}
	return resp, nil
}

// stripFences removes a markdown code fence some backends wrap JSON
// output in despite instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Validate checks a decoded response against the turn's story state and
// transition policy. Breaches are soft: they are returned for recording
// and the response is still delivered with the backend's values intact.
func Validate(resp *chat.ChatResponse, scene *story.Node, candidates []story.Candidate, policy story.Policy) []string {
	var violations []string

	if n := len(resp.TextOutput); n == 0 {
		violations = append(violations, "text_output is empty")
	} else if n < minTextOutput || n > maxTextOutput {
		violations = append(violations,
			fmt.Sprintf("text_output length %d outside [%d,%d]", n, minTextOutput, maxTextOutput))
	}
	for i, turn := range resp.TextOutput {
		if err := turn.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("text_output[%d]: %v", i, err))
			continue
		}
		if turn.Type == chat.TurnCharacterMessage && scene != nil && len(scene.Characters) > 0 {
			if !speakerPresent(turn.Speaker, scene.Characters) {
				violations = append(violations,
					fmt.Sprintf("text_output[%d]: speaker %q is not present in the current scene", i, turn.Speaker))
			}
		}
	}

	if scene != nil {
		violations = append(violations, validateTransition(resp.NextNodeID, scene, candidates, policy)...)
	}

	return violations
}

// validateTransition checks next_node_id against the allowed target set
// and the policy regime.
func validateTransition(nextID string, scene *story.Node, candidates []story.Candidate, policy story.Policy) []string {
	var violations []string

	if nextID == "" {
		return append(violations, "next_node_id is empty")
	}

	staying := nextID == scene.NodeID
	if !staying && !candidateExists(nextID, candidates) {
		violations = append(violations,
			fmt.Sprintf("next_node_id %q is neither the current node nor a candidate", nextID))
		return violations
	}

	if staying && !policy.PermitsStay() {
		violations = append(violations,
			fmt.Sprintf("stayed at node %q under %s policy", scene.NodeID, policy))
	}
	if !staying && !policy.PermitsMove() {
		violations = append(violations,
			fmt.Sprintf("moved to node %q under %s policy", nextID, policy))
	}
	return violations
}

func candidateExists(id string, candidates []story.Candidate) bool {
	for _, c := range candidates {
		if c.CandidateID == id {
			return true
		}
	}
	return false
}

// speakerPresent matches the speaker against the scene roster ignoring
// case, using Unicode case folding so non-ASCII names compare correctly.
func speakerPresent(speaker string, characters []string) bool {
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(speaker))
	for _, c := range characters {
		if fold.String(strings.TrimSpace(c)) == want {
			return true
		}
	}
	return false
}
