package story

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNegativeLoopCount is returned by Decide when the caller passes a
// loop count below zero.
var ErrNegativeLoopCount = errors.New("loop count cannot be negative")

// Policy is the degree of freedom the generation backend has to change
// next_node_id on this turn.
type Policy int

const (
	// PolicyMustStay forbids any transition regardless of candidate
	// conditions; next_node_id must equal the current node id.
	PolicyMustStay Policy = iota

	// PolicyConditional lets the backend evaluate each candidate's
	// condition against the latest user input and history.
	PolicyConditional

	// PolicyMustMove forbids staying at the current node; the backend
	// must pick the best-fitting candidate even under a weak match.
	PolicyMustMove
)

func (p Policy) String() string {
	switch p {
	case PolicyMustStay:
		return "MUST_STAY"
	case PolicyConditional:
		return "CONDITIONAL"
	case PolicyMustMove:
		return "MUST_MOVE"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// PermitsStay reports whether returning the current node id satisfies
// the policy.
func (p Policy) PermitsStay() bool { return p != PolicyMustMove }

// PermitsMove reports whether returning a candidate id satisfies the
// policy.
func (p Policy) PermitsMove() bool { return p != PolicyMustStay }

// Thresholds configures the loop-count boundaries between policy regimes.
type Thresholds struct {
	Low  int // below this: MUST_STAY
	High int // at or above this: MUST_MOVE
}

// DefaultThresholds matches the shipped tuning: two free turns at a
// node, forced transition from the fifth.
var DefaultThresholds = Thresholds{Low: 2, High: 5}

// Decide derives the transition policy from the number of consecutive
// turns already spent at the current node. Pure: no I/O, no backend
// calls. A negative loopCount is a caller contract violation.
//
// MUST_MOVE with no candidates has no valid target, so it degrades to
// CONDITIONAL rather than demanding an impossible transition.
func (t Thresholds) Decide(loopCount int, candidates []Candidate) (Policy, error) {
	if loopCount < 0 {
		return PolicyMustStay, fmt.Errorf("%w: got %d", ErrNegativeLoopCount, loopCount)
	}
	switch {
	case loopCount < t.Low:
		return PolicyMustStay, nil
	case loopCount < t.High:
		return PolicyConditional, nil
	default:
		if len(candidates) == 0 {
			return PolicyConditional, nil
		}
		return PolicyMustMove, nil
	}
}

// DecidePolicy is Decide with the default thresholds.
func DecidePolicy(loopCount int, candidates []Candidate) (Policy, error) {
	return DefaultThresholds.Decide(loopCount, candidates)
}

// InstructionText renders the exact policy directive injected into the
// system prompt. The candidate list itself is rendered separately by the
// prompt builder; this text only sets how aggressively the backend may
// move away from currentNodeID.
func (p Policy) InstructionText(currentNodeID string) string {
	var sb strings.Builder
	sb.WriteString("[Transition Policy]\n")
	switch p {
	case PolicyMustStay:
		fmt.Fprintf(&sb, "• You MUST STAY at the current story node '%s'.\n", currentNodeID)
		fmt.Fprintf(&sb, "• Set \"next_node_id\" to \"%s\" regardless of any candidate conditions.\n", currentNodeID)
		sb.WriteString("• Do NOT transition, even if a candidate condition appears satisfied.")
	case PolicyConditional:
		sb.WriteString("• Evaluate each candidate's condition against the user's latest message and the conversation so far.\n")
		fmt.Fprintf(&sb, "• If exactly one condition is satisfied, set \"next_node_id\" to that candidate's id. If several are satisfied, pick the best fit.\n")
		fmt.Fprintf(&sb, "• If no condition is satisfied, stay: set \"next_node_id\" to \"%s\".", currentNodeID)
	case PolicyMustMove:
		fmt.Fprintf(&sb, "• You MUST MOVE away from the current story node '%s'.\n", currentNodeID)
		fmt.Fprintf(&sb, "• Setting \"next_node_id\" to \"%s\" is FORBIDDEN.\n", currentNodeID)
		sb.WriteString("• Select the candidate whose condition best fits the conversation, even if the match is weak.")
	}
	return sb.String()
}
