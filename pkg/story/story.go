package story

// Universe describes the protagonist and world setting for a persona.
// The engine passes these fields through to the prompt verbatim; it
// never interprets them.
type Universe struct {
	Protagonist     string `json:"protagonist"`
	ProtagonistDesc string `json:"protagonist_desc"`
	Setting         string `json:"setting"`
}

// Node is one point in the branching narrative graph. Immutable once
// loaded for a request.
type Node struct {
	NodeID      string   `json:"node_id"`
	Description string   `json:"description"`
	Characters  []string `json:"characters,omitempty"`
}

// Candidate is a possible transition target from the current node. Its
// condition is natural language, evaluated by the generation backend,
// never by this engine.
type Candidate struct {
	CandidateID string `json:"candidate_id"`
	Condition   string `json:"condition"`
}

// NodeText is resolved narrative text for one node.
type NodeText struct {
	NodeID string `json:"node_id"`
	Text   string `json:"text"`
}

// Context is the resolved story position: the current node's text plus
// the text of each candidate child. An empty Context is valid and means
// generation proceeds without story grounding.
type Context struct {
	Current  NodeText   `json:"current"`
	Children []NodeText `json:"children,omitempty"`
}

// Empty reports whether no story text was resolved.
func (c *Context) Empty() bool {
	return c == nil || (c.Current.Text == "" && len(c.Children) == 0)
}

// Snippet is one ranked result from free-text story retrieval.
type Snippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"relevance_score"`
}
