package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/storyloom/narrate/internal/storage"
	"github.com/storyloom/narrate/pkg/story"
)

// DefaultStoryCacheTTL bounds how stale resolved node text may be.
const DefaultStoryCacheTTL = 5 * time.Minute

type cacheEntry struct {
	ctx     *story.Context
	expires time.Time
}

// StoryContextService resolves node text bodies for prompt assembly.
// Lookups are cached read-through; concurrent requests for the same
// node are collapsed into one store round trip. Store failures never
// fail the turn: the service degrades to an empty context and the
// engine proceeds on the node descriptions carried in the request.
type StoryContextService struct {
	store  storage.StoryStore
	logger *slog.Logger
	ttl    time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewStoryContextService(store storage.StoryStore, logger *slog.Logger) *StoryContextService {
	return &StoryContextService{
		store:  store,
		logger: logger,
		ttl:    DefaultStoryCacheTTL,
		cache:  make(map[string]cacheEntry),
	}
}

// Resolve returns the text bodies for the current node and its
// candidate children. The result is never nil.
func (s *StoryContextService) Resolve(ctx context.Context, storyID string, node *story.Node, candidates []story.Candidate) *story.Context {
	if s == nil || s.store == nil || storyID == "" || node == nil {
		return &story.Context{}
	}

	key := storyID + ":" + node.NodeID

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.ctx
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.fetch(ctx, storyID, node, candidates)
	})
	if err != nil {
		s.logger.Warn("Story context lookup failed, continuing degraded",
			"story_id", storyID,
			"node_id", node.NodeID,
			"error", err)
		return &story.Context{}
	}

	resolved := v.(*story.Context)
	s.mu.Lock()
	s.cache[key] = cacheEntry{ctx: resolved, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return resolved
}

func (s *StoryContextService) fetch(ctx context.Context, storyID string, node *story.Node, candidates []story.Candidate) (*story.Context, error) {
	resolved := &story.Context{}

	current, err := s.store.GetNode(ctx, storyID, node.NodeID)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	if current != nil {
		resolved.Current = *current
	}

	if len(candidates) > 0 {
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.CandidateID)
		}
		children, err := s.store.GetNodes(ctx, storyID, ids)
		if err != nil {
			return nil, err
		}
		resolved.Children = children
	}

	return resolved, nil
}

// Invalidate drops a cached node, forcing the next Resolve to hit the
// store. Called after SaveNode.
func (s *StoryContextService) Invalidate(storyID, nodeID string) {
	s.mu.Lock()
	delete(s.cache, storyID+":"+nodeID)
	s.mu.Unlock()
}

// Retrieve returns up to limit stored node texts scored by lexical
// overlap with the query, best first. Zero-score nodes are dropped.
func (s *StoryContextService) Retrieve(ctx context.Context, storyID, query string, limit int) []story.Snippet {
	if s == nil || s.store == nil || query == "" || limit <= 0 {
		return nil
	}

	nodes, err := s.store.ListNodes(ctx, storyID)
	if err != nil {
		s.logger.Warn("Snippet retrieval failed", "story_id", storyID, "error", err)
		return nil
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	var snippets []story.Snippet
	for _, node := range nodes {
		text := strings.ToLower(node.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		snippets = append(snippets, story.Snippet{
			Text:  node.Text,
			Score: float64(matched) / float64(len(terms)),
		})
	}

	// Store listing order is not stable, so ties break on text to keep
	// identical requests producing identical prompts.
	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Score != snippets[j].Score {
			return snippets[i].Score > snippets[j].Score
		}
		return snippets[i].Text < snippets[j].Text
	})
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets
}
