// Package storage persists story node text. Node descriptions travel
// with each request; the store holds the longer prose bodies that are
// resolved just in time for prompt assembly.
package storage

import (
	"context"
	"errors"

	"github.com/storyloom/narrate/pkg/story"
)

// ErrNotFound is returned when a requested story node does not exist.
var ErrNotFound = errors.New("story node not found")

// StoryStore is the interface for story node persistence.
type StoryStore interface {
	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	// GetNode returns the text body of a single node.
	GetNode(ctx context.Context, storyID, nodeID string) (*story.NodeText, error)

	// GetNodes returns the text bodies for the given node ids. Missing
	// nodes are skipped, not errors; the caller degrades gracefully.
	GetNodes(ctx context.Context, storyID string, nodeIDs []string) ([]story.NodeText, error)

	// SaveNode writes a node text body.
	SaveNode(ctx context.Context, storyID string, node story.NodeText) error

	// ListNodes returns every node text stored for a story.
	ListNodes(ctx context.Context, storyID string) ([]story.NodeText, error)
}
