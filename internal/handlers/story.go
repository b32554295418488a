package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/storyloom/narrate/internal/services"
	"github.com/storyloom/narrate/internal/storage"
	"github.com/storyloom/narrate/pkg/story"
)

// StoryHandler serves story node text bodies: GET to read one back,
// PUT to upsert. Writes invalidate the resolver cache.
type StoryHandler struct {
	store    storage.StoryStore
	storyCtx *services.StoryContextService
	logger   *slog.Logger
}

func NewStoryHandler(store storage.StoryStore, storyCtx *services.StoryContextService, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{
		store:    store,
		storyCtx: storyCtx,
		logger:   logger,
	}
}

func (h *StoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("story_id")
	nodeID := r.PathValue("node_id")
	if storyID == "" || nodeID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "story_id and node_id are required.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getNode(w, r, storyID, nodeID)
	case http.MethodPut:
		h.putNode(w, r, storyID, nodeID)
	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

func (h *StoryHandler) getNode(w http.ResponseWriter, r *http.Request, storyID, nodeID string) {
	node, err := h.store.GetNode(r.Context(), storyID, nodeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Story node not found.")
			return
		}
		h.logger.Error("Error reading story node", "error", err, "story_id", storyID, "node_id", nodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read story node.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(node); err != nil {
		h.logger.Error("Error encoding story node", "error", err)
	}
}

func (h *StoryHandler) putNode(w http.ResponseWriter, r *http.Request, storyID, nodeID string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'text' field.")
		return
	}
	if body.Text == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Node text cannot be empty.")
		return
	}

	node := story.NodeText{NodeID: nodeID, Text: body.Text}
	if err := h.store.SaveNode(r.Context(), storyID, node); err != nil {
		h.logger.Error("Error saving story node", "error", err, "story_id", storyID, "node_id", nodeID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to save story node.")
		return
	}
	if h.storyCtx != nil {
		h.storyCtx.Invalidate(storyID, nodeID)
	}

	h.logger.Info("Story node saved", "story_id", storyID, "node_id", nodeID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(node); err != nil {
		h.logger.Error("Error encoding story node", "error", err)
	}
}
