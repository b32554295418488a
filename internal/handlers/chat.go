package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/storyloom/narrate/internal/config"
	"github.com/storyloom/narrate/internal/engine"
	"github.com/storyloom/narrate/pkg/chat"
)

const chatTimeout = 120 * time.Second

// ChatHandler handles chat requests, batch and streaming.
type ChatHandler struct {
	engine       *engine.Engine
	logger       *slog.Logger
	streamFormat string
}

// NewChatHandler creates a new chat handler
func NewChatHandler(eng *engine.Engine, logger *slog.Logger, streamFormat string) *ChatHandler {
	if streamFormat != config.StreamFormatRaw {
		streamFormat = config.StreamFormatWrapped
	}
	return &ChatHandler{
		engine:       eng,
		logger:       logger,
		streamFormat: streamFormat,
	}
}

// ServeHTTP handles HTTP requests for chat
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("Method not allowed for chat endpoint",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}

	var request chat.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected a JSON chat request.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
	defer cancel()

	if request.Stream {
		h.serveStream(ctx, w, &request)
		return
	}

	response, err := h.engine.Chat(ctx, &request)
	if err != nil {
		status, msg := mapError(err)
		h.logger.Error("Chat turn failed", "error", err, "status", status)
		writeError(w, h.logger, status, msg)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding chat response", "error", err)
	}
}

// serveStream runs the turn over SSE. Headers are deferred until the
// first frame so pre-stream failures can still map to a status code.
func (h *ChatHandler) serveStream(ctx context.Context, w http.ResponseWriter, request *chat.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming is not supported by this server.")
		return
	}

	started := false
	writeFrame := func(payload string) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			started = true
		}
		for _, line := range strings.Split(payload, "\n") {
			if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprint(w, "\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.engine.ChatStream(ctx, request, func(ev engine.Event) error {
		payload, err := h.renderEvent(ev)
		if err != nil {
			return err
		}
		return writeFrame(payload)
	})
	if err != nil {
		if !started {
			status, msg := mapError(err)
			h.logger.Error("Stream failed before first frame", "error", err, "status", status)
			writeError(w, h.logger, status, msg)
			return
		}
		// The transport broke or the client went away; nothing left to send.
		h.logger.Warn("Stream aborted", "error", err)
		return
	}

	if err := writeFrame("[DONE]"); err != nil {
		h.logger.Warn("Error writing stream terminator", "error", err)
	}
}

// renderEvent formats one engine event as a frame payload. Raw format
// forwards content fragments as-is; wrapped format types every frame.
func (h *ChatHandler) renderEvent(ev engine.Event) (string, error) {
	if h.streamFormat == config.StreamFormatRaw {
		switch ev.Type {
		case engine.EventDelta:
			return ev.Delta, nil
		case engine.EventFinal:
			data, err := json.Marshal(ev.Response)
			return string(data), err
		default:
			data, err := json.Marshal(chat.ChatResponse{Error: ev.Err.Error()})
			return string(data), err
		}
	}

	var frame struct {
		Type     string             `json:"type"`
		Content  string             `json:"content,omitempty"`
		Response *chat.ChatResponse `json:"response,omitempty"`
		Error    string             `json:"error,omitempty"`
	}
	switch ev.Type {
	case engine.EventDelta:
		frame.Type = "delta"
		frame.Content = ev.Delta
	case engine.EventFinal:
		frame.Type = "final"
		frame.Response = ev.Response
	default:
		frame.Type = "error"
		frame.Error = ev.Err.Error()
	}
	data, err := json.Marshal(frame)
	return string(data), err
}

// mapError translates engine errors onto HTTP status codes.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrBackend):
		return http.StatusBadGateway, "The generation backend failed. Please try again."
	case errors.Is(err, engine.ErrContract):
		return http.StatusBadGateway, "The generation backend returned an unusable response."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(chat.ChatResponse{Error: msg}); err != nil {
		logger.Error("Error encoding error response", "error", err)
	}
}
