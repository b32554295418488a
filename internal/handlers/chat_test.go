package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/narrate/internal/config"
	"github.com/storyloom/narrate/internal/engine"
	"github.com/storyloom/narrate/internal/services"
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
		{"type": "character_message", "text": "Help me carry these up.", "speaker": "Mirae"},
		{"type": "narrative", "text": "Thunder rolls over the atrium.", "speaker": null},
		{"type": "narrative", "text": "The rain does not let up.", "speaker": null}
	],
	"next_node_id": "A",
	"image_prompt": "a flooded library at night",
	"next_choice_description": ["You offer to help.", "You turn to leave."]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChatHandler(mock *services.MockLLMAPI, streamFormat string) *ChatHandler {
	eng := engine.New(mock, nil, testLogger(), engine.Defaults{ModelName: "test-model"})
	return NewChatHandler(eng, testLogger(), streamFormat)
}

func testRequestBody(t *testing.T, stream bool) *bytes.Buffer {
	t.Helper()
	req := chat.ChatRequest{
		UserMessage: "I offer to help.",
		LoopCount:   0,
		Stream:      stream,
		Universe: &story.Universe{
			Protagonist:     "Mirae",
			ProtagonistDesc: "An archivist.",
			Setting:         "A flooded library-city.",
		},
		Scene: &story.Node{
			NodeID:      "A",
			Description: "The restricted stacks.",
			Characters:  []string{"Mirae"},
		},
		Candidates: []story.Candidate{{CandidateID: "B", Condition: "user agrees"}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

// frames splits an SSE body into its data payloads.
func frames(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			require.True(t, strings.HasPrefix(line, "data: "), "malformed SSE line: %q", line)
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
		out = append(out, strings.Join(lines, "\n"))
	}
	return out
}

func TestChatHandler_Batch(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.Completion = &services.Completion{
		Content: validCompletion,
		Usage:   &chat.Usage{TotalTokens: 59},
	}
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, false))
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp chat.ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.TextOutput, 8)
	assert.Equal(t, "A", resp.NextNodeID)
	assert.Empty(t, resp.Error)
}

func TestChatHandler_MethodNotAllowed(t *testing.T) {
	handler := newChatHandler(services.NewMockLLMAPI(), config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestChatHandler_InvalidBody(t *testing.T) {
	handler := newChatHandler(services.NewMockLLMAPI(), config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader("not json"))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_InvalidRequest(t *testing.T) {
	handler := newChatHandler(services.NewMockLLMAPI(), config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"user_message": ""}`))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp chat.ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Error)
}

func TestChatHandler_BackendError(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.Err = errors.New("connection refused")
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, false))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChatHandler_ContractError(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.Completion = &services.Completion{Content: "no json here"}
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, false))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChatHandler_StreamWrapped(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.StreamFragments = []string{validCompletion[:30], validCompletion[30:]}
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, true))
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	fs := frames(t, w.Body.String())
	require.GreaterOrEqual(t, len(fs), 4)
	assert.Equal(t, "[DONE]", fs[len(fs)-1], "stream must end with the DONE sentinel")

	var delta struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(fs[0]), &delta))
	assert.Equal(t, "delta", delta.Type)
	assert.NotEmpty(t, delta.Content)

	var final struct {
		Type     string             `json:"type"`
		Response *chat.ChatResponse `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(fs[len(fs)-2]), &final))
	assert.Equal(t, "final", final.Type)
	require.NotNil(t, final.Response)
	assert.Equal(t, "A", final.Response.NextNodeID)
}

func TestChatHandler_StreamRaw(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.StreamFragments = []string{"{\"text_output\": [{\"type\": \"narrative\", \"text\": \"hi\", \"speaker\": null}], ", "\"next_node_id\": \"A\", \"image_prompt\": \"x\", \"next_choice_description\": [\"a\", \"b\"]}"}
	handler := newChatHandler(mock, config.StreamFormatRaw)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, true))
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	fs := frames(t, w.Body.String())
	require.GreaterOrEqual(t, len(fs), 4)

	// raw deltas reassemble into the backend completion
	assert.True(t, strings.HasPrefix(fs[0], `{"text_output"`))
	assert.Equal(t, "[DONE]", fs[len(fs)-1])

	var final chat.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(fs[len(fs)-2]), &final))
	assert.Equal(t, "A", final.NextNodeID)
}

func TestChatHandler_StreamMidError(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.StreamFragments = []string{"{\"partial"}
	mock.StreamErr = errors.New("connection reset")
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, true))
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, "mid-stream errors keep the transport status")

	fs := frames(t, w.Body.String())
	require.GreaterOrEqual(t, len(fs), 3)
	assert.Equal(t, "[DONE]", fs[len(fs)-1])

	errorFrames := 0
	for _, f := range fs {
		if strings.Contains(f, `"type":"error"`) {
			errorFrames++
		}
	}
	assert.Equal(t, 1, errorFrames, "exactly one in-band error frame")
}

func TestChatHandler_StreamDeadlineMidStream(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.GenerateStreamFunc = func(ctx context.Context, _ []chat.ChatMessage, _ services.GenOptions, onDelta services.StreamHandler) (*services.Completion, error) {
		if err := onDelta(`{"partial`); err != nil {
			return nil, err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, true)).WithContext(ctx)
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	fs := frames(t, w.Body.String())
	require.GreaterOrEqual(t, len(fs), 3)
	assert.Equal(t, "[DONE]", fs[len(fs)-1], "a timed-out turn still terminates the stream")

	errorFrames := 0
	for _, f := range fs {
		if strings.Contains(f, `"type":"error"`) {
			errorFrames++
		}
	}
	assert.Equal(t, 1, errorFrames, "exactly one in-band error frame")
}

func TestChatHandler_StreamPreError(t *testing.T) {
	mock := services.NewMockLLMAPI()
	mock.Err = errors.New("model not found")
	handler := newChatHandler(mock, config.StreamFormatWrapped)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", testRequestBody(t, true))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code, "failures before the first frame map to a status")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}
