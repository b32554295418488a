package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/storyloom/narrate/pkg/chat"
	"github.com/storyloom/narrate/pkg/story"
)

// Cartridge is a self-contained story definition the console plays
// against the API: persona, node graph and optional node text bodies.
type Cartridge struct {
	StoryID  string                   `json:"story_id"`
	Title    string                   `json:"title"`
	Universe story.Universe           `json:"universe"`
	Start    string                   `json:"start"`
	Nodes    map[string]CartridgeNode `json:"nodes"`
}

type CartridgeNode struct {
	Description string            `json:"description"`
	Characters  []string          `json:"characters,omitempty"`
	Text        string            `json:"text,omitempty"`
	Candidates  []story.Candidate `json:"candidates,omitempty"`
}

func loadCartridge(path string) (*Cartridge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cartridge: %w", err)
	}
	var cart Cartridge
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("parsing cartridge: %w", err)
	}
	if cart.Start == "" || cart.Nodes == nil {
		return nil, fmt.Errorf("cartridge needs a start node and a node map")
	}
	if _, ok := cart.Nodes[cart.Start]; !ok {
		return nil, fmt.Errorf("start node %q not in node map", cart.Start)
	}
	return &cart, nil
}

// Scene converts a cartridge node to the wire shape.
func (c *Cartridge) Scene(nodeID string) *story.Node {
	node, ok := c.Nodes[nodeID]
	if !ok {
		return nil
	}
	return &story.Node{
		NodeID:      nodeID,
		Description: node.Description,
		Characters:  node.Characters,
	}
}

// uploadNodeTexts pushes the cartridge's node text bodies to the API so
// the engine can resolve them during prompt assembly.
func uploadNodeTexts(client *http.Client, baseURL string, cart *Cartridge) error {
	for id, node := range cart.Nodes {
		if node.Text == "" {
			continue
		}
		body, err := json.Marshal(map[string]string{"text": node.Text})
		if err != nil {
			return err
		}
		url := fmt.Sprintf("%s/v1/stories/%s/nodes/%s", baseURL, cart.StoryID, id)
		req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("uploading node %s: %w", id, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("uploading node %s: status %d", id, resp.StatusCode)
		}
	}
	return nil
}

func sendChat(client *http.Client, baseURL string, request *chat.ChatRequest) (*chat.ChatResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := client.Post(baseURL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var chatResp chat.ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if chatResp.Error != "" {
			return nil, fmt.Errorf("api error: %s", chatResp.Error)
		}
		return nil, fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	return &chatResp, nil
}

// streamEvent is one parsed SSE frame in wrapped format.
type streamEvent struct {
	Type     string             `json:"type"`
	Content  string             `json:"content,omitempty"`
	Response *chat.ChatResponse `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// streamChat opens a streaming chat turn and feeds parsed events into
// the returned channel. The channel closes after the DONE sentinel.
func streamChat(client *http.Client, baseURL string, request *chat.ChatRequest) (<-chan streamEvent, error) {
	request.Stream = true
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		data, _ := io.ReadAll(resp.Body)
		var errResp chat.ChatResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("api error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		defer func() {
			_ = resp.Body.Close()
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue // partial or non-JSON line in raw mode
			}
			events <- ev
		}
		if err := scanner.Err(); err != nil {
			events <- streamEvent{Type: "error", Error: err.Error()}
		}
	}()
	return events, nil
}
