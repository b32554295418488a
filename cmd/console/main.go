package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type ConsoleConfig struct {
	APIBaseURL string
	Cartridge  string
	Streaming  bool
	Timeout    time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		Cartridge:  getEnv("CARTRIDGE", "cartridge.json"),
		Streaming:  getEnv("STREAMING", "true") == "true",
		Timeout:    120 * time.Second,
	}
	if len(os.Args) > 1 {
		cfg.Cartridge = os.Args[1]
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	cart, err := loadCartridge(cfg.Cartridge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load cartridge %s: %v\n", cfg.Cartridge, err)
		os.Exit(1)
	}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API at %s. Please ensure the API is running.\n", cfg.APIBaseURL)
		os.Exit(1)
	}

	if err := uploadNodeTexts(client, cfg.APIBaseURL, cart); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not upload story node texts: %v\n", err)
	}

	p := tea.NewProgram(NewConsoleUI(cfg, client, cart),
		tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
