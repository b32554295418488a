package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/storyloom/narrate/pkg/chat"
)

const placeholderText = "What do you do?"

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")) // gold

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	sceneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")). // dark grey
			Italic(true)
)

// ConsoleUI is the BubbleTea model that runs the UI.
type ConsoleUI struct {
	config    *ConsoleConfig
	client    *http.Client
	cartridge *Cartridge

	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int

	transcript []string
	loading    bool
	received   int // bytes streamed so far this turn
	err        error

	// Client-side story state. The API is stateless; the console owns
	// the position, loop count and history.
	currentNode string
	loopCount   int
	history     []chat.ChatTurn

	events  <-chan streamEvent
	pending *chat.ChatResponse
}

type chatResponseMsg struct {
	response *chat.ChatResponse
	err      error
}

type streamStartedMsg struct {
	events <-chan streamEvent
	err    error
}

type streamEventMsg struct {
	event streamEvent
	ok    bool
}

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client, cart *Cartridge) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = placeholderText
	ta.Focus()
	ta.Prompt = "> "
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	ui := ConsoleUI{
		config:      cfg,
		client:      client,
		cartridge:   cart,
		textarea:    ta,
		currentNode: cart.Start,
	}
	ui.appendLine(titleStyle.Render(cart.Title))
	if node, ok := cart.Nodes[cart.Start]; ok {
		ui.appendLine(sceneStyle.Render(node.Description))
	}
	return ui
}

func (ui *ConsoleUI) appendLine(line string) {
	ui.transcript = append(ui.transcript, line, "")
}

func (ui ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (ui ConsoleUI) buildRequest(message string) *chat.ChatRequest {
	node := ui.cartridge.Nodes[ui.currentNode]
	return &chat.ChatRequest{
		UserMessage: message,
		LoopCount:   ui.loopCount,
		ChatHistory: ui.history,
		Universe:    &ui.cartridge.Universe,
		Scene:       ui.cartridge.Scene(ui.currentNode),
		Candidates:  node.Candidates,
		StoryID:     ui.cartridge.StoryID,
	}
}

func (ui ConsoleUI) sendCmd(request *chat.ChatRequest) tea.Cmd {
	if ui.config.Streaming {
		return func() tea.Msg {
			events, err := streamChat(ui.client, ui.config.APIBaseURL, request)
			return streamStartedMsg{events: events, err: err}
		}
	}
	return func() tea.Msg {
		resp, err := sendChat(ui.client, ui.config.APIBaseURL, request)
		return chatResponseMsg{response: resp, err: err}
	}
}

func waitForEvent(events <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return streamEventMsg{event: ev, ok: ok}
	}
}

func (ui ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
	)
	ui.textarea, taCmd = ui.textarea.Update(msg)
	ui.viewport, vpCmd = ui.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		vpHeight := msg.Height - ui.textarea.Height() - 4
		if !ui.ready {
			ui.viewport = viewport.New(msg.Width, vpHeight)
			ui.ready = true
		} else {
			ui.viewport.Width = msg.Width
			ui.viewport.Height = vpHeight
		}
		ui.textarea.SetWidth(msg.Width - 2)
		ui.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return ui, tea.Quit
		case tea.KeyEnter:
			message := strings.TrimSpace(ui.textarea.Value())
			if message == "" || ui.loading {
				break
			}
			ui.textarea.Reset()
			ui.err = nil
			ui.loading = true
			ui.received = 0
			ui.appendLine(userStyle.Render("You: " + message))
			ui.history = append(ui.history, chat.ChatTurn{
				Role: chat.ChatRoleUser,
				Type: chat.TurnNarrative,
				Text: message,
			})
			ui.refreshViewport()
			return ui, ui.sendCmd(ui.buildRequest(message))
		}

	case chatResponseMsg:
		ui.loading = false
		if msg.err != nil {
			ui.err = msg.err
			ui.refreshViewport()
			break
		}
		ui.applyResponse(msg.response)

	case streamStartedMsg:
		if msg.err != nil {
			ui.loading = false
			ui.err = msg.err
			ui.refreshViewport()
			break
		}
		ui.events = msg.events
		return ui, waitForEvent(ui.events)

	case streamEventMsg:
		if !msg.ok {
			// Channel closed: the turn is over.
			ui.loading = false
			if ui.pending != nil {
				ui.applyResponse(ui.pending)
				ui.pending = nil
			} else if ui.err == nil {
				ui.err = fmt.Errorf("stream ended without a final response")
				ui.refreshViewport()
			}
			break
		}
		switch msg.event.Type {
		case "delta":
			ui.received += len(msg.event.Content)
		case "final":
			ui.pending = msg.event.Response
		case "error":
			ui.err = fmt.Errorf("%s", msg.event.Error)
		}
		return ui, waitForEvent(ui.events)
	}

	return ui, tea.Batch(taCmd, vpCmd)
}

// applyResponse renders the turn result and advances the client-side
// story state.
func (ui *ConsoleUI) applyResponse(resp *chat.ChatResponse) {
	for _, turn := range resp.TextOutput {
		switch turn.Type {
		case chat.TurnCharacterMessage:
			ui.appendLine(speakerStyle.Render(turn.Speaker+": ") + turn.Text)
		default:
			ui.appendLine(narratorStyle.Render(turn.Text))
		}
		ui.history = append(ui.history, chat.ChatTurn{
			Role:    chat.ChatRoleAgent,
			Type:    turn.Type,
			Text:    turn.Text,
			Speaker: turn.Speaker,
		})
	}

	if len(resp.NextChoiceDescription) > 0 {
		var sb strings.Builder
		sb.WriteString("Choices:")
		for i, choice := range resp.NextChoiceDescription {
			fmt.Fprintf(&sb, "\n  %d. %s", i+1, choice)
		}
		ui.appendLine(choiceStyle.Render(sb.String()))
	}

	if resp.NextNodeID != "" && resp.NextNodeID != ui.currentNode {
		if node, ok := ui.cartridge.Nodes[resp.NextNodeID]; ok {
			ui.currentNode = resp.NextNodeID
			ui.loopCount = 0
			ui.appendLine(sceneStyle.Render("-- " + node.Description))
		} else {
			ui.loopCount++
		}
	} else {
		ui.loopCount++
	}

	ui.refreshViewport()
}

func (ui *ConsoleUI) refreshViewport() {
	if !ui.ready {
		return
	}
	width := ui.viewport.Width - 2
	if width < 20 {
		width = 20
	}
	var lines []string
	for _, line := range ui.transcript {
		lines = append(lines, wordwrap.String(line, width))
	}
	if ui.err != nil {
		lines = append(lines, errorStyle.Render("Error: "+ui.err.Error()), "")
	}
	ui.viewport.SetContent(strings.Join(lines, "\n"))
	ui.viewport.GotoBottom()
}

func (ui ConsoleUI) View() string {
	if !ui.ready {
		return "Loading..."
	}

	status := ""
	if ui.loading {
		if ui.received > 0 {
			status = loadingStyle.Render(fmt.Sprintf("Narrating... (%d bytes)", ui.received))
		} else {
			status = loadingStyle.Render("Narrating...")
		}
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		ui.viewport.View(),
		status,
		ui.textarea.View(),
		sceneStyle.Render("enter: send  esc: quit"))
}
