package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relay/internal/events"
)

const (
	maxEventLog     = 50
	healthInterval  = 5 * time.Second
	reconnectDelay  = 3 * time.Second
	eventBufferSize = 100
)

// Model is the BubbleTea model for `relay watch`.
type Model struct {
	ctx context.Context
	src Source

	width  int
	height int

	health   HealthState
	board    *Board
	eventLog []events.Event
	activity Activity
	conns    table.Model
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the HTTP transport at src.BaseURL. ctx
// bounds every request the model makes.
func New(ctx context.Context, src Source) *Model {
	theme := NewDefaultTheme()
	return &Model{
		ctx:       ctx,
		src:       src,
		board:     NewBoard(),
		eventLog:  make([]events.Event, 0, maxEventLog),
		conns:     newConnTable(theme),
		theme:     theme,
		hubEvents: make(chan events.Event, eventBufferSize),
	}
}

// Run starts the TUI on the alternate screen and blocks until it exits.
func Run(ctx context.Context, src Source) error {
	_, err := tea.NewProgram(New(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.ctx, m.src, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.ctx, m.src),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.conns, cmd = m.conns.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.conns.SetWidth(max(20, msg.Width-8))

	case tickMsg:
		now := time.Time(msg)
		m.activity.Decay(now)
		m.conns.SetRows(connRows(m.board, now))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// newest first
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.board.Apply(e)
		m.activity.OnEvent(e.At)
		m.conns.SetRows(connRows(m.board, time.Now()))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		// a restarted service numbers its events from 1 again
		if msg.UptimeSeconds < m.health.UptimeSeconds {
			m.board.LastID = 0
		}
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Commands = msg.Commands
		m.health.Workers = msg.Workers
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, m.healthAfter(healthInterval)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// the pending receiveNextEvent keeps reading the same channel
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.ctx, m.src, m.board.LastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.healthAfter(healthInterval)
	}

	return m, nil
}

func (m Model) healthAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return fetchHealth(m.ctx, m.src)()
	})
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.src.BaseURL + "..."
	}

	parts := []string{
		renderHeader(m.src.BaseURL, m.health, m.board, m.activity, m.theme, m.width),
		renderConnections(m.conns, m.theme, m.width),
		renderCommands(m.board, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select connection"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
