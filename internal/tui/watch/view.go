package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relay/internal/events"
)

// HealthState tracks the last /healthz answer.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Commands      int
	Workers       int
	Connected     bool
	LastCheck     time.Time
}

// Activity lights up on each event and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = 5
	a.lastEvent = at
}

// Decay dims one dot for every two seconds without events.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	a.dots = max(0, 5-int(now.Sub(a.lastEvent)/(2*time.Second)))
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.DotOn.Render("●"))
		} else {
			b.WriteString(theme.DotOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(target string, health HealthState, board *Board, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	status := theme.OK.Render("HEALTHY")
	switch {
	case !health.Connected:
		status = theme.Failed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		status = theme.Failed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	title := " RELAY WATCH " + theme.Highlight.Render(target)
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Workers: %d  Commands: %d  Open conns: %d  HTTP requests: %d",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Workers,
		health.Commands,
		board.OpenConns(),
		board.HTTPRequests,
	)

	lastEvent := "never"
	if !activity.lastEvent.IsZero() {
		lastEvent = time.Since(activity.lastEvent).Round(time.Second).String() + " ago"
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func newConnTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Conn", Width: 12},
			{Title: "Remote", Width: 21},
			{Title: "Identity", Width: 12},
			{Title: "Reqs", Width: 5},
			{Title: "Age", Width: 8},
			{Title: "Error", Width: 24},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.tableStyles())
	return t
}

func connRows(board *Board, now time.Time) []table.Row {
	conns := board.SortedConns()
	rows := make([]table.Row, 0, len(conns))
	for _, c := range conns {
		st, age := "●", now.Sub(c.Opened)
		if !c.open() {
			st, age = "○", c.Closed.Sub(c.Opened)
			if c.Error != "" {
				st = "✗"
			}
		}
		rows = append(rows, table.Row{
			st,
			shortID(c.ID),
			c.Remote,
			c.Identity,
			fmt.Sprintf("%d", c.Requests),
			formatDuration(age),
			c.Error,
		})
	}
	return rows
}

func renderConnections(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CONNECTIONS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}

func renderCommands(board *Board, theme Theme, width int) string {
	stats := board.SortedCommands()
	if len(stats) == 0 {
		return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("COMMANDS"),
			theme.Dim.Render("  No commands executed yet"),
		))
	}

	lines := []string{theme.Dim.Render(fmt.Sprintf("  %-16s %6s %6s %8s %8s", "name", "calls", "fail", "mean", "last"))}
	for i, s := range stats {
		if i >= 8 {
			break
		}
		fail := fmt.Sprintf("%6d", s.Failures)
		if s.Failures > 0 {
			fail = theme.Failed.Render(fail)
		}
		lines = append(lines, fmt.Sprintf("  %-16s %6d %s %6dms %6dms", s.Name, s.Calls, fail, s.MeanMS(), s.LastMS))
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("COMMANDS"),
		strings.Join(lines, "\n"),
	))
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4
	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	style := theme.Dim
	desc := describeEvent(e)

	switch e.Type {
	case events.TypeConnAccepted:
		style = theme.Active
	case events.TypeConnClosed:
		var d events.ConnData
		if json.Unmarshal(e.Data, &d) == nil && d.Error != "" {
			style = theme.Failed
		}
	case events.TypeCommandExecuted:
		var d events.CommandData
		style = theme.OK
		if json.Unmarshal(e.Data, &d) == nil && !d.OK {
			style = theme.Failed
		}
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-18s", e.Type)), desc)
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.TypeConnAccepted, events.TypeConnClosed:
		var d events.ConnData
		if json.Unmarshal(e.Data, &d) == nil {
			parts := []string{"[" + shortID(d.ConnID) + "]", d.Remote}
			if d.Identity != "" {
				parts = append(parts, d.Identity)
			}
			if e.Type == events.TypeConnClosed {
				parts = append(parts, fmt.Sprintf("%d req", d.Requests))
			}
			if d.Error != "" {
				parts = append(parts, d.Error)
			}
			return strings.Join(parts, " ")
		}
	case events.TypeCommandExecuted:
		var d events.CommandData
		if json.Unmarshal(e.Data, &d) == nil {
			return fmt.Sprintf("[%s] %s via %s %dms", shortID(d.ConnID), d.Command, d.Transport, d.DurationMS)
		}
	}
	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
