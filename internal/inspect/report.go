// Package inspect renders what the history store knows about one connection.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/relay/internal/history"
)

// ConnLookup is the slice of the history store a report needs.
type ConnLookup interface {
	ByConn(ctx context.Context, connID string) ([]history.Entry, error)
}

// Report is the structured JSON representation of a connection report.
type Report struct {
	ConnID    string    `json:"conn_id"`
	Identity  string    `json:"identity"`
	Requests  int       `json:"requests"`
	Failures  int       `json:"failures"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Steps     []Step    `json:"steps"`
}

// Step is one executed command on the connection.
type Step struct {
	Seq        int       `json:"seq"`
	Command    string    `json:"command"`
	Args       []string  `json:"args"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// BuildReport renders a terminal-friendly report for a connection.
func BuildReport(ctx context.Context, store ConnLookup, connID string) (string, error) {
	report, err := gatherReportData(ctx, store, connID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Connection Report\n")
	fmt.Fprintf(&out, "Conn ID     : %s\n", report.ConnID)
	fmt.Fprintf(&out, "Identity    : %s\n", valueOr(report.Identity, "<unknown>"))
	fmt.Fprintf(&out, "Requests    : %d (%d failed)\n", report.Requests, report.Failures)
	fmt.Fprintf(&out, "First seen  : %s\n", report.FirstSeen.Format(time.RFC3339))
	fmt.Fprintf(&out, "Last seen   : %s\n", report.LastSeen.Format(time.RFC3339))
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		status := "ok"
		if !step.OK {
			status = "error"
		}
		fmt.Fprintf(&out, "[%d] %s (%s, %dms)\n", step.Seq, step.Command, status, step.DurationMS)
		fmt.Fprintf(&out, "    at    : %s\n", step.At.Format(time.RFC3339Nano))
		if len(step.Args) == 0 {
			fmt.Fprintf(&out, "    args  : <none>\n")
		} else {
			fmt.Fprintf(&out, "    args  : %s\n", strings.Join(quoteArgs(step.Args), " "))
		}
		if step.Error != "" {
			fmt.Fprintf(&out, "    error : %s\n", step.Error)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, store ConnLookup, connID string) (string, error) {
	report, err := gatherReportData(ctx, store, connID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store ConnLookup, connID string) (*Report, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return nil, fmt.Errorf("conn_id is required")
	}

	entries, err := store.ByConn(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no commands recorded for connection %s", connID)
	}

	report := &Report{
		ConnID:    connID,
		Identity:  entries[0].Identity,
		Requests:  len(entries),
		FirstSeen: entries[0].CreatedAt.UTC(),
		LastSeen:  entries[len(entries)-1].CreatedAt.UTC(),
		Steps:     make([]Step, 0, len(entries)),
	}
	for i, e := range entries {
		if !e.OK {
			report.Failures++
		}
		args := e.Args
		if args == nil {
			args = []string{}
		}
		report.Steps = append(report.Steps, Step{
			Seq:        i + 1,
			Command:    e.Command,
			Args:       args,
			OK:         e.OK,
			Error:      e.Error,
			DurationMS: e.Duration.Milliseconds(),
			At:         e.CreatedAt.UTC(),
		})
	}
	return report, nil
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			out[i] = fmt.Sprintf("%q", a)
			continue
		}
		out[i] = a
	}
	return out
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
