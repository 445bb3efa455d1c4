package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/relay/internal/dispatch"
)

// Response headers on POST /v1/exec.
const (
	HeaderStatus  = "X-Relay-Status"
	HeaderCommand = "X-Relay-Command"

	StatusOK    = "ok"
	StatusError = "error"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Commands:      len(s.catalog.Entries()),
		Workers:       s.config.Workers,
	})
}

// handleExec handles POST /v1/exec. The body carries the argument vector; the
// response is the command's text, with the outcome in X-Relay-Status.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			s.writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}

	if err := s.slots.Acquire(r.Context(), 1); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for a worker")
		return
	}
	res := s.exec.ExecuteResult(r.Context(), req.Args, dispatch.Meta{
		Transport: "http",
		Identity:  identityOf(r),
		ConnID:    middleware.GetReqID(r.Context()),
	})
	s.slots.Release(1)

	status := StatusOK
	if !res.OK {
		status = StatusError
	}
	text := res.Text
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(HeaderStatus, status)
	if res.Command != "" {
		w.Header().Set(HeaderCommand, res.Command)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// handleCommands handles GET /v1/commands.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	entries := s.catalog.Entries()
	resp := CommandsResponse{Commands: make([]CommandInfo, 0, len(entries))}
	for _, e := range entries {
		info := CommandInfo{
			Name:        e.Name(),
			Description: e.Description(),
			Options:     make([]OptionInfo, 0),
		}
		for _, o := range e.Options() {
			info.Options = append(info.Options, OptionInfo{
				Short:    o.Short,
				Long:     o.Long,
				Required: o.Required,
				Default:  o.Default,
				Help:     o.Help,
				Type:     o.Domain,
				Values:   o.Values,
			})
		}
		resp.Commands = append(resp.Commands, info)
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
