package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/relay/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Commands      int    `json:"commands"`
	Workers       int    `json:"workers"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ err error }
type reconnectMsg struct{}

// Source talks to one relay HTTP transport.
type Source struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (s Source) client() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return http.DefaultClient
}

func (s Source) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	return req, nil
}

// Stream reads /v1/events into ch until the stream ends or ctx is done.
// Events after lastID are requested, so a reconnect does not replay what
// was already seen. It returns the ID of the last event delivered.
func (s Source) Stream(ctx context.Context, lastID int64, ch chan<- events.Event) (int64, error) {
	req, err := s.newRequest(ctx, "/v1/events")
	if err != nil {
		return lastID, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lastID, fmt.Errorf("event stream: %s", resp.Status)
	}

	err = readSSE(resp.Body, func(ev events.Event) bool {
		select {
		case ch <- ev:
			lastID = ev.ID
			return true
		case <-ctx.Done():
			return false
		}
	})
	if ctx.Err() != nil {
		return lastID, ctx.Err()
	}
	return lastID, err
}

// readSSE parses a text/event-stream body. Comment lines are skipped; a
// blank line ends one event. emit returning false stops the read.
func readSSE(r io.Reader, emit func(events.Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var cur events.Event
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.At = time.Now()
				cur.Data = json.RawMessage(data.String())
				if !emit(cur) {
					return nil
				}
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	return sc.Err()
}

// Health queries /healthz.
func (s Source) Health(ctx context.Context) (healthMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var h healthMsg
	req, err := s.newRequest(ctx, "/healthz")
	if err != nil {
		return h, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("healthz: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode healthz: %w", err)
	}
	return h, nil
}

// --- Commands ---

// subscribe runs one stream connection resuming after from. The returned
// message reports the disconnect.
func subscribe(ctx context.Context, src Source, from int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_, err := src.Stream(ctx, from, ch)
		return sseDisconnectedMsg{err: err}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(ctx context.Context, src Source) tea.Cmd {
	return func() tea.Msg {
		h, err := src.Health(ctx)
		if err != nil {
			return errMsg(err)
		}
		return h
	}
}
