package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/events"
)

type PingCommand struct{}

func (*PingCommand) Execute(context.Context) (string, error) { return "pong", nil }

type HelpCommand struct{}

func (*HelpCommand) Execute(context.Context) (string, error) { return "usage", nil }

type GreetCommand struct {
	Name  string
	Times int
}

func (g *GreetCommand) Execute(context.Context) (string, error) {
	return strings.TrimSpace(strings.Repeat("Hello, "+g.Name+" ", g.Times)), nil
}

// gate blocks BlockCommand until the test releases it.
type gate struct {
	started chan struct{}
	release chan struct{}
}

type BlockCommand struct {
	command.Base
}

func (b *BlockCommand) Execute(ctx context.Context) (string, error) {
	g, err := command.Resolve[*gate](b.Container())
	if err != nil {
		return "", err
	}
	g.started <- struct{}{}
	select {
	case <-g.release:
		return "released", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}


func newTestRegistry(t *testing.T) *command.Registry {
	t.Helper()
	reg, err := command.Build([]command.Descriptor{
		{New: func() command.Command { return &PingCommand{} }},
		{New: func() command.Command { return &HelpCommand{} }, Description: "Show help"},
		{New: func() command.Command { return &BlockCommand{} }},
		{
			New:         func() command.Command { return &GreetCommand{} },
			Description: "Greet someone",
			Options: []command.OptionSpec{
				{Short: "n", Long: "name", Field: "Name", Required: true, Help: "who to greet"},
				{Short: "t", Long: "times", Field: "Times", Default: "1"},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

type fixture struct {
	server *Server
	hub    *events.Hub
	gate   *gate
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := newTestRegistry(t)
	hub := events.NewHub(32)
	g := &gate{started: make(chan struct{}, 4), release: make(chan struct{})}
	services := command.NewServices()
	command.Provide(services, g)
	d := dispatch.New(reg, services, dispatch.WithEvents(hub), dispatch.WithLogger(testLogger()))
	return &fixture{
		server: New(cfg, d, reg, hub, testLogger()),
		hub:    hub,
		gate:   g,
	}
}

func postExec(t *testing.T, h http.Handler, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/exec", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{Workers: 3, Tokens: []auth.TokenConfig{{Name: "ops", Token: "t"}}})

	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Commands)
	assert.Equal(t, 3, resp.Workers)
}

func TestExec(t *testing.T) {
	f := newFixture(t, Config{})
	h := f.server.Handler()

	tests := []struct {
		name        string
		body        string
		wantStatus  string
		wantBody    string
		wantCommand string
	}{
		{"ping", `{"args":["ping"]}`, StatusOK, "pong", "ping"},
		{"options", `{"args":["greet","--name","Ada","-t","2"]}`, StatusOK, "Hello, Ada Hello, Ada", "greet"},
		{"empty runs help", `{"args":[]}`, StatusOK, "usage", "help"},
		{"missing required", `{"args":["greet"]}`, StatusError, "is mandatory", "greet"},
		{"unknown command", `{"args":["nope"]}`, StatusError, "Command nope does not exist.", "nope"},
		{"bad conversion", `{"args":["greet","-n","x","-t","many"]}`, StatusError, "many", "greet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postExec(t, h, tt.body, "")
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantStatus, rr.Header().Get(HeaderStatus))
			assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			assert.Equal(t, tt.wantCommand, rr.Header().Get(HeaderCommand))
		})
	}
}

func TestExecBadBody(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 64})
	h := f.server.Handler()

	rr := postExec(t, h, `{"args":`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postExec(t, h, "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postExec(t, h, `{"args":["`+strings.Repeat("x", 200)+`"]}`, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

type recordingExecutor struct {
	mu    sync.Mutex
	metas []dispatch.Meta
}

func (r *recordingExecutor) ExecuteResult(_ context.Context, args []string, meta dispatch.Meta) dispatch.Result {
	r.mu.Lock()
	r.metas = append(r.metas, meta)
	r.mu.Unlock()
	return dispatch.Result{Text: strings.Join(args, " "), OK: true, Command: args[0]}
}

func TestExecAuth(t *testing.T) {
	exec := &recordingExecutor{}
	s := New(Config{Tokens: []auth.TokenConfig{{Name: "ops", Token: "opensesame"}}}, exec, newTestRegistry(t), nil, testLogger())
	h := s.Handler()

	rr := postExec(t, h, `{"args":["ping"]}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	rr = postExec(t, h, `{"args":["ping"]}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postExec(t, h, `{"args":["ping"]}`, "opensesame")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ping", rr.Body.String())

	require.Len(t, exec.metas, 1)
	assert.Equal(t, "ops", exec.metas[0].Identity)
	assert.Equal(t, "http", exec.metas[0].Transport)
	assert.NotEmpty(t, exec.metas[0].ConnID)

	// healthz stays open.
	hz := httptest.NewRecorder()
	h.ServeHTTP(hz, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, hz.Code)
}

func TestExecAnonymousWithoutTokens(t *testing.T) {
	exec := &recordingExecutor{}
	s := New(Config{}, exec, newTestRegistry(t), nil, testLogger())

	rr := postExec(t, s.Handler(), `{"args":["ping"]}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, exec.metas, 1)
	assert.Equal(t, "anonymous", exec.metas[0].Identity)
}

func TestExecBoundedByWorkers(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	h := f.server.Handler()

	blocked := make(chan *httptest.ResponseRecorder, 1)
	go func() { blocked <- postExec(t, h, `{"args":["block"]}`, "") }()

	select {
	case <-f.gate.started:
	case <-time.After(2 * time.Second):
		t.Fatal("block command never started")
	}

	waiting := make(chan *httptest.ResponseRecorder, 1)
	go func() { waiting <- postExec(t, h, `{"args":["ping"]}`, "") }()

	select {
	case <-waiting:
		t.Fatal("second request ran while the only worker slot was busy")
	case <-time.After(150 * time.Millisecond):
	}

	close(f.gate.release)

	rr := <-blocked
	assert.Equal(t, "released", rr.Body.String())
	select {
	case rr := <-waiting:
		assert.Equal(t, "pong", rr.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("second request never got a worker")
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t, Config{})

	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/commands", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp CommandsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Commands, 4)

	var greet *CommandInfo
	for i := range resp.Commands {
		if resp.Commands[i].Name == "greet" {
			greet = &resp.Commands[i]
		}
	}
	require.NotNil(t, greet)
	assert.Equal(t, "Greet someone", greet.Description)
	require.Len(t, greet.Options, 2)
	assert.Equal(t, OptionInfo{Short: "n", Long: "name", Required: true, Help: "who to greet", Type: "string"}, greet.Options[0])
	assert.Equal(t, "1", greet.Options[1].Default)
	assert.Equal(t, "int", greet.Options[1].Type)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, Config{})
	f.server.keepAlive = 20 * time.Millisecond
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	f.hub.Publish(events.TypeConnAccepted, events.ConnData{ConnID: "c1", Remote: "127.0.0.1:1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		t.Helper()
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, prefix) {
				return line
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, scanner.Err())
		return ""
	}

	assert.Equal(t, "event: conn.accepted", next("event: "))
	assert.Contains(t, next("data: "), `"conn_id":"c1"`)

	// A live command shows up after the replay.
	go postExec(t, f.server.Handler(), `{"args":["ping"]}`, "")
	assert.Equal(t, "event: command.executed", next("event: "))
	assert.Contains(t, next("data: "), `"command":"ping"`)

	assert.Equal(t, ": keep-alive", next(": keep-alive"))
}

func TestEventsResumeFromLastEventID(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	f.hub.Publish("first", nil)
	f.hub.Publish("second", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "id: 2", scanner.Text())
	require.True(t, scanner.Scan())
	assert.Equal(t, "event: second", scanner.Text())
}

func TestEventsDisabled(t *testing.T) {
	s := New(Config{}, &recordingExecutor{}, newTestRegistry(t), nil, testLogger())
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0"}, &recordingExecutor{}, newTestRegistry(t), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRunEndsEventStreamsOnShutdown(t *testing.T) {
	hub := events.NewHub(8)
	s := New(Config{ShutdownTimeout: 5 * time.Second}, &recordingExecutor{}, newTestRegistry(t), hub, testLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second, "shutdown waited on the open stream")
	case <-time.After(4 * time.Second):
		t.Fatal("Run did not return with an event stream open")
	}

	// the stream itself ends rather than hanging
	_, err = io.Copy(io.Discard, resp.Body)
	assert.NoError(t, err)
}
