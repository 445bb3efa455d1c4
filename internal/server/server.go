// Package server is the raw TCP transport: one acceptor goroutine feeds a FIFO
// of connections to a fixed pool of workers, and each worker drives one
// connection's read-dispatch-write loop until the peer disconnects.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/protocol"
)

// Executor runs one argument vector. *dispatch.Dispatcher satisfies it.
type Executor interface {
	ExecuteResult(ctx context.Context, args []string, meta dispatch.Meta) dispatch.Result
}

// Config holds TCP transport settings.
type Config struct {
	Workers          int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxFrameSize     uint32
	ShutdownTimeout  time.Duration
}

const (
	defaultWorkers          = 4
	defaultHandshakeTimeout = 10 * time.Second
	defaultShutdownTimeout  = 10 * time.Second

	maxAcceptBackoff = time.Second
)

var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrStopped        = errors.New("server stopped")
)

// Server accepts connections and serves them with a bounded worker pool.
type Server struct {
	cfg       Config
	handshake auth.Handshake
	exec      Executor
	events    events.Publisher
	logger    *slog.Logger

	queue *workQueue
	stop  chan struct{}
	wg    sync.WaitGroup

	// ctx is handed to handshakes and commands; cancel aborts them on forced shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	started  bool
	stopped  bool
	active   map[string]*Connection
	stopOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithEvents publishes connection lifecycle events.
func WithEvents(p events.Publisher) Option {
	return func(s *Server) { s.events = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server. A nil handshake means auth.NoHandshake.
func New(cfg Config, hs auth.Handshake, exec Executor, opts ...Option) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if hs == nil {
		hs = auth.NoHandshake{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		handshake: hs,
		exec:      exec,
		logger:    log.WithComponent("server"),
		queue:     newWorkQueue(),
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the acceptor and the worker pool on ln. It does not block.
func (s *Server) Start(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ln = ln

	s.wg.Add(1 + s.cfg.Workers)
	go s.acceptLoop(ln)
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(i)
	}
	s.logger.Info("tcp server started", "listen", ln.Addr().String(), "workers", s.cfg.Workers)
	return nil
}

// Run serves on ln until ctx is cancelled, then stops within ShutdownTimeout.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ln); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("tcp server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts down gracefully: no new connections, queued connections closed,
// in-flight connections finish their current request. If ctx expires first,
// in-flight connections are closed. Stop returns only after every goroutine
// has exited, and reports ctx.Err() when it had to force.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		ln := s.ln
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}
		close(s.stop)

		queued := s.queue.drain()
		for _, c := range queued {
			s.finish(c)
		}
		if len(queued) > 0 {
			s.logger.Info("closed queued connections", "count", len(queued))
		}
		for _, c := range s.snapshot() {
			c.interruptIdle()
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("tcp server stopped")
		return nil
	case <-ctx.Done():
	}

	active := s.snapshot()
	s.logger.Warn("shutdown deadline reached, closing active connections", "count", len(active))
	s.cancel()
	for _, c := range active {
		c.close()
	}
	<-done
	return ctx.Err()
}

// Active returns the number of connections accepted and not yet closed.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	var backoff time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-s.stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		c := newConnection(raw)
		s.track(c)
		s.logger.Debug("connection accepted", "conn_id", c.ID, "remote", c.remote())
		s.publish(events.TypeConnAccepted, events.ConnData{ConnID: c.ID, Remote: c.remote()})

		if !s.queue.push(c) {
			s.finish(c)
			return
		}
	}
}

func (s *Server) worker(id int) {
	defer s.wg.Done()
	logger := s.logger.With("worker", id)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if c, ok := s.queue.pop(); ok {
			s.serve(logger, c)
			continue
		}
		select {
		case <-s.stop:
			return
		case <-s.queue.ready:
		}
	}
}

func (s *Server) serve(logger *slog.Logger, c *Connection) {
	defer s.finish(c)
	logger = logger.With("conn_id", c.ID)

	c.setState(StateAuthenticating)
	hctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	conn, id, err := s.handshake.NegotiateAsServer(hctx, c.raw)
	cancel()
	if err != nil {
		c.fail(err)
		logger.Warn("handshake failed", "remote", c.remote(), "error", err)
		return
	}
	c.authenticated(conn, id)
	logger.Debug("connection authenticated", "identity", id.Name)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	meta := dispatch.Meta{Transport: "tcp", Identity: id.Name, ConnID: c.ID}

	for {
		if !c.armRead(s.stop, s.cfg.ReadTimeout) {
			return
		}
		var args []string
		_, err := r.Peek(1)
		if err == nil {
			c.receiving()
			args, err = protocol.ReadRequest(r, s.cfg.MaxFrameSize)
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("client disconnected")
			case s.stopping():
				logger.Debug("connection interrupted by shutdown")
			default:
				c.fail(err)
				logger.Warn("read request failed", "error", err)
			}
			return
		}

		res := s.exec.ExecuteResult(s.ctx, args, meta)

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		err = protocol.WriteResponse(w, res.Text)
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			c.fail(err)
			logger.Warn("write response failed", "error", err)
			return
		}
		c.served()
	}
}

func (s *Server) track(c *Connection) {
	s.mu.Lock()
	s.active[c.ID] = c
	s.mu.Unlock()
}

// finish closes c, forgets it, and publishes conn.closed exactly once.
func (s *Server) finish(c *Connection) {
	s.mu.Lock()
	_, tracked := s.active[c.ID]
	delete(s.active, c.ID)
	s.mu.Unlock()

	c.close()
	if !tracked {
		return
	}

	c.mu.Lock()
	data := events.ConnData{
		ConnID:   c.ID,
		Remote:   c.remote(),
		Identity: c.identity.Name,
		State:    c.state.String(),
		Requests: c.requests,
	}
	if c.err != nil {
		data.Error = c.err.Error()
	}
	c.mu.Unlock()
	s.publish(events.TypeConnClosed, data)
}

func (s *Server) snapshot() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.active))
	for _, c := range s.active {
		out = append(out, c)
	}
	return out
}

func (s *Server) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Server) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}
