package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/relay/internal/auth"
)

// State is the lifecycle position of a Connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateProcessing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is one accepted client. A single worker owns it from dequeue
// until close; the mutex guards state against the shutdown path.
type Connection struct {
	ID       string
	Accepted time.Time

	mu       sync.Mutex
	raw      net.Conn
	conn     net.Conn
	state    State
	identity auth.Identity
	requests int
	err      error
	closed   bool

	// readDeadline is the per-frame deadline armed for the current request.
	readDeadline time.Time
}

func newConnection(raw net.Conn) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		Accepted: time.Now(),
		raw:      raw,
		conn:     raw,
		state:    StateConnecting,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the peer identity established by the handshake.
func (c *Connection) Identity() auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Connection) remote() string {
	if a := c.raw.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Connection) authenticated(conn net.Conn, id auth.Identity) {
	c.mu.Lock()
	c.conn = conn
	c.identity = id
	c.mu.Unlock()
}

// armRead moves to Ready and sets the next read deadline, unless the server is
// stopping. Holding mu here orders it against interruptIdle.
func (c *Connection) armRead(stop <-chan struct{}, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	if c.closed {
		return false
	}
	c.state = StateReady
	c.readDeadline = time.Time{}
	if timeout > 0 {
		c.readDeadline = time.Now().Add(timeout)
	}
	_ = c.conn.SetReadDeadline(c.readDeadline)
	return true
}

// receiving marks a request as arriving. From here shutdown lets the frame
// finish; an interrupt that raced with the first byte is undone by restoring
// the frame's own deadline.
func (c *Connection) receiving() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = StateProcessing
	_ = c.conn.SetReadDeadline(c.readDeadline)
}

// interruptIdle unblocks a worker waiting for the next request. A request that
// has started arriving is not interrupted.
func (c *Connection) interruptIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady && !c.closed {
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

func (c *Connection) served() {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if !c.closed {
		c.state = StateFailed
		c.err = err
	}
	c.mu.Unlock()
}

// close is idempotent. A failed connection keeps its Failed state.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.state != StateFailed {
		c.state = StateClosed
	}
	_ = c.conn.Close()
	if c.raw != c.conn {
		_ = c.raw.Close()
	}
}
