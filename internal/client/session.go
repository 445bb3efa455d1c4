// Package client is the caller side of the TCP transport: resolve, connect,
// authenticate, send one request, read one response, close.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/protocol"
)

// ErrorKind classifies an Invoke failure.
type ErrorKind int

const (
	ConnectionError ErrorKind = iota + 1
	AuthenticationError
	ProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionError:
		return "connection error"
	case AuthenticationError:
		return "authentication error"
	case ProtocolError:
		return "protocol error"
	default:
		return "error"
	}
}

// InvokeError wraps the failure of one Invoke.
type InvokeError struct {
	Kind ErrorKind
	Err  error
}

func (e *InvokeError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *InvokeError) Unwrap() error { return e.Err }

// IsKind reports whether err is an InvokeError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == k
}

const (
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 60 * time.Second
)

// Session holds client settings. The zero value uses NoHandshake and default timeouts.
type Session struct {
	Handshake    auth.Handshake
	DialTimeout  time.Duration
	IOTimeout    time.Duration
	MaxFrameSize uint32
	Logger       *slog.Logger

	// resolver is swapped in tests.
	resolver hostResolver
}

// Invoke runs one command on host:port and returns its text result.
func (s *Session) Invoke(ctx context.Context, host string, port int, args []string) (string, error) {
	logger := s.logger()

	ip, err := resolveHost(ctx, s.lookup(), host)
	if err != nil {
		return "", &InvokeError{Kind: ConnectionError, Err: err}
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	dialer := net.Dialer{Timeout: orDefault(s.DialTimeout, defaultDialTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &InvokeError{Kind: ConnectionError, Err: err}
	}
	defer conn.Close()
	logger.Debug("connected", "addr", addr)

	hs := s.Handshake
	if hs == nil {
		hs = auth.NoHandshake{}
	}
	authed, err := hs.NegotiateAsClient(ctx, conn)
	if err != nil {
		return "", &InvokeError{Kind: AuthenticationError, Err: err}
	}

	deadline := time.Now().Add(orDefault(s.IOTimeout, defaultIOTimeout))
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := authed.SetDeadline(deadline); err != nil {
		return "", &InvokeError{Kind: ConnectionError, Err: err}
	}

	w := bufio.NewWriter(authed)
	if err := protocol.WriteRequest(w, args); err != nil {
		return "", &InvokeError{Kind: ConnectionError, Err: err}
	}
	if err := w.Flush(); err != nil {
		return "", &InvokeError{Kind: ConnectionError, Err: err}
	}

	out, err := protocol.ReadResponse(bufio.NewReader(authed), s.MaxFrameSize)
	if err != nil {
		if errors.Is(err, protocol.ErrFraming) {
			return "", &InvokeError{Kind: ProtocolError, Err: err}
		}
		return "", &InvokeError{Kind: ConnectionError, Err: fmt.Errorf("read response: %w", err)}
	}
	return out, nil
}

func (s *Session) lookup() hostResolver {
	if s.resolver != nil {
		return s.resolver
	}
	return net.DefaultResolver
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.WithComponent("client")
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
