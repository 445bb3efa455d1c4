package auth

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mattjoyce/relay/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_handshake.go -package=mocks github.com/mattjoyce/relay/internal/auth Handshake

// ErrAuthentication marks a failed handshake. The connection must be closed.
var ErrAuthentication = errors.New("authentication failed")

// Identity describes the authenticated peer of a connection.
type Identity struct {
	Name          string
	Addr          string
	Authenticated bool
}

// Handshake negotiates a connection before any request is exchanged.
// Both sides must complete it; a failure closes the connection.
type Handshake interface {
	NegotiateAsClient(ctx context.Context, conn net.Conn) (net.Conn, error)
	NegotiateAsServer(ctx context.Context, conn net.Conn) (net.Conn, Identity, error)
}

// NoHandshake accepts every peer without exchanging bytes.
type NoHandshake struct{}

func (NoHandshake) NegotiateAsClient(_ context.Context, conn net.Conn) (net.Conn, error) {
	return conn, nil
}

func (NoHandshake) NegotiateAsServer(_ context.Context, conn net.Conn) (net.Conn, Identity, error) {
	return conn, Identity{Name: "anonymous", Addr: remoteAddr(conn)}, nil
}

const (
	handshakeVersion = "1"
	nonceSize        = 16

	msgHello     = "HELLO"
	msgChallenge = "CHALLENGE"
	msgProof     = "PROOF"
	msgOK        = "OK"
	msgDenied    = "DENIED"

	// maxHandshakeFrame bounds handshake messages, which are tiny.
	maxHandshakeFrame uint32 = 4 << 10
)

// TokenHandshake is a mutual HMAC-SHA256 challenge/response over a shared
// secret. The client proves it knows the secret for Name, and the server
// proves it knows the same secret before the client sends its proof.
//
//	client -> HELLO     version name client-nonce
//	server -> CHALLENGE server-nonce server-proof
//	client -> PROOF     client-proof
//	server -> OK | DENIED reason
type TokenHandshake struct {
	// Client side.
	Name   string
	Secret string

	// Server side.
	Tokens []TokenConfig

	// Timeout bounds the exchange when the context carries no deadline.
	Timeout time.Duration
}

func (h *TokenHandshake) NegotiateAsClient(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if h.Secret == "" {
		return nil, fmt.Errorf("%w: no client secret configured", ErrAuthentication)
	}
	restore, err := h.applyDeadline(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer restore()

	r := bufio.NewReader(conn)
	clientNonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteRequest(conn, []string{msgHello, handshakeVersion, h.Name, clientNonce}); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	msg, err := readMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	if msg[0] == msgDenied {
		return nil, deniedError(msg)
	}
	if msg[0] != msgChallenge || len(msg) != 3 {
		return nil, fmt.Errorf("%w: unexpected %q message", ErrAuthentication, msg[0])
	}
	serverNonce, serverProof := msg[1], msg[2]
	if !hmac.Equal([]byte(serverProof), []byte(prove(h.Secret, "server", clientNonce, serverNonce))) {
		return nil, fmt.Errorf("%w: server could not prove the shared secret", ErrAuthentication)
	}

	if err := protocol.WriteRequest(conn, []string{msgProof, prove(h.Secret, "client", serverNonce, clientNonce)}); err != nil {
		return nil, fmt.Errorf("send proof: %w", err)
	}

	msg, err = readMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read verdict: %w", err)
	}
	switch msg[0] {
	case msgOK:
		return conn, nil
	case msgDenied:
		return nil, deniedError(msg)
	default:
		return nil, fmt.Errorf("%w: unexpected %q message", ErrAuthentication, msg[0])
	}
}

func (h *TokenHandshake) NegotiateAsServer(ctx context.Context, conn net.Conn) (net.Conn, Identity, error) {
	id := Identity{Addr: remoteAddr(conn)}
	restore, err := h.applyDeadline(ctx, conn)
	if err != nil {
		return nil, id, err
	}
	defer restore()

	r := bufio.NewReader(conn)
	msg, err := readMessage(r)
	if err != nil {
		return nil, id, fmt.Errorf("read hello: %w", err)
	}
	if msg[0] != msgHello || len(msg) != 4 {
		return nil, id, deny(conn, "expected hello")
	}
	if msg[1] != handshakeVersion {
		return nil, id, deny(conn, "unsupported handshake version "+msg[1])
	}
	id.Name = msg[2]
	clientNonce := msg[3]

	secret, ok := lookupSecret(id.Name, h.Tokens)
	if !ok || clientNonce == "" {
		return nil, id, deny(conn, "unknown identity")
	}

	serverNonce, err := newNonce()
	if err != nil {
		return nil, id, err
	}
	challenge := []string{msgChallenge, serverNonce, prove(secret, "server", clientNonce, serverNonce)}
	if err := protocol.WriteRequest(conn, challenge); err != nil {
		return nil, id, fmt.Errorf("send challenge: %w", err)
	}

	msg, err = readMessage(r)
	if err != nil {
		return nil, id, fmt.Errorf("read proof: %w", err)
	}
	if msg[0] != msgProof || len(msg) != 2 {
		return nil, id, deny(conn, "expected proof")
	}
	if !hmac.Equal([]byte(msg[1]), []byte(prove(secret, "client", serverNonce, clientNonce))) {
		return nil, id, deny(conn, "invalid proof")
	}

	if err := protocol.WriteRequest(conn, []string{msgOK}); err != nil {
		return nil, id, fmt.Errorf("send verdict: %w", err)
	}
	id.Authenticated = true
	return conn, id, nil
}

func (h *TokenHandshake) applyDeadline(ctx context.Context, conn net.Conn) (func(), error) {
	deadline, ok := ctx.Deadline()
	if !ok && h.Timeout > 0 {
		deadline, ok = time.Now().Add(h.Timeout), true
	}
	if !ok {
		return func() {}, nil
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	return func() { _ = conn.SetDeadline(time.Time{}) }, nil
}

// readMessage reads one handshake message. The buffered reader never holds
// bytes past the final handshake frame because the peer waits for our reply.
func readMessage(r *bufio.Reader) ([]string, error) {
	msg, err := protocol.ReadRequest(r, maxHandshakeFrame)
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty handshake message", ErrAuthentication)
	}
	return msg, nil
}

func deny(conn net.Conn, reason string) error {
	_ = protocol.WriteRequest(conn, []string{msgDenied, reason})
	return fmt.Errorf("%w: %s", ErrAuthentication, reason)
}

func deniedError(msg []string) error {
	reason := "denied"
	if len(msg) > 1 {
		reason = msg[1]
	}
	return fmt.Errorf("%w: server denied handshake: %s", ErrAuthentication, reason)
}

func prove(secret, role, first, second string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(role))
	mac.Write([]byte{0})
	mac.Write([]byte(first))
	mac.Write([]byte{0})
	mac.Write([]byte(second))
	return hex.EncodeToString(mac.Sum(nil))
}

func newNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
