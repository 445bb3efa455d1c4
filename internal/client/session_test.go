package client

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/server"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type EchoCommand struct {
	Text string
}

func (e *EchoCommand) Execute(context.Context) (string, error) { return e.Text, nil }

func startServer(t *testing.T, hs auth.Handshake) int {
	t.Helper()
	reg, err := command.Build([]command.Descriptor{{
		New: func() command.Command { return &EchoCommand{} },
		Options: []command.OptionSpec{
			{Short: "t", Long: "text", Field: "Text", Required: true},
		},
	}})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := server.New(server.Config{Workers: 2}, hs, dispatch.New(reg, nil))
	require.NoError(t, s.Start(ln))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestInvoke(t *testing.T) {
	port := startServer(t, nil)
	s := &Session{}

	out, err := s.Invoke(context.Background(), "127.0.0.1", port, []string{"echo", "--text", "héllo wörld"})
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", out)

	out, err = s.Invoke(context.Background(), "127.0.0.1", port, []string{"echo"})
	require.NoError(t, err, "command failures are text, not errors")
	assert.Equal(t, "Argument -t is mandatory.", out)
}

func TestInvokeWithTokenHandshake(t *testing.T) {
	tokens := []auth.TokenConfig{{Name: "ops", Token: "s3cret"}}
	port := startServer(t, &auth.TokenHandshake{Tokens: tokens})

	good := &Session{Handshake: &auth.TokenHandshake{Name: "ops", Secret: "s3cret"}}
	out, err := good.Invoke(context.Background(), "127.0.0.1", port, []string{"echo", "-t", "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	bad := &Session{Handshake: &auth.TokenHandshake{Name: "ops", Secret: "wrong"}}
	_, err = bad.Invoke(context.Background(), "127.0.0.1", port, []string{"echo", "-t", "hi"})
	require.Error(t, err)
	assert.True(t, IsKind(err, AuthenticationError), "got %v", err)
	assert.ErrorIs(t, err, auth.ErrAuthentication)
}

func TestInvokeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = (&Session{DialTimeout: time.Second}).Invoke(context.Background(), "127.0.0.1", port, []string{"ping"})
	require.Error(t, err)
	assert.True(t, IsKind(err, ConnectionError), "got %v", err)
}

func TestInvokeProtocolError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = protocol.ReadRequest(c, 0)
		var hdr [protocol.HeaderSize]byte
		binary.BigEndian.PutUint32(hdr[:], 1<<20)
		_, _ = c.Write(hdr[:])
	}()

	s := &Session{MaxFrameSize: 1024}
	_, err = s.Invoke(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, []string{"ping"})
	require.Error(t, err)
	assert.True(t, IsKind(err, ProtocolError), "got %v", err)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestInvokeErrorMessage(t *testing.T) {
	err := &InvokeError{Kind: AuthenticationError, Err: errors.New("denied")}
	assert.Equal(t, "authentication error: denied", err.Error())
}

type fakeResolver struct {
	addrs []netip.Addr
	err   error
}

func (f fakeResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return f.addrs, f.err
}

func TestResolveHost(t *testing.T) {
	v6 := netip.MustParseAddr("2001:db8::1")
	v4 := netip.MustParseAddr("192.0.2.7")
	mapped := netip.MustParseAddr("::ffff:198.51.100.1")

	tests := []struct {
		name    string
		host    string
		r       fakeResolver
		want    string
		wantErr bool
	}{
		{"literal v4", "10.1.2.3", fakeResolver{err: errors.New("unused")}, "10.1.2.3", false},
		{"literal v6", "::1", fakeResolver{err: errors.New("unused")}, "::1", false},
		{"prefers v4", "svc.local", fakeResolver{addrs: []netip.Addr{v6, v4}}, "192.0.2.7", false},
		{"v4-mapped counts as v4", "svc.local", fakeResolver{addrs: []netip.Addr{v6, mapped}}, "198.51.100.1", false},
		{"falls back to first", "svc.local", fakeResolver{addrs: []netip.Addr{v6}}, "2001:db8::1", false},
		{"no addresses", "svc.local", fakeResolver{}, "", true},
		{"lookup fails", "svc.local", fakeResolver{err: errors.New("nxdomain")}, "", true},
		{"empty host", "", fakeResolver{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := resolveHost(context.Background(), tt.r, tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

func TestInvokeUsesResolver(t *testing.T) {
	port := startServer(t, nil)
	s := &Session{resolver: fakeResolver{addrs: []netip.Addr{
		netip.MustParseAddr("::1"),
		netip.MustParseAddr("127.0.0.1"),
	}}}
	out, err := s.Invoke(context.Background(), "relay.internal", port, []string{"echo", "-t", "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRunScript(t *testing.T) {
	port := startServer(t, nil)
	script := strings.Join([]string{
		"# greeting script",
		"echo -t first",
		"",
		"   ",
		`echo --text "two words"`,
		"  # indented comment",
		"nope",
		`echo -t 'unterminated`,
	}, "\n")

	out, err := (&Session{}).RunScript(context.Background(), "127.0.0.1", port, strings.NewReader(script))
	require.NoError(t, err)
	assert.Equal(t, "first\ntwo words\nCommand nope does not exist.\nunterminated ' quote\n", out)
}

func TestRunLinesContinuesAfterFailure(t *testing.T) {
	var seen [][]string
	out, err := RunLines(context.Background(), strings.NewReader("a\nb -x\nc"), func(_ context.Context, args []string) (string, error) {
		seen = append(seen, args)
		if args[0] == "b" {
			return "", &InvokeError{Kind: ConnectionError, Err: errors.New("refused")}
		}
		return strings.ToUpper(args[0]), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "A\nconnection error: refused\nC\n", out)
	assert.Equal(t, [][]string{{"a"}, {"b", "-x"}, {"c"}}, seen)
}

func TestRunLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunLines(ctx, strings.NewReader("a\n"), func(context.Context, []string) (string, error) {
		t.Fatal("must not run")
		return "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"ping", []string{"ping"}},
		{"  greet   -n   Ada  ", []string{"greet", "-n", "Ada"}},
		{`greet --name "Ada Lovelace"`, []string{"greet", "--name", "Ada Lovelace"}},
		{`greet --name 'it"s'`, []string{"greet", "--name", `it"s`}},
		{`greet --name ""`, []string{"greet", "--name", ""}},
		{`say pre"fix suf"fix`, []string{"say", "prefix suffix"}},
		{"tab\tseparated", []string{"tab", "separated"}},
		{`greet --name Ada\ Lovelace`, []string{"greet", "--name", "Ada Lovelace"}},
		{`say \"quoted\"`, []string{"say", `"quoted"`}},
		{`say "a \"b\" c\\d"`, []string{"say", `a "b" c\d`}},
		{`say "keep\n"`, []string{"say", `keep\n`}},
		{`say 'lit\eral'`, []string{"say", `lit\eral`}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := SplitArgs(`echo "open`)
	assert.Error(t, err)
	_, err = SplitArgs(`echo trailing\`)
	assert.Error(t, err)
}
