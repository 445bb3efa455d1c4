package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/log"
)

// clientState is the endpoint a client invocation talks to and the file
// that persists it.
type clientState struct {
	cfg  *config.Config
	path string
}

func (s *clientState) endpoint() string {
	return net.JoinHostPort(s.cfg.Client.Host, strconv.Itoa(s.cfg.Client.Port))
}

// APICommand shows or changes the default endpoint. It runs in the client
// process and never reaches a server.
type APICommand struct {
	command.Base
	Host *string
	Port *int
}

func (a *APICommand) Execute(context.Context) (string, error) {
	st, err := command.Resolve[*clientState](a.Container())
	if err != nil {
		return "", err
	}
	if a.Host == nil && a.Port == nil {
		return "Current endpoint: " + st.endpoint(), nil
	}

	host, port := st.cfg.Client.Host, st.cfg.Client.Port
	if a.Host != nil {
		host = strings.TrimSpace(*a.Host)
		if host == "" {
			return "", fmt.Errorf("host must not be empty")
		}
	}
	if a.Port != nil {
		port = *a.Port
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("port %d out of range (1-65535)", port)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := config.UpdateClientEndpoint(st.path, host, port); err != nil {
		return "", err
	}
	st.cfg.Client.Host, st.cfg.Client.Port = host, port
	return "Endpoint set to " + st.endpoint(), nil
}

func localDescriptors() []command.Descriptor {
	return []command.Descriptor{
		{
			Description: "Shows or sets the default service endpoint.",
			New:         func() command.Command { return &APICommand{} },
			Options: []command.OptionSpec{
				{Short: "h", Long: "host", Field: "Host", Help: "Host name or address of the service."},
				{Short: "p", Long: "port", Field: "Port", Help: "TCP port of the service."},
			},
		},
	}
}

// relayClient routes each argument vector either to a client-local command
// or to the configured service.
type relayClient struct {
	state     *clientState
	session   *client.Session
	local     *command.Registry
	localExec *dispatch.Dispatcher
}

func newRelayClient(path string, cfg *config.Config) (*relayClient, error) {
	reg, err := command.Build(localDescriptors())
	if err != nil {
		return nil, err
	}
	st := &clientState{cfg: cfg, path: path}
	services := command.NewServices()
	command.Provide(services, st)

	return &relayClient{
		state:     st,
		session:   newSession(cfg),
		local:     reg,
		localExec: dispatch.New(reg, services, dispatch.WithLogger(clientLogger(cfg))),
	}, nil
}

func (c *relayClient) run(ctx context.Context, args []string) (string, error) {
	if len(args) > 0 {
		if _, ok := c.local.Lookup(args[0]); ok {
			res := c.localExec.ExecuteResult(ctx, args, dispatch.Meta{Transport: "local", Identity: c.state.cfg.Client.Identity})
			if !res.OK {
				return "", errors.New(res.Text)
			}
			return res.Text, nil
		}
	}
	return c.session.Invoke(ctx, c.state.cfg.Client.Host, c.state.cfg.Client.Port, args)
}

func newSession(cfg *config.Config) *client.Session {
	var hs auth.Handshake = auth.NoHandshake{}
	if cfg.Client.Token != "" {
		hs = &auth.TokenHandshake{Name: cfg.Client.Identity, Secret: cfg.Client.Token, Timeout: cfg.Client.DialTimeout}
	}
	return &client.Session{
		Handshake:    hs,
		DialTimeout:  cfg.Client.DialTimeout,
		IOTimeout:    cfg.Client.IOTimeout,
		MaxFrameSize: cfg.Server.MaxFrameSize,
		Logger:       clientLogger(cfg),
	}
}

// clientLogger keeps client commands quiet unless something goes wrong.
func clientLogger(cfg *config.Config) *slog.Logger {
	level := "warn"
	if log.ParseLevel(cfg.Service.LogLevel) < slog.LevelInfo {
		level = cfg.Service.LogLevel
	}
	return log.New(os.Stderr, level, cfg.Service.LogFormat).With("component", "client")
}

func clientContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printCallHelp() {
	fmt.Println("Usage: relay call [--config PATH] [--host HOST] [--port PORT] <command> [options...]")
	fmt.Println("Run one command on the service and print its text result.")
	fmt.Println("With no command the service runs 'help'.")
}

func runCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	host := fs.String("host", "", "Override client.host")
	port := fs.Int("port", 0, "Override client.port")
	fs.Usage = printCallHelp
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	c, code := openClient(*configPath)
	if c == nil {
		return code
	}
	if *host != "" {
		c.state.cfg.Client.Host = *host
	}
	if *port != 0 {
		c.state.cfg.Client.Port = *port
	}

	ctx, stop := clientContext()
	defer stop()

	out, err := c.run(ctx, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printResult(out)
	return 0
}

func printScriptHelp() {
	fmt.Println("Usage: relay script -f FILE [--config PATH]")
	fmt.Println("Run each non-blank line of FILE that does not start with '#', in order.")
	fmt.Println("Use '-f -' to read the script from stdin. A failing line prints its error and the script continues.")
}

func runScript(args []string) int {
	fs := flag.NewFlagSet("script", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	var file string
	fs.StringVar(&file, "f", "", "Script file")
	fs.StringVar(&file, "file", "", "Script file")
	fs.Usage = printScriptHelp
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if file == "" || fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: relay script -f FILE [--config PATH]")
		return 1
	}

	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open script: %v\n", err)
			return 1
		}
		defer f.Close()
		r = f
	}

	c, code := openClient(*configPath)
	if c == nil {
		return code
	}

	ctx, stop := clientContext()
	defer stop()

	out, err := client.RunLines(ctx, r, c.run)
	fmt.Print(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Script aborted: %v\n", err)
		return 1
	}
	return 0
}

func printAPIHelp() {
	fmt.Println("Usage: relay api [--config PATH] [-h HOST] [-p PORT]")
	fmt.Println("Without options, show the default endpoint. With -h or -p, persist a new one")
	fmt.Println("under client.host and client.port in the config file.")
}

// runAPI forwards its tokens to the local api command; -h is the host
// option there, so only --help prints usage.
func runAPI(args []string) int {
	configPath, rest, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	for _, arg := range rest {
		if arg == "--help" {
			printAPIHelp()
			return 0
		}
	}

	c, code := openClient(configPath)
	if c == nil {
		return code
	}

	out, err := c.run(context.Background(), append([]string{"api"}, rest...))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printResult(out)
	return 0
}

// splitConfigFlag pulls --config PATH or --config=PATH out of args.
func splitConfigFlag(args []string) (string, []string, error) {
	var path string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("flag needs an argument: %s", arg)
			}
			path = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		default:
			rest = append(rest, arg)
		}
	}
	return path, rest, nil
}

func openClient(configPath string) (*relayClient, int) {
	path := resolveConfigPath(configPath)
	cfg, err := loadConfigForTool(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	if cfg.Path != "" {
		path = cfg.Path
	}
	c, err := newRelayClient(path, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize client: %v\n", err)
		return nil, 1
	}
	return c, 0
}

func printResult(out string) {
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
}
