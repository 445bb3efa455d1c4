package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/relay/internal/api"
	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/builtin"
	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/history"
	"github.com/mattjoyce/relay/internal/lock"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/server"
	"github.com/mattjoyce/relay/internal/storage"
)

const eventBufferSize = 256

func runServerNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printServerNounHelp(os.Stdout)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printServerStartHelp()
			return 0
		}
		return runServerStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printServerStatusHelp()
			return 0
		}
		return runServerStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown server action: %s\n", action)
		printServerNounHelp(os.Stderr)
		return 1
	}
}

func printServerStartHelp() {
	fmt.Println("Usage: relay server start [--config PATH]")
	fmt.Println("Start the TCP transport (and the HTTP transport when http.enabled) in the foreground.")
}

func printServerStatusHelp() {
	fmt.Println("Usage: relay server status [--config PATH] [--json]")
	fmt.Println("Report whether a service holds the state lock and answers ping on server.listen.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Service is running and reachable")
	fmt.Println("  1  Service is not running or not reachable")
}

func runServerStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	cfg, err := loadConfigForTool(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("relay starting", "version", version, "config", cfg.Path)

	if usesStateFile(cfg) {
		pidLockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.AcquirePIDLock(pidLockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLockPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, nil); err != nil {
		logger.Error("relay stopped with error", "error", err)
		return 1
	}
	logger.Info("relay stopped")
	return 0
}

func usesStateFile(cfg *config.Config) bool {
	return cfg.State.Path != "" && cfg.State.Path != ":memory:"
}

// service is everything the transports share: the built registry, the
// dispatcher over it, the event hub and the optional history database.
type service struct {
	registry   *command.Registry
	dispatcher *dispatch.Dispatcher
	hub        *events.Hub
	db         *sql.DB
}

func buildService(ctx context.Context, cfg *config.Config) (*service, error) {
	services := command.NewServices()
	svc := &service{hub: events.NewHub(eventBufferSize)}

	var opts []command.BuildOption
	if cfg.State.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, err
		}
		svc.db = db
		store := history.NewStore(db)
		command.Provide(services, store)
		opts = append(opts, command.WithMiddleware(history.Middleware(store)))
	}

	reg, err := command.Build(builtin.Descriptors(), opts...)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("build command registry: %w", err)
	}
	svc.registry = reg
	command.Provide(services, reg)
	command.Provide(services, builtin.ServiceInfo{Name: cfg.Service.Name, Version: version})

	svc.dispatcher = dispatch.New(reg, services, dispatch.WithEvents(svc.hub))
	return svc, nil
}

func (s *service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// serve runs the TCP transport, plus HTTP when enabled, until ctx is
// cancelled. ready, when set, is called once both listeners are bound; the
// HTTP address is nil when HTTP is disabled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(tcpAddr, httpAddr net.Addr)) error {
	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger.Info("command registry built", "count", svc.registry.Len(), "history", cfg.State.Path != "")

	tcpLn, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	var httpLn net.Listener
	var httpAddr net.Addr
	if cfg.HTTP.Enabled {
		httpLn, err = net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			_ = tcpLn.Close()
			return fmt.Errorf("listen %s: %w", cfg.HTTP.Listen, err)
		}
		httpAddr = httpLn.Addr()
	}
	if ready != nil {
		ready(tcpLn.Addr(), httpAddr)
	}

	tcp := server.New(server.Config{
		Workers:          cfg.Server.Workers,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		MaxFrameSize:     cfg.Server.MaxFrameSize,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, serverHandshake(cfg), svc.dispatcher, server.WithEvents(svc.hub))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tcp.Run(gctx, tcpLn)
	})
	if httpLn != nil {
		httpServer := api.New(api.Config{
			Listen:          cfg.HTTP.Listen,
			Workers:         cfg.Server.Workers,
			Tokens:          httpTokens(cfg),
			MaxBodyBytes:    int64(cfg.Server.MaxFrameSize),
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, svc.dispatcher, svc.registry, svc.hub, log.WithComponent("api"))
		g.Go(func() error {
			return httpServer.Run(gctx, httpLn)
		})
	}
	return g.Wait()
}

func serverHandshake(cfg *config.Config) auth.Handshake {
	if cfg.Auth.Mode != config.AuthModeToken {
		return auth.NoHandshake{}
	}
	return &auth.TokenHandshake{
		Tokens:  authTokens(cfg.Auth.Tokens),
		Timeout: cfg.Server.HandshakeTimeout,
	}
}

// httpTokens enables bearer auth on the HTTP transport only in token mode.
func httpTokens(cfg *config.Config) []auth.TokenConfig {
	if cfg.Auth.Mode != config.AuthModeToken {
		return nil
	}
	return authTokens(cfg.Auth.Tokens)
}

func authTokens(in []config.TokenConfig) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(in))
	for _, t := range in {
		out = append(out, auth.TokenConfig{Name: t.Name, Token: t.Token})
	}
	return out
}

type statusReport struct {
	Config    string `json:"config"`
	Listen    string `json:"listen"`
	LockPath  string `json:"lock_path,omitempty"`
	Locked    bool   `json:"locked"`
	PID       int    `json:"pid,omitempty"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

func runServerStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	cfg, err := loadConfigForTool(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	report := statusReport{Config: cfg.Path, Listen: cfg.Server.Listen}
	if report.Config == "" {
		report.Config = "(defaults)"
	}
	if usesStateFile(cfg) {
		report.LockPath = lock.PathFor(cfg.State.Path)
		report.Locked, report.PID = checkLock(report.LockPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pingServer(ctx, cfg); err != nil {
		report.Error = err.Error()
	} else {
		report.Reachable = true
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("config:    %s\n", report.Config)
		fmt.Printf("listen:    %s\n", report.Listen)
		if report.LockPath != "" {
			state := "free"
			if report.Locked {
				state = fmt.Sprintf("held by pid %d", report.PID)
			}
			fmt.Printf("lock:      %s (%s)\n", report.LockPath, state)
		}
		if report.Reachable {
			fmt.Println("reachable: yes")
		} else {
			fmt.Printf("reachable: no (%s)\n", report.Error)
		}
	}

	if !report.Reachable {
		return 1
	}
	return 0
}

// checkLock reports whether another process holds the lock at path. A free
// lock is taken and released immediately.
func checkLock(path string) (bool, int) {
	l, err := lock.AcquirePIDLock(path)
	if err == nil {
		_ = l.Release()
		return false, 0
	}
	if !errors.Is(err, lock.ErrLocked) {
		return false, 0
	}
	pid, _ := lock.ReadHolder(path)
	return true, pid
}

// pingServer dials server.listen with the configured client credentials.
func pingServer(ctx context.Context, cfg *config.Config) error {
	host, portStr, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return fmt.Errorf("invalid server.listen port: %w", err)
	}
	session := newSession(cfg)
	out, err := session.Invoke(ctx, host, port, []string{"ping"})
	if err != nil {
		return err
	}
	if out != "pong" {
		return &client.InvokeError{Kind: client.ProtocolError, Err: fmt.Errorf("unexpected ping reply %q", out)}
	}
	return nil
}
