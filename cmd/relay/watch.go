package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/tui/watch"
)

func printWatchHelp() {
	fmt.Println("Usage: relay watch [--config PATH] [--url URL] [--token TOKEN]")
	fmt.Println("Live view of connections, commands and events from a service's HTTP transport.")
	fmt.Println("Defaults to http://<http.listen> and client.token from the config.")
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("url", "", "Base URL of the HTTP transport")
	token := fs.String("token", "", "Bearer token (defaults to client.token)")
	fs.Usage = printWatchHelp
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	src := watch.Source{BaseURL: *apiURL, Token: *token}
	if src.BaseURL == "" {
		src.BaseURL = watchURL(cfg)
	}
	if src.Token == "" {
		src.Token = cfg.Client.Token
	}

	ctx, stop := clientContext()
	defer stop()

	if err := watch.Run(ctx, src); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

// watchURL turns http.listen into a URL a local client can reach.
func watchURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.HTTP.Listen)
	if err != nil {
		return "http://" + strings.TrimPrefix(cfg.HTTP.Listen, "http://")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
