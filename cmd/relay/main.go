package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/relay/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "server":
		return runServerNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- CLIENT ---
	case "call":
		return runCall(args)
	case "script":
		return runScript(args)
	case "api":
		return runAPI(args)

	case "watch":
		return runWatch(args)
	case "inspect":
		return runInspect(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: relay version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("relay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`relay - Remote command execution over TCP and HTTP

Usage:
  relay <noun> <action> [flags]
  relay <client-command> [flags]

Server Commands:
  server start      Start the relay service in the foreground
  server status     Show whether a service holds the state lock and answers ping

Client Commands:
  call <command>    Run one command on the configured endpoint
  script -f FILE    Run every line of FILE as a command, in order
  api               Show or set the default endpoint (-h host, -p port)

Config Commands:
  config check      Validate configuration and report risky settings
  config lock       Authorize current state (update integrity hashes)

Diagnostics:
  watch             Live view of a service's HTTP event stream
  inspect <conn-id> Show every command a connection executed

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Config is read from --config, $RELAY_CONFIG, ./relay.yaml,
~/.config/relay/config.yaml or /etc/relay/config.yaml, first found wins.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printServerNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relay server <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relay config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

// resolveConfigPath picks the config file for this invocation. An explicit
// path always wins; otherwise the first existing candidate is used. When no
// candidate exists the per-user path is returned so client commands have
// somewhere to persist an endpoint.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range configCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return userConfigPath()
}

func configCandidates() []string {
	var out []string
	if p := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); p != "" {
		out = append(out, p)
	}
	out = append(out, "relay.yaml", userConfigPath(), "/etc/relay/config.yaml")
	return out
}

func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "relay.yaml"
	}
	return filepath.Join(dir, "relay", "config.yaml")
}

// loadConfigForTool loads path, falling back to defaults plus environment
// overrides when the file does not exist yet.
func loadConfigForTool(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.LoadDefaults()
	}
	return config.Load(path)
}
