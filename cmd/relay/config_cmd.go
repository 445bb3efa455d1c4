package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/relay/internal/builtin"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/doctor"
	"github.com/mattjoyce/relay/internal/history"
	"github.com/mattjoyce/relay/internal/inspect"
	"github.com/mattjoyce/relay/internal/storage"
)

func runConfigNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigCheckHelp() {
	fmt.Println("Usage: relay config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration syntax, integrity and risky settings.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Invalid")
	fmt.Println("  2  Warnings found (with --strict)")
}

func printConfigLockHelp() {
	fmt.Println("Usage: relay config lock [--config PATH] [-v|--verbose]")
	fmt.Println("Write .checksums manifests for the config file and its includes.")
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	registry, err := command.Build(builtin.Descriptors())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command registry error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	locked, err := config.Lock(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		for _, f := range locked {
			fmt.Printf("  LOCKED %s %s\n", f.Hash[:16], f.Path)
		}
	}
	fmt.Printf("Locked %d config file(s)\n", len(locked))
	return 0
}

func runInspect(args []string) int {
	// flags may follow the connection ID: 'relay inspect <id> --json'
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	var connID string
	var remainingArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			remainingArgs = append(remainingArgs, arg)
			if i+1 < len(args) {
				remainingArgs = append(remainingArgs, args[i+1])
				i++
			}
		case !strings.HasPrefix(arg, "-") && connID == "":
			connID = arg
		default:
			remainingArgs = append(remainingArgs, arg)
		}
	}

	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if connID == "" {
		fmt.Fprintln(os.Stderr, "Usage: relay inspect <conn_id> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.State.Path == "" {
		fmt.Fprintln(os.Stderr, "Inspect failed: history is disabled (state.path is empty)")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	store := history.NewStore(db)
	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(ctx, store, connID)
	} else {
		report, err = inspect.BuildReport(ctx, store, connID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}
