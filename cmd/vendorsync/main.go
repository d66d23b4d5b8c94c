// vendorsync keeps a vendor gateway cloud in sync with the energy platform.
//
// Usage:
//
//	vendorsync [run] [-reset-cache]          ingest logins and push updates until stopped
//	vendorsync change [-trigger AP] ID VALUE  ask the vendor to change one parameter
//	vendorsync check-gateways [-reset-cache] poll every gateway's online status once
//
// The configuration file defaults to configs/vendorsync.yaml and can be
// moved with VENDORSYNC_CONFIG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/vendorsync.yaml"

const (
	cmdRun           = "run"
	cmdChange        = "change"
	cmdCheckGateways = "check-gateways"
)

var errUsage = errors.New("usage: vendorsync [run|change|check-gateways] [flags]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand. It is separated from main for testability.
func run(ctx context.Context, args []string) error {
	name := cmdRun
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}

	cmd, err := parseCommand(name, args, os.Stderr)
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting vendorsync",
		"command", name,
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd.exec(ctx, a)
}

// command is one parsed subcommand invocation.
type command struct {
	name       string
	resetCache bool

	// change only
	parameterID int64
	value       string
	trigger     string
}

// parseCommand parses the flags and positional arguments of a subcommand.
func parseCommand(name string, args []string, stderr io.Writer) (*command, error) {
	cmd := &command{name: name}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch name {
	case cmdRun, cmdCheckGateways:
		fs.BoolVar(&cmd.resetCache, "reset-cache", false, "discard cached vendor sessions before starting")
	case cmdChange:
		fs.StringVar(&cmd.trigger, "trigger", "AP", "source code recorded against the change (OD, EB, AP, SC)")
	default:
		return nil, fmt.Errorf("unknown command %q: %w", name, errUsage)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if name != cmdChange {
		if fs.NArg() != 0 {
			return nil, fmt.Errorf("%s takes no arguments: %w", name, errUsage)
		}
		return cmd, nil
	}

	if fs.NArg() != 2 {
		return nil, fmt.Errorf("change needs a parameter id and a value: %w", errUsage)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("parameter id %q is not a positive integer: %w", fs.Arg(0), errUsage)
	}
	cmd.parameterID = id
	cmd.value = fs.Arg(1)
	return cmd, nil
}

func (c *command) exec(ctx context.Context, a *app) error {
	if c.resetCache {
		if err := a.resetSessions(ctx); err != nil {
			return err
		}
	}

	switch c.name {
	case cmdChange:
		return runChange(ctx, a, c.parameterID, c.value, c.trigger)
	case cmdCheckGateways:
		return runCheckGateways(ctx, a)
	default:
		return runSync(ctx, a)
	}
}

// getConfigPath returns the configuration file path.
// Uses VENDORSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VENDORSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
