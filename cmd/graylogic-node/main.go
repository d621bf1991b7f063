// Gray Logic Node - controller-node supervisor.
//
// This is the main entry point for a Gray Logic node. A node loads one JSON
// document describing its comms, outputs, programmed events and inputs,
// builds the device graph from it and then serves the graph's background
// work (edge watches, press classifiers, serial readers, MQTT handlers)
// until it receives SIGINT or SIGTERM.
//
// Signals while running:
//   - SIGHUP re-applies the node document (idempotent load)
//   - SIGUSR1 stores a point-in-time snapshot of the graph
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-node/internal/modules"
	_ "github.com/nerrad567/gray-logic-node/migrations"

	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/pin"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitConfig   = 3
	exitConflict = 4
)

var (
	// errUsage marks command-line misuse (bad flags, too many arguments).
	errUsage = errors.New("usage error")

	// errConfigLoad marks a daemon configuration that could not be loaded.
	errConfigLoad = errors.New("configuration error")
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := execute(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// execute runs the command tree with args and maps the outcome to an exit
// code.
func execute(ctx context.Context, args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an error from the command tree to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, errConfigLoad), errors.Is(err, node.ErrConfig):
		return exitConfig
	case errors.Is(err, node.ErrResourceConflict), errors.Is(err, pin.ErrInUse):
		return exitConflict
	default:
		return exitFailure
	}
}

// getConfigPath returns the configuration file path.
//
// The --config flag wins, then the GRAYLOGIC_CONFIG environment variable,
// then defaultConfigPath.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
