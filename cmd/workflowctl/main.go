// Command workflowctl is the CLI entrypoint of CORE SPEC §6: a thin
// cobra dispatch shim over internal/*, constructed the same way the
// teacher's main.go wires its components — logger first, then config,
// then the pieces that need it — except every dependency here is
// passed down explicitly instead of living behind package-level
// globals (the redesign CORE SPEC's Design Notes §9 calls for).
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openflowctl/workflow-engine/internal/config"
	"github.com/openflowctl/workflow-engine/internal/executor"
)

// Exit codes from CORE SPEC §6.
const (
	exitOK           = 0
	exitOther        = 1
	exitValidation   = 2
	exitCluster      = 3
	exitStepFailure  = 4
	exitTimeout      = 5
	exitCancellation = 6
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, canceling in-flight run")
		cancel()
	}()
	defer cancel()

	cli := newCLI(logger)
	root := cli.rootCmd()
	root.SetContext(ctx)

	err := root.Execute()
	os.Exit(exitCodeFor(ctx, err))
}

// exitCodeFor maps an error returned from the command tree to the
// stable exit code CORE SPEC §6 assigns it. The CLI's outer frame is
// deliberately the only place an error becomes a process exit code;
// every layer below returns a typed Go error instead of calling
// os.Exit itself.
func exitCodeFor(ctx context.Context, err error) int {
	if err == nil {
		return exitOK
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitCancellation
	}

	var configParse *config.ConfigParseError
	var configSchema *config.ConfigSchemaError
	var nameCollision *config.NameCollisionError
	var missingFile *config.MissingFileError
	var secretNotFound *config.SecretNotFoundError
	var invariant *config.InvariantError
	switch {
	case errors.As(err, &configParse),
		errors.As(err, &configSchema),
		errors.As(err, &nameCollision),
		errors.As(err, &missingFile),
		errors.As(err, &secretNotFound),
		errors.As(err, &invariant):
		return exitValidation
	}
	var cronErr *cronspecError
	if errors.As(err, &cronErr) {
		return exitValidation
	}

	var stepFailure *executor.StepFailureError
	if errors.As(err, &stepFailure) {
		if stepFailure.TimedOut() {
			return exitTimeout
		}
		return exitStepFailure
	}

	if errors.Is(err, errPrecondition) || errors.Is(err, errClusterUnavailable) {
		return exitCluster
	}

	return exitOther
}

// cronspecError lets exitCodeFor recognize a wrapped cronspec.Validate
// failure without internal/cronspec needing its own exported error type.
// create cw/update cw wrap cronspec.Validate's error in this before
// returning it.
type cronspecError struct{ error }

var (
	errPrecondition       = errors.New("precondition failed")
	errClusterUnavailable = errors.New("cluster unavailable")
)
