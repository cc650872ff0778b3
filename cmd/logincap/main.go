// logincap captures the login request a game client sends during its
// handshake, using eBPF uprobes on the client's HTTP routines.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/config"
	"github.com/mrzor/logincap/internal/lifecycle"
	"github.com/mrzor/logincap/internal/logging"
	"github.com/mrzor/logincap/internal/otel"
	"github.com/mrzor/logincap/internal/output"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/probeloader"
	"github.com/mrzor/logincap/internal/runner"
	"github.com/mrzor/logincap/internal/timesync"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "logincap [target-path [process-name]]",
	Short: "Capture a game client's login request",
	Long: `logincap launches the game client (default SkyrimSE.exe), waits for its
process, hooks the header and data calls of its HTTP stack, and prints the
login request as {"body": ..., "headers": {...}} once it is sent. The client is
then killed.

.exe targets are started through wine unless LOGINCAP_LAUNCHER names another
launcher (e.g. "proton run"); other paths are executed directly.

Pass an empty target path to attach to a client that is already running:
  logincap "" SkyrimSE.exe

Tunables are read from LOGINCAP_* environment variables.`,
	Args:          cobra.RangeArgs(0, 2),
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(report(os.Stderr, err))
}

// report prints err, the only place a failed run is reported, and returns the
// exit status.
func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

// setupOTEL returns the run tracer and its flush function.
func setupOTEL(logger *zap.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}
	tracer, cleanup, err := otel.Setup(otelCfg, version, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize OTEL provider")
	}
	return tracer, cleanup, nil
}

func run(ctx context.Context, args []string) error {
	target, err := config.ParseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() //nolint:errcheck // stderr sync fails on terminals
	}()

	logger.Info("starting logincap",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("target", target.Path),
		zap.String("process", target.ProcessName),
	)

	tracer, cleanupOTEL, err := setupOTEL(logger)
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	predicate, err := cfg.Predicate()
	if err != nil {
		return err
	}

	clock, err := timesync.NewConverter()
	if err != nil {
		return errors.Wrap(err, "failed to create time converter")
	}

	engine := runner.ProbeEngine{
		Options: probeloader.Options{
			ABI:        cfg.ProbeABI(),
			MaxPayload: cfg.MaxPayload,
		},
		Logger: logger,
	}
	manager := lifecycle.NewManager(lifecycle.Options{
		Launcher:     cfg.LaunchCommand(target),
		PollInterval: cfg.PollInterval,
	}, logger)

	r := runner.New(engine, manager, clock, output.NewFormatter(os.Stdout), tracer, logger)
	_, err = r.Run(ctx, runner.Options{
		Target:    target,
		Hooks:     []probe.HookSpec{cfg.HeaderHook(), cfg.DataHook()},
		Predicate: predicate,
		Timeout:   cfg.Timeout,
	})
	return err
}
