// Package cmd implements unitgo's ArgParser (C6): the cobra root command
// that parses argv into a supervisor.Config and boots the runtime, plus
// the hidden __worker subcommand a spawned worker process re-execs into.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"unitgo/address"
	"unitgo/logging"
	"unitgo/supervisor"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Flags populated by rootCmd, mirroring spec.md §4.5's ArgParser surface.
var (
	flagListen      string
	flagUpstream    string
	flagWorkers     int
	flagUser        string
	flagGroup       string
	flagPidPath     string
	flagLogPath     string
	flagLogFormat   string
	flagNoDaemonize bool
	flagEngine      string
	flagEngineConns int
	flagAuxThreads  int
	flagBatch       bool
)

var rootCmd = &cobra.Command{
	Use:   "unitgo",
	Short: "unitgo is a process-supervisor runtime",
	Long: `unitgo supervises a pool of worker processes behind one or more
listen sockets: staged asynchronous startup, master/worker forking via
re-exec, socket inheritance across upgrades, and a graceful quit
sequence that drains thread pools before signaling workers to exit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runSupervisor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogPath, "log", "", "error log file path (default: stderr until opened)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log output format (text or json)")

	rootCmd.Flags().StringVar(&flagListen, "listen", "", "controller listen address (unix:PATH, [ipv6]:port, ipv4:port, *:port, or a bare port)")
	rootCmd.Flags().StringVar(&flagUpstream, "upstream", "", "upstream name handed down to workers")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 1, "number of worker processes (must be at least 1)")
	rootCmd.Flags().StringVar(&flagUser, "user", "", "user name recorded in the config (workers are not switched to it)")
	rootCmd.Flags().StringVar(&flagGroup, "group", "", "group name recorded in the config (workers are not switched to it)")
	rootCmd.Flags().StringVar(&flagPidPath, "pid", "./unitgo.pid", "pid file path")
	rootCmd.Flags().BoolVar(&flagNoDaemonize, "no-daemonize", false, "run in the foreground instead of detaching")
	rootCmd.Flags().StringVar(&flagEngine, "engine", "goroutine", "event engine backend (goroutine or poller)")
	rootCmd.Flags().IntVar(&flagEngineConns, "engine-connections", 0, "soft cap on concurrent connections (0: unlimited)")
	rootCmd.Flags().IntVar(&flagAuxThreads, "threads", 2, "auxiliary thread-pool size for single-process mode")
	rootCmd.Flags().BoolVar(&flagBatch, "batch", false, "prefer throughput over latency in the engine backend")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// validateWorkers rejects a --workers value the supervisor cannot run
// with: spec.md §4.5 requires an error for N < 1 (the single-process mode
// that stages.go runs for WorkerProcesses == 0 is an internal re-exec
// detail of cmd/worker.go, not something the CLI surface accepts).
func validateWorkers(n int) error {
	if n < 1 {
		return fmt.Errorf("invalid number of workers: %d", n)
	}
	return nil
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	if err := validateWorkers(flagWorkers); err != nil {
		return err
	}

	logger := buildLogger()

	cfg := supervisor.DefaultConfig()
	cfg.Upstream = flagUpstream
	cfg.WorkerProcesses = flagWorkers
	cfg.User = flagUser
	cfg.Group = flagGroup
	cfg.PidPath = flagPidPath
	cfg.ErrorLogPath = flagLogPath
	cfg.Daemon = !flagNoDaemonize
	cfg.Batch = flagBatch
	cfg.EngineBackend = flagEngine
	cfg.EngineConns = flagEngineConns
	cfg.AuxiliaryThreads = flagAuxThreads

	if flagListen != "" {
		addr, err := address.Parse(flagListen)
		if err != nil {
			return fmt.Errorf("--listen: %w", err)
		}
		cfg.ControllerListen = addr
	}

	rt, err := supervisor.New(logger, nil, cfg)
	if err != nil {
		return fmt.Errorf("boot supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	<-ctx.Done()

	rt.Quit()
	return nil
}

func buildLogger() *slog.Logger {
	output := os.Stderr
	format := flagLogFormat
	if flagLogPath != "" {
		if f, err := os.OpenFile(flagLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			output = f
		}
	}

	logger := logging.NewLogger(logging.Config{Level: slog.LevelInfo, Format: format, Output: output})
	logging.SetDefault(logger)
	return logger
}
