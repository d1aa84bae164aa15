package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"unitgo/procmodel"
	"unitgo/supervisor"
)

// workerCmd is the hidden re-exec target procmodel.Master.Spawn invokes
// (spec.md §4.6 stage 3): a worker never forks further, so it boots the
// supervisor machinery with WorkerProcesses at zero and runs the
// single-process path against whatever sockets the master handed down.
var workerCmd = &cobra.Command{
	Use:    "__worker",
	Short:  "run as a supervised worker process (internal use)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	cfg := supervisor.DefaultConfig()
	cfg.WorkerProcesses = 0
	cfg.Daemon = false
	cfg.Upstream = os.Getenv(procmodel.WorkerConfigEnv)
	// Workers get their own pid file distinct from the master's; the
	// master's path is a supervisor invariant workers don't share.
	cfg.PidPath = filepath.Join(os.TempDir(), fmt.Sprintf("unitgo-worker-%d.pid", os.Getpid()))

	rt, err := supervisor.New(logger, nil, cfg)
	if err != nil {
		return fmt.Errorf("boot worker: %w", err)
	}

	logger.Info("worker ready", "subsystem", "cmd", "pid", os.Getpid(), "role", rt.Role().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	<-ctx.Done()

	rt.Quit()
	return nil
}
