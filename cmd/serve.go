// File: cmd/serve.go
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/driver"
	"github.com/xkilldash9x/browserd/internal/executor"
	"github.com/xkilldash9x/browserd/internal/gateway"
	"github.com/xkilldash9x/browserd/internal/pool"
	"github.com/xkilldash9x/browserd/internal/report"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser orchestration service.",
	Long: `Starts the HTTP gateway and the browser session pool. Browser processes
are launched on demand and recycled between tasks; SIGINT/SIGTERM drains
in-flight work before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drv := driver.New(cfg.Browser, logger)
	sessionPool := pool.New(cfg, drv, logger)
	taskRunner := executor.New(cfg.Task, logger)
	reporter := report.New(cfg.Report, logger)
	server := gateway.New(cfg, sessionPool, taskRunner, reporter, logger)

	// Blocks until a signal arrives or the listener fails.
	serveErr := server.Start(ctx)

	// Teardown order matters: the listener is already drained, now the pool
	// closes sessions and terminates browser processes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := sessionPool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Pool shutdown did not finish cleanly.", zap.Error(err))
	}

	if serveErr != nil {
		logger.Error("Gateway stopped with error.", zap.Error(serveErr))
		return serveErr
	}
	logger.Info("Shutdown complete.")
	return nil
}
