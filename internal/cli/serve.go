package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch pending payments until interrupted",
		Long: `Start the reconciliation service.

On startup every PENDING payment in the database is watched again and
already expired ones are timed out. A periodic sweep times out payments
whose timers were lost. Events are written to the outbox as they occur.

Example:
  paywatch serve --config ./paywatch.yaml
  paywatch serve --db /tmp/pay.db --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	e, err := openEnv(ctx, opts, cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		e.close(stopCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := e.svc.Start(ctx)
	if err != nil {
		return exitFor("failed to start", err)
	}
	e.logger.Info("service started",
		"db", e.cfg.Database,
		"horizon", e.cfg.HorizonURL,
		"watching", report.Watched,
		"timed_out", report.TimedOut)
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d pending payments.\n", e.svc.GetActiveWatchCount())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	<-ctx.Done()
	e.logger.Info("service stopping")
	return nil
}
