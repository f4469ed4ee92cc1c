package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/config"
	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/ledger/horizon"
	"github.com/roach88/paywatch/internal/ledger/memledger"
	"github.com/roach88/paywatch/internal/service"
	"github.com/roach88/paywatch/internal/store"
)

// env is an opened database with the service composed over it.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock
	store  *store.Store
	svc    *service.Service
	out    *OutputFormatter
}

// loadConfig reads --config (or the defaults) and applies --db.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger: text or JSON on w, debug level
// with --verbose.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openEnv loads configuration, opens the database and composes the
// service. live selects the horizon client and the asynchronous event
// bus used by serve; one-shot commands deliver events inline and
// attach watches to a detached network, leaving live watching to a
// running serve process.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command, live bool) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, exitFor("failed to load config", err)
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	client := opts.Client
	if client == nil {
		client, err = defaultClient(cfg, logger, live)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to configure ledger client", err)
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithClock(clk))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	svcOpts := []service.Option{
		service.WithConfig(cfg),
		service.WithLogger(logger),
		service.WithClock(clk),
	}
	if opts.IDs != nil {
		svcOpts = append(svcOpts, service.WithIDGenerator(opts.IDs))
	}
	if !live {
		svcOpts = append(svcOpts, service.WithSynchronousEvents())
	}
	svc, err := service.New(ctx, st, client, svcOpts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start service", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		store:  st,
		svc:    svc,
		out:    newFormatter(opts, cmd),
	}, nil
}

func defaultClient(cfg config.Config, logger *slog.Logger, live bool) (ledger.Client, error) {
	if !live {
		return memledger.New(), nil
	}
	if cfg.HorizonURL == "" {
		return nil, errors.New("horizon_url must be set to serve")
	}
	return horizon.New(cfg.HorizonURL, horizon.WithLogger(logger))
}

// close shuts the service down and closes the database.
func (e *env) close(ctx context.Context) {
	if err := e.svc.Shutdown(ctx); err != nil {
		e.logger.Error("shutdown failed", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}
