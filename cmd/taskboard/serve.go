package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/config"
	"github.com/taskboard/internal/database"
	"github.com/taskboard/internal/docstore"
	"github.com/taskboard/internal/events"
	"github.com/taskboard/internal/memstore"
	"github.com/taskboard/internal/persistence"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/server"
	"github.com/taskboard/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task board HTTP API and WebSocket feed",
		Long: `Serve the task board.

Examples:
  taskboard serve
  taskboard serve --addr :8080 --mode remote
  taskboard serve --nats-url nats://broker:4222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().String("mode", "", "initial data source (local or remote)")
	opts.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	opts.v.BindPFlag("projector.mode", cmd.Flags().Lookup("mode"))

	return cmd
}

// openBackend builds the identity provider and remote repository for
// docstore.backend. The returned func releases everything it started.
func openBackend(cfg *config.Config, logger zerolog.Logger) (auth.Provider, projector.Repository, func(), error) {
	if cfg.Docstore.Backend == config.BackendMemory {
		db, err := database.Open(database.MemoryPath)
		if err != nil {
			return nil, nil, nil, err
		}
		users := auth.NewStore(db)
		if err := users.Init(); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		logger.Warn().Msg("in-memory backend, accounts and remote tasks are lost on exit")
		return users, memstore.New(), func() { db.Close() }, nil
	}

	b, err := connectBroker(cfg, "taskboard", logger)
	if err != nil {
		return nil, nil, nil, err
	}

	stopService := func() {}
	if !cfg.Docstore.External {
		if stopService, err = startService(cfg, b.client, logger); err != nil {
			b.Close()
			return nil, nil, nil, err
		}
	}

	client := docstore.NewClient(b.client, cfg.Docstore.RequestTimeout, logger)
	return client, client, func() {
		stopService()
		b.Close()
	}, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, closer, err := opts.logger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, repo, cleanup, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	bus := events.NewBus()

	mode, _ := projector.ParseMode(cfg.Projector.Mode)
	app := session.New(session.Config{
		Name: "board",
		Mode: mode,
		Projector: projector.Config{
			SeedLatency: cfg.Projector.SeedLatency,
			Locale:      cfg.Locale(),
		},
	}, provider, repo, bus, logger)
	defer app.Close()

	var prefs *persistence.JSONStore
	saved := persistence.Preferences{}
	if cfg.Session.StateFile != "" {
		prefs = persistence.NewJSONStore(cfg.Session.StateFile)
		if saved, err = prefs.Load(); err != nil {
			logger.Warn().Err(err).Str("file", cfg.Session.StateFile).Msg("ignoring unreadable board preferences")
			saved = persistence.Preferences{}
		}
	}
	// an explicit flag or environment mode beats the saved one
	if saved.Mode == "" || opts.v.IsSet("projector.mode") {
		saved.Mode = string(mode)
	}
	app.Restore(ctx, saved)

	srv := server.NewServer(app, bus, server.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Preferences:    prefs,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.HTTP.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
