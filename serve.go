package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sopdesk/internal/accounts"
	"sopdesk/internal/activity"
	"sopdesk/internal/attach"
	"sopdesk/internal/auth"
	"sopdesk/internal/config"
	"sopdesk/internal/database"
	"sopdesk/internal/dbsync"
	"sopdesk/internal/records"
	"sopdesk/internal/server"
	"sopdesk/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	var secureCookies, discardLocal bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, serveOptions{secureCookies: secureCookies, discardLocal: discardLocal})
		},
	}
	cmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "Mark the session cookie Secure (serve behind HTTPS)")
	cmd.Flags().BoolVar(&discardLocal, "discard-local", false, "Drop local changes left by a failed checkin and check out the share again")
	return cmd
}

type serveOptions struct {
	secureCookies bool
	discardLocal  bool
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts serveOptions) error {
	var replica *dbsync.Replica
	if cfg.Database.SharePath != "" {
		replica = dbsync.New(cfg.Database.SharePath, cfg.Database.Path, logger)
		if opts.discardLocal {
			if err := replica.DiscardPending(); err != nil {
				return err
			}
		}
		if err := replica.Checkout(ctx); err != nil {
			if errors.Is(err, dbsync.ErrPendingCheckin) {
				return fmt.Errorf("%w: run `sopdesk checkin` to push %s, or `sopdesk serve --discard-local` to drop it",
					err, cfg.Database.Path)
			}
			return err
		}
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	created, err := auth.EnsureBootstrapAdmin(ctx, db, cfg.Bootstrap.Username, cfg.Bootstrap.Password)
	if err != nil {
		return err
	}
	if created {
		logger.Info("Created bootstrap admin", "username", cfg.Bootstrap.Username)
	}
	if cfg.Bootstrap.Password == config.DefaultBootstrapPassword {
		logger.Warn("Bootstrap admin uses the built-in default password; change it or set SOPDESK_BOOTSTRAP_PASSWORD",
			"username", cfg.Bootstrap.Username)
	}

	files, err := attach.NewStore(attach.DirsFromConfig(cfg.Attachments))
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger)
	defer hub.Close()
	log := activity.New(db, hub)
	recs := records.New(db, files, log, hub, logger)
	recs.CaseSensitive = cfg.Search.CaseSensitive

	app := &server.App{
		DB:            db,
		Sessions:      auth.NewSessionStore(db),
		Records:       recs,
		Accounts:      accounts.New(db, hub),
		Activity:      log,
		Hub:           hub,
		Replica:       replica,
		Logger:        logger,
		SecureCookies: opts.secureCookies,
	}

	if replica != nil {
		replica.Flush = func(ctx context.Context) error { return database.Checkpoint(ctx, db) }
		go func() {
			if err := replica.Watch(ctx); err != nil {
				logger.Warn("Share watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sopdesk listening", "addr", cfg.Listen, "version", Version, "database", cfg.Database.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	hub.Close()

	if replica != nil {
		if err := replica.Checkin(shutdownCtx, false); err != nil {
			if errors.Is(err, dbsync.ErrConflict) {
				logger.Error("Share database changed while running; local copy kept, run `sopdesk checkin` to overwrite the share",
					"local", cfg.Database.Path, "share", cfg.Database.SharePath)
			}
			return err
		}
		return nil
	}
	return database.Checkpoint(shutdownCtx, db)
}
