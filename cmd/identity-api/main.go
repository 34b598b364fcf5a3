package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/togetherhq/identity/internal/api"
	"github.com/togetherhq/identity/internal/config"
	"github.com/togetherhq/identity/internal/logging"
	"github.com/togetherhq/identity/internal/mail"
	"github.com/togetherhq/identity/internal/metrics"
	"github.com/togetherhq/identity/internal/migrate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info().Msg("running database migrations")
	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database unreachable")
	}
	metrics.RegisterPgxPoolMetrics(pool)

	sender := &mail.LogSender{Logger: logger}
	srv := api.NewServer(logger, pool, sender, cfg)

	if cfg.SeedClientID != "" {
		seedFirstPartyClient(ctx, srv, cfg, logger)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting identity API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-gctx.Done():
			return gctx.Err()
		}

		logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// seedFirstPartyClient ensures the configured first-party client exists.
// The plaintext secret is logged on first creation only; operators must
// capture it then.
func seedFirstPartyClient(ctx context.Context, srv *api.Server, cfg *config.Config, logger zerolog.Logger) {
	client, secret, created, err := srv.Services().OAuth.SeedFirstPartyClient(
		ctx, cfg.SeedClientID, cfg.SeedClientName, []string{cfg.SeedClientRedirect})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed first-party client")
	}
	if created {
		logger.Info().
			Str("client_id", client.ClientID).
			Str("client_secret", secret).
			Msg("first-party client created, save the secret now")
	} else {
		logger.Info().Str("client_id", client.ClientID).Msg("first-party client already present")
	}
}
