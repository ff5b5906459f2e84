// Command soundprintd runs the listening-history ingestion and enrichment
// service: it periodically pulls recent plays for every connected user,
// persists the new ones, enriches them with producer, genre, image, and
// popularity metadata, and fans out collaboration notifications.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/applemusic"
	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/discogs"
	"github.com/soundprint/soundprint/internal/enrich"
	"github.com/soundprint/soundprint/internal/genius"
	"github.com/soundprint/soundprint/internal/ingest"
	"github.com/soundprint/soundprint/internal/jobs"
	"github.com/soundprint/soundprint/internal/notify"
	"github.com/soundprint/soundprint/internal/spotify"
	"github.com/soundprint/soundprint/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	// External metadata APIs share one limiter so bursts of new plays do
	// not trip provider rate limits.
	limiter := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)

	account := spotify.NewServiceAccount(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.ServiceRefreshToken)
	catalog := enrich.NewServiceCatalog(account)
	metadata := genius.NewClient(cfg.GeniusAccessToken)
	releases := discogs.NewClient(cfg.DiscogsKey, cfg.DiscogsSecret)

	store := enrich.NewStore(database)
	enrichment := jobs.NewEnrichment(
		enrich.NewProducers(store, metadata, limiter, log),
		enrich.NewGenres(store, catalog, releases, limiter, log),
		enrich.NewImages(store, metadata, catalog, limiter, log),
		enrich.NewPopularity(store, catalog, limiter, log),
		notify.NewCollaborations(notify.NewStore(database), log),
		log,
	)

	dispatcher := jobs.NewDispatcher(enrichment, cfg.Workers, cfg.IngestTimeout, log)
	dispatcher.Start(ctx)

	ingestor := ingest.New(
		ingest.NewStore(database),
		applemusic.NewClient(cfg.AppleDeveloperToken),
		dispatcher,
		cfg.SpotifyClientID,
		cfg.SpotifyClientSecret,
		log,
	)

	runner := jobs.NewRunner(ingestor, database.Connections(), log,
		jobs.WithWorkers(cfg.Workers),
		jobs.WithInterval(cfg.IngestInterval),
		jobs.WithUnitTimeout(cfg.IngestTimeout),
	)
	runner.Start(ctx)

	server := web.NewServer(cfg.Addr, runner, log)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown failed")
	}

	runner.Stop()
	dispatcher.Stop()
	log.Info("stopped")
	return nil
}
