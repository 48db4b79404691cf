// Package main wires together the search service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubclient "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/Nacnud88/markschecker3/internal/api"
	"github.com/Nacnud88/markschecker3/internal/clock/system"
	"github.com/Nacnud88/markschecker3/internal/config"
	"github.com/Nacnud88/markschecker3/internal/hash/sha256"
	"github.com/Nacnud88/markschecker3/internal/id/uuid"
	"github.com/Nacnud88/markschecker3/internal/logging"
	"github.com/Nacnud88/markschecker3/internal/metrics"
	memorypublisher "github.com/Nacnud88/markschecker3/internal/publisher/memory"
	pubsubpublisher "github.com/Nacnud88/markschecker3/internal/publisher/pubsub"
	"github.com/Nacnud88/markschecker3/internal/search"
	"github.com/Nacnud88/markschecker3/internal/session"
	"github.com/Nacnud88/markschecker3/internal/storage/gcs"
	memorystorage "github.com/Nacnud88/markschecker3/internal/storage/memory"
	"github.com/Nacnud88/markschecker3/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildSessionStore(ctx, cfg)
	if err != nil {
		logger.Fatal("session store init failed", zap.Error(err))
	}
	defer cleanup()

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	resolver := search.NewRegionResolver(search.RegionResolverConfig{
		BaseURL:   cfg.Voila.BaseURL,
		UserAgent: cfg.Voila.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, logger.Named("region"))

	pages := search.NewCollyPageFetcher(search.CollyConfig{
		UserAgent: cfg.Voila.BrowserUserAgent,
		Timeout:   cfg.RequestTimeout(),
	})

	var renderer search.PageRenderer
	if cfg.Headless.Enabled {
		r, err := search.NewChromedpRenderer(search.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Voila.BrowserUserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			renderer = r
			defer r.Close()
		}
	}

	fetcher := search.NewFetcher(search.FetcherConfig{
		BaseURL:       cfg.Voila.BaseURL,
		UserAgent:     cfg.Voila.UserAgent,
		Timeout:       cfg.RequestTimeout(),
		QPS:           cfg.HTTP.QPS,
		ArchivePrefix: cfg.Archive.Prefix,
	}, pages, renderer, archive, sha256.New(), logger.Named("fetcher"))

	processor := search.NewProcessor(fetcher, cfg.Search.MaxWorkers, logger.Named("processor"))

	coordinator := session.NewCoordinator(
		store,
		resolver,
		processor,
		publisher,
		uuid.NewUUIDGenerator(),
		system.New(),
		cfg.Events.Topic,
		cfg.Search.ChunkSize,
		logger.Named("session"),
	)

	server := api.NewServer(coordinator, cfg, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

func buildSessionStore(ctx context.Context, cfg config.Config) (search.SessionStore, func(), error) {
	switch cfg.Storage.Provider {
	case "postgres":
		store, err := postgres.NewSessionStore(ctx, postgres.SessionStoreConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			MinConns: cfg.Storage.Postgres.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return memorystorage.NewSessionStore(), func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (search.Publisher, error) {
	switch cfg.Events.Provider {
	case "pubsub":
		client, err := pubsubclient.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		return pubsubpublisher.New(client), nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (search.BlobStore, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	client, err := gcpstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return gcs.New(client, gcs.Config{Bucket: cfg.Archive.Bucket})
}
