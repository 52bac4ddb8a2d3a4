package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/tierlist/db"
	"github.com/Clark-Hu/tierlist/internal/app"
	"github.com/Clark-Hu/tierlist/internal/cache"
	"github.com/Clark-Hu/tierlist/internal/catalog"
	"github.com/Clark-Hu/tierlist/internal/config"
	httpserver "github.com/Clark-Hu/tierlist/internal/http"
	"github.com/Clark-Hu/tierlist/internal/persist"
	"github.com/Clark-Hu/tierlist/internal/repository"
	"github.com/Clark-Hu/tierlist/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()})).
		With("service", "tierlist-api")
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	dbCtx, cancel := context.WithTimeout(ctx, cfg.DBConnTimeout)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        cfg.DBMaxConnIdle,
		MaxConnLifetime:        cfg.DBMaxConnLifetime,
		ConnTimeout:            cfg.DBConnTimeout,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.DBMigrate {
		if err := st.Migrate(dbCtx, db.Migrations()); err != nil {
			return err
		}
	}

	repo := repository.New(st)

	ratings := cache.NewRatings(nil, repo.GlobalRatings, cfg.RatingCacheTTL, logger)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(dbCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		ratings = cache.NewRatings(rdb, repo.GlobalRatings, cfg.RatingCacheTTL, logger)
		logger.Info("community rating cache enabled")
	}

	catalogClient, err := catalog.NewHTTPClient(cfg.CatalogURL, catalog.Options{
		APIKey:     cfg.CatalogAPIKey,
		Timeout:    cfg.CatalogTimeout,
		RatePerSec: cfg.CatalogRatePerSec,
		Burst:      cfg.CatalogBurst,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sink := persist.New(
		persist.WithWorkers(cfg.SinkWorkers),
		persist.WithQueueSize(cfg.SinkQueueSize),
		persist.WithJobTimeout(cfg.SinkJobTimeout),
		persist.WithEnqueueTimeout(cfg.SinkEnqueueTimeout),
		persist.WithLogger(logger),
	)

	svc := app.New(repo.Titles, ratings, sink,
		app.WithLogger(logger),
		app.WithSessionTTL(cfg.SessionTTL),
	)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go svc.RunJanitor(janitorCtx, time.Minute)

	server := httpserver.New(cfg, st, svc, catalogClient, logger)

	serverErr := server.Start(ctx)
	if serverErr != nil && (errors.Is(serverErr, context.Canceled) || errors.Is(serverErr, http.ErrServerClosed)) {
		serverErr = nil
	}

	stopJanitor()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := sink.Close(drainCtx); err != nil {
		logger.Warn("persistence sink did not drain", "error", err)
	}
	logger.Info("shutdown complete")
	return serverErr
}
