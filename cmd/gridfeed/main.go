package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mfarkas/gridfeed/internal/api"
	"github.com/mfarkas/gridfeed/internal/config"
	"github.com/mfarkas/gridfeed/internal/feed"
	"github.com/mfarkas/gridfeed/internal/feed/electricity"
	"github.com/mfarkas/gridfeed/internal/feed/weather"
	"github.com/mfarkas/gridfeed/internal/observability"
	"github.com/mfarkas/gridfeed/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	st, err := store.Open(store.Options{
		Path:            cfg.DBPath,
		AggregateFrom:   cfg.AggregateFrom,
		SingleSpanLimit: cfg.SingleSpanLimit,
		AllSpanLimit:    cfg.AllSpanLimit,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}

	reader := api.NewReader(api.ReaderOptions{
		Store:           st,
		Clock:           clock,
		SingleSpanLimit: cfg.SingleSpanLimit,
		AllSpanLimit:    cfg.AllSpanLimit,
		PrewarmWindow:   cfg.PrewarmWindow,
		Logger:          logger,
		Metrics:         metrics,
	})

	weatherConn := weather.New(weather.Options{
		Client:        feed.NewClient("weather", cfg.FetchTimeout),
		Catalog:       st,
		Clock:         clock,
		Logger:        logger,
		MetaURL:       cfg.WeatherMetaURL,
		HistoricalURL: cfg.WeatherHistoricalURL,
		RecentURL:     cfg.WeatherRecentURL,
		SynopURL:      cfg.WeatherSynopURL,
		Lag:           cfg.WeatherLag,
		CatchupLag:    cfg.WeatherCatchupLag,
	})
	electricityConn := electricity.New(electricity.Options{
		Client:    feed.NewClient("electricity", cfg.FetchTimeout),
		Ledger:    st,
		Clock:     clock,
		Logger:    logger,
		ExportURL: cfg.LoadExportURL,
		Lag:       cfg.LoadLag,
	})

	syncer := feed.NewSyncer(feed.SyncerOptions{
		Connectors:  []feed.Connector{weatherConn, electricityConn},
		Merger:      st,
		Prewarmer:   reader,
		Interval:    cfg.SyncInterval,
		SyncTimeout: cfg.SyncTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	var ready atomic.Bool
	srv := api.NewServer(cfg.HTTPAddr, reader, ready.Load, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Bring watermarks in line with the fact tables before syncing; a crash
	// between a merge commit and its watermark credit heals here.
	if err := st.RepairWatermarks(ctx); err != nil {
		logger.Error("watermark repair failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := syncer.Startup(ctx); err != nil {
			logger.Error("startup sync failed", "error", err)
		}
		if err := syncer.Start(ctx); err != nil {
			logger.Error("failed to start syncer", "error", err)
			return
		}
		ready.Store(true)
		logger.Info("sync loop running", "interval", cfg.SyncInterval)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	syncer.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
