package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/shipwatch/internal/api"
	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/config"
	"github.com/mkarlsen/shipwatch/internal/engine"
	"github.com/mkarlsen/shipwatch/internal/events"
	"github.com/mkarlsen/shipwatch/internal/ingest"
	"github.com/mkarlsen/shipwatch/internal/live"
	"github.com/mkarlsen/shipwatch/internal/scheduler"
	"github.com/mkarlsen/shipwatch/internal/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := postgres.New(pool)

	buckets := bucket.New(store, cfg.BucketWindow, time.Now, uuid.NewString)

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic)
	defer producer.Close()

	// Live fan-out is best effort; the tracker runs fine without Redis.
	var (
		cache   *live.RedisCache
		liveUpd ingest.LiveUpdater
	)
	hub := live.NewHub()
	cache, err = live.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LiveTTL)
	if err != nil {
		slog.Warn("redis unavailable, live positions disabled", "error", err)
	} else {
		defer cache.Close()
		liveUpd = cache
		go cache.SubscribeAll(ctx, hub)
	}

	var source ingest.Source
	if cfg.AISSource == "faker" {
		slog.Info("using synthetic AIS source")
		source = ingest.NewFakeSource(time.Now().UnixNano(), nil)
	} else {
		source = ingest.NewAISClient(cfg.AISBaseURL, cfg.AISUserKey, nil)
	}
	ingestor := ingest.New(store, source, buckets, liveUpd)

	evaluator := engine.New(store, store, buckets, producer)

	sched := scheduler.New(
		scheduler.Job{Name: "fetch-terrestrial", Interval: cfg.TerFetchInterval, Run: func(ctx context.Context) error {
			return ingestor.Run(ctx, false)
		}},
		scheduler.Job{Name: "fetch-satellite", Interval: cfg.SatFetchInterval, Run: func(ctx context.Context) error {
			return ingestor.Run(ctx, true)
		}},
		scheduler.Job{Name: "evaluate-rules", Interval: cfg.EvalInterval, Run: evaluator.EvaluateAll},
	)
	sched.Start(ctx)

	apiServer := api.NewServer(buckets, store, store, hub)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("shutting down...")
		sched.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		srv.Shutdown(shutdownCtx)
		hub.CloseAll()
		close(done)
	}()

	slog.Info("tracker listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("shutdown complete")
}
