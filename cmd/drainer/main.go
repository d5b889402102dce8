package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lago/tickpipe/configs"
	"lago/tickpipe/internal/drain"
	"lago/tickpipe/internal/ingest"
	"lago/tickpipe/internal/ohlcv"
	"lago/tickpipe/internal/stage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := configs.AppLoad()

	hours, err := drain.NewMarketHours(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		logger.Error("Invalid market hours", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := stage.NewStore(rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		cancel()
		logger.Error("Failed to ping DB", "error", err)
		os.Exit(1)
	}
	cancel()

	reader := ingest.NewReader(store, hours.Location())
	ingester := ingest.NewIngester(reader, ohlcv.NewPgStorage(pool), logger)

	scheduler := drain.NewScheduler(store, ingester, logger, hours, drain.Config{
		Interval:            cfg.Drain.Interval,
		LockTTL:             cfg.Drain.LockTTL,
		MaxIngestsPerSecond: cfg.Drain.MaxIngestsPerSecond,
	})

	logger.Info("Drainer started successfully")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Drainer stopped with error", "error", err)
		os.Exit(1)
	}
}
