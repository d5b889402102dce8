package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lago/tickpipe/configs"
	"lago/tickpipe/internal/batch"
	"lago/tickpipe/internal/collector"
	"lago/tickpipe/internal/stage"
	"lago/tickpipe/internal/symbols"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := configs.AppLoad()

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		logger.Fatalf("Failed to load market timezone: %v", err)
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
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	mapper := symbols.NewMapper(symbols.NewPgCatalog(pool))
	if err := mapper.Reload(ctx); err != nil {
		logger.Fatalf("Failed to load symbol mappings: %v", err)
	}
	logger.WithField("instruments", mapper.Size()).Info("Symbol mappings loaded")

	orch := batch.NewOrchestrator(mapper, store, logger, loc, batch.Config{
		ChunkCapacity: cfg.Chunk.Capacity,
		ZstdLevel:     cfg.Chunk.ZstdLevel,
		IngestDelay:   cfg.Chunk.IngestDelay,
	})

	kafkaReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.KafkaTick.Broker},
		Topic:          cfg.KafkaTick.Topic,
		GroupID:        cfg.KafkaTick.GroupID,
		MinBytes:       1,    // ticks are tiny and latency matters
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // Important: offsets are committed manually after hand-off!
	})
	defer kafkaReader.Close()

	svc := collector.NewCollector(kafkaReader, orch, mapper, logger, collector.Config{
		FlushInterval: cfg.Chunk.FlushInterval,
	})

	logger.Info("Collector started successfully")

	if err := svc.Start(ctx); err != nil {
		logger.Fatalf("Collector stopped with error: %v", err)
	}
}
