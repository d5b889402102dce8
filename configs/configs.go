// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DBDSN is the Postgres/TimescaleDB connection string.
	DBDSN string

	// RedisAddr is the address of the Redis staging store.
	RedisAddr string

	// RedisPassword is optional; empty means no auth.
	RedisPassword string

	// RedisDB is the Redis logical database number.
	RedisDB int

	// KafkaTick contains Kafka connection settings for the raw tick feed.
	KafkaTick KafkaConfig

	// Chunk contains settings for tick batching and compression.
	Chunk ChunkConfig

	// Drain contains settings for the chunk drain scheduler.
	Drain DrainConfig

	// Market describes the trading session window of the exchange.
	Market MarketConfig

	// APIPort is the listen port of the monitoring API.
	APIPort string
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the Kafka topic carrying raw tick JSON.
	Topic string

	// GroupID is the consumer group ID for the collector.
	GroupID string
}

// ChunkConfig holds settings for the per-instrument chunk accumulators.
type ChunkConfig struct {
	// Capacity is the number of 16-byte records a chunk holds before it is flushed.
	Capacity int

	// ZstdLevel is the zstd compression level used when staging a chunk.
	ZstdLevel int

	// IngestDelay is how far after flush time a chunk is scheduled for ingestion.
	IngestDelay time.Duration

	// FlushInterval is the cadence of the safety flush for aging chunks.
	FlushInterval time.Duration
}

// DrainConfig holds settings for the drain scheduler.
type DrainConfig struct {
	// Interval is the cadence of the due-chunk scan.
	Interval time.Duration

	// LockTTL is the lease lock expiry; the only safety net against a crashed worker.
	LockTTL time.Duration

	// MaxIngestsPerSecond caps materializations so a backlog cannot
	// saturate the database. Zero disables the limiter.
	MaxIngestsPerSecond int
}

// MarketConfig describes the exchange trading session.
type MarketConfig struct {
	// Timezone is the exchange local timezone (e.g., "Asia/Seoul").
	Timezone string

	// Open and Close bound the session as "HH:MM" local times.
	Open  string
	Close string
}

// getDatabaseDSN constructs the Postgres DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("POSTGRES_USER", "user")
	dbPassword := getEnv("POSTGRES_PASSWORD", "password")
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbName := getEnv("POSTGRES_DB", "ticks")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		DBDSN:         getDatabaseDSN(),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		KafkaTick: KafkaConfig{
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_TICK_TOPIC", "lago_ticks"),
			GroupID: getEnv("KAFKA_TICK_GROUP_ID", "tickpipe-collector"),
		},
		Chunk: ChunkConfig{
			Capacity:      getEnvInt("CHUNK_CAPACITY", 1000),
			ZstdLevel:     getEnvInt("CHUNK_ZSTD_LEVEL", 3),
			IngestDelay:   time.Duration(getEnvInt("CHUNK_INGEST_DELAY_SECONDS", 10)) * time.Second,
			FlushInterval: time.Duration(getEnvInt("CHUNK_FLUSH_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Drain: DrainConfig{
			Interval:            time.Duration(getEnvInt("DRAIN_INTERVAL_SECONDS", 2)) * time.Second,
			LockTTL:             time.Duration(getEnvInt("DRAIN_LOCK_TTL_SECONDS", 300)) * time.Second,
			MaxIngestsPerSecond: getEnvInt("DRAIN_MAX_INGESTS_PER_SECOND", 0),
		},
		Market: MarketConfig{
			Timezone: getEnv("MARKET_TIMEZONE", "Asia/Seoul"),
			Open:     getEnv("MARKET_OPEN", "09:00"),
			Close:    getEnv("MARKET_CLOSE", "15:30"),
		},
		APIPort: getEnv("API_PORT", "8085"),
	}
}

// getEnv reads an environment variable with a fallback default.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt reads an integer environment variable with a fallback default.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
