// Package drain periodically scans the pending-ingestion index and converts
// due chunks into durable OHLCV rows under a per-chunk lease lock.
//
// Any number of scheduler instances may run concurrently, in one process or
// many: correctness rests solely on the store's atomic set-if-absent lock,
// never on a single-scheduler assumption.
package drain

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PendingStore is the slice of the staging store the scheduler coordinates
// through.
type PendingStore interface {
	DuePending(ctx context.Context, now time.Time) ([]string, error)
	TryLock(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, id string) error
	RemovePending(ctx context.Context, id string) error
	RecordIngestOK(ctx context.Context, id string)
	RecordIngestFailure(ctx context.Context, ingestErr error)
}

// Ingester materializes one staged chunk.
type Ingester interface {
	IngestChunk(ctx context.Context, id string) (int64, error)
}

// Config holds scheduler settings.
type Config struct {
	// Interval is the cadence of the due scan.
	Interval time.Duration

	// LockTTL is the lease lock expiry. A crashed worker blocks retries of
	// its chunk for at most this long.
	LockTTL time.Duration

	// MaxIngestsPerSecond caps materializations. Zero disables the limiter.
	MaxIngestsPerSecond int
}

// Scheduler drives the drain loop.
type Scheduler struct {
	store    PendingStore
	ingester Ingester
	logger   *slog.Logger
	cfg      Config
	hours    MarketHours
	limiter  *rate.Limiter

	now func() time.Time
}

// NewScheduler creates a Scheduler with the provided dependencies.
func NewScheduler(store PendingStore, ingester Ingester, logger *slog.Logger, hours MarketHours, cfg Config) *Scheduler {
	var limiter *rate.Limiter
	if cfg.MaxIngestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxIngestsPerSecond), cfg.MaxIngestsPerSecond)
	}
	return &Scheduler{
		store:    store,
		ingester: ingester,
		logger:   logger,
		cfg:      cfg,
		hours:    hours,
		limiter:  limiter,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, scanning for due chunks on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting drain scheduler",
		"interval", s.cfg.Interval,
		"lock_ttl", s.cfg.LockTTL)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Drain scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain processes every due chunk once. Failures are isolated per chunk id:
// a failed materialization stays in the pending index and is retried on a
// future scan, with no backoff.
func (s *Scheduler) drain(ctx context.Context) {
	now := s.now()
	if !s.hours.Contains(now) {
		return
	}

	ids, err := s.store.DuePending(ctx, now)
	if err != nil {
		s.logger.Error("Failed to scan pending index", "error", err)
		return
	}

	for _, id := range ids {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.drainOne(ctx, id)
	}
}

func (s *Scheduler) drainOne(ctx context.Context, id string) {
	locked, err := s.store.TryLock(ctx, id, s.cfg.LockTTL)
	if err != nil {
		s.logger.Error("Lock attempt failed", "chunk_id", id, "error", err)
		return
	}
	if !locked {
		// Another worker owns this attempt. Not an error.
		return
	}
	defer func() {
		if err := s.store.Unlock(ctx, id); err != nil {
			s.logger.Warn("Failed to release lock", "chunk_id", id, "error", err)
		}
	}()

	rows, err := s.ingester.IngestChunk(ctx, id)
	if err != nil {
		// Leave the id in the pending index; a future due scan retries it.
		s.store.RecordIngestFailure(ctx, err)
		s.logger.Error("Chunk ingestion failed", "chunk_id", id, "error", err)
		return
	}

	if err := s.store.RemovePending(ctx, id); err != nil {
		s.logger.Error("Failed to remove ingested chunk from pending index", "chunk_id", id, "error", err)
		return
	}
	s.store.RecordIngestOK(ctx, id)
	s.logger.Info("Chunk ingested", "chunk_id", id, "rows", rows)
}
