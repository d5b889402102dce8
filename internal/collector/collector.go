// Package collector consumes raw ticks from Kafka and feeds them into the
// batching pipeline. It also drives the periodic safety flush, accumulator
// cleanup, and symbol-mapping reload.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lago/tickpipe/internal/batch"
	"lago/tickpipe/internal/symbols"
	"lago/tickpipe/internal/tick"
)

const (
	cleanupInterval      = 10 * time.Minute
	mapperReloadInterval = time.Hour
	fetchTimeout         = time.Second
)

// Config holds collector settings.
type Config struct {
	// FlushInterval is the cadence of the safety flush; it bounds the
	// worst-case in-memory latency of a slow instrument's ticks.
	FlushInterval time.Duration
}

// Collector runs the tick intake loop.
type Collector struct {
	reader *kafka.Reader
	orch   *batch.Orchestrator
	mapper *symbols.Mapper
	logger *logrus.Logger
	cfg    Config
}

// NewCollector creates a Collector with the provided dependencies.
func NewCollector(reader *kafka.Reader, orch *batch.Orchestrator, mapper *symbols.Mapper, logger *logrus.Logger, cfg Config) *Collector {
	return &Collector{
		reader: reader,
		orch:   orch,
		mapper: mapper,
		logger: logger,
		cfg:    cfg,
	}
}

// Start blocks until ctx is cancelled. Offsets are committed after the tick
// is handed to the orchestrator (at-least-once; replays are tolerated by the
// idempotent-enough merge downstream).
func (c *Collector) Start(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"topic":          c.reader.Config().Topic,
		"group_id":       c.reader.Config().GroupID,
		"flush_interval": c.cfg.FlushInterval,
	}).Info("Starting tick collector")

	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	defer flushTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	reloadTicker := time.NewTicker(mapperReloadInterval)
	defer reloadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain so in-memory chunks survive a restart as staged blobs.
			flushed := c.orch.FlushAged(context.Background())
			c.logger.WithField("chunks", flushed).Info("Collector stopped, final flush done")
			return nil

		case <-flushTicker.C:
			if flushed := c.orch.FlushAged(ctx); flushed > 0 {
				c.logger.WithField("chunks", flushed).Info("Scheduled flush completed")
			}

		case <-cleanupTicker.C:
			if removed := c.orch.Cleanup(); removed > 0 {
				c.logger.WithField("slots", removed).Info("Removed idle accumulators")
			}

		case <-reloadTicker.C:
			if err := c.mapper.Reload(ctx); err != nil {
				c.logger.Errorf("Symbol mapping reload failed: %v", err)
			} else {
				c.logger.WithField("instruments", c.mapper.Size()).Info("Symbol mappings reloaded")
			}

		default:
			// Fetch with short timeout to remain responsive to tickers/shutdown.
			fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
			m, err := c.reader.FetchMessage(fetchCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				c.logger.Errorf("Kafka fetch error: %v", err)
				time.Sleep(time.Second)
				continue
			}

			var t tick.Tick
			if err := json.Unmarshal(m.Value, &t); err != nil {
				c.logger.Warnf("Skipping undecodable tick message: %v", err)
			} else {
				if t.ReceivedAt.IsZero() {
					t.ReceivedAt = time.Now()
				}
				c.orch.Offer(ctx, t)
			}

			if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
				c.logger.Warnf("Failed to commit offset: %v", err)
			}
		}
	}
}
