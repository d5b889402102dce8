// Package batch owns one active chunk accumulator per instrument, flushing
// full or aging chunks into the staging store as compressed blobs.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lago/tickpipe/internal/stage"
	"lago/tickpipe/internal/tick"
)

// StagingStore is the slice of the staging store the orchestrator writes to.
type StagingStore interface {
	StageChunk(ctx context.Context, id string, blob []byte, meta stage.ChunkMeta, flushedAt time.Time, ingestDelay time.Duration) error
	SetLatest(ctx context.Context, t tick.Tick) error
}

// SymbolMapper resolves instrument symbols to dense ids.
type SymbolMapper interface {
	IDFor(symbol string) (int32, bool)
	SymbolFor(id int32) (string, bool)
}

// Config holds orchestrator settings.
type Config struct {
	// ChunkCapacity is the record count at which a chunk flushes.
	ChunkCapacity int

	// ZstdLevel is the compression level used when staging.
	ZstdLevel int

	// IngestDelay offsets the pending-index schedule from flush time,
	// decoupling flush cadence from drain cadence.
	IngestDelay time.Duration
}

// slot serializes access to one instrument's active chunk. Contention is
// naturally partitioned by instrument; there is no global lock.
type slot struct {
	mu    sync.Mutex
	chunk *tick.Chunk
	dead  bool
}

// Orchestrator routes validated ticks into per-instrument chunks and flushes
// them to the staging store. Safe for concurrent use by multiple producers.
type Orchestrator struct {
	mapper SymbolMapper
	store  StagingStore
	logger *logrus.Logger
	cfg    Config
	loc    *time.Location

	slots sync.Map // int32 -> *slot
}

// NewOrchestrator creates an Orchestrator. loc is the exchange timezone used
// to stamp chunks with their local trading date.
func NewOrchestrator(mapper SymbolMapper, store StagingStore, logger *logrus.Logger, loc *time.Location, cfg Config) *Orchestrator {
	if cfg.ChunkCapacity <= 0 {
		cfg.ChunkCapacity = tick.DefaultChunkCapacity
	}
	return &Orchestrator{
		mapper: mapper,
		store:  store,
		logger: logger,
		cfg:    cfg,
		loc:    loc,
	}
}

// Offer feeds one raw tick into the pipeline. Invalid and unknown-symbol
// ticks are dropped with a log; errors never propagate back to the feed.
func (o *Orchestrator) Offer(ctx context.Context, t tick.Tick) {
	if err := t.Validate(); err != nil {
		o.logger.WithField("symbol", t.Symbol).Warnf("Dropping invalid tick: %v", err)
		return
	}

	o.appendToChunk(ctx, t)

	// Latest-value write is best-effort and independent of chunking.
	if err := o.store.SetLatest(ctx, t); err != nil {
		o.logger.WithField("symbol", t.Symbol).Warnf("Failed to update latest value: %v", err)
	}
}

func (o *Orchestrator) appendToChunk(ctx context.Context, t tick.Tick) {
	id, ok := o.mapper.IDFor(t.Symbol)
	if !ok {
		o.logger.WithField("symbol", t.Symbol).Warn("Unknown symbol, dropping tick")
		return
	}

	for {
		s := o.slotFor(id)
		s.mu.Lock()
		if s.dead {
			// Lost a race with Cleanup; fetch a fresh slot.
			s.mu.Unlock()
			continue
		}

		if !s.chunk.Append(t, id) {
			// Full (or tick became unencodable, which Validate rules out).
			// Flush synchronously, then retry on the recycled buffer.
			if err := o.flushLocked(ctx, id, s.chunk); err != nil {
				o.logger.WithField("instrument_id", id).Errorf("Flush failed, dropping chunk: %v", err)
			}
			s.chunk.Reset()
			if !s.chunk.Append(t, id) {
				o.logger.WithField("instrument_id", id).Error("Append to fresh chunk failed, dropping tick")
			}
		}
		s.mu.Unlock()
		return
	}
}

func (o *Orchestrator) slotFor(id int32) *slot {
	if v, ok := o.slots.Load(id); ok {
		return v.(*slot)
	}
	v, _ := o.slots.LoadOrStore(id, &slot{chunk: tick.NewChunk(o.cfg.ChunkCapacity)})
	return v.(*slot)
}

// flushLocked compresses and stages a chunk. The caller must hold the slot
// mutex. The chunk id never reaches an index before blob and metadata are
// both written; StageChunk enforces the order.
func (o *Orchestrator) flushLocked(ctx context.Context, instrumentID int32, c *tick.Chunk) error {
	if c.IsEmpty() {
		return nil
	}

	blob, err := c.Compress(o.cfg.ZstdLevel)
	if err != nil {
		return err
	}

	now := time.Now()
	chunkID := uuid.NewString()
	meta := stage.ChunkMeta{
		Count:        c.Count(),
		RawBytes:     c.RawBytes(),
		BaseDate:     now.In(o.loc).Format("2006-01-02"),
		ZstdLevel:    o.cfg.ZstdLevel,
		Version:      tick.FormatVersion,
		Endian:       "LE",
		InstrumentID: instrumentID,
		CreatedAt:    now,
	}

	if err := o.store.StageChunk(ctx, chunkID, blob, meta, now, o.cfg.IngestDelay); err != nil {
		return err
	}

	symbol, _ := o.mapper.SymbolFor(instrumentID)
	o.logger.WithFields(logrus.Fields{
		"symbol":        symbol,
		"instrument_id": instrumentID,
		"chunk_id":      chunkID,
		"ticks":         meta.Count,
		"blob_bytes":    len(blob),
		"ratio_pct":     c.CompressionRatio(len(blob)),
	}).Info("Staged compressed chunk")
	return nil
}

// FlushAged force-flushes every non-empty chunk regardless of fill level,
// bounding worst-case in-memory latency to the safety-flush cadence. The
// chunk is reset, not discarded. Returns the number of chunks flushed.
func (o *Orchestrator) FlushAged(ctx context.Context) int {
	flushed := 0
	o.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		if !s.dead && !s.chunk.IsEmpty() {
			if err := o.flushLocked(ctx, key.(int32), s.chunk); err != nil {
				o.logger.WithField("instrument_id", key).Errorf("Scheduled flush failed, dropping chunk: %v", err)
			} else {
				flushed++
			}
			s.chunk.Reset()
		}
		s.mu.Unlock()
		return true
	})
	return flushed
}

// Cleanup removes empty per-instrument entries so quiet instruments do not
// grow the map forever. Returns the number of entries removed.
func (o *Orchestrator) Cleanup() int {
	removed := 0
	o.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		if s.chunk.IsEmpty() {
			s.dead = true
			o.slots.Delete(key)
			removed++
		}
		s.mu.Unlock()
		return true
	})
	return removed
}

// Stats reports process-local accumulator state for the monitoring surface.
func (o *Orchestrator) Stats() (activeChunks, pendingTicks int) {
	o.slots.Range(func(_, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		activeChunks++
		pendingTicks += s.chunk.Count()
		s.mu.Unlock()
		return true
	})
	return activeChunks, pendingTicks
}
