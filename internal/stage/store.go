// Package stage implements the shared staging store for compressed tick
// chunks on Redis: blobs, metadata, recency and pending-ingestion indices,
// lease locks, ingestion counters, and the latest-value read-side cache.
//
// All cross-instance coordination in the pipeline flows through this store;
// collector and drainer processes share nothing else.
package stage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lago/tickpipe/internal/tick"
)

const (
	keyChunkBlob         = "ticks:chunk:%s:blob"
	keyChunkMeta         = "ticks:chunk:%s:meta"
	keyChunksAll         = "ticks:chunks"
	keyChunksByInstr     = "ticks:chunks:byInstrument:%d"
	keyIngestPending     = "ticks:ingest:pending"
	keyIngestLock        = "ticks:ingest:lock:%s"
	keyIngestStats       = "ticks:ingest:stats"
	keyLatestBySymbol    = "latest:stock:%s"
	keyLatestUpdateStamp = "latest:update"
)

const (
	// ChunkTTL bounds how long staged blobs and metadata live. The staging
	// area is a pipeline buffer, not durable storage.
	ChunkTTL = 24 * time.Hour

	// LatestTTL bounds the latest-value read-side cache.
	LatestTTL = time.Hour
)

// ChunkMeta describes a staged blob. BaseDate is the local trading date the
// packed time-of-day offsets belong to, formatted 2006-01-02.
type ChunkMeta struct {
	Count        int
	RawBytes     int
	BaseDate     string
	ZstdLevel    int
	Version      int
	Endian       string
	InstrumentID int32
	CreatedAt    time.Time
}

// Store is the Redis-backed staging store.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// StageChunk writes blob and metadata under id, then inserts id into the
// recency indices (scored by flushedAt) and the pending-ingestion index
// (scored at flushedAt + ingestDelay). The write order guarantees an id never
// appears in an index before its blob and metadata are durably written.
func (s *Store) StageChunk(ctx context.Context, id string, blob []byte, meta ChunkMeta, flushedAt time.Time, ingestDelay time.Duration) error {
	blobKey := fmt.Sprintf(keyChunkBlob, id)
	if err := s.rdb.Set(ctx, blobKey, blob, ChunkTTL).Err(); err != nil {
		return fmt.Errorf("stage blob %s: %w", id, err)
	}

	metaKey := fmt.Sprintf(keyChunkMeta, id)
	fields := map[string]interface{}{
		"count":        meta.Count,
		"rawBytes":     meta.RawBytes,
		"baseDate":     meta.BaseDate,
		"zstdLevel":    meta.ZstdLevel,
		"ver":          meta.Version,
		"endian":       meta.Endian,
		"instrumentId": meta.InstrumentID,
		"createdAt":    meta.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.rdb.HSet(ctx, metaKey, fields).Err(); err != nil {
		return fmt.Errorf("stage meta %s: %w", id, err)
	}
	if err := s.rdb.Expire(ctx, metaKey, ChunkTTL).Err(); err != nil {
		return fmt.Errorf("expire meta %s: %w", id, err)
	}

	score := float64(flushedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, keyChunksAll, redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("index chunk %s: %w", id, err)
	}
	byInstr := fmt.Sprintf(keyChunksByInstr, meta.InstrumentID)
	if err := s.rdb.ZAdd(ctx, byInstr, redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("index chunk %s by instrument: %w", id, err)
	}

	due := float64(flushedAt.Add(ingestDelay).UnixMilli())
	if err := s.rdb.ZAdd(ctx, keyIngestPending, redis.Z{Score: due, Member: id}).Err(); err != nil {
		return fmt.Errorf("enqueue chunk %s: %w", id, err)
	}

	// Best-effort counter; staging already succeeded.
	s.rdb.HIncrBy(ctx, keyIngestStats, "stagedChunks", 1)
	return nil
}

// ReadChunk fetches metadata and blob for id. A missing half is a hard
// error; the drain scheduler's retry policy owns what happens next.
func (s *Store) ReadChunk(ctx context.Context, id string) ([]byte, ChunkMeta, error) {
	metaKey := fmt.Sprintf(keyChunkMeta, id)
	fields, err := s.rdb.HGetAll(ctx, metaKey).Result()
	if err != nil {
		return nil, ChunkMeta{}, fmt.Errorf("read meta %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ChunkMeta{}, fmt.Errorf("meta not found: %s", id)
	}
	meta, err := parseMeta(fields)
	if err != nil {
		return nil, ChunkMeta{}, fmt.Errorf("parse meta %s: %w", id, err)
	}

	blobKey := fmt.Sprintf(keyChunkBlob, id)
	blob, err := s.rdb.Get(ctx, blobKey).Bytes()
	if err == redis.Nil {
		return nil, ChunkMeta{}, fmt.Errorf("blob not found: %s", id)
	}
	if err != nil {
		return nil, ChunkMeta{}, fmt.Errorf("read blob %s: %w", id, err)
	}
	return blob, meta, nil
}

func parseMeta(fields map[string]string) (ChunkMeta, error) {
	var meta ChunkMeta
	var err error

	if meta.Count, err = strconv.Atoi(fields["count"]); err != nil {
		return meta, fmt.Errorf("count: %w", err)
	}
	if meta.RawBytes, err = strconv.Atoi(fields["rawBytes"]); err != nil {
		return meta, fmt.Errorf("rawBytes: %w", err)
	}
	meta.BaseDate = fields["baseDate"]
	if meta.BaseDate == "" {
		return meta, fmt.Errorf("baseDate missing")
	}
	if meta.ZstdLevel, err = strconv.Atoi(fields["zstdLevel"]); err != nil {
		return meta, fmt.Errorf("zstdLevel: %w", err)
	}
	if meta.Version, err = strconv.Atoi(fields["ver"]); err != nil {
		return meta, fmt.Errorf("ver: %w", err)
	}
	meta.Endian = fields["endian"]
	if id, err := strconv.Atoi(fields["instrumentId"]); err == nil {
		meta.InstrumentID = int32(id)
	}
	if createdAt, err := time.Parse(time.RFC3339Nano, fields["createdAt"]); err == nil {
		meta.CreatedAt = createdAt
	}
	return meta, nil
}

// DuePending returns all pending chunk ids scheduled at or before now.
func (s *Store) DuePending(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, keyIngestPending, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	return ids, nil
}

// RemovePending clears id from the pending index after a successful ingest,
// preventing re-ingestion.
func (s *Store) RemovePending(ctx context.Context, id string) error {
	return s.rdb.ZRem(ctx, keyIngestPending, id).Err()
}

// TryLock attempts the per-chunk lease lock with an atomic
// set-if-absent-with-expiry. It returns false when another worker holds it.
// The TTL is the only safety net against a crashed worker blocking retries.
func (s *Store) TryLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, fmt.Sprintf(keyIngestLock, id), "1", ttl).Result()
}

// Unlock releases the lease lock. Called on both success and failure paths.
func (s *Store) Unlock(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(keyIngestLock, id)).Err()
}

// RecordIngestOK bumps the success counter and remembers the last good chunk.
func (s *Store) RecordIngestOK(ctx context.Context, id string) {
	s.rdb.HIncrBy(ctx, keyIngestStats, "okChunks", 1)
	s.rdb.HSet(ctx, keyIngestStats, "lastOkChunk", id)
}

// RecordIngestFailure bumps the failure counter and remembers the last error.
func (s *Store) RecordIngestFailure(ctx context.Context, ingestErr error) {
	s.rdb.HIncrBy(ctx, keyIngestStats, "failChunks", 1)
	s.rdb.HSet(ctx, keyIngestStats, "lastErr", ingestErr.Error())
}

// IngestStats returns the raw counters hash for the monitoring surface.
func (s *Store) IngestStats(ctx context.Context) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, keyIngestStats).Result()
}

// SetLatest overwrites the per-instrument latest-value record. This path is
// best-effort: callers log errors and move on, the chunking path never waits
// on it.
func (s *Store) SetLatest(ctx context.Context, t tick.Tick) error {
	key := fmt.Sprintf(keyLatestBySymbol, t.Symbol)
	now := time.Now()
	fields := map[string]interface{}{
		"symbol":     t.Symbol,
		"time":       t.Time,
		"close":      t.Close,
		"open":       t.Open,
		"high":       t.High,
		"low":        t.Low,
		"volume":     t.Volume,
		"receivedAt": t.ReceivedAt.Format(time.RFC3339Nano),
		"updatedAt":  now.Format(time.RFC3339Nano),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("set latest %s: %w", t.Symbol, err)
	}
	if err := s.rdb.Expire(ctx, key, LatestTTL).Err(); err != nil {
		return fmt.Errorf("expire latest %s: %w", t.Symbol, err)
	}
	return s.rdb.Set(ctx, keyLatestUpdateStamp, now.Format(time.RFC3339Nano), LatestTTL).Err()
}

// GetLatest returns the latest-value hash for symbol, or nil when absent.
func (s *Store) GetLatest(ctx context.Context, symbol string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, fmt.Sprintf(keyLatestBySymbol, symbol)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// LastUpdate returns the instant of the most recent latest-value write.
func (s *Store) LastUpdate(ctx context.Context) (string, error) {
	stamp, err := s.rdb.Get(ctx, keyLatestUpdateStamp).Result()
	if err == redis.Nil {
		return "", nil
	}
	return stamp, err
}

// LatestChunkIDs returns up to limit chunk ids, most recently flushed first.
func (s *Store) LatestChunkIDs(ctx context.Context, limit int) ([]string, error) {
	return s.rdb.ZRevRange(ctx, keyChunksAll, 0, int64(limit)-1).Result()
}

// LatestChunkIDsByInstrument returns up to limit chunk ids for one
// instrument, most recently flushed first.
func (s *Store) LatestChunkIDsByInstrument(ctx context.Context, instrumentID int32, limit int) ([]string, error) {
	key := fmt.Sprintf(keyChunksByInstr, instrumentID)
	return s.rdb.ZRevRange(ctx, key, 0, int64(limit)-1).Result()
}
