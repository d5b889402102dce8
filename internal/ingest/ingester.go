// Package ingest materializes staged chunks: it reads blob and metadata back
// from the staging store, decompresses and decodes the records, and upserts
// second-resolution OHLCV rows into the time-series store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lago/tickpipe/internal/ohlcv"
	"lago/tickpipe/internal/stage"
	"lago/tickpipe/internal/tick"
)

// ChunkSource is the slice of the staging store the reader needs.
type ChunkSource interface {
	ReadChunk(ctx context.Context, id string) ([]byte, stage.ChunkMeta, error)
}

// Reader fetches a staged chunk and decodes it back into typed records.
type Reader struct {
	source ChunkSource
	loc    *time.Location
}

// NewReader creates a Reader. loc is the exchange timezone used to
// reconstruct absolute instants from the chunk's trading date.
func NewReader(source ChunkSource, loc *time.Location) *Reader {
	return &Reader{source: source, loc: loc}
}

// ReadChunk returns the decoded records of one staged chunk. Missing blob or
// metadata, a decompression mismatch, or a record count disagreement are all
// hard errors; the drain scheduler's retry policy owns them.
func (r *Reader) ReadChunk(ctx context.Context, id string) ([]tick.Record, error) {
	blob, meta, err := r.source.ReadChunk(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := tick.Decompress(blob, meta.RawBytes)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}

	baseDate, err := time.ParseInLocation("2006-01-02", meta.BaseDate, r.loc)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: bad baseDate %q: %w", id, meta.BaseDate, err)
	}

	records, err := tick.DecodeRecords(raw, baseDate, r.loc)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}
	if len(records) != meta.Count {
		return nil, fmt.Errorf("chunk %s: decoded %d records, metadata says %d", id, len(records), meta.Count)
	}
	return records, nil
}

// Ingester converts one staged chunk into durable OHLCV rows.
type Ingester struct {
	reader  *Reader
	storage ohlcv.Storage
	logger  *slog.Logger
}

// NewIngester creates an Ingester with the provided dependencies.
// Uses dependency injection for testability - it receives tools, doesn't create them.
func NewIngester(reader *Reader, storage ohlcv.Storage, logger *slog.Logger) *Ingester {
	return &Ingester{reader: reader, storage: storage, logger: logger}
}

// IngestChunk reads, aggregates, and upserts one chunk in a single
// transaction. Returns the affected row count for monitoring only.
func (ig *Ingester) IngestChunk(ctx context.Context, id string) (int64, error) {
	records, err := ig.reader.ReadChunk(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		ig.logger.Info("No records in chunk", "chunk_id", id)
		return 0, nil
	}

	rows := ohlcv.Aggregate(records)

	affected, err := ig.storage.UpsertRows(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("upsert chunk %s: %w", id, err)
	}

	ig.logger.Info("Ingested chunk",
		"chunk_id", id,
		"records", len(records),
		"rows", len(rows),
		"affected", affected)
	return affected, nil
}
