package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"lago/tickpipe/internal/ohlcv"
	"lago/tickpipe/internal/stage"
	"lago/tickpipe/internal/tick"
)

type fakeSource struct {
	chunks map[string]struct {
		blob []byte
		meta stage.ChunkMeta
	}
}

func newFakeSource() *fakeSource {
	return &fakeSource{chunks: map[string]struct {
		blob []byte
		meta stage.ChunkMeta
	}{}}
}

func (f *fakeSource) put(id string, blob []byte, meta stage.ChunkMeta) {
	f.chunks[id] = struct {
		blob []byte
		meta stage.ChunkMeta
	}{blob, meta}
}

func (f *fakeSource) ReadChunk(ctx context.Context, id string) ([]byte, stage.ChunkMeta, error) {
	c, ok := f.chunks[id]
	if !ok {
		return nil, stage.ChunkMeta{}, fmt.Errorf("meta not found: %s", id)
	}
	return c.blob, c.meta, nil
}

type fakeStorage struct {
	upserts [][]ohlcv.Row
	err     error
}

func (f *fakeStorage) UpsertRows(ctx context.Context, rows []ohlcv.Row) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.upserts = append(f.upserts, rows)
	return int64(len(rows)), nil
}

func stageTestChunk(t *testing.T, source *fakeSource, id string, ticks []tick.Tick) {
	t.Helper()

	c := tick.NewChunk(len(ticks))
	for _, tk := range ticks {
		if !c.Append(tk, 42) {
			t.Fatalf("Append rejected for %+v", tk)
		}
	}
	blob, err := c.Compress(3)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	source.put(id, blob, stage.ChunkMeta{
		Count:        c.Count(),
		RawBytes:     c.RawBytes(),
		BaseDate:     "2025-06-02",
		ZstdLevel:    3,
		Version:      tick.FormatVersion,
		Endian:       "LE",
		InstrumentID: 42,
	})
}

func feedTick(timeOfDay string, price, volume int) tick.Tick {
	return tick.Tick{
		Symbol: "005930",
		Time:   timeOfDay,
		Close:  price,
		Open:   price,
		High:   price,
		Low:    price,
		Volume: volume,
	}
}

func newTestIngester(source ChunkSource, storage ohlcv.Storage) *Ingester {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := NewReader(source, time.UTC)
	return NewIngester(reader, storage, logger)
}

func TestIngestChunk(t *testing.T) {
	source := newFakeSource()
	stageTestChunk(t, source, "chunk-a", []tick.Tick{
		feedTick("100000", 100, 5),
		feedTick("100000", 105, 3),
		feedTick("100001", 102, 7),
	})
	storage := &fakeStorage{}
	ig := newTestIngester(source, storage)

	affected, err := ig.IngestChunk(context.Background(), "chunk-a")
	if err != nil {
		t.Fatalf("IngestChunk failed: %v", err)
	}
	if affected != 2 {
		t.Errorf("Expected 2 affected rows, got %d", affected)
	}
	if len(storage.upserts) != 1 {
		t.Fatalf("Expected 1 upsert batch, got %d", len(storage.upserts))
	}

	rows := storage.upserts[0]
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	first := rows[0]
	if first.Open != 100 || first.High != 105 || first.Low != 100 || first.Close != 105 || first.Volume != 8 {
		t.Errorf("Unexpected first row: O%d H%d L%d C%d V%d",
			first.Open, first.High, first.Low, first.Close, first.Volume)
	}
	want := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if !first.TS.Equal(want) {
		t.Errorf("Expected first bucket at %v, got %v", want, first.TS)
	}
}

func TestIngestChunkMissing(t *testing.T) {
	ig := newTestIngester(newFakeSource(), &fakeStorage{})

	if _, err := ig.IngestChunk(context.Background(), "nope"); err == nil {
		t.Error("Expected hard error for missing chunk")
	}
}

func TestIngestChunkCountMismatch(t *testing.T) {
	source := newFakeSource()
	stageTestChunk(t, source, "chunk-a", []tick.Tick{feedTick("100000", 100, 1)})

	// Corrupt the metadata count.
	c := source.chunks["chunk-a"]
	c.meta.Count = 5
	source.chunks["chunk-a"] = c

	ig := newTestIngester(source, &fakeStorage{})
	if _, err := ig.IngestChunk(context.Background(), "chunk-a"); err == nil {
		t.Error("Expected error for count/length disagreement")
	}
}

func TestIngestChunkBadBaseDate(t *testing.T) {
	source := newFakeSource()
	stageTestChunk(t, source, "chunk-a", []tick.Tick{feedTick("100000", 100, 1)})

	c := source.chunks["chunk-a"]
	c.meta.BaseDate = "02/06/2025"
	source.chunks["chunk-a"] = c

	ig := newTestIngester(source, &fakeStorage{})
	if _, err := ig.IngestChunk(context.Background(), "chunk-a"); err == nil {
		t.Error("Expected error for unparsable baseDate")
	}
}

func TestIngestChunkStorageError(t *testing.T) {
	source := newFakeSource()
	stageTestChunk(t, source, "chunk-a", []tick.Tick{feedTick("100000", 100, 1)})

	ig := newTestIngester(source, &fakeStorage{err: fmt.Errorf("db down")})
	if _, err := ig.IngestChunk(context.Background(), "chunk-a"); err == nil {
		t.Error("Expected storage error to surface as ingestion failure")
	}
}

func TestIngestSameChunkTwiceUpsertsTwice(t *testing.T) {
	// Re-ingesting the same aggregate is additive by design at the store
	// level; here we only assert both attempts reach the store.
	source := newFakeSource()
	stageTestChunk(t, source, "chunk-a", []tick.Tick{feedTick("100000", 100, 4)})
	storage := &fakeStorage{}
	ig := newTestIngester(source, storage)

	for i := 0; i < 2; i++ {
		if _, err := ig.IngestChunk(context.Background(), "chunk-a"); err != nil {
			t.Fatalf("IngestChunk %d failed: %v", i, err)
		}
	}
	if len(storage.upserts) != 2 {
		t.Fatalf("Expected 2 upsert batches, got %d", len(storage.upserts))
	}
	if storage.upserts[0][0].Volume != storage.upserts[1][0].Volume {
		t.Error("Expected identical aggregates for identical chunk contents")
	}
}
