package ohlcv

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage persists OHLCV rows. Implementations must be safe for concurrent use.
type Storage interface {
	// UpsertRows merge-upserts a batch of rows in one transaction and
	// returns the affected row count (monitoring only).
	UpsertRows(ctx context.Context, rows []Row) (int64, error)
}

// The merge policy allows the same second-bucket to receive contributions
// from more than one chunk over time: open keeps the existing value, high and
// low widen, volume accumulates, close is always taken from the latest
// ingested aggregate.
const upsertSQL = `
	INSERT INTO ticks_1s
		(instrument_id, ts, open_price, high_price, low_price, close_price, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (instrument_id, ts) DO UPDATE SET
		open_price  = COALESCE(ticks_1s.open_price, EXCLUDED.open_price),
		high_price  = GREATEST(COALESCE(ticks_1s.high_price, EXCLUDED.high_price), EXCLUDED.high_price),
		low_price   = LEAST(COALESCE(ticks_1s.low_price, EXCLUDED.low_price), EXCLUDED.low_price),
		close_price = EXCLUDED.close_price,
		volume      = COALESCE(ticks_1s.volume, 0) + COALESCE(EXCLUDED.volume, 0)
`

// pgStorage implements Storage on Postgres/TimescaleDB via pgx.
type pgStorage struct {
	pool *pgxpool.Pool
}

// NewPgStorage creates a Storage over an existing pgx pool.
func NewPgStorage(pool *pgxpool.Pool) Storage {
	return &pgStorage{pool: pool}
}

// UpsertRows sends the whole batch inside one transaction; a chunk either
// materializes completely or not at all.
func (s *pgStorage) UpsertRows(ctx context.Context, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertSQL,
			r.InstrumentID, r.TS.UTC(), r.Open, r.High, r.Low, r.Close, r.Volume)
	}

	br := tx.SendBatch(ctx, batch)
	var affected int64
	for range rows {
		ct, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert row: %w", err)
		}
		affected += ct.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}
	return affected, nil
}
