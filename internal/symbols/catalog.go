package symbols

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgCatalog reads the instrument catalog from the instruments table.
type pgCatalog struct {
	pool *pgxpool.Pool
}

// NewPgCatalog creates a Catalog over an existing pgx pool.
func NewPgCatalog(pool *pgxpool.Pool) Catalog {
	return &pgCatalog{pool: pool}
}

func (c *pgCatalog) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := c.pool.Query(ctx, `SELECT instrument_id, symbol FROM instruments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.ID, &in.Symbol); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
