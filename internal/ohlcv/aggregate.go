// Package ohlcv turns decoded tick records into second-resolution OHLCV rows
// and merge-upserts them into the time-series store.
package ohlcv

import (
	"time"

	"lago/tickpipe/internal/tick"
)

// Row is one second-resolution OHLCV aggregate keyed by (instrument, second).
type Row struct {
	InstrumentID int32
	TS           time.Time
	Open         int32
	High         int32
	Low          int32
	Close        int32
	Volume       int64
}

type bucket struct {
	instrumentID int32
	sec          int64
}

// Aggregate groups records by (instrumentID, timestamp truncated to the
// second), preserving original append order within each group and first-seen
// order across groups. Per group: open is the first price, high the max, low
// the min, close the last price, volume the sum.
//
// Chunks are logically single-instrument, but nothing here assumes that.
func Aggregate(records []tick.Record) []Row {
	if len(records) == 0 {
		return nil
	}

	index := make(map[bucket]int, len(records))
	rows := make([]Row, 0, len(records))

	for _, r := range records {
		sec := r.TS.Truncate(time.Second)
		key := bucket{instrumentID: r.InstrumentID, sec: sec.Unix()}

		i, ok := index[key]
		if !ok {
			index[key] = len(rows)
			rows = append(rows, Row{
				InstrumentID: r.InstrumentID,
				TS:           sec,
				Open:         r.Price,
				High:         r.Price,
				Low:          r.Price,
				Close:        r.Price,
				Volume:       int64(r.Volume),
			})
			continue
		}

		row := &rows[i]
		if r.Price > row.High {
			row.High = r.Price
		}
		if r.Price < row.Low {
			row.Low = r.Price
		}
		row.Close = r.Price
		row.Volume += int64(r.Volume)
	}
	return rows
}
