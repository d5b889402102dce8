// Package tick defines the raw trade tick model, its validation rules, and the
// fixed 16-byte binary format used to batch ticks into compressed chunks.
package tick

import (
	"fmt"
	"time"
)

// Tick is one executed-trade observation as delivered by the feed.
// Time carries only the local time-of-day ("HHmmss"); the trading date is
// supplied separately when records are decoded back out of a chunk.
type Tick struct {
	Symbol       string    `json:"symbol"`
	Time         string    `json:"time"` // HHmmss, exchange local time
	Close        int       `json:"close"`
	Open         int       `json:"open"`
	High         int       `json:"high"`
	Low          int       `json:"low"`
	Volume       int       `json:"volume"`
	ChangeRate   float64   `json:"changeRate"`
	PrevDayDelta int       `json:"prevDayDelta"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// Validate reports why a tick is unusable, or nil if it may enter the pipeline.
// Volume must be positive: a recorded trade implies a trade actually happened.
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if _, err := t.SecondOfDay(); err != nil {
		return err
	}
	if t.Close < 0 || t.Open < 0 || t.High < 0 || t.Low < 0 {
		return fmt.Errorf("negative price: close=%d open=%d high=%d low=%d", t.Close, t.Open, t.High, t.Low)
	}
	if t.Volume <= 0 {
		return fmt.Errorf("non-positive volume: %d", t.Volume)
	}
	if t.ChangeRate < -100 || t.ChangeRate > 100 {
		return fmt.Errorf("change rate out of range: %f", t.ChangeRate)
	}
	return nil
}

// SecondOfDay parses the HHmmss time field into seconds since local midnight.
func (t Tick) SecondOfDay() (int, error) {
	if len(t.Time) != 6 {
		return 0, fmt.Errorf("invalid time-of-day %q", t.Time)
	}
	parsed, err := time.Parse("150405", t.Time)
	if err != nil {
		return 0, fmt.Errorf("invalid time-of-day %q: %w", t.Time, err)
	}
	return parsed.Hour()*3600 + parsed.Minute()*60 + parsed.Second(), nil
}

// MsOfDay returns milliseconds since local midnight. The feed format has
// second resolution, so this is always a multiple of 1000.
func (t Tick) MsOfDay() (int32, error) {
	sec, err := t.SecondOfDay()
	if err != nil {
		return 0, err
	}
	return int32(sec * 1000), nil
}

// At combines the given trading day with the tick's time-of-day in loc,
// yielding the absolute instant used for second bucketing.
func (t Tick) At(day time.Time, loc *time.Location) (time.Time, error) {
	sec, err := t.SecondOfDay()
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, sec, 0, loc), nil
}
