package drain

import (
	"fmt"
	"time"
)

// MarketHours bounds the trading session in the exchange's local timezone.
// The drain scheduler is a no-op outside this window.
type MarketHours struct {
	loc          *time.Location
	openMinutes  int
	closeMinutes int
}

// NewMarketHours parses "HH:MM" open/close bounds for the given timezone.
func NewMarketHours(timezone, open, close string) (MarketHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return MarketHours{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	openMinutes, err := parseClock(open)
	if err != nil {
		return MarketHours{}, fmt.Errorf("market open: %w", err)
	}
	closeMinutes, err := parseClock(close)
	if err != nil {
		return MarketHours{}, fmt.Errorf("market close: %w", err)
	}
	if closeMinutes < openMinutes {
		return MarketHours{}, fmt.Errorf("market close %s before open %s", close, open)
	}
	return MarketHours{loc: loc, openMinutes: openMinutes, closeMinutes: closeMinutes}, nil
}

func parseClock(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Contains reports whether t falls inside the session, bounds inclusive.
func (h MarketHours) Contains(t time.Time) bool {
	local := t.In(h.loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= h.openMinutes && minutes <= h.closeMinutes
}

// Location returns the exchange timezone.
func (h MarketHours) Location() *time.Location {
	return h.loc
}
