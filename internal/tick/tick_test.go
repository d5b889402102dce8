package tick

import (
	"testing"
	"time"
)

func validTick() Tick {
	return Tick{
		Symbol:     "005930",
		Time:       "100000",
		Close:      71200,
		Open:       71000,
		High:       71500,
		Low:        70900,
		Volume:     12,
		ChangeRate: 0.42,
		ReceivedAt: time.Now(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tick)
		wantErr bool
	}{
		{"valid", func(*Tick) {}, false},
		{"empty symbol", func(tk *Tick) { tk.Symbol = "" }, true},
		{"short time", func(tk *Tick) { tk.Time = "1000" }, true},
		{"garbage time", func(tk *Tick) { tk.Time = "ab12cd" }, true},
		{"hour out of range", func(tk *Tick) { tk.Time = "250000" }, true},
		{"negative close", func(tk *Tick) { tk.Close = -1 }, true},
		{"negative low", func(tk *Tick) { tk.Low = -5 }, true},
		{"zero volume", func(tk *Tick) { tk.Volume = 0 }, true},
		{"negative volume", func(tk *Tick) { tk.Volume = -3 }, true},
		{"change rate too low", func(tk *Tick) { tk.ChangeRate = -101 }, true},
		{"change rate too high", func(tk *Tick) { tk.ChangeRate = 150 }, true},
		{"zero prices ok", func(tk *Tick) { tk.Close, tk.Open, tk.High, tk.Low = 0, 0, 0, 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := validTick()
			tt.mutate(&tk)
			err := tk.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid tick, got error: %v", err)
			}
		})
	}
}

func TestSecondOfDay(t *testing.T) {
	tk := validTick()
	tk.Time = "093015"

	sec, err := tk.SecondOfDay()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if want := 9*3600 + 30*60 + 15; sec != want {
		t.Errorf("Expected %d seconds, got %d", want, sec)
	}
}

func TestAt(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}

	tk := validTick()
	tk.Time = "151230"
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, loc)

	ts, err := tk.At(day, loc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := time.Date(2025, 3, 14, 15, 12, 30, 0, loc)
	if !ts.Equal(want) {
		t.Errorf("Expected %v, got %v", want, ts)
	}
}
