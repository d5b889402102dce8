package symbols

import (
	"context"
	"errors"
	"testing"
)

type fakeCatalog struct {
	instruments []Instrument
	err         error
}

func (f *fakeCatalog) ListInstruments(ctx context.Context) ([]Instrument, error) {
	return f.instruments, f.err
}

func TestMapperLookups(t *testing.T) {
	catalog := &fakeCatalog{instruments: []Instrument{
		{ID: 1, Symbol: "005930"},
		{ID: 2, Symbol: "000660"},
	}}
	m := NewMapper(catalog)

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	id, ok := m.IDFor("005930")
	if !ok || id != 1 {
		t.Errorf("Expected (1, true) for 005930, got (%d, %v)", id, ok)
	}

	symbol, ok := m.SymbolFor(2)
	if !ok || symbol != "000660" {
		t.Errorf("Expected (000660, true) for id 2, got (%q, %v)", symbol, ok)
	}

	if _, ok := m.IDFor("035420"); ok {
		t.Error("Expected unknown symbol to return ok=false")
	}
	if _, ok := m.SymbolFor(99); ok {
		t.Error("Expected unknown id to return ok=false")
	}

	if m.Size() != 2 {
		t.Errorf("Expected size 2, got %d", m.Size())
	}
}

func TestMapperEmptyBeforeReload(t *testing.T) {
	m := NewMapper(&fakeCatalog{})

	if _, ok := m.IDFor("005930"); ok {
		t.Error("Expected every symbol to be unknown before the first reload")
	}
	if m.Size() != 0 {
		t.Errorf("Expected size 0, got %d", m.Size())
	}
}

func TestMapperReloadErrorKeepsOldView(t *testing.T) {
	catalog := &fakeCatalog{instruments: []Instrument{{ID: 1, Symbol: "005930"}}}
	m := NewMapper(catalog)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	catalog.err = errors.New("db down")
	if err := m.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload error")
	}

	if _, ok := m.IDFor("005930"); !ok {
		t.Error("Expected previous mapping to survive a failed reload")
	}
}

func TestMapperReloadSwapsAtomically(t *testing.T) {
	catalog := &fakeCatalog{instruments: []Instrument{{ID: 1, Symbol: "005930"}}}
	m := NewMapper(catalog)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	catalog.instruments = []Instrument{{ID: 3, Symbol: "035420"}}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if _, ok := m.IDFor("005930"); ok {
		t.Error("Expected stale symbol to be gone after reload")
	}
	if id, ok := m.IDFor("035420"); !ok || id != 3 {
		t.Errorf("Expected (3, true) for 035420, got (%d, %v)", id, ok)
	}
}
