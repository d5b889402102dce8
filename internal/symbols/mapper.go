// Package symbols maintains the bidirectional mapping between instrument
// symbols and the dense integer ids used by the binary chunk format.
package symbols

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Instrument is one row of the reference catalog.
type Instrument struct {
	ID     int32
	Symbol string
}

// Catalog is the reference-data source the mapper reloads from.
type Catalog interface {
	ListInstruments(ctx context.Context) ([]Instrument, error)
}

type mappings struct {
	bySymbol map[string]int32
	byID     map[int32]string
}

// Mapper resolves symbols to ids and back. Lookups are lock-free; Reload
// builds a fresh pair of maps and swaps them in atomically, so concurrent
// readers never observe a partially populated view.
type Mapper struct {
	catalog Catalog
	current atomic.Pointer[mappings]
}

// NewMapper creates a Mapper over the given catalog. Call Reload before the
// first lookup; until then every symbol is unknown.
func NewMapper(catalog Catalog) *Mapper {
	m := &Mapper{catalog: catalog}
	m.current.Store(&mappings{
		bySymbol: map[string]int32{},
		byID:     map[int32]string{},
	})
	return m
}

// Reload rebuilds both directions from the catalog and swaps them in.
// On error the previous view stays active.
func (m *Mapper) Reload(ctx context.Context) error {
	instruments, err := m.catalog.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}

	next := &mappings{
		bySymbol: make(map[string]int32, len(instruments)),
		byID:     make(map[int32]string, len(instruments)),
	}
	for _, in := range instruments {
		if in.Symbol == "" {
			continue
		}
		next.bySymbol[in.Symbol] = in.ID
		next.byID[in.ID] = in.Symbol
	}

	m.current.Store(next)
	return nil
}

// IDFor returns the dense id for symbol. The second return is false for an
// unmapped symbol; callers are expected to drop such ticks, not fail.
func (m *Mapper) IDFor(symbol string) (int32, bool) {
	id, ok := m.current.Load().bySymbol[symbol]
	return id, ok
}

// SymbolFor returns the symbol for a dense id.
func (m *Mapper) SymbolFor(id int32) (string, bool) {
	symbol, ok := m.current.Load().byID[id]
	return symbol, ok
}

// Size returns the number of mapped instruments.
func (m *Mapper) Size() int {
	return len(m.current.Load().bySymbol)
}
