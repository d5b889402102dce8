package drain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	pending map[string]time.Time
	locks   map[string]bool
	ok      []string
	fails   int

	dueErr  error
	lockErr error
}

func newFakeStore(ids ...string) *fakeStore {
	f := &fakeStore{
		pending: map[string]time.Time{},
		locks:   map[string]bool{},
	}
	for _, id := range ids {
		f.pending[id] = time.Time{}
	}
	return f
}

func (f *fakeStore) DuePending(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var ids []string
	for id, due := range f.pending {
		if !due.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) TryLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return false, f.lockErr
	}
	if f.locks[id] {
		return false, nil
	}
	f.locks[id] = true
	return true, nil
}

func (f *fakeStore) Unlock(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, id)
	return nil
}

func (f *fakeStore) RemovePending(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeStore) RecordIngestOK(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ok = append(f.ok, id)
}

func (f *fakeStore) RecordIngestFailure(ctx context.Context, ingestErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails++
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (f *fakeIngester) IngestChunk(ctx context.Context, id string) (int64, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func alwaysOpen(t *testing.T) MarketHours {
	t.Helper()
	hours, err := NewMarketHours("UTC", "00:00", "23:59")
	if err != nil {
		t.Fatalf("NewMarketHours failed: %v", err)
	}
	return hours
}

func newTestScheduler(t *testing.T, store *fakeStore, ing *fakeIngester) *Scheduler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(store, ing, logger, alwaysOpen(t), Config{
		Interval: time.Second,
		LockTTL:  5 * time.Minute,
	})
}

func TestDrainIngestsDueChunks(t *testing.T) {
	store := newFakeStore("chunk-a", "chunk-b")
	ing := &fakeIngester{}
	s := newTestScheduler(t, store, ing)

	s.drain(context.Background())

	if len(ing.calls) != 2 {
		t.Fatalf("Expected 2 ingestions, got %d", len(ing.calls))
	}
	if len(store.pending) != 0 {
		t.Errorf("Expected pending index to be empty, got %d entries", len(store.pending))
	}
	if len(store.ok) != 2 {
		t.Errorf("Expected 2 success records, got %d", len(store.ok))
	}
	if len(store.locks) != 0 {
		t.Errorf("Expected all locks released, got %d held", len(store.locks))
	}
}

func TestDrainSkipsNotYetDue(t *testing.T) {
	store := newFakeStore()
	store.pending["later"] = time.Now().Add(time.Hour)
	ing := &fakeIngester{}
	s := newTestScheduler(t, store, ing)

	s.drain(context.Background())

	if len(ing.calls) != 0 {
		t.Errorf("Expected no ingestions for future chunk, got %d", len(ing.calls))
	}
}

func TestDrainSkipsHeldLock(t *testing.T) {
	store := newFakeStore("chunk-a")
	store.locks["chunk-a"] = true
	ing := &fakeIngester{}
	s := newTestScheduler(t, store, ing)

	s.drain(context.Background())

	if len(ing.calls) != 0 {
		t.Errorf("Expected held lock to skip ingestion, got %d calls", len(ing.calls))
	}
	if _, ok := store.pending["chunk-a"]; !ok {
		t.Error("Expected skipped chunk to stay pending")
	}
	if !store.locks["chunk-a"] {
		t.Error("Expected foreign lock to remain held")
	}
}

func TestDrainFailureLeavesPendingAndReleasesLock(t *testing.T) {
	store := newFakeStore("chunk-a")
	ing := &fakeIngester{err: errors.New("db down")}
	s := newTestScheduler(t, store, ing)

	s.drain(context.Background())

	if _, ok := store.pending["chunk-a"]; !ok {
		t.Error("Expected failed chunk to stay in the pending index")
	}
	if store.fails != 1 {
		t.Errorf("Expected 1 failure record, got %d", store.fails)
	}
	if len(store.locks) != 0 {
		t.Error("Expected lock released after failure")
	}

	// A later scan retries the same chunk.
	ing.err = nil
	s.drain(context.Background())
	if len(store.pending) != 0 {
		t.Error("Expected retry to succeed and clear the pending index")
	}
}

func TestDrainNoOpOutsideMarketHours(t *testing.T) {
	store := newFakeStore("chunk-a")
	ing := &fakeIngester{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hours, err := NewMarketHours("UTC", "09:00", "15:30")
	if err != nil {
		t.Fatalf("NewMarketHours failed: %v", err)
	}
	s := NewScheduler(store, ing, logger, hours, Config{Interval: time.Second, LockTTL: time.Minute})
	s.now = func() time.Time {
		return time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	}

	s.drain(context.Background())

	if len(ing.calls) != 0 {
		t.Errorf("Expected no ingestions outside market hours, got %d", len(ing.calls))
	}
}

func TestConcurrentSchedulersIngestOnce(t *testing.T) {
	// Two instances racing for the same due chunk: exactly one materializes,
	// the other sees the held lock and skips.
	store := newFakeStore("chunk-a")
	ing := &fakeIngester{block: make(chan struct{})}

	s1 := newTestScheduler(t, store, ing)
	s2 := newTestScheduler(t, store, ing)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s1.drain(context.Background())
	}()
	go func() {
		defer wg.Done()
		s2.drain(context.Background())
	}()

	// Let both schedulers reach the lock before the winner proceeds.
	time.Sleep(50 * time.Millisecond)
	close(ing.block)
	wg.Wait()

	if len(ing.calls) != 1 {
		t.Fatalf("Expected exactly 1 ingestion, got %d", len(ing.calls))
	}
	if len(store.ok) != 1 {
		t.Errorf("Expected 1 success record, got %d", len(store.ok))
	}
	if len(store.pending) != 0 {
		t.Errorf("Expected pending index cleared, got %d entries", len(store.pending))
	}
}
