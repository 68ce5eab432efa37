package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"pricewatch/pkg/models"
)

type fakeStore struct {
	items []models.TrackedItem
	err   error
}

func (s *fakeStore) ListActiveItems(ctx context.Context, limit int) ([]models.TrackedItem, error) {
	if len(s.items) > limit {
		return s.items[:limit], s.err
	}
	return s.items, s.err
}

type fakeRunner struct {
	mu          sync.Mutex
	calledIDs   []string
	maxInFlight int32
	inFlight    int32
	failFor     map[string]bool
}

func (r *fakeRunner) RunCheckForItem(ctx context.Context, itemID string) models.CheckResult {
	n := atomic.AddInt32(&r.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&r.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&r.maxInFlight, cur, n) {
			break
		}
	}
	defer atomic.AddInt32(&r.inFlight, -1)

	r.mu.Lock()
	r.calledIDs = append(r.calledIDs, itemID)
	fail := r.failFor[itemID]
	r.mu.Unlock()

	if fail {
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed}
	}
	return models.CheckResult{Status: models.RunSuccess}
}

func makeItems(n int) []models.TrackedItem {
	items := make([]models.TrackedItem, n)
	for i := range items {
		items[i] = models.TrackedItem{ID: string(rune('a' + i))}
	}
	return items
}

func TestRun_ChecksEveryActiveItem(t *testing.T) {
	items := makeItems(30)
	store := &fakeStore{items: items}
	runner := &fakeRunner{failFor: map[string]bool{}}
	s := New(store, runner)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(runner.calledIDs) != 30 {
		t.Errorf("called %d items, want 30", len(runner.calledIDs))
	}
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	items := makeItems(10)
	store := &fakeStore{items: items}
	runner := &fakeRunner{failFor: map[string]bool{}}
	s := New(store, runner)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if runner.maxInFlight > maxConcurrency {
		t.Errorf("max in-flight = %d, want <= %d", runner.maxInFlight, maxConcurrency)
	}
}

func TestRun_OneItemFailureDoesNotStopSiblings(t *testing.T) {
	items := makeItems(5)
	store := &fakeStore{items: items}
	runner := &fakeRunner{failFor: map[string]bool{"a": true, "c": true}}
	s := New(store, runner)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(runner.calledIDs) != 5 {
		t.Errorf("called %d items, want 5 (failures must not cancel the batch)", len(runner.calledIDs))
	}
}

func TestRun_ListErrorPropagates(t *testing.T) {
	store := &fakeStore{err: context.DeadlineExceeded}
	runner := &fakeRunner{failFor: map[string]bool{}}
	s := New(store, runner)

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want propagated list error")
	}
}
