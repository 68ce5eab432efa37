package checkrunner

import (
	"context"
	"testing"

	"pricewatch/pkg/extract"
	"pricewatch/pkg/models"
	"pricewatch/pkg/pipeline"
)

type fakeStore struct {
	item             models.TrackedItem
	itemErr          error
	remainingBudget  float64
	budgetErr        error
	latestSnapshot   models.PriceSnapshot
	hadPrevSnapshot  bool
	latestErr        error
	createdSnapshots []models.PriceSnapshot
	finishedRuns     []models.CheckRun
}

func (s *fakeStore) GetItem(ctx context.Context, id string) (models.TrackedItem, error) {
	return s.item, s.itemErr
}

func (s *fakeStore) CreateCheckRun(ctx context.Context, itemID string) (string, error) {
	return "run-1", nil
}

func (s *fakeStore) FinishCheckRun(ctx context.Context, run models.CheckRun) error {
	s.finishedRuns = append(s.finishedRuns, run)
	return nil
}

func (s *fakeStore) RemainingAIBudget(ctx context.Context, dailyBudgetUSD float64) (float64, error) {
	return s.remainingBudget, s.budgetErr
}

func (s *fakeStore) RecentSnapshotsForHost(ctx context.Context, siteHost, excludeItemID string, limit int) ([]models.PriceSnapshot, error) {
	return nil, nil
}

func (s *fakeStore) LatestSnapshot(ctx context.Context, itemID string) (models.PriceSnapshot, bool, error) {
	return s.latestSnapshot, s.hadPrevSnapshot, s.latestErr
}

func (s *fakeStore) CreateSnapshot(ctx context.Context, snap models.PriceSnapshot) (string, error) {
	snap.ID = "snap-new"
	s.createdSnapshots = append(s.createdSnapshots, snap)
	return snap.ID, nil
}

type fakePipeline struct {
	attempt      extract.Attempt
	lastAllowAI  bool
	lastCalled   bool
}

func (p *fakePipeline) Run(ctx context.Context, rawURL string, opts pipeline.Options) extract.Attempt {
	p.lastAllowAI = opts.AllowAI
	p.lastCalled = true
	return p.attempt
}

type fakeNotifier struct {
	priceChangedCalls  int
	backInStockCalls   int
}

func (n *fakeNotifier) NotifyPriceChanged(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot, oldPriceCents *int64) error {
	n.priceChangedCalls++
	return nil
}

func (n *fakeNotifier) NotifyBackInStock(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot) error {
	n.backInStockCalls++
	return nil
}

func successAttempt(priceCents int64, inStock bool) extract.Attempt {
	p := priceCents
	in := inStock
	return extract.Attempt{
		Status: extract.StatusSuccess,
		Result: &extract.Result{
			ProductName: "Widget",
			PriceCents:  &p,
			InStock:     &in,
			StockState:  models.StockInStock,
			Confidence:  0.95,
			Method:      models.MethodStatic,
		},
	}
}

// TestRunCheckForItem_BackInStockWithoutPriorPriceSkipsPriceChanged covers
// spec scenario 5: a transition from out-of-stock (no price) straight to
// in-stock with a price must emit BACK_IN_STOCK only, never PRICE_CHANGED,
// because there was no prior numeric price to compare against.
func TestRunCheckForItem_BackInStockWithoutPriorPriceSkipsPriceChanged(t *testing.T) {
	falseVal := false
	store := &fakeStore{
		item:            models.TrackedItem{ID: "item-1", URL: "https://shop.example.com/p/1", SiteHost: "shop.example.com"},
		remainingBudget: 1.0,
		latestSnapshot: models.PriceSnapshot{
			InStock:    &falseVal,
			PriceCents: nil,
		},
		hadPrevSnapshot: true,
	}
	pl := &fakePipeline{attempt: successAttempt(4999, true)}
	notif := &fakeNotifier{}
	runner := New(store, pl, notif, Config{DailyBudgetUSD: 5.0})

	result := runner.RunCheckForItem(context.Background(), "item-1")

	if result.Status != models.RunSuccess {
		t.Fatalf("Status = %v, want SUCCESS", result.Status)
	}
	if !result.BackInStock {
		t.Error("BackInStock = false, want true")
	}
	if notif.backInStockCalls != 1 {
		t.Errorf("backInStockCalls = %d, want 1", notif.backInStockCalls)
	}
	if notif.priceChangedCalls != 0 {
		t.Errorf("priceChangedCalls = %d, want 0 (no prior numeric price)", notif.priceChangedCalls)
	}
}

// TestRunCheckForItem_AIBudgetExhaustedDisablesAI covers spec scenario 6:
// a zero/negative remaining daily budget must pass AllowAI=false into the
// pipeline, regardless of the configured daily budget ceiling.
func TestRunCheckForItem_AIBudgetExhaustedDisablesAI(t *testing.T) {
	store := &fakeStore{
		item:            models.TrackedItem{ID: "item-2", URL: "https://shop.example.com/p/2", SiteHost: "shop.example.com"},
		remainingBudget: 0,
	}
	pl := &fakePipeline{attempt: successAttempt(1999, true)}
	notif := &fakeNotifier{}
	runner := New(store, pl, notif, Config{DailyBudgetUSD: 5.0})

	_ = runner.RunCheckForItem(context.Background(), "item-2")

	if !pl.lastCalled {
		t.Fatal("pipeline was never invoked")
	}
	if pl.lastAllowAI {
		t.Error("AllowAI = true, want false when remaining budget is exhausted")
	}
}

func TestRunCheckForItem_NeedsReviewDoesNotCreateSnapshot(t *testing.T) {
	store := &fakeStore{
		item:            models.TrackedItem{ID: "item-3", URL: "https://shop.example.com/p/3", SiteHost: "shop.example.com"},
		remainingBudget: 1.0,
	}
	pl := &fakePipeline{attempt: extract.Attempt{Status: extract.StatusNeedsReview, Reason: models.ErrCodeLowConfidence}}
	notif := &fakeNotifier{}
	runner := New(store, pl, notif, Config{})

	result := runner.RunCheckForItem(context.Background(), "item-3")

	if result.Status != models.RunNeedsReview {
		t.Fatalf("Status = %v, want NEEDS_REVIEW", result.Status)
	}
	if len(store.createdSnapshots) != 0 {
		t.Errorf("created %d snapshots, want 0 for a needs_review attempt", len(store.createdSnapshots))
	}
}

func TestRunCheckForItem_PriceChangeEmittedWhenPriorPriceKnown(t *testing.T) {
	oldPrice := int64(4500)
	trueVal := true
	store := &fakeStore{
		item:            models.TrackedItem{ID: "item-4", URL: "https://shop.example.com/p/4", SiteHost: "shop.example.com"},
		remainingBudget: 1.0,
		latestSnapshot:  models.PriceSnapshot{PriceCents: &oldPrice, InStock: &trueVal},
		hadPrevSnapshot: true,
	}
	pl := &fakePipeline{attempt: successAttempt(4999, true)}
	notif := &fakeNotifier{}
	runner := New(store, pl, notif, Config{})

	result := runner.RunCheckForItem(context.Background(), "item-4")

	if !result.Changed {
		t.Error("Changed = false, want true")
	}
	if notif.priceChangedCalls != 1 {
		t.Errorf("priceChangedCalls = %d, want 1", notif.priceChangedCalls)
	}
}

func TestRunCheckForItem_LoadItemErrorReturnsFailed(t *testing.T) {
	store := &fakeStore{itemErr: models.ErrItemNotFound}
	pl := &fakePipeline{}
	notif := &fakeNotifier{}
	runner := New(store, pl, notif, Config{})

	result := runner.RunCheckForItem(context.Background(), "missing")
	if result.Status != models.RunFailed {
		t.Errorf("Status = %v, want FAILED", result.Status)
	}
	if pl.lastCalled {
		t.Error("pipeline should not be invoked when item load fails")
	}
}
