// Package checkrunner implements the per-item check state machine (spec
// §4.8): create a pessimistic FAILED run row, run the extraction
// cascade, detect transitions against history, dispatch notifications,
// and finalize the run row.
package checkrunner

import (
	"context"
	"encoding/json"
	"log"

	"pricewatch/pkg/aiextractor"
	"pricewatch/pkg/extract"
	"pricewatch/pkg/models"
	"pricewatch/pkg/pipeline"
)

// Config carries the env-tunable knobs CheckRunner needs per run.
type Config struct {
	AllowPlaywright        bool
	Model                  string
	TimeoutMs              int
	DailyBudgetUSD         float64
	AIConfidenceThreshold  float64
	OutOfStockVerifyThresh float64
	AIMaxOutputTokens      int
	AIEvidenceMaxChars     int
}

// Store is the narrow persistence surface CheckRunner depends on.
type Store interface {
	GetItem(ctx context.Context, id string) (models.TrackedItem, error)
	CreateCheckRun(ctx context.Context, itemID string) (string, error)
	FinishCheckRun(ctx context.Context, run models.CheckRun) error
	RemainingAIBudget(ctx context.Context, dailyBudgetUSD float64) (float64, error)
	RecentSnapshotsForHost(ctx context.Context, siteHost, excludeItemID string, limit int) ([]models.PriceSnapshot, error)
	LatestSnapshot(ctx context.Context, itemID string) (models.PriceSnapshot, bool, error)
	CreateSnapshot(ctx context.Context, snap models.PriceSnapshot) (string, error)
}

// Pipeline is the narrow extraction surface CheckRunner depends on.
type Pipeline interface {
	Run(ctx context.Context, rawURL string, opts pipeline.Options) extract.Attempt
}

// Notifier is the narrow dispatch surface CheckRunner depends on.
type Notifier interface {
	NotifyPriceChanged(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot, oldPriceCents *int64) error
	NotifyBackInStock(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot) error
}

// Runner wires Store, Pipeline and Notifier together.
type Runner struct {
	Store    Store
	Pipeline Pipeline
	Notifier Notifier
	Config   Config
}

// New builds a Runner.
func New(store Store, pl Pipeline, notif Notifier, cfg Config) *Runner {
	return &Runner{Store: store, Pipeline: pl, Notifier: notif, Config: cfg}
}

// RunCheckForItem executes the 9-step state machine from spec §4.8.
func (r *Runner) RunCheckForItem(ctx context.Context, itemID string) models.CheckResult {
	// Step 1: load the item by ID. Its Active flag is not checked, so a
	// retired item is still checked when asked for by ID.
	item, err := r.Store.GetItem(ctx, itemID)
	if err != nil {
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()}
	}

	// Step 2: durable sentinel.
	runID, err := r.Store.CreateCheckRun(ctx, itemID)
	if err != nil {
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()}
	}

	result := r.execute(ctx, item, runID)
	result.CheckRunID = runID
	return result
}

func (r *Runner) execute(ctx context.Context, item models.TrackedItem, runID string) (result models.CheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("checkrunner: recovered panic for item %s: %v", item.ID, rec)
			_ = r.Store.FinishCheckRun(ctx, models.CheckRun{
				ID: runID, ItemID: item.ID, Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed,
			})
			result = models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed}
		}
	}()

	// Step 3: remaining AI budget.
	remaining, err := r.Store.RemainingAIBudget(ctx, r.Config.DailyBudgetUSD)
	if err != nil {
		_ = r.Store.FinishCheckRun(ctx, models.CheckRun{ID: runID, ItemID: item.ID, Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()})
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()}
	}
	allowAI := remaining > 0

	// Step 4: prior snapshots on the same host, as AI hints.
	hintSnapshots, err := r.Store.RecentSnapshotsForHost(ctx, item.SiteHost, item.ID, 4)
	if err != nil {
		hintSnapshots = nil // non-fatal: proceed with no hints
	}
	hints := toHints(hintSnapshots)

	// Step 5: run the cascade.
	attempt := r.Pipeline.Run(ctx, item.URL, pipeline.Options{
		TimeoutMs:              r.Config.TimeoutMs,
		AllowPlaywright:        r.Config.AllowPlaywright,
		AllowAI:                allowAI,
		Model:                  r.Config.Model,
		AIHints:                hints,
		AIConfidenceThreshold:  r.Config.AIConfidenceThreshold,
		OutOfStockVerifyThresh: r.Config.OutOfStockVerifyThresh,
		AIMaxOutputTokens:      r.Config.AIMaxOutputTokens,
		AIEvidenceMaxChars:     r.Config.AIEvidenceMaxChars,
	})

	// Step 6: needs_review outcome.
	if attempt.Status == extract.StatusNeedsReview {
		status := models.RunFailed
		if models.IsNeedsReview(attempt.Reason) {
			status = models.RunNeedsReview
		}
		_ = r.Store.FinishCheckRun(ctx, models.CheckRun{
			ID: runID, ItemID: item.ID, Status: status, ErrorCode: attempt.Reason,
			UsedPlaywright: attempt.UsedPlaywright, UsedAI: attempt.UsedAI,
			TokenInput: attempt.TokenInput, TokenOutput: attempt.TokenOutput, EstimatedCostUSD: attempt.EstimatedCostUSD,
		})
		return models.CheckResult{Status: status, ErrorCode: attempt.Reason}
	}

	// Step 7: success — compute deltas against the latest existing snapshot.
	prevSnap, hadPrev, err := r.Store.LatestSnapshot(ctx, item.ID)
	if err != nil {
		_ = r.Store.FinishCheckRun(ctx, models.CheckRun{ID: runID, ItemID: item.ID, Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()})
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed}
	}

	res := attempt.Result
	evidenceJSON := marshalEvidence(res.Evidence)
	snap := models.PriceSnapshot{
		ItemID:           item.ID,
		ProductName:      res.ProductName,
		PriceCents:       res.PriceCents,
		InStock:          res.InStock,
		StockState:       res.StockState,
		ExtractionMethod: res.Method,
		Confidence:       res.Confidence,
		EvidenceJSON:     evidenceJSON,
		ContentHash:      res.ContentHash,
		VariantStock:     res.VariantStock,
	}
	snapshotID, err := r.Store.CreateSnapshot(ctx, snap)
	if err != nil {
		_ = r.Store.FinishCheckRun(ctx, models.CheckRun{ID: runID, ItemID: item.ID, Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed, ErrorMessage: err.Error()})
		return models.CheckResult{Status: models.RunFailed, ErrorCode: models.ErrCodeCheckRunFailed}
	}
	snap.ID = snapshotID

	changed := hadPrev && prevSnap.PriceCents != nil && snap.PriceCents != nil && *prevSnap.PriceCents != *snap.PriceCents
	backInStock := hadPrev && prevSnap.InStock != nil && !*prevSnap.InStock && snap.InStock != nil && *snap.InStock

	// Step 8: dispatch notifications, finalize run as SUCCESS.
	r.dispatchNotifications(ctx, item, snap, prevSnap, hadPrev, changed, backInStock)

	_ = r.Store.FinishCheckRun(ctx, models.CheckRun{
		ID: runID, ItemID: item.ID, Status: models.RunSuccess,
		UsedPlaywright: attempt.UsedPlaywright, UsedAI: attempt.UsedAI,
		TokenInput: attempt.TokenInput, TokenOutput: attempt.TokenOutput, EstimatedCostUSD: attempt.EstimatedCostUSD,
	})

	return models.CheckResult{
		Status: models.RunSuccess, SnapshotID: snap.ID, Changed: changed, BackInStock: backInStock,
	}
}

func (r *Runner) dispatchNotifications(ctx context.Context, item models.TrackedItem, snap, prevSnap models.PriceSnapshot, hadPrev, changed, backInStock bool) {
	if backInStock {
		if err := r.Notifier.NotifyBackInStock(ctx, item, snap); err != nil {
			log.Printf("checkrunner: back-in-stock notify failed for item %s: %v", item.ID, err)
		}
	}
	// Scenario 5: a PRICE_CHANGED event requires a numeric prior price —
	// a transition from "no price" (out of stock) to a price is reported
	// via BACK_IN_STOCK alone.
	if changed && hadPrev && prevSnap.PriceCents != nil {
		if err := r.Notifier.NotifyPriceChanged(ctx, item, snap, prevSnap.PriceCents); err != nil {
			log.Printf("checkrunner: price-change notify failed for item %s: %v", item.ID, err)
		}
	}
}

func toHints(snapshots []models.PriceSnapshot) []aiextractor.Hint {
	hints := make([]aiextractor.Hint, 0, len(snapshots))
	for _, s := range snapshots {
		hints = append(hints, aiextractor.Hint{Name: s.ProductName, PriceCents: s.PriceCents, InStock: s.InStock})
	}
	return hints
}

func marshalEvidence(ev extract.Evidence) string {
	b, err := json.Marshal(ev)
	if err != nil {
		return "{}"
	}
	return string(b)
}
