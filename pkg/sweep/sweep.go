// Package sweep implements DailySweep (spec §4.9): load active items in
// createdAt order, process in batches of 25, at most 3 checks in flight
// at a time. This generalizes main.go's scraperSemaphore buffered-channel
// pattern with golang.org/x/sync/errgroup, which gives per-batch error
// aggregation for free instead of a hand-rolled WaitGroup.
package sweep

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pricewatch/pkg/logger"
	"pricewatch/pkg/models"
)

const (
	maxItems        = 200
	batchSize       = 25
	maxConcurrency  = 3
)

// Store is the narrow surface Sweeper needs to list work.
type Store interface {
	ListActiveItems(ctx context.Context, limit int) ([]models.TrackedItem, error)
}

// Runner is the narrow surface Sweeper dispatches each check to.
type Runner interface {
	RunCheckForItem(ctx context.Context, itemID string) models.CheckResult
}

// Sweeper wires a Store and a Runner together.
type Sweeper struct {
	Store  Store
	Runner Runner
}

// New builds a Sweeper.
func New(store Store, runner Runner) *Sweeper {
	return &Sweeper{Store: store, Runner: runner}
}

// Run executes one sweep pass: sequential batches of batchSize, up to
// maxConcurrency checks in flight within a batch. No per-item retry;
// failures surface only via the CheckRun row each item already wrote.
func (s *Sweeper) Run(ctx context.Context) error {
	items, err := s.Store.ListActiveItems(ctx, maxItems)
	if err != nil {
		return err
	}
	logger.Info("sweep: %d active items to check", len(items))

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		s.runBatch(ctx, items[start:end])
	}
	return nil
}

func (s *Sweeper) runBatch(ctx context.Context, batch []models.TrackedItem) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, item := range batch {
		item := item
		g.Go(func() error {
			result := s.Runner.RunCheckForItem(gctx, item.ID)
			if result.Status != models.RunSuccess {
				logger.Warn("sweep: item %s finished %s (%s)", item.ID, result.Status, result.ErrorCode)
			}
			return nil // never abort the group: one item's failure doesn't cancel its batch siblings
		})
	}
	_ = g.Wait()
}
