// Package notifier formats and delivers webhook notifications for price
// changes and back-in-stock transitions (spec §4.10), claiming each
// event via a unique-constraint insert before ever performing network
// I/O — the "claim then send" primitive spec §9 requires for at-most-once
// delivery.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pricewatch/pkg/logger"
	"pricewatch/pkg/models"
	"pricewatch/pkg/priceparser"
)

// Claimer is the narrow persistence surface Notifier depends on.
type Claimer interface {
	ClaimNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType) (claimed bool, err error)
	FinalizeNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType, status int, responseBody string) error
}

// Notifier POSTs Discord-style `{content}` webhooks.
type Notifier struct {
	Store      Claimer
	WebhookURL string
	HTTPClient *http.Client
}

// New builds a Notifier. webhookURL empty means "not configured" — spec
// §4.10's no-op-with-sentinel-status path.
func New(store Claimer, webhookURL string) *Notifier {
	return &Notifier{Store: store, WebhookURL: webhookURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// NotifyPriceChanged claims and sends a PRICE_CHANGED event.
func (n *Notifier) NotifyPriceChanged(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot, oldPriceCents *int64) error {
	message := fmt.Sprintf(
		"**Price Change Detected**\nProduct: %s\nOld Price: %s\nNew Price: %s\nLink: %s\nChecked: %s",
		snapshot.ProductName, formatPriceOrUnknown(oldPriceCents), formatPriceOrUnknown(snapshot.PriceCents),
		item.URL, snapshot.CheckedAt.Format(time.RFC3339),
	)
	return n.dispatch(ctx, item.ID, snapshot.ID, models.EventPriceChanged, message)
}

// NotifyBackInStock claims and sends a BACK_IN_STOCK event.
func (n *Notifier) NotifyBackInStock(ctx context.Context, item models.TrackedItem, snapshot models.PriceSnapshot) error {
	message := fmt.Sprintf(
		"**Back In Stock**\nProduct: %s\nNew Price: %s\nLink: %s\nChecked: %s",
		snapshot.ProductName, formatPriceOrUnknown(snapshot.PriceCents), item.URL, snapshot.CheckedAt.Format(time.RFC3339),
	)
	return n.dispatch(ctx, item.ID, snapshot.ID, models.EventBackInStock, message)
}

// NotifyTest sends a plain test message directly, bypassing the
// claim-then-send path (there is no snapshot to key a claim on), for
// the POST /discord/test diagnostic endpoint.
func (n *Notifier) NotifyTest(ctx context.Context) (int, string, error) {
	if n.WebhookURL == "" {
		return 0, "DISCORD_WEBHOOK_URL not configured", nil
	}
	return n.post(ctx, "**Test Notification**\nThis is a test message from the price watch service.")
}

func (n *Notifier) dispatch(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType, message string) error {
	claimed, err := n.Store.ClaimNotification(ctx, itemID, snapshotID, eventType)
	if err != nil {
		return err
	}
	if !claimed {
		return nil // already emitted by a concurrent or prior run
	}

	if n.WebhookURL == "" {
		// The line carries the item ID, so Dedup collapses only
		// consecutive skips for the same item.
		logger.Dedup("notifier: DISCORD_WEBHOOK_URL not configured, skipping delivery for item %s", itemID)
		return n.Store.FinalizeNotification(ctx, itemID, snapshotID, eventType, 0, "DISCORD_WEBHOOK_URL not configured")
	}

	status, body, sendErr := n.post(ctx, message)
	finErr := n.Store.FinalizeNotification(ctx, itemID, snapshotID, eventType, status, body)
	if sendErr != nil {
		return sendErr
	}
	return finErr
}

func (n *Notifier) post(ctx context.Context, content string) (int, string, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

func formatPriceOrUnknown(cents *int64) string {
	if cents == nil {
		return "unknown"
	}
	return priceparser.Format(*cents)
}
