package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricewatch/pkg/models"
)

type fakeClaimer struct {
	claimed        bool
	claimErr       error
	finalizeCalls  int
	finalizeStatus int
	finalizeBody   string
}

func (f *fakeClaimer) ClaimNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType) (bool, error) {
	return f.claimed, f.claimErr
}

func (f *fakeClaimer) FinalizeNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType, status int, responseBody string) error {
	f.finalizeCalls++
	f.finalizeStatus = status
	f.finalizeBody = responseBody
	return nil
}

func testItemAndSnapshot() (models.TrackedItem, models.PriceSnapshot) {
	price := int64(4999)
	item := models.TrackedItem{ID: "item-1", URL: "https://shop.example.com/p/widget"}
	snap := models.PriceSnapshot{
		ID: "snap-1", ProductName: "Widget Pro", PriceCents: &price,
		CheckedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	return item, snap
}

func TestNotifyPriceChanged_NotClaimedSkipsSend(t *testing.T) {
	var posted bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	claimer := &fakeClaimer{claimed: false}
	n := New(claimer, ts.URL)
	item, snap := testItemAndSnapshot()
	old := int64(4500)

	if err := n.NotifyPriceChanged(context.Background(), item, snap, &old); err != nil {
		t.Fatalf("NotifyPriceChanged error: %v", err)
	}
	if posted {
		t.Error("webhook was POSTed despite claim returning false")
	}
	if claimer.finalizeCalls != 0 {
		t.Errorf("finalizeCalls = %d, want 0 when not claimed", claimer.finalizeCalls)
	}
}

func TestNotifyPriceChanged_ClaimedSendsAndFinalizes(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	claimer := &fakeClaimer{claimed: true}
	n := New(claimer, ts.URL)
	item, snap := testItemAndSnapshot()
	old := int64(4500)

	if err := n.NotifyPriceChanged(context.Background(), item, snap, &old); err != nil {
		t.Fatalf("NotifyPriceChanged error: %v", err)
	}
	if claimer.finalizeCalls != 1 {
		t.Fatalf("finalizeCalls = %d, want 1", claimer.finalizeCalls)
	}
	if claimer.finalizeStatus != http.StatusOK {
		t.Errorf("finalizeStatus = %d, want 200", claimer.finalizeStatus)
	}
	if !strings.Contains(gotBody, "Old Price: $45.00") || !strings.Contains(gotBody, "New Price: $49.99") {
		t.Errorf("POST body = %q, missing expected price lines", gotBody)
	}
}

func TestNotifyBackInStock_UnconfiguredWebhookFinalizesWithZeroStatus(t *testing.T) {
	claimer := &fakeClaimer{claimed: true}
	n := New(claimer, "")
	item, snap := testItemAndSnapshot()

	if err := n.NotifyBackInStock(context.Background(), item, snap); err != nil {
		t.Fatalf("NotifyBackInStock error: %v", err)
	}
	if claimer.finalizeCalls != 1 {
		t.Fatalf("finalizeCalls = %d, want 1", claimer.finalizeCalls)
	}
	if claimer.finalizeStatus != 0 {
		t.Errorf("finalizeStatus = %d, want 0 for unconfigured webhook", claimer.finalizeStatus)
	}
	if !strings.Contains(claimer.finalizeBody, "not configured") {
		t.Errorf("finalizeBody = %q, want mention of not configured", claimer.finalizeBody)
	}
}

func TestNotifyTest_BypassesClaimPath(t *testing.T) {
	var posted bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	claimer := &fakeClaimer{claimed: false}
	n := New(claimer, ts.URL)

	status, _, err := n.NotifyTest(context.Background())
	if err != nil {
		t.Fatalf("NotifyTest error: %v", err)
	}
	if !posted {
		t.Error("NotifyTest did not POST despite claimed=false (claim path should not gate it)")
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestNotifyTest_Unconfigured(t *testing.T) {
	claimer := &fakeClaimer{}
	n := New(claimer, "")
	status, body, err := n.NotifyTest(context.Background())
	if err != nil {
		t.Fatalf("NotifyTest error: %v", err)
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
	if !strings.Contains(body, "not configured") {
		t.Errorf("body = %q, want mention of not configured", body)
	}
}
