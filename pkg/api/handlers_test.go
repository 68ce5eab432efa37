package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pricewatch/pkg/models"
)

type fakeStore struct {
	items          map[string]models.TrackedItem
	nextID         int
	createErr      error
	snapshots      map[string][]models.PriceSnapshot
	runs           map[string][]models.CheckRun
	notifications  map[string][]models.Notification
	pingErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:         map[string]models.TrackedItem{},
		snapshots:     map[string][]models.PriceSnapshot{},
		runs:          map[string][]models.CheckRun{},
		notifications: map[string][]models.Notification{},
	}
}

func (s *fakeStore) CreateItem(ctx context.Context, rawURL, canonicalURL, siteHost string) (string, bool, error) {
	if s.createErr != nil {
		return "", false, s.createErr
	}
	for id, item := range s.items {
		if item.CanonicalURL == canonicalURL {
			return id, false, nil
		}
	}
	s.nextID++
	id := "item-" + string(rune('0'+s.nextID))
	s.items[id] = models.TrackedItem{ID: id, URL: rawURL, CanonicalURL: canonicalURL, SiteHost: siteHost, Active: true}
	return id, true, nil
}

func (s *fakeStore) GetItem(ctx context.Context, id string) (models.TrackedItem, error) {
	item, ok := s.items[id]
	if !ok {
		return models.TrackedItem{}, models.ErrItemNotFound
	}
	return item, nil
}

func (s *fakeStore) ListAllItems(ctx context.Context) ([]models.TrackedItem, error) {
	var out []models.TrackedItem
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

func (s *fakeStore) DeactivateItem(ctx context.Context, id string) error {
	item, ok := s.items[id]
	if !ok {
		return models.ErrItemNotFound
	}
	item.Active = false
	s.items[id] = item
	return nil
}

func (s *fakeStore) LatestSnapshot(ctx context.Context, itemID string) (models.PriceSnapshot, bool, error) {
	snaps := s.snapshots[itemID]
	if len(snaps) == 0 {
		return models.PriceSnapshot{}, false, nil
	}
	return snaps[0], true, nil
}

func (s *fakeStore) ListSnapshots(ctx context.Context, itemID string, limit int) ([]models.PriceSnapshot, error) {
	snaps := s.snapshots[itemID]
	if len(snaps) > limit {
		return snaps[:limit], nil
	}
	return snaps, nil
}

func (s *fakeStore) ListCheckRuns(ctx context.Context, itemID string, limit int) ([]models.CheckRun, error) {
	return s.runs[itemID], nil
}

func (s *fakeStore) ListNotifications(ctx context.Context, itemID string, limit int) ([]models.Notification, error) {
	return s.notifications[itemID], nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}

type fakeCheckRunner struct {
	result models.CheckResult
}

func (r *fakeCheckRunner) RunCheckForItem(ctx context.Context, itemID string) models.CheckResult {
	return r.result
}

type fakeNotifier struct {
	status int
	body   string
	err    error
}

func (n *fakeNotifier) NotifyTest(ctx context.Context) (int, string, error) {
	return n.status, n.body, n.err
}

func TestCreateItem_RunsInitialCheckOnFirstCreation(t *testing.T) {
	store := newFakeStore()
	runner := &fakeCheckRunner{result: models.CheckResult{Status: models.RunSuccess}}
	server := NewServer(store, runner, &fakeNotifier{})

	body := strings.NewReader(`{"url":"https://shop.example.com/p/widget"}`)
	req := httptest.NewRequest(http.MethodPost, "/items", body)
	rec := httptest.NewRecorder()

	server.ItemsHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var resp createItemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Created {
		t.Error("Created = false, want true")
	}
	if resp.InitialCheck == nil || resp.InitialCheck.Status != models.RunSuccess {
		t.Errorf("InitialCheck = %+v, want a successful result", resp.InitialCheck)
	}
}

func TestCreateItem_SecondCallIsIdempotentAndSkipsCheck(t *testing.T) {
	store := newFakeStore()
	runner := &fakeCheckRunner{result: models.CheckResult{Status: models.RunSuccess}}
	server := NewServer(store, runner, &fakeNotifier{})

	body1 := strings.NewReader(`{"url":"https://shop.example.com/p/widget?utm_source=x"}`)
	req1 := httptest.NewRequest(http.MethodPost, "/items", body1)
	rec1 := httptest.NewRecorder()
	server.ItemsHandler(rec1, req1)

	body2 := strings.NewReader(`{"url":"https://shop.example.com/p/widget"}`)
	req2 := httptest.NewRequest(http.MethodPost, "/items", body2)
	rec2 := httptest.NewRecorder()
	server.ItemsHandler(rec2, req2)

	var resp2 createItemResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp2.Created {
		t.Error("Created = true on second identical URL, want false (idempotent)")
	}
	if resp2.InitialCheck != nil {
		t.Error("InitialCheck set on idempotent create, want nil")
	}
}

func TestCreateItem_MissingURLIsBadRequest(t *testing.T) {
	store := newFakeStore()
	server := NewServer(store, &fakeCheckRunner{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.ItemsHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	store := newFakeStore()
	server := NewServer(store, &fakeCheckRunner{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodGet, "/items/missing", nil)
	rec := httptest.NewRecorder()
	server.ItemsHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteItem_Deactivates(t *testing.T) {
	store := newFakeStore()
	store.items["item-1"] = models.TrackedItem{ID: "item-1", Active: true}
	server := NewServer(store, &fakeCheckRunner{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodDelete, "/items/item-1", nil)
	rec := httptest.NewRecorder()
	server.ItemsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.items["item-1"].Active {
		t.Error("item still active after delete")
	}
}

func TestCheckItem_DispatchesToRunner(t *testing.T) {
	store := newFakeStore()
	store.items["item-1"] = models.TrackedItem{ID: "item-1"}
	runner := &fakeCheckRunner{result: models.CheckResult{Status: models.RunNeedsReview, ErrorCode: models.ErrCodeLowConfidence}}
	server := NewServer(store, runner, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodPost, "/items/item-1/check", nil)
	rec := httptest.NewRecorder()
	server.ItemsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result models.CheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != models.RunNeedsReview {
		t.Errorf("Status = %v, want NEEDS_REVIEW", result.Status)
	}
}

func TestHealthzHandler(t *testing.T) {
	store := newFakeStore()
	server := NewServer(store, &fakeCheckRunner{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.HealthzHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHealthzHandler_PingFailureIs500(t *testing.T) {
	store := newFakeStore()
	store.pingErr = context.DeadlineExceeded
	server := NewServer(store, &fakeCheckRunner{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.HealthzHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestDiscordTestHandler(t *testing.T) {
	server := NewServer(newFakeStore(), &fakeCheckRunner{}, &fakeNotifier{status: 200, body: "ok"})

	req := httptest.NewRequest(http.MethodPost, "/discord/test", nil)
	rec := httptest.NewRecorder()
	server.DiscordTestHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
