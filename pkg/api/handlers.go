package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"pricewatch/pkg/models"
	"pricewatch/pkg/urlnorm"
)

// Store is the narrow persistence surface the HTTP handlers depend on.
type Store interface {
	CreateItem(ctx context.Context, rawURL, canonicalURL, siteHost string) (id string, created bool, err error)
	GetItem(ctx context.Context, id string) (models.TrackedItem, error)
	ListAllItems(ctx context.Context) ([]models.TrackedItem, error)
	DeactivateItem(ctx context.Context, id string) error
	LatestSnapshot(ctx context.Context, itemID string) (models.PriceSnapshot, bool, error)
	ListSnapshots(ctx context.Context, itemID string, limit int) ([]models.PriceSnapshot, error)
	ListCheckRuns(ctx context.Context, itemID string, limit int) ([]models.CheckRun, error)
	ListNotifications(ctx context.Context, itemID string, limit int) ([]models.Notification, error)
	Ping(ctx context.Context) error
}

// CheckRunner is the narrow surface the single-item synchronous check
// endpoint depends on.
type CheckRunner interface {
	RunCheckForItem(ctx context.Context, itemID string) models.CheckResult
}

// Notifier is the narrow surface /discord/test depends on.
type Notifier interface {
	NotifyTest(ctx context.Context) (int, string, error)
}

// Server holds the dependencies for the /items* HTTP surface, mirroring
// the teacher's package-level-handler-plus-injected-dependency shape
// (main.go's productCache) but gathered behind a struct instead of
// package globals.
type Server struct {
	Store       Store
	CheckRunner CheckRunner
	Notifier    Notifier
	// ItemSemaphore bounds concurrent synchronous /items/:id/check
	// requests, generalizing main.go's scraperSemaphore.
	ItemSemaphore chan struct{}
}

// NewServer builds a Server with a semaphore of the teacher's width (3).
func NewServer(store Store, runner CheckRunner, notif Notifier) *Server {
	return &Server{Store: store, CheckRunner: runner, Notifier: notif, ItemSemaphore: make(chan struct{}, 3)}
}

// ItemsHandler dispatches every /items... request, mirroring main.go's
// rootHandler prefix-check-then-delegate idiom.
func (s *Server) ItemsHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/items")
	path = strings.Trim(path, "/")

	switch {
	case path == "" && r.Method == http.MethodPost:
		s.createItem(w, r)
	case path == "" && r.Method == http.MethodGet:
		s.listItems(w, r)
	default:
		s.dispatchItemSubpath(w, r, path)
	}
}

func (s *Server) dispatchItemSubpath(w http.ResponseWriter, r *http.Request, path string) {
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		WriteBadRequest(w, "missing item id", r.URL.Path)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getItem(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.deleteItem(w, r, id)
	case len(parts) == 2 && parts[1] == "check" && r.Method == http.MethodPost:
		s.checkItem(w, r, id)
	default:
		WriteBadRequest(w, "unsupported /items route: "+r.URL.Path, r.URL.Path)
	}
}

type createItemRequest struct {
	URL      string `json:"url"`
	Currency string `json:"currency,omitempty"`
}

type createItemResponse struct {
	ItemID      string              `json:"itemId"`
	Created     bool                `json:"created"`
	InitialCheck *models.CheckResult `json:"initialCheck,omitempty"`
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var body createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	defer r.Body.Close()

	if strings.TrimSpace(body.URL) == "" {
		WriteBadRequest(w, "url is required", r.URL.Path)
		return
	}

	canonical, err := urlnorm.Normalize(body.URL)
	if err != nil {
		WriteBadRequest(w, "invalid url: "+err.Error(), r.URL.Path)
		return
	}
	host, err := urlnorm.Host(body.URL)
	if err != nil {
		WriteBadRequest(w, "invalid url: "+err.Error(), r.URL.Path)
		return
	}

	itemID, created, err := s.Store.CreateItem(r.Context(), body.URL, canonical, host)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	resp := createItemResponse{ItemID: itemID, Created: created}
	if created {
		s.ItemSemaphore <- struct{}{}
		result := s.CheckRunner.RunCheckForItem(r.Context(), itemID)
		<-s.ItemSemaphore
		resp.InitialCheck = &result
	}

	writeJSON(w, http.StatusCreated, resp)
}

type itemSummary struct {
	models.TrackedItem
	LatestSnapshot  *models.PriceSnapshot `json:"latestSnapshot,omitempty"`
	LatestCheckRun  *models.CheckRun      `json:"latestCheckRun,omitempty"`
	LastPriceChange *models.PriceSnapshot `json:"lastPriceChange,omitempty"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListAllItems(r.Context())
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	summaries := make([]itemSummary, 0, len(items))
	for _, item := range items {
		summary := itemSummary{TrackedItem: item}

		if snap, ok, err := s.Store.LatestSnapshot(r.Context(), item.ID); err == nil && ok {
			summary.LatestSnapshot = &snap
		}
		if runs, err := s.Store.ListCheckRuns(r.Context(), item.ID, 1); err == nil && len(runs) > 0 {
			summary.LatestCheckRun = &runs[0]
		}
		if snaps, err := s.Store.ListSnapshots(r.Context(), item.ID, 2); err == nil && len(snaps) == 2 {
			if snaps[0].PriceCents == nil || snaps[1].PriceCents == nil || *snaps[0].PriceCents != *snaps[1].PriceCents {
				latest := snaps[0]
				summary.LastPriceChange = &latest
			}
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

type itemDetail struct {
	models.TrackedItem
	Snapshots     []models.PriceSnapshot  `json:"snapshots"`
	CheckRuns     []models.CheckRun       `json:"checkRuns"`
	Notifications []models.Notification  `json:"notifications"`
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Store.GetItem(r.Context(), id)
	if err == models.ErrItemNotFound {
		WriteNotFound(w, "item not found", r.URL.Path)
		return
	}
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	snapshots, err := s.Store.ListSnapshots(r.Context(), id, 30)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	runs, err := s.Store.ListCheckRuns(r.Context(), id, 30)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	notifications, err := s.Store.ListNotifications(r.Context(), id, 30)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	writeJSON(w, http.StatusOK, itemDetail{
		TrackedItem: item, Snapshots: snapshots, CheckRuns: runs, Notifications: notifications,
	})
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request, id string) {
	err := s.Store.DeactivateItem(r.Context(), id)
	if err == models.ErrItemNotFound {
		WriteNotFound(w, "item not found", r.URL.Path)
		return
	}
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) checkItem(w http.ResponseWriter, r *http.Request, id string) {
	s.ItemSemaphore <- struct{}{}
	defer func() { <-s.ItemSemaphore }()

	result := s.CheckRunner.RunCheckForItem(r.Context(), id)
	writeJSON(w, http.StatusOK, result)
}

// DiscordTestHandler handles POST /discord/test.
func (s *Server) DiscordTestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteBadRequest(w, "method not allowed, use POST", r.URL.Path)
		return
	}
	status, body, err := s.Notifier.NotifyTest(r.Context())
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "body": body})
}

// HealthzHandler handles GET /healthz.
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, "Unhealthy", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}
