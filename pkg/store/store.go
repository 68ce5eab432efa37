// Package store is the relational system of record for tracked items,
// price snapshots, check runs and notifications: sql.Open("sqlite",
// path), CREATE TABLE IF NOT EXISTS migrations, raw database/sql
// queries — no ORM or query builder.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"pricewatch/pkg/models"
)

// Store wraps the single SQLite connection backing the whole system.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// the schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	canonical_url TEXT NOT NULL UNIQUE,
	site_host TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL REFERENCES items(id),
	checked_at DATETIME NOT NULL,
	product_name TEXT NOT NULL,
	price_cents INTEGER,
	in_stock INTEGER,
	stock_state TEXT NOT NULL,
	extraction_method TEXT NOT NULL,
	confidence REAL NOT NULL,
	evidence_json TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	variant_stock_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_snapshots_item_checked ON snapshots(item_id, checked_at DESC);

CREATE TABLE IF NOT EXISTS check_runs (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL REFERENCES items(id),
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	status TEXT NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	used_playwright INTEGER NOT NULL DEFAULT 0,
	used_ai INTEGER NOT NULL DEFAULT 0,
	token_input INTEGER NOT NULL DEFAULT 0,
	token_output INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_check_runs_item ON check_runs(item_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_runs_started ON check_runs(started_at);

CREATE TABLE IF NOT EXISTS notifications (
	item_id TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	webhook_status INTEGER NOT NULL DEFAULT 0,
	webhook_response TEXT NOT NULL DEFAULT '',
	sent_at DATETIME,
	UNIQUE(item_id, snapshot_id, event_type)
);
`

// CreateItem inserts a new TrackedItem, or returns the existing row's ID
// (created=false) when canonicalURL already exists — spec §8's "adding an
// item twice yields the same itemId" idempotence rule. The existing row
// is matched whether it is active or retired, and a retired row is not
// reactivated.
func (s *Store) CreateItem(ctx context.Context, rawURL, canonicalURL, siteHost string) (id string, created bool, err error) {
	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE canonical_url = ?`, canonicalURL).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (id, url, canonical_url, site_host, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		id, rawURL, canonicalURL, siteHost, time.Now().UTC(),
	)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// GetItem loads one item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (models.TrackedItem, error) {
	var item models.TrackedItem
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, canonical_url, site_host, active, created_at FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.URL, &item.CanonicalURL, &item.SiteHost, &active, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return models.TrackedItem{}, models.ErrItemNotFound
	}
	if err != nil {
		return models.TrackedItem{}, err
	}
	item.Active = active != 0
	return item, nil
}

// ListActiveItems returns up to limit active items ordered by
// createdAt ascending, for DailySweep (spec §4.9).
func (s *Store) ListActiveItems(ctx context.Context, limit int) ([]models.TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, canonical_url, site_host, active, created_at FROM items WHERE active = 1 ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.TrackedItem
	for rows.Next() {
		var item models.TrackedItem
		var active int
		if err := rows.Scan(&item.ID, &item.URL, &item.CanonicalURL, &item.SiteHost, &active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Active = active != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListAllItems returns every item (active or retired), most recent
// first, for the GET /items listing surface.
func (s *Store) ListAllItems(ctx context.Context) ([]models.TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, canonical_url, site_host, active, created_at FROM items ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.TrackedItem
	for rows.Next() {
		var item models.TrackedItem
		var active int
		if err := rows.Scan(&item.ID, &item.URL, &item.CanonicalURL, &item.SiteHost, &active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Active = active != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeactivateItem soft-deletes an item; rows are never removed (spec §3).
func (s *Store) DeactivateItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrItemNotFound
	}
	return nil
}

// CreateCheckRun inserts the pessimistic FAILED sentinel row (spec §4.8
// step 2).
func (s *Store) CreateCheckRun(ctx context.Context, itemID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_runs (id, item_id, started_at, status) VALUES (?, ?, ?, ?)`,
		id, itemID, time.Now().UTC(), models.RunFailed,
	)
	return id, err
}

// FinishCheckRun finalizes a CheckRun row.
func (s *Store) FinishCheckRun(ctx context.Context, run models.CheckRun) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE check_runs SET finished_at = ?, status = ?, error_code = ?, error_message = ?,
		 used_playwright = ?, used_ai = ?, token_input = ?, token_output = ?, estimated_cost_usd = ?
		 WHERE id = ?`,
		time.Now().UTC(), run.Status, run.ErrorCode, run.ErrorMessage,
		boolToInt(run.UsedPlaywright), boolToInt(run.UsedAI), run.TokenInput, run.TokenOutput, run.EstimatedCostUSD,
		run.ID,
	)
	return err
}

// RemainingAIBudget computes spec §4.8 step 3: dailyBudgetUsd minus the
// sum of today's AI-using CheckRun costs, floored at 0. This is a
// read-time aggregate query, not an in-memory counter (spec §9).
func (s *Store) RemainingAIBudget(ctx context.Context, dailyBudgetUSD float64) (float64, error) {
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)

	var spent sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(estimated_cost_usd) FROM check_runs WHERE started_at >= ? AND used_ai = 1`,
		todayStart,
	).Scan(&spent)
	if err != nil {
		return 0, err
	}

	remaining := dailyBudgetUSD - spent.Float64
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CreateSnapshot inserts an immutable PriceSnapshot row.
func (s *Store) CreateSnapshot(ctx context.Context, snap models.PriceSnapshot) (string, error) {
	id := uuid.NewString()
	variantJSON, err := json.Marshal(snap.VariantStock)
	if err != nil {
		return "", err
	}

	var inStock sql.NullBool
	if snap.InStock != nil {
		inStock = sql.NullBool{Bool: *snap.InStock, Valid: true}
	}
	var priceCents sql.NullInt64
	if snap.PriceCents != nil {
		priceCents = sql.NullInt64{Int64: *snap.PriceCents, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, item_id, checked_at, product_name, price_cents, in_stock, stock_state,
		 extraction_method, confidence, evidence_json, content_hash, variant_stock_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snap.ItemID, time.Now().UTC(), snap.ProductName, priceCents, inStock, snap.StockState,
		snap.ExtractionMethod, snap.Confidence, snap.EvidenceJSON, snap.ContentHash, string(variantJSON),
	)
	return id, err
}

// LatestSnapshot returns the most recent snapshot for an item, or
// (zero-value, false) if none exists yet.
func (s *Store) LatestSnapshot(ctx context.Context, itemID string) (models.PriceSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, checked_at, product_name, price_cents, in_stock, stock_state,
		 extraction_method, confidence, evidence_json, content_hash, variant_stock_json
		 FROM snapshots WHERE item_id = ? ORDER BY checked_at DESC LIMIT 1`,
		itemID,
	)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return models.PriceSnapshot{}, false, nil
	}
	if err != nil {
		return models.PriceSnapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns up to limit snapshots for an item, most recent
// first, for the item-detail HTTP endpoint.
func (s *Store) ListSnapshots(ctx context.Context, itemID string, limit int) ([]models.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, checked_at, product_name, price_cents, in_stock, stock_state,
		 extraction_method, confidence, evidence_json, content_hash, variant_stock_json
		 FROM snapshots WHERE item_id = ? ORDER BY checked_at DESC LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PriceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ListCheckRuns returns up to limit check runs for an item, most recent
// first.
func (s *Store) ListCheckRuns(ctx context.Context, itemID string, limit int) ([]models.CheckRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, started_at, finished_at, status, error_code, error_message,
		 used_playwright, used_ai, token_input, token_output, estimated_cost_usd
		 FROM check_runs WHERE item_id = ? ORDER BY started_at DESC LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CheckRun
	for rows.Next() {
		var run models.CheckRun
		var finishedAt sql.NullTime
		var usedPlaywright, usedAI int
		if err := rows.Scan(&run.ID, &run.ItemID, &run.StartedAt, &finishedAt, &run.Status, &run.ErrorCode,
			&run.ErrorMessage, &usedPlaywright, &usedAI, &run.TokenInput, &run.TokenOutput, &run.EstimatedCostUSD); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		run.UsedPlaywright = usedPlaywright != 0
		run.UsedAI = usedAI != 0
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListNotifications returns up to limit notification rows for an item,
// most recent claim first.
func (s *Store) ListNotifications(ctx context.Context, itemID string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, snapshot_id, event_type, webhook_status, webhook_response, sent_at
		 FROM notifications WHERE item_id = ? ORDER BY rowid DESC LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ItemID, &n.SnapshotID, &n.EventType, &n.WebhookStatus, &n.WebhookResponse, &sentAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RecentSnapshotsForHost collects up to limit prior snapshots from other
// active items on siteHost, for AiExtractor's hints (spec §4.8 step 4).
func (s *Store) RecentSnapshotsForHost(ctx context.Context, siteHost, excludeItemID string, limit int) ([]models.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.item_id, s.checked_at, s.product_name, s.price_cents, s.in_stock, s.stock_state,
		 s.extraction_method, s.confidence, s.evidence_json, s.content_hash, s.variant_stock_json
		 FROM snapshots s
		 JOIN items i ON i.id = s.item_id
		 WHERE i.site_host = ? AND i.active = 1 AND i.id != ?
		 ORDER BY s.checked_at DESC LIMIT ?`,
		siteHost, excludeItemID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PriceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row vs *sql.Rows so scanSnapshot serves both.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	var priceCents sql.NullInt64
	var inStock sql.NullBool
	var variantJSON string

	err := row.Scan(&snap.ID, &snap.ItemID, &snap.CheckedAt, &snap.ProductName, &priceCents, &inStock,
		&snap.StockState, &snap.ExtractionMethod, &snap.Confidence, &snap.EvidenceJSON, &snap.ContentHash, &variantJSON)
	if err != nil {
		return models.PriceSnapshot{}, err
	}
	if priceCents.Valid {
		v := priceCents.Int64
		snap.PriceCents = &v
	}
	if inStock.Valid {
		v := inStock.Bool
		snap.InStock = &v
	}
	if variantJSON != "" {
		_ = json.Unmarshal([]byte(variantJSON), &snap.VariantStock)
	}
	return snap, nil
}

// ClaimNotification inserts the claim row for (itemID, snapshotID,
// eventType). It returns claimed=false (no error) when the unique
// constraint already holds the row — the "claim then send" primitive
// from spec §4.10/§9.
func (s *Store) ClaimNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType) (claimed bool, err error) {
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (item_id, snapshot_id, event_type) VALUES (?, ?, ?)`,
		itemID, snapshotID, eventType,
	)
	if err == nil {
		return true, nil
	}
	if isUniqueConstraintErr(err) {
		return false, nil
	}
	return false, err
}

// FinalizeNotification records the webhook delivery outcome after a
// successful claim.
func (s *Store) FinalizeNotification(ctx context.Context, itemID, snapshotID string, eventType models.NotificationEventType, status int, responseBody string) error {
	if len(responseBody) > 1000 {
		responseBody = responseBody[:1000]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET webhook_status = ?, webhook_response = ?, sent_at = ?
		 WHERE item_id = ? AND snapshot_id = ? AND event_type = ?`,
		status, responseBody, time.Now().UTC(), itemID, snapshotID, eventType,
	)
	return err
}

// isUniqueConstraintErr detects modernc.org/sqlite's unique-constraint
// error text; there is no typed sentinel exported for it.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ping verifies the database connection is reachable, for GET /healthz.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
