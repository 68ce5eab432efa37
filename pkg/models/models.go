// Package models holds the persisted entities shared across the
// extraction pipeline, the check-run state machine and the HTTP surface.
package models

import (
	"errors"
	"time"
)

// ErrItemNotFound is returned when a TrackedItem lookup misses.
var ErrItemNotFound = errors.New("item not found")

// StockState is the tri-state (plus partial/unknown) availability of a
// tracked product at the time of a snapshot.
type StockState string

const (
	StockInStock    StockState = "IN_STOCK"
	StockOutOfStock StockState = "OUT_OF_STOCK"
	StockPartial    StockState = "PARTIAL"
	StockUnknown    StockState = "UNKNOWN"
)

// ExtractionMethod identifies which layer of the cascade produced a
// snapshot.
type ExtractionMethod string

const (
	MethodShopifyJSON ExtractionMethod = "shopify_json"
	MethodBestBuyAPI  ExtractionMethod = "bestbuy_api"
	MethodStatic      ExtractionMethod = "static"
	MethodPlaywright  ExtractionMethod = "playwright"
	MethodAI          ExtractionMethod = "ai"
)

// CheckRunStatus is the lifecycle state of a CheckRun row.
type CheckRunStatus string

const (
	RunFailed      CheckRunStatus = "FAILED"
	RunSuccess     CheckRunStatus = "SUCCESS"
	RunNeedsReview CheckRunStatus = "NEEDS_REVIEW"
)

// NotificationEventType enumerates the events the Notifier can emit.
type NotificationEventType string

const (
	EventPriceChanged NotificationEventType = "PRICE_CHANGED"
	EventBackInStock  NotificationEventType = "BACK_IN_STOCK"
)

// Error codes from spec §7. The first four map to NEEDS_REVIEW, the rest
// to FAILED.
const (
	ErrCodeRedirectBlocked        = "URL_REDIRECT_BLOCKED"
	ErrCodeRegionalRedirect       = "REGIONAL_REDIRECT_MISMATCH"
	ErrCodeAIBudgetOrDisabled     = "AI_BUDGET_EXCEEDED_OR_DISABLED"
	ErrCodeLowConfidence          = "LOW_CONFIDENCE_EXTRACTION"
	ErrCodeCheckRunFailed         = "CHECK_RUN_FAILED"
	ErrCodeUnknownExtractionError = "UNKNOWN_EXTRACTION_ERROR"
)

// needsReviewReasons is the set of reason codes that promote a failed
// extraction attempt to NEEDS_REVIEW instead of FAILED.
var needsReviewReasons = map[string]bool{
	ErrCodeAIBudgetOrDisabled: true,
	ErrCodeLowConfidence:      true,
	ErrCodeRegionalRedirect:   true,
	ErrCodeRedirectBlocked:    true,
}

// IsNeedsReview reports whether the given reason code (as returned by the
// ExtractionPipeline) should be recorded as NEEDS_REVIEW rather than
// FAILED. Spec §4.8 step 6 describes this as "reason contains any of
// AI_BUDGET|LOW_CONFIDENCE|REGIONAL_REDIRECT|REDIRECT_BLOCKED".
func IsNeedsReview(reason string) bool {
	return needsReviewReasons[reason]
}

// TrackedItem is a unique tracking subscription, keyed by CanonicalURL.
type TrackedItem struct {
	ID           string
	URL          string
	CanonicalURL string
	SiteHost     string
	Active       bool
	CreatedAt    time.Time
}

// VariantStock is a single purchasable option's availability, as
// extracted from JSON-LD offers, a site adapter's variant list, or DOM
// selectors.
type VariantStock struct {
	Label   string     `json:"label"`
	InStock bool       `json:"inStock"`
	State   StockState `json:"state"`
}

// PriceSnapshot is an immutable record of one successful extraction.
type PriceSnapshot struct {
	ID               string
	ItemID           string
	CheckedAt        time.Time
	ProductName      string
	PriceCents       *int64
	InStock          *bool
	StockState       StockState
	ExtractionMethod ExtractionMethod
	Confidence       float64
	EvidenceJSON     string
	ContentHash      string
	VariantStock     []VariantStock
}

// CheckRun is one row per check attempt, created pessimistically as
// FAILED and promoted on finalization.
type CheckRun struct {
	ID               string
	ItemID           string
	StartedAt        time.Time
	FinishedAt       *time.Time
	Status           CheckRunStatus
	ErrorCode        string
	ErrorMessage     string
	UsedPlaywright   bool
	UsedAI           bool
	TokenInput       int
	TokenOutput      int
	EstimatedCostUSD float64
}

// Notification is one row per (ItemID, SnapshotID, EventType); the
// composite key enforces at-most-once emission.
type Notification struct {
	ItemID          string
	SnapshotID      string
	EventType       NotificationEventType
	WebhookStatus   int
	WebhookResponse string
	SentAt          *time.Time
}

// CheckResult is the return value of CheckRunner.RunCheckForItem.
type CheckResult struct {
	Status       CheckRunStatus
	CheckRunID   string
	SnapshotID   string
	ErrorCode    string
	ErrorMessage string
	Changed      bool
	BackInStock  bool
}
