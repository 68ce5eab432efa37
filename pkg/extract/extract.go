// Package extract holds the candidate/result types shared by every layer
// of the extraction cascade: HtmlExtractor, the site adapters,
// RenderedFetcher's consumer and AiExtractor all produce or consume a
// Result.
package extract

import "pricewatch/pkg/models"

// Candidate is a single piece of evidence contributed by one extraction
// source (a JSON-LD block, a meta tag, a DOM selector match, a body-text
// regex hit, ...). Final extraction is a pure fold over the candidate
// pool — see Design Notes §9 "candidate voting as a tagged variant".
type Candidate struct {
	Source     string
	Name       string
	PriceCents *int64
	Score      float64
	Evidence   string
}

// Result is the trusted tuple a cascade layer resolves a URL to.
type Result struct {
	ProductName      string
	PriceCents       *int64
	InStock          *bool
	StockState       models.StockState
	VariantStock     []models.VariantStock
	Confidence       float64
	Method           models.ExtractionMethod
	Evidence         Evidence
	ContentHash      string
}

// Evidence is the compact, auditable trace behind a Result. It is
// marshaled to JSON for PriceSnapshot.EvidenceJson and also feeds
// AiExtractor's compact evidence block.
type Evidence struct {
	URL             string   `json:"url,omitempty"`
	Title           string   `json:"title,omitempty"`
	Meta            []string `json:"meta,omitempty"`
	Candidates      []string `json:"candidates,omitempty"`
	StockSignals    []string `json:"stockSignals,omitempty"`
	InScore         float64  `json:"inScore,omitempty"`
	OutScore        float64  `json:"outScore,omitempty"`
	EmbeddedIn      int      `json:"embeddedIn,omitempty"`
	EmbeddedOut     int      `json:"embeddedOut,omitempty"`
	CTAEnabled      int      `json:"ctaEnabled,omitempty"`
	CTADisabled     int      `json:"ctaDisabled,omitempty"`
	ExplicitIn      bool     `json:"explicitIn,omitempty"`
	ExplicitOut     bool     `json:"explicitOut,omitempty"`
}

// HasEmbeddedOutOnly reports whether the evidence shows embedded-JSON
// out-of-stock signals with no countervailing embedded in-stock signal —
// the shape the AI-fallback gate (spec §4.5) checks to skip AI spend on
// an already-confident out-of-stock result.
func (e Evidence) HasEmbeddedOutOnly() bool {
	return e.EmbeddedOut > 0 && e.EmbeddedIn == 0
}

// Status is the outcome of one ExtractionPipeline attempt.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNeedsReview Status = "needs_review"
)

// Attempt is what ExtractionPipeline.Run returns.
type Attempt struct {
	Status           Status
	Result           *Result
	Reason           string
	UsedPlaywright   bool
	UsedAI           bool
	TokenInput       int
	TokenOutput      int
	EstimatedCostUSD float64
}
