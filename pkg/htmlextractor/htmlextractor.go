// Package htmlextractor implements the static-HTML layer of the
// extraction cascade: candidate voting over price/name evidence plus an
// independent stock-signal arbitration pass, per spec §4.3.
//
// It replaces the teacher's per-retailer colly callbacks (billa.go,
// lidl.go each scrape one fixed selector set) with a single
// goquery-driven scan over an arbitrary page's JSON-LD, embedded
// scripts, meta tags, DOM selectors and body text.
package htmlextractor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/pkg/extract"
	"pricewatch/pkg/models"
)

// Extract resolves raw HTML (fetched from sourceURL) to an extract.Result.
// It never returns an error for malformed markup — goquery tolerates
// broken HTML, and any empty/low-signal page simply yields a
// low-confidence or UNKNOWN result, left for ExtractionPipeline's final
// gate to judge.
func Extract(html, sourceURL string) (extract.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return extract.Result{}, err
	}

	candidates := gatherCandidates(doc)
	name, priceCents, bestScore, evidenceCandidates := foldCandidates(candidates)
	name = NormalizeProductName(name)

	stock := detectStock(doc)
	variants := extractVariants(doc)

	finalState, variantState := mergeStockState(stock.state, variants)

	confidence := bestScore
	if finalState != models.StockUnknown {
		floor := 0.75
		if finalState == models.StockPartial {
			floor = 0.80
		}
		if floor > confidence {
			confidence = floor
		}
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	result := extract.Result{
		ProductName:  name,
		PriceCents:   priceCents,
		StockState:   finalState,
		VariantStock: variants,
		Confidence:   confidence,
		Method:       models.MethodStatic,
		ContentHash:  contentHash(html),
	}
	result.InStock = projectInStock(finalState)

	result.Evidence = extract.Evidence{
		URL:          sourceURL,
		Title:        doc.Find("title").First().Text(),
		Meta:         gatherMetaEvidence(doc),
		Candidates:   evidenceCandidates,
		StockSignals: stock.signals,
		InScore:      stock.inScore,
		OutScore:     stock.outScore,
		EmbeddedIn:   stock.embeddedIn,
		EmbeddedOut:  stock.embeddedOut,
		CTAEnabled:   stock.ctaEnabled,
		CTADisabled:  stock.ctaDisabled,
		ExplicitIn:   stock.explicitIn,
		ExplicitOut:  stock.explicitOut,
	}
	_ = variantState // retained for callers that want the pre-merge signal

	return result, nil
}

func contentHash(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}

// projectInStock implements the IN_STOCK/PARTIAL/OUT_OF_STOCK/UNKNOWN ->
// bool|null projection from spec §4.3.
func projectInStock(state models.StockState) *bool {
	switch state {
	case models.StockInStock, models.StockPartial:
		v := true
		return &v
	case models.StockOutOfStock:
		v := false
		return &v
	default:
		return nil
	}
}

// mergeStockState implements the final-merge rule from spec §4.3: variant
// signals can promote a page to PARTIAL, fill in an UNKNOWN page state,
// or otherwise defer to the page-level precedence result.
func mergeStockState(pageState models.StockState, variants []models.VariantStock) (models.StockState, models.StockState) {
	variantState := aggregateVariantState(variants)

	switch {
	case variantState == models.StockPartial:
		return models.StockPartial, variantState
	case variantState == pageState:
		return pageState, variantState
	case pageState == models.StockUnknown:
		return variantState, variantState
	default:
		return pageState, variantState
	}
}

func aggregateVariantState(variants []models.VariantStock) models.StockState {
	anyIn, anyOut := false, false
	for _, v := range variants {
		switch v.State {
		case models.StockInStock:
			anyIn = true
		case models.StockOutOfStock:
			anyOut = true
		}
	}
	switch {
	case anyIn && anyOut:
		return models.StockPartial
	case anyIn:
		return models.StockInStock
	case anyOut:
		return models.StockOutOfStock
	default:
		return models.StockUnknown
	}
}
