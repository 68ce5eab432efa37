package htmlextractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/pkg/models"
)

var reRejectedLabel = regexp.MustCompile(`(?i)^(select|size|default title)$`)
var reHasAlnum = regexp.MustCompile(`[a-zA-Z0-9]`)
var reStripAvailabilityTokens = regexp.MustCompile(`(?i)\s*[-(]?\s*(in stock|out of stock|sold out|unavailable|available)\s*[)]?\s*`)

func sanitizeLabel(raw string) (string, bool) {
	label := strings.TrimSpace(raw)
	label = reStripAvailabilityTokens.ReplaceAllString(label, "")
	label = strings.TrimSpace(label)

	if reRejectedLabel.MatchString(label) {
		return "", false
	}
	if len(label) < 1 || len(label) > 64 {
		return "", false
	}
	if !reHasAlnum.MatchString(label) {
		return "", false
	}
	return label, true
}

func classifyVariantText(text string) models.StockState {
	lower := strings.ToLower(text)
	for _, p := range outPatterns {
		if p.re.MatchString(lower) {
			return models.StockOutOfStock
		}
	}
	for _, p := range inPatterns {
		if p.re.MatchString(lower) {
			return models.StockInStock
		}
	}
	return models.StockUnknown
}

func toVariantStock(state models.StockState) models.VariantStock {
	return models.VariantStock{InStock: state == models.StockInStock, State: state}
}

// extractVariants collects per-variant availability from JSON-LD offers
// and DOM elements matching variant selectors, sanitizing labels and
// deduplicating by (lowerLabel, stockValue), capped at 8, per spec §4.3.
func extractVariants(doc *goquery.Document) []models.VariantStock {
	var out []models.VariantStock
	seen := map[string]bool{}

	add := func(label string, state models.StockState) {
		clean, ok := sanitizeLabel(label)
		if !ok {
			return
		}
		key := strings.ToLower(clean) + "|" + string(state)
		if seen[key] || len(out) >= 8 {
			return
		}
		seen[key] = true
		v := toVariantStock(state)
		v.Label = clean
		out = append(out, v)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if len(out) >= 8 {
			return
		}
		extractJSONLDVariants(s.Text(), add)
	})

	selectors := []string{
		"select option",
		"[data-size]", "[data-model]", "[data-variant]", "[data-option]",
		"[class*=variant]", "[class*=swatch]", "[class*=size]", "[class*=model]",
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if len(out) >= 8 {
				return
			}
			label := strings.TrimSpace(s.Text())
			if label == "" {
				if v, ok := s.Attr("value"); ok {
					label = v
				}
			}
			var state models.StockState
			if isDisabled(s) {
				state = models.StockOutOfStock
			} else {
				state = classifyVariantText(label + " " + elementAttrText(s))
			}
			add(label, state)
		})
	}

	return out
}

func elementAttrText(s *goquery.Selection) string {
	var b strings.Builder
	for _, attr := range []string{"title", "aria-label", "data-status"} {
		if v, ok := s.Attr(attr); ok {
			b.WriteString(v)
			b.WriteString(" ")
		}
	}
	return b.String()
}

// jsonLDOfferForVariants is a loose superset of jsonLDOffer that also
// captures a per-offer name/sku so each offer in an array can become a
// variant.
type jsonLDOfferForVariants struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Availability string `json:"availability"`
}

func extractJSONLDVariants(raw string, add func(label string, state models.StockState)) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	var root map[string]interface{}
	if err := unmarshalLoose(raw, &root); err != nil {
		return
	}
	offersRaw, ok := root["offers"]
	if !ok {
		return
	}
	offers, ok := offersRaw.([]interface{})
	if !ok {
		return
	}
	for _, o := range offers {
		m, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		sku, _ := m["sku"].(string)
		label := name
		if label == "" {
			label = sku
		}
		if label == "" {
			continue
		}
		avail, _ := m["availability"].(string)
		state := models.StockUnknown
		lower := strings.ToLower(avail)
		switch {
		case strings.Contains(lower, "instock"):
			state = models.StockInStock
		case strings.Contains(lower, "outofstock") || strings.Contains(lower, "soldout"):
			state = models.StockOutOfStock
		}
		add(label, state)
	}
}
