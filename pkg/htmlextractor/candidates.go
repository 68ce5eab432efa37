package htmlextractor

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/pkg/extract"
	"pricewatch/pkg/priceparser"
)

const (
	weightJSONLDWithPrice  = 0.95
	weightJSONLDAvailOnly  = 0.88
	weightEmbeddedSKU      = 0.92
	weightEmbeddedDefault  = 0.86
	weightMeta             = 0.82
	weightDOMSelector      = 0.72
	weightBodyRegex        = 0.60
)

type jsonLDOffer struct {
	Type          string          `json:"@type"`
	Price         json.RawMessage `json:"price"`
	PriceCurrency string          `json:"priceCurrency"`
	Availability  string          `json:"availability"`
}

type jsonLDProduct struct {
	Type   json.RawMessage `json:"@type"`
	Name   string          `json:"name"`
	Offers json.RawMessage `json:"offers"`
}

// typeIncludesProduct handles "@type" being either a bare string or an
// array of strings (both are legal JSON-LD).
func typeIncludesProduct(raw json.RawMessage) bool {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.EqualFold(asString, "Product")
	}
	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		for _, t := range asArray {
			if strings.EqualFold(t, "Product") {
				return true
			}
		}
	}
	return false
}

func offerPrice(raw json.RawMessage) (*int64, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if r, ok := priceparser.Parse(asString); ok {
			return &r.PriceCents, true
		}
		return nil, false
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if r, ok := priceparser.Parse(strconv.FormatFloat(asNumber, 'f', -1, 64)); ok {
			return &r.PriceCents, true
		}
	}
	return nil, false
}

func gatherJSONLD(doc *goquery.Document) []extract.Candidate {
	var out []extract.Candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		// A single block may hold one object or an array of objects.
		var candidatesRaw []json.RawMessage
		var single json.RawMessage
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return
		}
		trimmed := strings.TrimSpace(string(single))
		if strings.HasPrefix(trimmed, "[") {
			_ = json.Unmarshal(single, &candidatesRaw)
		} else {
			candidatesRaw = []json.RawMessage{single}
		}

		for _, item := range candidatesRaw {
			var p jsonLDProduct
			if err := json.Unmarshal(item, &p); err != nil {
				continue
			}
			if !typeIncludesProduct(p.Type) {
				continue
			}

			var offer jsonLDOffer
			hasOffer := false
			if len(p.Offers) > 0 {
				if err := json.Unmarshal(p.Offers, &offer); err == nil {
					hasOffer = true
				} else {
					var offers []jsonLDOffer
					if err := json.Unmarshal(p.Offers, &offers); err == nil && len(offers) > 0 {
						offer = offers[0]
						hasOffer = true
					}
				}
			}

			priceCents, hasPrice := (*int64)(nil), false
			if hasOffer {
				priceCents, hasPrice = offerPrice(offer.Price)
			}

			score := weightJSONLDAvailOnly
			if hasPrice {
				score = weightJSONLDWithPrice
			}
			out = append(out, extract.Candidate{
				Source:     "jsonld",
				Name:       strings.TrimSpace(p.Name),
				PriceCents: priceCents,
				Score:      score,
				Evidence:   "json-ld Product",
			})
		}
	})
	return out
}

var reEmbeddedSKU = regexp.MustCompile(`(?is)productSku[^{}]{0,200}?"?price"?\s*:\s*"?([\d.,]+)"?[^{}]{0,200}?"?isSoldOut"?\s*:\s*(true|false)`)
var reEmbeddedSKUAlt = regexp.MustCompile(`(?is)"?isSoldOut"?\s*:\s*(true|false)[^{}]{0,200}?productSku[^{}]{0,200}?"?price"?\s*:\s*"?([\d.,]+)"?`)
var reDefaultPrice = regexp.MustCompile(`(?i)defaultPrice["']?\s*:\s*"?([\d.,]+)"?`)

func gatherEmbeddedScripts(doc *goquery.Document) []extract.Candidate {
	var out []extract.Candidate
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			return
		}

		if m := reEmbeddedSKU.FindStringSubmatch(text); m != nil {
			if r, ok := priceparser.Parse(m[1]); ok {
				pc := r.PriceCents
				out = append(out, extract.Candidate{
					Source: "embedded_sku", PriceCents: &pc,
					Score: weightEmbeddedSKU, Evidence: "productSku.price+isSoldOut",
				})
			}
		} else if m := reEmbeddedSKUAlt.FindStringSubmatch(text); m != nil {
			if r, ok := priceparser.Parse(m[2]); ok {
				pc := r.PriceCents
				out = append(out, extract.Candidate{
					Source: "embedded_sku", PriceCents: &pc,
					Score: weightEmbeddedSKU, Evidence: "productSku.price+isSoldOut",
				})
			}
		}

		for _, loc := range reDefaultPrice.FindAllStringSubmatchIndex(text, -1) {
			priceStr := text[loc[2]:loc[3]]
			start := loc[0] - 240
			if start < 0 {
				start = 0
			}
			end := loc[1] + 240
			if end > len(text) {
				end = len(text)
			}
			ctx := strings.ToLower(text[start:end])
			if strings.Contains(ctx, "product") || strings.Contains(ctx, "sku") {
				if r, ok := priceparser.Parse(priceStr); ok {
					pc := r.PriceCents
					out = append(out, extract.Candidate{
						Source: "embedded_default_price", PriceCents: &pc,
						Score: weightEmbeddedDefault, Evidence: "defaultPrice",
					})
				}
			}
		}
	})
	return out
}

func gatherMeta(doc *goquery.Document) []extract.Candidate {
	var out []extract.Candidate
	selectors := []string{
		`meta[property="og:price:amount"]`,
		`meta[property="product:price:amount"]`,
		`[itemprop="price"]`,
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			val, _ := s.Attr("content")
			if val == "" {
				val, _ = s.Attr("value")
			}
			if val == "" {
				val = s.Text()
			}
			if r, ok := priceparser.Parse(val); ok {
				pc := r.PriceCents
				out = append(out, extract.Candidate{
					Source: "meta", PriceCents: &pc,
					Score: weightMeta, Evidence: sel,
				})
			}
		})
	}
	return out
}

func gatherDOMSelectors(doc *goquery.Document) []extract.Candidate {
	var out []extract.Candidate
	selectors := []string{
		`[class*=price]`, `[id*=price]`, `[data-price]`,
		`[itemprop=price]`, `.product-price`, `.price`,
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr("data-price")
			if !ok || val == "" {
				val = s.Text()
			}
			if r, ok := priceparser.Parse(val); ok {
				pc := r.PriceCents
				out = append(out, extract.Candidate{
					Source: "dom_selector", PriceCents: &pc,
					Score: weightDOMSelector, Evidence: sel,
				})
			}
		})
	}
	return out
}

// metaEvidenceSelectors names the meta/link tags worth surfacing in
// Evidence.Meta for AiExtractor's compact evidence block (spec §4.6's
// "meta=" line), independent of the price-candidate selectors above.
var metaEvidenceSelectors = []struct {
	sel, attr, label string
}{
	{`meta[property="og:title"]`, "content", "og:title"},
	{`meta[property="og:price:amount"]`, "content", "og:price:amount"},
	{`meta[property="product:price:amount"]`, "content", "product:price:amount"},
	{`meta[property="product:availability"]`, "content", "product:availability"},
	{`meta[property="og:availability"]`, "content", "og:availability"},
	{`meta[itemprop="price"]`, "content", "itemprop:price"},
}

// gatherMetaEvidence collects "label=value" strings for Evidence.Meta.
func gatherMetaEvidence(doc *goquery.Document) []string {
	var out []string
	for _, m := range metaEvidenceSelectors {
		doc.Find(m.sel).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr(m.attr)
			if !ok || val == "" {
				return
			}
			out = append(out, m.label+"="+val)
		})
	}
	return out
}

var reBodyCurrency = regexp.MustCompile(`[$€£]\s?\d[\d.,\s]*\d|[$€£]\s?\d`)

func gatherBodyRegex(doc *goquery.Document) []extract.Candidate {
	body := doc.Find("body").First().Text()
	m := reBodyCurrency.FindString(body)
	if m == "" {
		return nil
	}
	if r, ok := priceparser.Parse(m); ok {
		pc := r.PriceCents
		return []extract.Candidate{{
			Source: "body_regex", PriceCents: &pc,
			Score: weightBodyRegex, Evidence: "currency-symbol scan",
		}}
	}
	return nil
}

func gatherCandidates(doc *goquery.Document) []extract.Candidate {
	var all []extract.Candidate
	all = append(all, gatherJSONLD(doc)...)
	all = append(all, gatherEmbeddedScripts(doc)...)
	all = append(all, gatherMeta(doc)...)
	all = append(all, gatherDOMSelectors(doc)...)
	all = append(all, gatherBodyRegex(doc)...)

	for i := range all {
		if all[i].Name != "" {
			all[i].Score += 0.05
		}
		if all[i].PriceCents != nil {
			all[i].Score += 0.05
		}
		if all[i].Score > 0.99 {
			all[i].Score = 0.99
		}
	}
	return all
}

// foldCandidates is the pure fold over the candidate pool described in
// Design Notes §9: sort descending by score, pick the top, apply the
// ambiguity penalty, and return the winning name/price plus the score
// used for the final confidence calculation.
func foldCandidates(candidates []extract.Candidate) (name string, priceCents *int64, score float64, evidence []string) {
	if len(candidates) == 0 {
		return "", nil, 0, nil
	}

	sorted := make([]extract.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	top := sorted[0]
	if len(sorted) > 1 {
		second := sorted[1]
		disagree := top.PriceCents != nil && second.PriceCents != nil && *top.PriceCents != *second.PriceCents
		if disagree && (top.Score-second.Score) < 0.05 {
			top.Score -= 0.10
			if top.Score < 0.50 {
				top.Score = 0.50
			}
		}
	}

	name = top.Name
	if name == "" {
		for _, c := range sorted {
			if c.Name != "" {
				name = c.Name
				break
			}
		}
	}
	priceCents = top.PriceCents
	if priceCents == nil {
		for _, c := range sorted {
			if c.PriceCents != nil {
				priceCents = c.PriceCents
				break
			}
		}
	}

	for _, c := range sorted {
		evidence = append(evidence, c.Source+"="+c.Evidence)
	}

	return name, priceCents, top.Score, evidence
}
