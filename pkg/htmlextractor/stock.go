package htmlextractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/pkg/models"
)

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
	label  string
}

var outPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)out of stock|sold out`), 2.0, "out-of-stock/sold-out"},
	{regexp.MustCompile(`(?i)currently unavailable`), 1.4, "currently-unavailable"},
	{regexp.MustCompile(`(?i)temporarily out of stock`), 1.6, "temporarily-out-of-stock"},
	{regexp.MustCompile(`(?i)back[- ]?ordered`), 1.2, "backordered"},
	{regexp.MustCompile(`(?i)pre[- ]?order`), 0.8, "preorder"},
	{regexp.MustCompile(`(?i)unavailable`), 0.5, "unavailable"},
}

var inPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)in stock`), 1.5, "in-stock"},
	{regexp.MustCompile(`(?i)add to cart|buy now`), 2.1, "add-to-cart/buy-now"},
	{regexp.MustCompile(`(?i)available now|ready to ship|ships today`), 1.1, "available-now"},
}

var reCTAText = regexp.MustCompile(`(?i)add to cart|buy now|add to bag|add to basket|order now|purchase`)

var reAvailabilityURL = regexp.MustCompile(`(?i)(in|out of|pre|back|discontinued)[a-z]*stock|soldout|preorder|backorder|discontinued`)

type stockSignals struct {
	state       models.StockState
	inScore     float64
	outScore    float64
	embeddedIn  int
	embeddedOut int
	ctaEnabled  int
	ctaDisabled int
	explicitIn  bool
	explicitOut bool
	signals     []string
}

func scorePatterns(text string, patterns []weightedPattern) float64 {
	var total float64
	for _, p := range patterns {
		n := len(p.re.FindAllString(text, -1))
		if n > 3 {
			n = 3
		}
		if n > 0 {
			total += float64(n) * p.weight
		}
	}
	return total
}

// isStockScoped reports whether an element's class or id attribute
// mentions stock/availability, the "[class|id*=stock|availability]"
// subset scope from spec §4.3.
func isStockScoped(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	combined := strings.ToLower(class + " " + id)
	return strings.Contains(combined, "stock") || strings.Contains(combined, "availability")
}

func isHiddenOrInert(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, ok := s.Attr("aria-hidden"); ok && strings.EqualFold(v, "true") {
		return true
	}
	return false
}

func isDisabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, ok := s.Attr("aria-disabled"); ok && strings.EqualFold(v, "true") {
		return true
	}
	return false
}

func isInChrome(s *goquery.Selection) bool {
	return s.Closest("header").Length() > 0 ||
		s.Closest("nav").Length() > 0 ||
		s.Closest("footer").Length() > 0
}

func detectStock(doc *goquery.Document) stockSignals {
	body := doc.Find("body")
	bodyText := body.Text()

	var scopedText strings.Builder
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if isStockScoped(s) {
			scopedText.WriteString(s.Text())
			scopedText.WriteString(" ")
		}
	})

	sig := stockSignals{}
	sig.inScore = scorePatterns(bodyText, inPatterns) + scorePatterns(scopedText.String(), inPatterns)
	sig.outScore = scorePatterns(bodyText, outPatterns) + scorePatterns(scopedText.String(), outPatterns)

	// Explicit schema.org availability on meta/link/itemprop elements.
	doc.Find(`[itemprop="availability"], meta[property="product:availability"], meta[property="og:availability"], link[itemprop="availability"]`).Each(func(_ int, s *goquery.Selection) {
		val, ok := s.Attr("content")
		if !ok {
			val, ok = s.Attr("href")
		}
		if !ok {
			val = s.Text()
		}
		lower := strings.ToLower(val)
		switch {
		case strings.Contains(lower, "outofstock") || strings.Contains(lower, "soldout") || strings.Contains(lower, "discontinued"):
			sig.explicitOut = true
			sig.outScore += 3
			sig.signals = append(sig.signals, "explicit-out:"+val)
		case strings.Contains(lower, "instock"):
			sig.explicitIn = true
			sig.inScore += 3
			sig.signals = append(sig.signals, "explicit-in:"+val)
		case strings.Contains(lower, "preorder") || strings.Contains(lower, "backorder"):
			sig.explicitOut = true
			sig.outScore += 3
			sig.signals = append(sig.signals, "explicit-out:"+val)
		}
	})

	// Purchase CTA detection, outside header/nav/footer.
	doc.Find(`button, input[type=submit], a[role=button]`).Each(func(_ int, s *goquery.Selection) {
		if isHiddenOrInert(s) || isInChrome(s) {
			return
		}
		text := s.Text()
		if text == "" {
			if v, ok := s.Attr("value"); ok {
				text = v
			}
		}
		if !reCTAText.MatchString(text) {
			return
		}
		if isDisabled(s) {
			sig.ctaDisabled++
		} else {
			sig.ctaEnabled++
		}
	})
	if sig.ctaEnabled > 0 {
		bonus := sig.ctaEnabled
		if bonus > 2 {
			bonus = 2
		}
		sig.inScore += 3 + float64(bonus)
		sig.signals = append(sig.signals, "cta-enabled")
	}
	if sig.ctaDisabled > 0 {
		bonus := sig.ctaDisabled
		if bonus > 2 {
			bonus = 2
		}
		sig.outScore += 1 + float64(bonus)
		sig.signals = append(sig.signals, "cta-disabled")
	}

	// Embedded-JSON inventory signals across all <script> blocks.
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		sig.embeddedOut += len(reSoldOutTrue.FindAllString(text, -1))
		sig.embeddedOut += len(reAvailOut.FindAllString(text, -1))
		sig.embeddedOut += len(reOutOfStockMsg.FindAllString(text, -1))
		sig.embeddedIn += len(reSoldOutFalse.FindAllString(text, -1))
		sig.embeddedIn += len(reAvailIn.FindAllString(text, -1))
	})
	embeddedOutCapped := sig.embeddedOut
	if embeddedOutCapped > 8 {
		embeddedOutCapped = 8
	}
	embeddedInCapped := sig.embeddedIn
	if embeddedInCapped > 8 {
		embeddedInCapped = 8
	}
	sig.outScore += float64(embeddedOutCapped) * 1.6
	sig.inScore += float64(embeddedInCapped) * 1.2

	sig.state = applyPrecedence(sig)
	return sig
}

var (
	reSoldOutTrue   = regexp.MustCompile(`(?i)"?isSoldOut"?\s*:\s*true`)
	reSoldOutFalse  = regexp.MustCompile(`(?i)"?isSoldOut"?\s*:\s*false`)
	reAvailOut      = regexp.MustCompile(`(?i)"?availability"?\s*:\s*"[^"]*OutOfStock[^"]*"`)
	reAvailIn       = regexp.MustCompile(`(?i)"?availability"?\s*:\s*"[^"]*InStock[^"]*"`)
	reOutOfStockMsg = regexp.MustCompile(`(?i)"?outOfStockMsg"?\s*:\s*"[^"]+"`)
)

// applyPrecedence implements the seven ordered rules from spec §4.3.
func applyPrecedence(sig stockSignals) models.StockState {
	switch {
	case sig.explicitIn && !sig.explicitOut:
		return models.StockInStock
	case sig.explicitOut && !sig.explicitIn && sig.ctaEnabled == 0:
		return models.StockOutOfStock
	case sig.embeddedOut > 0 && sig.embeddedIn == 0 && sig.ctaEnabled == 0:
		return models.StockOutOfStock
	case sig.ctaEnabled > 0 && sig.inScore >= sig.outScore-2:
		return models.StockInStock
	case sig.outScore >= sig.inScore+3 && sig.outScore >= 3:
		return models.StockOutOfStock
	case sig.inScore >= sig.outScore+2 && sig.inScore >= 2:
		return models.StockInStock
	default:
		return models.StockUnknown
	}
}
