// Package pipeline implements ExtractionPipeline (spec §4.5): the
// cascade that resolves a URL through site adapters, static HTML, an
// optional rendered fetch, and an optional AI fallback, gated by
// confidence thresholds throughout.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricewatch/pkg/aiextractor"
	"pricewatch/pkg/extract"
	"pricewatch/pkg/htmlextractor"
	"pricewatch/pkg/models"
	"pricewatch/pkg/renderedfetcher"
	"pricewatch/pkg/siteadapters/bestbuy"
	"pricewatch/pkg/siteadapters/shopify"
)

// regionalSubdomains is the set of regional prefixes checked for the
// "sibling region swap" redirect-mismatch rule (spec §4.5 step 4).
var regionalSubdomains = map[string]bool{
	"us": true, "ca": true, "uk": true, "eu": true, "au": true,
	"de": true, "fr": true, "it": true, "es": true, "jp": true,
	"sg": true, "hk": true,
}

// Options configures one ExtractionPipeline.Run call.
type Options struct {
	TimeoutMs              int
	AllowPlaywright        bool
	AllowAI                bool
	Model                  string
	AIHints                []aiextractor.Hint
	AIConfidenceThreshold  float64
	OutOfStockVerifyThresh float64
	AIMaxOutputTokens      int
	AIEvidenceMaxChars     int
}

// Pipeline holds the injected dependencies the cascade calls into. All
// are narrow interfaces so tests substitute fakes instead of a live
// network.
type Pipeline struct {
	HTTPClient      *http.Client
	RenderedFetcher renderedfetcher.Fetcher
	AIClient        aiextractor.Client
}

// New builds a production Pipeline.
func New(httpClient *http.Client, fetcher renderedfetcher.Fetcher, ai aiextractor.Client) *Pipeline {
	return &Pipeline{HTTPClient: httpClient, RenderedFetcher: fetcher, AIClient: ai}
}

// Run executes the 8-step cascade from spec §4.5 against rawURL.
func (p *Pipeline) Run(ctx context.Context, rawURL string, opts Options) extract.Attempt {
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	aiThreshold := opts.AIConfidenceThreshold
	if aiThreshold == 0 {
		aiThreshold = 0.88
	}
	outOfStockThreshold := opts.OutOfStockVerifyThresh
	if outOfStockThreshold == 0 {
		outOfStockThreshold = 0.78
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Step 1: Best Buy adapter.
	if sku, ok := bestbuy.Detect(rawURL); ok {
		if result, ok := bestbuy.Probe(ctx, p.HTTPClient, sku); ok {
			return p.finalize(result, false, false, 0, 0, 0)
		}
	}

	// Step 2: Shopify adapter.
	if handle, ok := shopify.Detect(rawURL); ok {
		if base, ok := baseOf(rawURL); ok {
			if result, ok := shopify.Probe(ctx, p.HTTPClient, base, handle, timeout); ok {
				return p.finalize(result, false, false, 0, 0, 0)
			}
		}
	}

	// Step 3: static HTML fetch, redirects not followed.
	html, finalURL, status, err := fetchStaticNoRedirect(ctx, p.HTTPClient, rawURL)
	if err != nil {
		return needsReviewAttempt(models.ErrCodeUnknownExtractionError)
	}
	if status >= 300 && status < 400 {
		return needsReviewAttempt(models.ErrCodeRedirectBlocked)
	}
	if status < 200 || status >= 300 {
		return needsReviewAttempt(models.ErrCodeUnknownExtractionError)
	}

	// Step 4: regional-redirect-mismatch check.
	if isRegionalMismatch(rawURL, finalURL) {
		return needsReviewAttempt(models.ErrCodeRegionalRedirect)
	}

	// Step 5: static HTML extraction.
	result, err := htmlextractor.Extract(html, rawURL)
	if err != nil {
		return needsReviewAttempt(models.ErrCodeUnknownExtractionError)
	}

	usedPlaywright := false

	// Step 6: optional rendered fetch.
	if result.Confidence < aiThreshold && opts.AllowPlaywright &&
		(boolOrTrue(result.InStock) || result.Confidence < outOfStockThreshold) {
		if rendered, ok := p.tryRender(ctx, rawURL, timeout); ok {
			if rendered.Confidence > result.Confidence {
				rendered.Method = models.MethodPlaywright
				result = rendered
				usedPlaywright = true
			}
		}
	}

	usedAI := false
	tokenInput, tokenOutput := 0, 0
	estimatedCostUSD := 0.0

	// Step 7: AI fallback.
	if result.Confidence < aiThreshold && shouldUseAI(result, outOfStockThreshold) {
		if !opts.AllowAI {
			return needsReviewAttempt(models.ErrCodeAIBudgetOrDisabled)
		}
		aiResult, usage, err := p.tryAI(ctx, result, rawURL, opts)
		if err == nil {
			result = aiResult
			usedAI = true
			tokenInput = usage.TokenInput
			tokenOutput = usage.TokenOutput
			estimatedCostUSD = aiextractor.EstimateCostUSD(opts.Model, usage)
		}
	}

	return p.finalize(result, usedPlaywright, usedAI, tokenInput, tokenOutput, estimatedCostUSD)
}

// finalize applies the step-8 final gate.
func (p *Pipeline) finalize(result extract.Result, usedPlaywright, usedAI bool, tokenInput, tokenOutput int, estimatedCostUSD float64) extract.Attempt {
	if result.ProductName == "" || result.Confidence < 0.70 ||
		(boolOrTrue(result.InStock) && result.PriceCents == nil) {
		attempt := needsReviewAttempt(models.ErrCodeLowConfidence)
		attempt.UsedPlaywright = usedPlaywright
		attempt.UsedAI = usedAI
		attempt.TokenInput = tokenInput
		attempt.TokenOutput = tokenOutput
		attempt.EstimatedCostUSD = estimatedCostUSD
		return attempt
	}

	r := result
	return extract.Attempt{
		Status:           extract.StatusSuccess,
		Result:           &r,
		UsedPlaywright:   usedPlaywright,
		UsedAI:           usedAI,
		TokenInput:       tokenInput,
		TokenOutput:      tokenOutput,
		EstimatedCostUSD: estimatedCostUSD,
	}
}

func needsReviewAttempt(reason string) extract.Attempt {
	return extract.Attempt{Status: extract.StatusNeedsReview, Reason: reason}
}

// boolOrTrue treats a nil InStock pointer as "not known false" — i.e.
// satisfies "inStock ≠ false" from spec §4.5/§4.6.
func boolOrTrue(b *bool) bool {
	return b == nil || *b
}

// shouldUseAI implements the AI-fallback gate from spec §4.5.
func shouldUseAI(result extract.Result, outOfStockThreshold float64) bool {
	if boolOrTrue(result.InStock) {
		return true
	}
	if result.StockState == models.StockOutOfStock && result.Evidence.HasEmbeddedOutOnly() {
		return false
	}
	if result.StockState == models.StockPartial || len(result.VariantStock) > 0 {
		return true
	}
	return result.Confidence < outOfStockThreshold
}

func (p *Pipeline) tryRender(ctx context.Context, rawURL string, timeout time.Duration) (extract.Result, bool) {
	if p.RenderedFetcher == nil {
		return extract.Result{}, false
	}
	html, finalURL, err := p.RenderedFetcher.Fetch(ctx, rawURL, timeout)
	if err != nil {
		return extract.Result{}, false
	}
	if !sameURLIgnoringFragment(rawURL, finalURL) {
		return extract.Result{}, false
	}
	result, err := htmlextractor.Extract(html, rawURL)
	if err != nil {
		return extract.Result{}, false
	}
	return result, true
}

func (p *Pipeline) tryAI(ctx context.Context, prior extract.Result, rawURL string, opts Options) (extract.Result, aiextractor.Usage, error) {
	if p.AIClient == nil {
		return extract.Result{}, aiextractor.Usage{}, fmt.Errorf("pipeline: no AI client configured")
	}
	maxChars := opts.AIEvidenceMaxChars
	if maxChars == 0 {
		maxChars = 6000
	}
	maxTokens := opts.AIMaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 180
	}
	evidence := buildCompactEvidence(prior, rawURL, opts.AIHints, maxChars)
	return p.AIClient.Extract(ctx, evidence, opts.Model, maxTokens)
}

// buildCompactEvidence assembles the evidence block described in spec
// §4.6, capped at maxChars.
func buildCompactEvidence(result extract.Result, rawURL string, hints []aiextractor.Hint, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "url=%s\n", rawURL)
	fmt.Fprintf(&b, "title=%s\n", result.Evidence.Title)
	if len(result.Evidence.Meta) > 0 {
		fmt.Fprintf(&b, "meta=%s\n", strings.Join(result.Evidence.Meta, "; "))
	}
	fmt.Fprintf(&b, "stockState=%s\n", result.StockState)

	for i, h := range hints {
		if i >= 4 {
			break
		}
		price := "null"
		if h.PriceCents != nil {
			price = strconv.FormatInt(*h.PriceCents, 10)
		}
		stock := "unknown"
		if h.InStock != nil {
			stock = strconv.FormatBool(*h.InStock)
		}
		fmt.Fprintf(&b, "hint=%s | price=%s | stock=%s\n", h.Name, price, stock)
	}

	for i, v := range result.VariantStock {
		if i >= 6 {
			break
		}
		state := "UNK"
		if v.State != "" {
			state = string(v.State)
		}
		fmt.Fprintf(&b, "variant=%s|%s\n", v.Label, state)
	}

	for i, c := range result.Evidence.Candidates {
		if i >= 12 {
			break
		}
		fmt.Fprintf(&b, "candidate=%s\n", c)
	}

	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

func baseOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}

// fetchStaticNoRedirect fetches rawURL without following redirects,
// returning the raw status so the caller can distinguish "blocked
// redirect" from other failures (spec §4.5 step 3).
func fetchStaticNoRedirect(ctx context.Context, client *http.Client, rawURL string) (html, finalURL string, status int, err error) {
	noRedirectClient := &http.Client{
		Timeout: client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return "", rawURL, resp.StatusCode, nil
	}

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", "", resp.StatusCode, err
	}
	return buf.String(), resp.Request.URL.String(), resp.StatusCode, nil
}

// isRegionalMismatch implements spec §4.5 step 4: both hosts carry a
// subdomain prefix from the regional set and share the same last-two-label
// root, but the prefixes differ.
func isRegionalMismatch(requestedURL, finalURL string) bool {
	reqHost, ok1 := hostOf(requestedURL)
	finHost, ok2 := hostOf(finalURL)
	if !ok1 || !ok2 || reqHost == finHost {
		return false
	}

	reqPrefix, reqRoot, ok1 := splitRegionalHost(reqHost)
	finPrefix, finRoot, ok2 := splitRegionalHost(finHost)
	if !ok1 || !ok2 {
		return false
	}
	return reqRoot == finRoot && reqPrefix != finPrefix
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// splitRegionalHost splits "us.example.com" into ("us", "example.com")
// when the leading label is a known regional prefix.
func splitRegionalHost(host string) (prefix, root string, ok bool) {
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", "", false
	}
	if !regionalSubdomains[labels[0]] {
		return "", "", false
	}
	return labels[0], strings.Join(labels[1:], "."), true
}

func sameURLIgnoringFragment(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	ua.Fragment = ""
	ub.Fragment = ""
	return ua.String() == ub.String()
}
