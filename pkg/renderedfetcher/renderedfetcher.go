// Package renderedfetcher is the headless-browser bridge used when
// static HTML extraction is low-confidence. It generalizes spar.go's and
// hofer.go's chromedp navigation pattern (allocator, context, timeout,
// evaluate) into a single reusable "render this URL, give me back the
// final HTML and URL" call.
package renderedfetcher

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// Fetcher renders a URL in headless Chrome and returns the resulting
// outerHTML plus the page's final URL (after any client-side redirect).
// It is a narrow interface (spec §9) so tests can supply a fake instead
// of launching a real browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (html string, finalURL string, err error)
}

// ChromeDPFetcher is the production Fetcher, backed by chromedp.
type ChromeDPFetcher struct {
	UserAgent string
}

// NewChromeDPFetcher builds a fetcher using the same desktop Chrome UA
// string the teacher's scrapers send.
func NewChromeDPFetcher() *ChromeDPFetcher {
	return &ChromeDPFetcher{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	}
}

// Fetch navigates to url, waits for <body> to be ready, pauses for
// timeout/2 (see waitIdleBestEffort), and returns the rendered HTML and
// final URL. The pause never fails the fetch.
func (f *ChromeDPFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(f.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	var html, finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitIdleBestEffort(timeout/2),
		chromedp.Evaluate(`document.documentElement.outerHTML`, &html),
		chromedp.Evaluate(`window.location.href`, &finalURL),
	)
	if err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}

// waitIdleBestEffort sleeps for d and then lets the render continue. It
// does not observe network activity, so it neither ends early on an idle
// page nor waits longer on a busy one. Any error, including the deadline,
// is swallowed: the render gets whatever DOM exists after the pause.
func waitIdleBestEffort(d time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		idleCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		_ = chromedp.Run(idleCtx, chromedp.Sleep(d))
		return nil
	}
}
