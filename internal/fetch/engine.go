// Package fetch retrieves usage data from endpoints discovered on the
// authenticated page's own traffic, falling back to scraping the rendered
// page text when discovery or the direct call fails.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clawmon/internal/browser"
	"clawmon/internal/capture"
	"clawmon/internal/usage"
)

const (
	pageLoadTimeout = 45 * time.Second
	// settleDelay gives late XHR traffic time to populate the endpoint
	// cache after network idle.
	settleDelay = 2 * time.Second

	endpointCallTimeout = 15 * time.Second
)

// Engine fetches and normalizes usage data over one browser session.
type Engine struct {
	origin    string
	usagePath string
	norm      *usage.Normalizer
	log       *zap.Logger

	// test seams
	settle func(context.Context) error
}

func NewEngine(origin, usagePath string, norm *usage.Normalizer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{origin: origin, usagePath: usagePath, norm: norm, log: log}
	e.settle = func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settleDelay):
			return nil
		}
	}
	return e
}

// FetchUsageData loads the usage page, lets traffic settle so interception
// can discover the endpoints, then replays the captured usage endpoint
// directly. Credits and overage endpoints are called opportunistically; their
// failure only costs the optional blocks. When the direct path fails for any
// reason the rendered page text is scraped instead.
func (e *Engine) FetchUsageData(ctx context.Context, s *browser.Session) (*usage.Snapshot, error) {
	page, err := s.Page()
	if err != nil {
		return nil, &Error{Kind: FailPageTimeout, Err: err}
	}

	if err := e.loadUsagePage(ctx, page); err != nil {
		return nil, &Error{Kind: FailPageTimeout, Err: err}
	}
	if err := e.settle(ctx); err != nil {
		return nil, &Error{Kind: FailPageTimeout, Err: err}
	}

	ep, ok := s.Endpoints.Get(capture.KindUsage)
	if !ok {
		e.log.Debug("usage endpoint never captured, scraping page text")
		return e.scrape(ctx, page)
	}

	usageBody, err := callEndpoint(ctx, page, ep)
	if err != nil {
		e.log.Debug("direct usage call failed, scraping page text", zap.Error(err))
		return e.scrape(ctx, page)
	}

	creditsBody, overageBody := e.fetchOptional(ctx, page, s.Endpoints)

	snap, err := e.norm.Normalize(usageBody, creditsBody, overageBody)
	if err != nil {
		// Shape mismatch is equivalent to "fall back to scraping".
		e.log.Debug("usage payload rejected by schema, scraping page text", zap.Error(err))
		return e.scrape(ctx, page)
	}
	return snap, nil
}

func (e *Engine) loadUsagePage(ctx context.Context, page *rod.Page) error {
	target := e.origin + e.usagePath
	p := page.Context(ctx).Timeout(pageLoadTimeout)

	if info, err := page.Info(); err != nil || info.URL != target {
		if err := p.Navigate(target); err != nil {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	if err := p.WaitIdle(pageLoadTimeout); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}

// fetchOptional calls the credits and overage endpoints when captured. These
// calls must never fail the overall fetch; errors just yield absent data.
func (e *Engine) fetchOptional(ctx context.Context, page *rod.Page, cache *capture.Cache) (credits, overage []byte) {
	var g errgroup.Group
	if ep, ok := cache.Get(capture.KindCredits); ok {
		g.Go(func() error {
			body, err := callEndpoint(ctx, page, ep)
			if err != nil {
				e.log.Debug("credits call failed", zap.Error(err))
				return nil
			}
			credits = body
			return nil
		})
	}
	if ep, ok := cache.Get(capture.KindOverage); ok {
		g.Go(func() error {
			body, err := callEndpoint(ctx, page, ep)
			if err != nil {
				e.log.Debug("overage call failed", zap.Error(err))
				return nil
			}
			overage = body
			return nil
		})
	}
	_ = g.Wait()
	return credits, overage
}

// callEndpoint replays a captured request from the page context, so the
// browser attaches current cookies itself.
func callEndpoint(ctx context.Context, page *rod.Page, ep capture.Endpoint) ([]byte, error) {
	res, err := page.Context(ctx).Timeout(endpointCallTimeout).Evaluate(&rod.EvalOptions{
		JS: `async (url, headers) => {
			const r = await fetch(url, { headers, credentials: 'include' });
			return { status: r.status, body: await r.text() };
		}`,
		JSArgs:       []interface{}{ep.URL, ep.Headers},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, &Error{Kind: FailPageTimeout, Err: err}
	}

	status := res.Value.Get("status").Int()
	if status < 200 || status > 299 {
		return nil, &Error{Kind: FailAPIRejected, Err: fmt.Errorf("endpoint %s returned %d", ep.URL, status)}
	}
	return []byte(res.Value.Get("body").Str()), nil
}

// scrape extracts a usage percentage and relative reset string from the
// rendered page's visible text.
func (e *Engine) scrape(ctx context.Context, page *rod.Page) (*usage.Snapshot, error) {
	htmlText, err := page.Context(ctx).Timeout(endpointCallTimeout).HTML()
	if err != nil {
		return nil, &Error{Kind: FailPageTimeout, Err: err}
	}
	snap, err := ScrapeUsageText(VisibleText(htmlText))
	if err != nil {
		return nil, err
	}
	return snap, nil
}
