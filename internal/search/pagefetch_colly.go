package search

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// browserAccept mimics a regular browser navigation; the product pages serve
// a stripped shell to clients that only accept JSON.
const browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// CollyConfig controls collector behavior for product page fetches.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyPageFetcher implements PageFetcher using the Colly collector.
type CollyPageFetcher struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// NewCollyPageFetcher builds a CollyPageFetcher.
func NewCollyPageFetcher(cfg CollyConfig) *CollyPageFetcher {
	// Synchronous collection is the collector default; colly v2.1.0's
	// Async option ignores its argument and always enables async mode.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &CollyPageFetcher{cfg: cfg, baseCollector: c}
}

// FetchPage executes a single product page GET.
func (f *CollyPageFetcher) FetchPage(ctx context.Context, req PageRequest) (PageResponse, error) {
	var (
		result   PageResponse
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	if len(req.Cookies) > 0 {
		if err := collector.SetCookies(req.URL, req.Cookies); err != nil {
			return PageResponse{}, fmt.Errorf("set cookies: %w", err)
		}
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", browserAccept)
		if req.Referer != "" {
			r.Headers.Set("Referer", req.Referer)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = PageResponse{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result = PageResponse{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return PageResponse{}, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Colly reports non-2xx statuses as visit errors, but a captured
		// response is still usable for the caller to classify.
		if err != nil && result.StatusCode == 0 {
			return PageResponse{}, fmt.Errorf("page visit failed: %w", err)
		}
	}
	if fetchErr != nil && result.StatusCode == 0 {
		return PageResponse{}, fmt.Errorf("page response failed: %w", fetchErr)
	}
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
