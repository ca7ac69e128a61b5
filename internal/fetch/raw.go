package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// rawFetcher executes lightweight fetches through a Colly collector.
// A base collector holds the pooled transport; each fetch works on a
// clone so per-request hooks never leak across batch items.
type rawFetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

func newRawFetcher(cfg Config) *rawFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &rawFetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

func (f *rawFetcher) fetch(ctx context.Context, target string, headers http.Header) (Result, error) {
	var (
		result   Result
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		// The request URL at response time reflects any redirects that
		// were followed; handlers key on the URL they submitted.
		result = Result{
			URL:        target,
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("raw fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("raw visit failed: %w", err)
		}
		if fetchErr != nil {
			return Result{}, fmt.Errorf("raw response failed: %w", fetchErr)
		}
		return result, nil
	}
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
