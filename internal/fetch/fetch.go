// Package fetch implements the crawling substrate consumed by the
// resolution pipeline: batched URL fetches in two modes (lightweight raw
// fetch, full script-executing render), per-item bounded retry, per-item
// failure isolation, and batch resource teardown.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/metrics"
)

// Result is the outcome of one raw-mode fetch. URL is the URL that was
// requested, not the post-redirect landing URL.
type Result struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RawHandler consumes one raw fetch result. A returned error marks that
// item as failed (logged, skipped); it never aborts the batch.
type RawHandler func(ctx context.Context, res Result) error

// PageHandler consumes one rendered page. Same isolation semantics as
// RawHandler.
type PageHandler func(ctx context.Context, page Page) error

// Page is the capability surface a rendered fetch exposes to handlers.
// All operations run inside the page's own session context.
type Page interface {
	URL() string
	WaitVisible(selector string) error
	HTML(selector string) (string, error)
	Attr(selector, name string) (string, bool, error)
	Cookies() ([]*http.Cookie, error)
}

// ErrNoLocation is returned by SubmitForm when the response carries no
// Location header.
var ErrNoLocation = errors.New("response has no Location header")

// Config controls substrate behavior.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxParallelTabs   int
	NavigationTimeout time.Duration
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// Client is the substrate entry point shared by all resolvers. Batches
// are independent; the underlying collector and browser allocator are
// shared and reclaimed between runs via Reclaim.
type Client struct {
	cfg      Config
	raw      *rawFetcher
	renderer *renderer
	retry    *retryPolicy
	formHTTP *http.Client
	logger   *zap.Logger
}

// NewClient builds a Client. Close must be called to release the browser
// allocator.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	rend, err := newRenderer(cfg)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}
	return &Client{
		cfg:      cfg,
		raw:      newRawFetcher(cfg),
		renderer: rend,
		retry:    newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		formHTTP: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// FetchBatch fetches every URL concurrently in raw mode. A URL that
// exhausts its retries is logged and excluded; the batch continues.
func (c *Client) FetchBatch(
	ctx context.Context,
	urls []string,
	headers http.Header,
	maxRetries int,
	handle RawHandler,
) error {
	return c.runBatch(ctx, "raw", urls, maxRetries, func(ctx context.Context, target string) error {
		res, err := c.raw.fetch(ctx, target, headers)
		if err != nil {
			return err
		}
		return handlerError(handle(ctx, res))
	})
}

// RenderBatch renders every URL concurrently in a script-executing
// browser, invoking the handler with a live Page per URL. Tab resources
// are released when the handler returns.
func (c *Client) RenderBatch(
	ctx context.Context,
	urls []string,
	headers http.Header,
	maxRetries int,
	handle PageHandler,
) error {
	return c.runBatch(ctx, "render", urls, maxRetries, func(ctx context.Context, target string) error {
		return c.renderer.render(ctx, target, headers, func(ctx context.Context, page Page) error {
			return handlerError(handle(ctx, page))
		})
	})
}

// SubmitForm POSTs fields to action with the harvested cookies, without
// following redirects, and returns the Location header of the response.
func (c *Client) SubmitForm(
	ctx context.Context,
	action string,
	fields url.Values,
	cookies []*http.Cookie,
	headers http.Header,
) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(fields.Encode()))
	if err != nil {
		return "", fmt.Errorf("build form request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.formHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit form: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("form response status %d: %w", resp.StatusCode, ErrNoLocation)
	}
	return location, nil
}

// Reclaim releases the substrate's ephemeral per-batch storage by
// recycling the browser allocator. Callers must ensure no batch is in
// flight; the orchestrator serializes this against active tasks.
func (c *Client) Reclaim(ctx context.Context) error {
	if err := c.renderer.recycle(ctx); err != nil {
		return fmt.Errorf("recycle renderer: %w", err)
	}
	c.logger.Info("substrate storage reclaimed")
	return nil
}

// Close releases the browser allocator.
func (c *Client) Close() {
	c.renderer.close()
}

// runBatch fans one attempt loop per URL out over goroutines. Per-item
// failures are logged and swallowed so the batch always completes; the
// only batch-level error is context cancellation.
func (c *Client) runBatch(
	ctx context.Context,
	mode string,
	urls []string,
	maxRetries int,
	attempt func(ctx context.Context, target string) error,
) error {
	if len(urls) == 0 {
		return nil
	}
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}

	var wg sync.WaitGroup
	for _, target := range urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if err := c.fetchWithRetry(ctx, target, maxRetries, attempt); err != nil {
				metrics.FetchCompleted(mode, "dropped")
				c.logger.Error("batch item dropped",
					zap.String("url", target),
					zap.Int("max_retries", maxRetries),
					zap.Error(err),
				)
				return
			}
			metrics.FetchCompleted(mode, "ok")
		}(target)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch canceled: %w", err)
	}
	return nil
}

func (c *Client) fetchWithRetry(
	ctx context.Context,
	target string,
	maxRetries int,
	attempt func(ctx context.Context, target string) error,
) error {
	var lastErr error
	for try := 0; try <= maxRetries; try++ {
		if try > 0 {
			if err := sleepContext(ctx, c.retry.backoff(try)); err != nil {
				return err
			}
			c.logger.Debug("retrying fetch", zap.String("url", target), zap.Int("attempt", try))
		}
		lastErr = attempt(ctx, target)
		if lastErr == nil {
			return nil
		}
		var hErr *handlerFailure
		if errors.As(lastErr, &hErr) {
			// Parse/handler failures are not transient; no retry.
			return lastErr
		}
		if !c.retry.shouldRetry(lastErr, try, maxRetries) {
			return lastErr
		}
	}
	return lastErr
}

type handlerFailure struct {
	err error
}

func (h *handlerFailure) Error() string { return fmt.Sprintf("handler: %v", h.err) }
func (h *handlerFailure) Unwrap() error { return h.err }

func handlerError(err error) error {
	if err == nil {
		return nil
	}
	return &handlerFailure{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
