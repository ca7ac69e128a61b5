package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// renderer drives script-executing fetches with chromedp. One exec
// allocator (one browser process) is shared; each rendered URL gets its
// own tab context, torn down when the handler returns.
type renderer struct {
	cfg     Config
	limiter chan struct{}

	mu          sync.RWMutex
	allocator   context.Context
	allocCancel context.CancelFunc
}

func newRenderer(cfg Config) (*renderer, error) {
	if cfg.MaxParallelTabs < 0 {
		return nil, fmt.Errorf("max parallel tabs must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallelTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxParallelTabs)
	}
	r := &renderer{cfg: cfg, limiter: limiter}
	r.allocator, r.allocCancel = newAllocator()
	return r, nil
}

func newAllocator() (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

func (r *renderer) render(
	ctx context.Context,
	target string,
	headers http.Header,
	handle PageHandler,
) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()

	// Stop the tab if the batch context ends first.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	actions := []chromedp.Action{
		r.networkSetupAction(headers),
		chromedp.Navigate(target),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}

	return handle(ctx, &chromePage{ctx: tabCtx, url: target})
}

func (r *renderer) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// recycle tears the browser allocator down and builds a fresh one,
// discarding every ephemeral profile the old process accumulated.
// Blocks until in-flight renders finish.
func (r *renderer) recycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("recycle canceled: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocCancel()
	r.allocator, r.allocCancel = newAllocator()
	return nil
}

func (r *renderer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocCancel()
}

func (r *renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (r *renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// chromePage implements Page over a live chromedp tab context.
type chromePage struct {
	ctx context.Context
	url string
}

func (p *chromePage) URL() string {
	return p.url
}

func (p *chromePage) WaitVisible(selector string) error {
	if err := chromedp.Run(p.ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) HTML(selector string) (string, error) {
	var html string
	if err := chromedp.Run(p.ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract html of %q: %w", selector, err)
	}
	return html, nil
}

func (p *chromePage) Attr(selector, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := chromedp.Run(p.ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("read attribute %q of %q: %w", name, selector, err)
	}
	return value, ok, nil
}

func (p *chromePage) Cookies() ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("harvest cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: time.Unix(int64(c.Expires), 0),
		})
	}
	return cookies, nil
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
