package animepahe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
)

// The mirror page's inline script assigns the token-page URL to an href
// attribute; the first absolute URL it sets is the next hop.
var scriptHrefPattern = regexp.MustCompile(`\.attr\(\s*["']href["']\s*,\s*["'](https?://[^"']+)["']`)

var (
	errMissingForm          = errors.New("token page has no form action")
	errMissingAntiForgery   = errors.New("token page form has no anti-forgery token")
	errUnexpectedBatchReply = errors.New("batch result for unknown mirror url")
)

// resolveRedirects fetches every mirror page in raw mode and advances
// each mirror's link to the token-page URL found in its embedded script.
// Mirrors sharing a page URL are grouped so the page is fetched once and
// all of them advance. A mirror whose page yields no absolute URL keeps
// its prior link; that degradation is logged, not fatal.
func (s *Source) resolveRedirects(ctx context.Context, mirrors []*anime.DownloadMirror) error {
	byURL, urls := groupByLinkURL(mirrors)

	var mu sync.Mutex
	err := s.fetcher.FetchBatch(ctx, urls, s.headers(), s.cfg.MaxRetries, func(_ context.Context, res fetch.Result) error {
		group, ok := byURL[res.URL]
		if !ok {
			return fmt.Errorf("%w: %s", errUnexpectedBatchReply, res.URL)
		}
		m := scriptHrefPattern.FindSubmatch(res.Body)
		if m == nil {
			s.logger.Warn("no redirect target in mirror page, keeping prior link",
				zap.String("url", res.URL))
			return nil
		}
		mu.Lock()
		for _, mirror := range group {
			mirror.Link = anime.MirrorLink{Stage: anime.LinkStageIntermediate, URL: string(m[1])}
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("redirect batch: %w", err)
	}
	return nil
}

// resolveFinal renders each mirror's current URL, waits for the download
// form, extracts its action and hidden anti-forgery token, harvests the
// page's cookies, and submits the form without following redirects. The
// Location header is the final media URL. A mirror missing any of these
// pieces is dropped; the others are unaffected.
func (s *Source) resolveFinal(
	ctx context.Context,
	mirrors []*anime.DownloadMirror,
) ([]anime.StreamRecord, error) {
	byURL, urls := groupByLinkURL(mirrors)

	var (
		mu      sync.Mutex
		streams []anime.StreamRecord
	)
	err := s.fetcher.RenderBatch(ctx, urls, s.headers(), s.cfg.MaxRetries, func(ctx context.Context, page fetch.Page) error {
		group, ok := byURL[page.URL()]
		if !ok {
			return fmt.Errorf("%w: %s", errUnexpectedBatchReply, page.URL())
		}
		final, err := s.resolveFinalURL(ctx, page)
		if err != nil {
			return fmt.Errorf("mirror %s: %w", page.URL(), err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, mirror := range group {
			mirror.Link = anime.MirrorLink{Stage: anime.LinkStageFinal, URL: final}
			streams = append(streams, anime.StreamRecord{
				Author:     mirror.Author,
				URL:        final,
				Size:       mirror.Size,
				Resolution: mirror.Resolution,
				Language:   mirror.Language,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("final batch: %w", err)
	}
	return streams, nil
}

// groupByLinkURL buckets mirrors by their current link URL and returns
// the unique URL list for the batch, in first-seen order.
func groupByLinkURL(mirrors []*anime.DownloadMirror) (map[string][]*anime.DownloadMirror, []string) {
	byURL := make(map[string][]*anime.DownloadMirror, len(mirrors))
	urls := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if _, seen := byURL[m.Link.URL]; !seen {
			urls = append(urls, m.Link.URL)
		}
		byURL[m.Link.URL] = append(byURL[m.Link.URL], m)
	}
	return byURL, urls
}

func (s *Source) resolveFinalURL(ctx context.Context, page fetch.Page) (string, error) {
	if err := page.WaitVisible("form"); err != nil {
		return "", err
	}
	action, ok, err := page.Attr("form", "action")
	if err != nil {
		return "", err
	}
	if !ok || action == "" {
		return "", errMissingForm
	}
	token, ok, err := page.Attr(`form input[name="_token"]`, "value")
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", errMissingAntiForgery
	}
	cookies, err := page.Cookies()
	if err != nil {
		return "", err
	}
	location, err := s.fetcher.SubmitForm(ctx, action, url.Values{"_token": {token}}, cookies, nil)
	if err != nil {
		return "", err
	}
	return location, nil
}
