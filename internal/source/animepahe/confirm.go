package animepahe

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
)

var externalIDPattern = regexp.MustCompile(`/anime/(\d+)`)

// confirm disambiguates the surviving candidates. With external IDs the
// detail record of each survivor is fetched and the one matching every
// supplied ID wins. Without IDs the highest-similarity survivor is
// selected outright (ties broken by merge order) and its detail record
// is fetched best-effort.
func (s *Source) confirm(
	ctx context.Context,
	query anime.AnimeQuery,
	candidates []anime.Candidate,
) (*anime.ConfirmedAnime, error) {
	ordered := bySimilarityDesc(candidates)

	if !query.HasExternalIDs() {
		best := ordered[0]
		details, err := s.fetchDetails(ctx, []anime.Candidate{best})
		if err != nil {
			return nil, err
		}
		if d, ok := details[best.SessionID]; ok {
			return d, nil
		}
		// Detail page unavailable; the candidate itself is enough to
		// continue the pipeline.
		s.logger.Warn("detail fetch failed, continuing with bare candidate",
			zap.String("session", best.SessionID))
		return &anime.ConfirmedAnime{Candidate: best}, nil
	}

	details, err := s.fetchDetails(ctx, ordered)
	if err != nil {
		return nil, err
	}
	for _, c := range ordered {
		d, ok := details[c.SessionID]
		if !ok {
			continue
		}
		if matchesExternalIDs(query, d) {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func matchesExternalIDs(query anime.AnimeQuery, detail *anime.ConfirmedAnime) bool {
	if query.MALID != 0 && detail.MALID != query.MALID {
		return false
	}
	if query.AniListID != 0 && detail.AniListID != query.AniListID {
		return false
	}
	return true
}

// fetchDetails retrieves and parses the detail page for each candidate
// concurrently, keyed by session id. Candidates whose page fails to
// fetch or parse are simply absent from the result.
func (s *Source) fetchDetails(
	ctx context.Context,
	candidates []anime.Candidate,
) (map[string]*anime.ConfirmedAnime, error) {
	bySession := make(map[string]anime.Candidate, len(candidates))
	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		u := s.detailURL(c.SessionID)
		bySession[u] = c
		urls = append(urls, u)
	}

	var (
		mu      sync.Mutex
		details = make(map[string]*anime.ConfirmedAnime, len(candidates))
	)
	err := s.fetcher.FetchBatch(ctx, urls, s.headers(), s.cfg.MaxRetries, func(_ context.Context, res fetch.Result) error {
		c, ok := bySession[res.URL]
		if !ok {
			return fmt.Errorf("detail response for unexpected url %s", res.URL)
		}
		detail, err := parseDetailPage(c, res.Body)
		if err != nil {
			return err
		}
		mu.Lock()
		details[c.SessionID] = detail
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("detail batch: %w", err)
	}
	return details, nil
}

func (s *Source) detailURL(session string) string {
	return fmt.Sprintf("%s/anime/%s", s.cfg.BaseURL, session)
}

func parseDetailPage(c anime.Candidate, body []byte) (*anime.ConfirmedAnime, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	detail := &anime.ConfirmedAnime{Candidate: c}
	detail.MALID = extractExternalID(doc, "myanimelist.net/anime/")
	detail.AniListID = extractExternalID(doc, "anilist.co/anime/")
	detail.Synopsis = strings.TrimSpace(doc.Find("div.anime-synopsis").First().Text())
	doc.Find("div.anime-genre a").Each(func(_ int, sel *goquery.Selection) {
		if genre := strings.TrimSpace(sel.Text()); genre != "" {
			detail.Genres = append(detail.Genres, genre)
		}
	})
	return detail, nil
}

func extractExternalID(doc *goquery.Document, hostPath string) int {
	var id int
	doc.Find(fmt.Sprintf("a[href*=%q]", hostPath)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		m := externalIDPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		parsed, err := strconv.Atoi(m[1])
		if err != nil {
			return true
		}
		id = parsed
		return false
	})
	return id
}
