// Package animepahe resolves anime queries against an animepahe-style
// site: JSON search API, paginated episode listings, rendered playback
// pages, and a two-hop redirect chain in front of the final media URL.
package animepahe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
	"github.com/AniCorp/anime-stream-finder/internal/similarity"
)

// Resolver-level aborted outcomes. The dispatcher treats these the same
// as any other failure: the source contributes an empty result.
var (
	ErrNoCandidates = errors.New("no candidates found for query titles")
	ErrNotFound     = errors.New("no candidate matched the supplied external IDs")
	ErrNoEpisode    = errors.New("requested episode not present in listing")
	ErrNoMirrors    = errors.New("no download mirrors offered for episode")
)

// Fetcher is the slice of the crawling substrate the resolver consumes.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string, headers http.Header, maxRetries int, handle fetch.RawHandler) error
	RenderBatch(ctx context.Context, urls []string, headers http.Header, maxRetries int, handle fetch.PageHandler) error
	SubmitForm(ctx context.Context, action string, fields url.Values, cookies []*http.Cookie, headers http.Header) (string, error)
}

// Config controls resolver behavior for one site instance.
type Config struct {
	BaseURL    string
	Cookie     string
	MaxRetries int
}

// Source implements anime.Source for animepahe.
type Source struct {
	cfg     Config
	fetcher Fetcher
	scorer  similarity.Scorer
	logger  *zap.Logger
}

// New constructs a Source. The scorer is built once at process start and
// shared across sources by reference.
func New(cfg Config, fetcher Fetcher, scorer similarity.Scorer, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://animepahe.ru"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Source{
		cfg:     cfg,
		fetcher: fetcher,
		scorer:  scorer,
		logger:  logger,
	}
}

// Name identifies this source in dispatcher output.
func (s *Source) Name() string {
	return "animepahe"
}

// Resolve runs the full pipeline: search, score, filter, confirm,
// locate episode, extract mirrors, resolve redirects, resolve final
// URLs. Stages are strictly sequential; fetches within a stage fan out.
func (s *Source) Resolve(ctx context.Context, query anime.AnimeQuery) (*anime.SourceResult, error) {
	candidates, err := s.search(ctx, query.Titles())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	s.logger.Debug("search complete", zap.Int("candidates", len(candidates)))

	s.attachScores(query.Titles(), candidates)
	candidates = filterByMean(candidates)
	s.logger.Debug("filtered by mean similarity", zap.Int("surviving", len(candidates)))

	confirmed, err := s.confirm(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	s.logger.Info("identity confirmed",
		zap.String("title", confirmed.Title),
		zap.String("session", confirmed.SessionID),
	)

	episode, err := s.locateEpisode(ctx, confirmed.SessionID, query.EpisodeNumber)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("episode located", zap.Int("episode", episode.Number))

	mirrors, err := s.extractMirrors(ctx, confirmed.SessionID, episode.Session)
	if err != nil {
		return nil, err
	}

	if err := s.resolveRedirects(ctx, mirrors); err != nil {
		return nil, err
	}
	streams, err := s.resolveFinal(ctx, mirrors)
	if err != nil {
		return nil, err
	}
	s.logger.Info("resolution complete",
		zap.Int("mirrors", len(mirrors)),
		zap.Int("streams", len(streams)),
	)

	return &anime.SourceResult{Anime: *confirmed, Streams: streams}, nil
}

func (s *Source) headers() http.Header {
	h := http.Header{}
	if s.cfg.Cookie != "" {
		h.Set("Cookie", s.cfg.Cookie)
	}
	return h
}

func (s *Source) apiURL(query url.Values) string {
	return fmt.Sprintf("%s/api?%s", s.cfg.BaseURL, query.Encode())
}
