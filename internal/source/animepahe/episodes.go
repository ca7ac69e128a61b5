package animepahe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
)

type releasePage struct {
	CurrentPage int                   `json:"current_page"`
	LastPage    int                   `json:"last_page"`
	Data        []anime.EpisodeRecord `json:"data"`
}

func (s *Source) releaseURL(session string, page int) string {
	return s.apiURL(url.Values{
		"m":    {"release"},
		"id":   {session},
		"sort": {"episode_asc"},
		"page": {strconv.Itoa(page)},
	})
}

// locateEpisode walks the ascending episode listing page by page. The
// first episode on the first page anchors the numbering: series that do
// not start at 1 (sequels sharing a continuous count) are handled by
// targetEpisode = baseEpisode + requested - 1. Scanning stops at the
// first exact match, or at the last page without one.
func (s *Source) locateEpisode(ctx context.Context, session string, episodeNumber int) (anime.EpisodeRecord, error) {
	page := 1
	target := 0
	for {
		listing, err := s.fetchReleasePage(ctx, session, page)
		if err != nil {
			return anime.EpisodeRecord{}, err
		}
		if len(listing.Data) == 0 {
			return anime.EpisodeRecord{}, ErrNoEpisode
		}
		if page == 1 {
			target = targetEpisode(listing.Data[0].Number, episodeNumber)
		}
		for _, ep := range listing.Data {
			if ep.Number == target {
				return ep, nil
			}
		}
		if listing.CurrentPage >= listing.LastPage {
			return anime.EpisodeRecord{}, ErrNoEpisode
		}
		page = listing.CurrentPage + 1
	}
}

// targetEpisode maps the 1-based requested episode onto the listing's
// own numbering.
func targetEpisode(baseEpisode, requested int) int {
	return baseEpisode + requested - 1
}

func (s *Source) fetchReleasePage(ctx context.Context, session string, page int) (releasePage, error) {
	var (
		listing releasePage
		got     bool
	)
	err := s.fetcher.FetchBatch(ctx, []string{s.releaseURL(session, page)}, s.headers(), s.cfg.MaxRetries,
		func(_ context.Context, res fetch.Result) error {
			if err := json.Unmarshal(res.Body, &listing); err != nil {
				return fmt.Errorf("decode release page %d: %w", page, err)
			}
			got = true
			return nil
		})
	if err != nil {
		return releasePage{}, fmt.Errorf("release batch: %w", err)
	}
	if !got {
		return releasePage{}, fmt.Errorf("release page %d for %s unavailable: %w", page, session, ErrNoEpisode)
	}
	return listing, nil
}
