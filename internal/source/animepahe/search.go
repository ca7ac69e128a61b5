package animepahe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
)

type searchResponse struct {
	Data []searchItem `json:"data"`
}

type searchItem struct {
	Title    string `json:"title"`
	Type     string `json:"type"`
	Episodes int    `json:"episodes"`
	Status   string `json:"status"`
	Season   string `json:"season"`
	Year     int    `json:"year"`
	Poster   string `json:"poster"`
	Session  string `json:"session"`
}

func (s *Source) searchURL(title string) string {
	return s.apiURL(url.Values{"m": {"search"}, "q": {title}})
}

// search issues one query per title variant concurrently, merges all
// result lists, and deduplicates by session id (first occurrence wins).
func (s *Source) search(ctx context.Context, titles []string) ([]anime.Candidate, error) {
	urls := make([]string, 0, len(titles))
	for _, title := range titles {
		urls = append(urls, s.searchURL(title))
	}

	var (
		mu     sync.Mutex
		merged []anime.Candidate
	)
	err := s.fetcher.FetchBatch(ctx, urls, s.headers(), s.cfg.MaxRetries, func(_ context.Context, res fetch.Result) error {
		var parsed searchResponse
		if err := json.Unmarshal(res.Body, &parsed); err != nil {
			return fmt.Errorf("decode search response from %s: %w", res.URL, err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, item := range parsed.Data {
			merged = append(merged, anime.Candidate{
				SessionID: item.Session,
				Title:     item.Title,
				Type:      item.Type,
				Episodes:  item.Episodes,
				Status:    item.Status,
				Season:    item.Season,
				Year:      item.Year,
				Poster:    item.Poster,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search batch: %w", err)
	}
	return dedupeBySession(merged), nil
}

// dedupeBySession keeps the first occurrence of each session id.
func dedupeBySession(candidates []anime.Candidate) []anime.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := seen[c.SessionID]; ok {
			continue
		}
		seen[c.SessionID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// attachScores runs the similarity scorer for every candidate against
// the full set of query titles. Each candidate is scored exactly once.
func (s *Source) attachScores(titles []string, candidates []anime.Candidate) {
	for i := range candidates {
		candidates[i].Similarity = s.scorer.Score(titles, candidates[i].Title)
	}
}

// filterByMean retains candidates whose highest score is at or above the
// arithmetic mean across all scored candidates. The adaptive threshold
// keeps a lone candidate unconditionally.
func filterByMean(candidates []anime.Candidate) []anime.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Similarity.HighestScore
	}
	mean := sum / float64(len(candidates))

	out := candidates[:0:0]
	for _, c := range candidates {
		if c.Similarity.HighestScore >= mean {
			out = append(out, c)
		}
	}
	return out
}

// bySimilarityDesc orders candidates by highest score, best first.
// Sorting is stable so merge order breaks ties.
func bySimilarityDesc(candidates []anime.Candidate) []anime.Candidate {
	out := append([]anime.Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity.HighestScore > out[j].Similarity.HighestScore
	})
	return out
}
