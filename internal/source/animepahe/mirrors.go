package animepahe

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
)

// Mirror entries are labeled "<author> · <resolution> (<size>)"; the
// language tag lives in a separate badge element inside the anchor.
var mirrorLabelPattern = regexp.MustCompile(`^(.+?)\s*·\s*(\S+)\s*\((.+)\)`)

const (
	downloadContainerSelector = "#pickDownload"
	defaultAudioLanguage      = "jpn"
)

func (s *Source) playURL(animeSession, episodeSession string) string {
	return fmt.Sprintf("%s/play/%s/%s", s.cfg.BaseURL, animeSession, episodeSession)
}

// extractMirrors renders the episode playback page, waits for the
// download-options container to appear, and parses one DownloadMirror
// per offered entry.
func (s *Source) extractMirrors(
	ctx context.Context,
	animeSession, episodeSession string,
) ([]*anime.DownloadMirror, error) {
	var mirrors []*anime.DownloadMirror
	target := s.playURL(animeSession, episodeSession)

	err := s.fetcher.RenderBatch(ctx, []string{target}, s.headers(), s.cfg.MaxRetries,
		func(_ context.Context, page fetch.Page) error {
			if err := page.WaitVisible(downloadContainerSelector); err != nil {
				return err
			}
			html, err := page.HTML(downloadContainerSelector)
			if err != nil {
				return err
			}
			parsed, err := parseMirrors(html)
			if err != nil {
				return err
			}
			mirrors = parsed
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("play page batch: %w", err)
	}
	if len(mirrors) == 0 {
		return nil, ErrNoMirrors
	}
	s.logger.Debug("mirrors extracted", zap.Int("count", len(mirrors)))
	return mirrors, nil
}

func parseMirrors(html string) ([]*anime.DownloadMirror, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse download container: %w", err)
	}

	var mirrors []*anime.DownloadMirror
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		language := strings.TrimSpace(sel.Find("span.badge").Text())
		if language == "" {
			language = defaultAudioLanguage
		}
		// Drop the badge text before matching the structured label.
		label := sel.Clone()
		label.Find("span.badge").Remove()
		m := mirrorLabelPattern.FindStringSubmatch(strings.TrimSpace(label.Text()))
		if m == nil {
			return
		}
		mirrors = append(mirrors, &anime.DownloadMirror{
			Author:     strings.TrimSpace(m[1]),
			Resolution: m[2],
			Size:       strings.TrimSpace(m[3]),
			Language:   language,
			Link:       anime.MirrorLink{Stage: anime.LinkStageMirror, URL: href},
		})
	})
	return mirrors, nil
}
