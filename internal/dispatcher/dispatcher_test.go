package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
)

type stubSource struct {
	name    string
	result  *anime.SourceResult
	err     error
	panicky bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Resolve(context.Context, anime.AnimeQuery) (*anime.SourceResult, error) {
	if s.panicky {
		panic("resolver blew up")
	}
	return s.result, s.err
}

func TestFindStreamsAggregatesAllSources(t *testing.T) {
	t.Parallel()

	streams := []anime.StreamRecord{{Author: "SubsPlease", URL: "https://files.example.net/v.mp4", Resolution: "720p", Language: "jpn"}}
	d := New(zap.NewNop(),
		&stubSource{name: "alpha", result: &anime.SourceResult{Streams: streams}},
		&stubSource{name: "beta", result: &anime.SourceResult{}},
	)

	got := d.FindStreams(context.Background(), anime.AnimeQuery{Title: "x", EpisodeNumber: 1})
	require.Len(t, got, 2)
	require.Equal(t, "alpha", got[0].Name)
	require.Equal(t, streams, got[0].Streams)
	require.Equal(t, "beta", got[1].Name)
	require.Empty(t, got[1].Streams)
	require.NotNil(t, got[1].Streams, "a source with no streams still contributes an empty list")
}

func TestFindStreamsIsolatesFailures(t *testing.T) {
	t.Parallel()

	streams := []anime.StreamRecord{{Author: "ok", URL: "https://files.example.net/v.mp4"}}
	d := New(zap.NewNop(),
		&stubSource{name: "erroring", err: errors.New("site unreachable")},
		&stubSource{name: "panicking", panicky: true},
		&stubSource{name: "healthy", result: &anime.SourceResult{Streams: streams}},
	)

	got := d.FindStreams(context.Background(), anime.AnimeQuery{Title: "x", EpisodeNumber: 1})
	require.Len(t, got, 3)
	require.Empty(t, got[0].Streams)
	require.Empty(t, got[1].Streams)
	require.Equal(t, streams, got[2].Streams, "healthy source unaffected by failing siblings")
}

func TestFindStreamsNoSources(t *testing.T) {
	t.Parallel()

	d := New(zap.NewNop())
	got := d.FindStreams(context.Background(), anime.AnimeQuery{Title: "x", EpisodeNumber: 1})
	require.Empty(t, got)
}
