package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
)

type seqIDGen struct {
	n atomic.Int64
}

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("task-%d", g.n.Add(1)), nil
}

type fakeFinder struct {
	mu      sync.Mutex
	results []anime.SourceStreams
	block   chan struct{}
	panics  bool
	calls   int
}

func (f *fakeFinder) FindStreams(ctx context.Context, query anime.AnimeQuery) []anime.SourceStreams {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("resolver blew up")
	}
	return f.results
}

type fakeReclaimer struct {
	calls atomic.Int64
}

func (r *fakeReclaimer) Reclaim(ctx context.Context) error {
	r.calls.Add(1)
	return nil
}

func newTestOrchestrator(t *testing.T, finder StreamFinder, reclaimer Reclaimer) *Orchestrator {
	t.Helper()
	store := NewStore(newFakeClock())
	return New(Config{}, store, finder, reclaimer, &seqIDGen{}, zap.NewNop())
}

func TestSubmitRejectsInvalidQuery(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{}
	orch := newTestOrchestrator(t, finder, nil)

	_, err := orch.Submit(anime.AnimeQuery{EpisodeNumber: 1})
	require.ErrorIs(t, err, anime.ErrNoTitle)
	_, err = orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 0})
	require.ErrorIs(t, err, anime.ErrBadEpisode)

	require.Equal(t, 0, orch.store.PendingCount(), "invalid submissions create no task")
	require.Equal(t, 0, finder.calls)
}

func TestSubmitResolvesEpisodeStreams(t *testing.T) {
	t.Parallel()

	want := []anime.SourceStreams{{
		Name: "animepahe",
		Streams: []anime.StreamRecord{{
			Author:     "SubsPlease",
			URL:        "https://files.example/shangri-la-frontier-03.mp4",
			Size:       "1.1GB",
			Resolution: "1080",
			Language:   "jpn",
		}},
	}}
	finder := &fakeFinder{results: want}
	orch := newTestOrchestrator(t, finder, nil)

	id, err := orch.Submit(anime.AnimeQuery{
		EnglishTitle:  "Shangri-La Frontier",
		EpisodeNumber: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		task, err := orch.Poll(id)
		return err == nil && task.Status == anime.TaskDone
	}, 2*time.Second, 10*time.Millisecond)

	task, err := orch.Poll(id)
	require.NoError(t, err)
	require.Equal(t, want, task.Result)
	require.Empty(t, task.ErrorText)
}

func TestSubmitPendingWhileRunning(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{block: make(chan struct{})}
	orch := newTestOrchestrator(t, finder, nil)

	id, err := orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 1})
	require.NoError(t, err)

	task, err := orch.Poll(id)
	require.NoError(t, err)
	require.Equal(t, anime.TaskPending, task.Status)

	close(finder.block)
	require.Eventually(t, func() bool {
		task, err := orch.Poll(id)
		return err == nil && task.Status == anime.TaskDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollUnknownTask(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, &fakeFinder{}, nil)
	_, err := orch.Poll("nope")
	require.ErrorIs(t, err, anime.ErrTaskNotFound)
}

func TestPipelinePanicFailsTask(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{panics: true}
	orch := newTestOrchestrator(t, finder, nil)

	id, err := orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := orch.Poll(id)
		return err == nil && task.Status == anime.TaskError
	}, 2*time.Second, 10*time.Millisecond)

	task, err := orch.Poll(id)
	require.NoError(t, err)
	require.Equal(t, internalErrorText, task.ErrorText, "panic detail never reaches callers")
	require.Nil(t, task.Result)
}

func TestReclaimSkippedWhileRunActive(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{block: make(chan struct{})}
	reclaimer := &fakeReclaimer{}
	orch := newTestOrchestrator(t, finder, reclaimer)

	id, err := orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 1})
	require.NoError(t, err)

	orch.reclaimOnce(context.Background())
	require.Equal(t, int64(0), reclaimer.calls.Load(), "no reclamation while a run is active")

	close(finder.block)
	require.Eventually(t, func() bool {
		task, err := orch.Poll(id)
		return err == nil && task.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	orch.reclaimOnce(context.Background())
	require.Equal(t, int64(1), reclaimer.calls.Load())
}

func TestSubmitWaitsOutReclamation(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, &fakeFinder{}, nil)
	require.True(t, orch.gate.tryBeginReclaim())

	submitted := make(chan string)
	go func() {
		id, err := orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 1})
		require.NoError(t, err)
		submitted <- id
	}()

	select {
	case <-submitted:
		t.Fatal("submission completed during reclamation")
	case <-time.After(50 * time.Millisecond):
	}

	orch.gate.endReclaim()
	select {
	case id := <-submitted:
		require.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("submission never unblocked")
	}
}

func TestJanitorSweepsFinishedTasks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(clock)
	orch := New(Config{TaskTTL: time.Hour}, store, &fakeFinder{}, &fakeReclaimer{}, &seqIDGen{}, zap.NewNop())

	id, err := orch.Submit(anime.AnimeQuery{Title: "Frieren", EpisodeNumber: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, err := orch.Poll(id)
		return err == nil && task.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	clock.advance(2 * time.Hour)
	orch.reclaimOnce(context.Background())

	_, err = orch.Poll(id)
	require.ErrorIs(t, err, anime.ErrTaskNotFound)
}
