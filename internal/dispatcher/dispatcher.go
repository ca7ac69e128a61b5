// Package dispatcher fans a query out across all registered sources.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/metrics"
)

// Dispatcher runs every registered source concurrently for one query.
// Outcomes are isolated per source: a panic, error, or aborted pipeline
// in one source is logged and contributes an empty stream list, never
// blocking the others.
type Dispatcher struct {
	sources []anime.Source
	logger  *zap.Logger
}

// New creates a Dispatcher over the given sources.
func New(logger *zap.Logger, sources ...anime.Source) *Dispatcher {
	return &Dispatcher{
		sources: sources,
		logger:  logger,
	}
}

// FindStreams resolves the query against all sources and returns one
// entry per source, in registration order.
func (d *Dispatcher) FindStreams(ctx context.Context, query anime.AnimeQuery) []anime.SourceStreams {
	results := make([]anime.SourceStreams, len(d.sources))

	var wg sync.WaitGroup
	for i, src := range d.sources {
		wg.Add(1)
		go func(i int, src anime.Source) {
			defer wg.Done()
			results[i] = d.resolveOne(ctx, src, query)
		}(i, src)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) resolveOne(
	ctx context.Context,
	src anime.Source,
	query anime.AnimeQuery,
) (out anime.SourceStreams) {
	out = anime.SourceStreams{Name: src.Name(), Streams: []anime.StreamRecord{}}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("source panicked",
				zap.String("source", src.Name()),
				zap.Any("panic", rec),
			)
			out.Streams = []anime.StreamRecord{}
		}
	}()

	result, err := src.Resolve(ctx, query)
	if err != nil {
		d.logger.Warn("source resolution failed",
			zap.String("source", src.Name()),
			zap.Error(err),
		)
		return out
	}
	if result == nil || result.Streams == nil {
		return out
	}
	out.Streams = result.Streams
	metrics.SourceResolved(src.Name(), len(out.Streams))
	return out
}
