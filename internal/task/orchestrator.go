package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
	"github.com/AniCorp/anime-stream-finder/internal/metrics"
)

// internalErrorText is what callers see for any unexpected pipeline
// failure; internal detail stays in the logs.
const internalErrorText = "internal error during resolution"

// StreamFinder is the dispatcher capability the orchestrator drives.
type StreamFinder interface {
	FindStreams(ctx context.Context, query anime.AnimeQuery) []anime.SourceStreams
}

// Reclaimer releases ephemeral crawling-substrate storage between runs.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// Config controls orchestrator behavior.
type Config struct {
	RunTimeout      time.Duration
	TaskTTL         time.Duration
	MaxTasks        int
	ReclaimInterval time.Duration
}

// Orchestrator accepts queries, runs the dispatcher asynchronously, and
// exposes poll-based status.
type Orchestrator struct {
	cfg       Config
	store     *Store
	finder    StreamFinder
	reclaimer Reclaimer
	idGen     anime.IDGenerator
	gate      *gate
	logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(
	cfg Config,
	store *Store,
	finder StreamFinder,
	reclaimer Reclaimer,
	idGen anime.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.TaskTTL == 0 {
		cfg.TaskTTL = time.Hour
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = 10 * time.Minute
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		finder:    finder,
		reclaimer: reclaimer,
		idGen:     idGen,
		gate:      newGate(),
		logger:    logger,
	}
}

// Submit validates the query, creates a pending task, and starts the
// pipeline without blocking the caller. Validation failures are
// returned synchronously and create no task. A submission arriving
// during a reclamation pass waits for the pass to finish.
func (o *Orchestrator) Submit(query anime.AnimeQuery) (string, error) {
	if err := query.Validate(); err != nil {
		return "", err
	}
	id, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}

	o.gate.enter()
	o.store.Create(id, query)
	metrics.TaskSubmitted()
	o.logger.Info("task submitted",
		zap.String("task_id", id),
		zap.Int("episode", query.EpisodeNumber),
	)

	go o.run(id, query)
	return id, nil
}

// Poll returns the task snapshot: pending while running, the terminal
// payload once finished, anime.ErrTaskNotFound for unknown ids.
func (o *Orchestrator) Poll(id string) (anime.Task, error) {
	return o.store.Get(id)
}

// run executes one pipeline under the run timeout; it owns the task's
// single terminal transition.
func (o *Orchestrator) run(id string, query anime.AnimeQuery) {
	defer o.gate.leave()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("pipeline panicked",
				zap.String("task_id", id),
				zap.Any("panic", rec),
			)
			o.failTask(id)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RunTimeout)
	defer cancel()

	results := o.finder.FindStreams(ctx, query)
	if err := ctx.Err(); err != nil {
		o.logger.Warn("pipeline timed out", zap.String("task_id", id), zap.Error(err))
		o.failTask(id)
		return
	}

	if err := o.store.Complete(id, results); err != nil {
		o.logger.Error("complete task failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	metrics.TaskFinished(string(anime.TaskDone), time.Since(start))
	o.logger.Info("task done",
		zap.String("task_id", id),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (o *Orchestrator) failTask(id string) {
	if err := o.store.Fail(id, internalErrorText); err != nil {
		o.logger.Error("fail task failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	metrics.TaskFinished(string(anime.TaskError), 0)
}

// RunJanitor periodically reclaims substrate storage and sweeps expired
// tasks, serialized against active runs. Blocks until ctx ends.
func (o *Orchestrator) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reclaimOnce(ctx)
		}
	}
}

func (o *Orchestrator) reclaimOnce(ctx context.Context) {
	if !o.gate.tryBeginReclaim() {
		o.logger.Debug("reclamation skipped, runs active")
		return
	}
	defer o.gate.endReclaim()

	if o.reclaimer != nil {
		if err := o.reclaimer.Reclaim(ctx); err != nil {
			o.logger.Error("substrate reclamation failed", zap.Error(err))
		}
	}
	if evicted := o.store.Sweep(o.cfg.TaskTTL, o.cfg.MaxTasks); evicted > 0 {
		o.logger.Info("swept finished tasks", zap.Int("evicted", evicted))
	}
}
