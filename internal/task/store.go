// Package task tracks asynchronous resolution work: an in-memory task
// table with single terminal transitions, an orchestrator that runs the
// dispatcher pipeline, and a janitor that reclaims substrate storage
// between runs.
package task

import (
	"sort"
	"sync"
	"time"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
)

// Store is the process-wide task table. Each task's status is written
// exactly once at its terminal transition; reads are idempotent.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]anime.Task
	clock anime.Clock
}

// NewStore constructs a Store.
func NewStore(clock anime.Clock) *Store {
	return &Store{
		tasks: make(map[string]anime.Task),
		clock: clock,
	}
}

// Create registers a new pending task.
func (s *Store) Create(id string, query anime.AnimeQuery) anime.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := anime.Task{
		ID:        id,
		Status:    anime.TaskPending,
		Query:     query,
		Submitted: s.clock.Now(),
	}
	s.tasks[id] = t
	return t
}

// Complete moves a pending task to done with its result payload.
func (s *Store) Complete(id string, result []anime.SourceStreams) error {
	return s.finalize(id, func(t *anime.Task) {
		t.Status = anime.TaskDone
		t.Result = result
	})
}

// Fail moves a pending task to error with a caller-safe message.
func (s *Store) Fail(id, message string) error {
	return s.finalize(id, func(t *anime.Task) {
		t.Status = anime.TaskError
		t.ErrorText = message
	})
}

func (s *Store) finalize(id string, apply func(*anime.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return anime.ErrTaskNotFound
	}
	if t.Terminal() {
		return anime.ErrTaskFinalized
	}
	apply(&t)
	now := s.clock.Now()
	t.Finished = &now
	s.tasks[id] = t
	return nil
}

// Get returns a snapshot of the task.
func (s *Store) Get(id string) (anime.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return anime.Task{}, anime.ErrTaskNotFound
	}
	return t, nil
}

// PendingCount returns how many tasks have not reached a terminal state.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if !t.Terminal() {
			n++
		}
	}
	return n
}

// Sweep evicts terminal tasks older than ttl, then enforces maxEntries
// by dropping the oldest terminal tasks. Pending tasks are never
// evicted. Returns the number of evicted tasks.
func (s *Store) Sweep(ttl time.Duration, maxEntries int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	evicted := 0
	for id, t := range s.tasks {
		if t.Terminal() && t.Finished != nil && now.Sub(*t.Finished) > ttl {
			delete(s.tasks, id)
			evicted++
		}
	}

	if maxEntries <= 0 || len(s.tasks) <= maxEntries {
		return evicted
	}

	type aged struct {
		id       string
		finished time.Time
	}
	var terminal []aged
	for id, t := range s.tasks {
		if t.Terminal() && t.Finished != nil {
			terminal = append(terminal, aged{id: id, finished: *t.Finished})
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].finished.Before(terminal[j].finished)
	})
	for _, entry := range terminal {
		if len(s.tasks) <= maxEntries {
			break
		}
		delete(s.tasks, entry.id)
		evicted++
	}
	return evicted
}
