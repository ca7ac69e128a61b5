// Package anime defines core types shared across subsystems.
package anime

import (
	"context"
	"errors"
	"time"
)

// AnimeQuery is the logical request: which series, which episode.
// At least one title variant must be present. Immutable once created.
type AnimeQuery struct {
	Title         string `json:"title,omitempty"`
	EnglishTitle  string `json:"english_title,omitempty"`
	JapaneseTitle string `json:"japanese_title,omitempty"`
	EpisodeNumber int    `json:"episode_number"`
	MALID         int    `json:"mal_id,omitempty"`
	AniListID     int    `json:"anilist_id,omitempty"`
}

// Validation errors surfaced synchronously by Submit.
var (
	ErrNoTitle       = errors.New("at least one anime title must be provided")
	ErrBadEpisode    = errors.New("episode_number must be a positive integer")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskFinalized = errors.New("task already in a terminal state")
)

// Validate checks the query before any task is created.
func (q AnimeQuery) Validate() error {
	if len(q.Titles()) == 0 {
		return ErrNoTitle
	}
	if q.EpisodeNumber <= 0 {
		return ErrBadEpisode
	}
	return nil
}

// Titles returns the non-empty title variants, deduplicated, original first.
func (q AnimeQuery) Titles() []string {
	var titles []string
	seen := make(map[string]struct{}, 3)
	for _, t := range []string{q.Title, q.EnglishTitle, q.JapaneseTitle} {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		titles = append(titles, t)
	}
	return titles
}

// HasExternalIDs reports whether the query carries cross-reference IDs
// usable for identity confirmation.
func (q AnimeQuery) HasExternalIDs() bool {
	return q.MALID != 0 || q.AniListID != 0
}

// Similarity records how well a candidate title matched the query titles.
type Similarity struct {
	HighestScore float64            `json:"highest_score"`
	PerTitle     map[string]float64 `json:"per_title,omitempty"`
}

// Candidate is one search-result entry, before identity confirmation.
type Candidate struct {
	SessionID  string     `json:"session_id"`
	Title      string     `json:"title"`
	Type       string     `json:"type,omitempty"`
	Episodes   int        `json:"episodes,omitempty"`
	Status     string     `json:"status,omitempty"`
	Season     string     `json:"season,omitempty"`
	Year       int        `json:"year,omitempty"`
	Poster     string     `json:"poster,omitempty"`
	Similarity Similarity `json:"similarity"`
}

// ConfirmedAnime is a candidate whose identity has been confirmed, together
// with the detail record fetched during confirmation.
type ConfirmedAnime struct {
	Candidate
	Genres    []string `json:"genres,omitempty"`
	Synopsis  string   `json:"synopsis,omitempty"`
	MALID     int      `json:"mal_id,omitempty"`
	AniListID int      `json:"anilist_id,omitempty"`
}

// EpisodeRecord is one entry in a source's ascending episode listing.
type EpisodeRecord struct {
	Number  int    `json:"episode"`
	Session string `json:"session"`
}

// LinkStage tags how far down the redirect chain a mirror link has been
// resolved, so each pipeline stage's output is checkable instead of a
// single URL field being silently overwritten.
type LinkStage int

const (
	// LinkStageMirror is the raw href scraped from the playback page.
	LinkStageMirror LinkStage = iota
	// LinkStageIntermediate is the token-page URL recovered from the
	// mirror page's embedded script.
	LinkStageIntermediate
	// LinkStageFinal is the directly playable media URL.
	LinkStageFinal
)

// MirrorLink is a URL tagged with its resolution stage.
type MirrorLink struct {
	Stage LinkStage `json:"stage"`
	URL   string    `json:"url"`
}

// DownloadMirror is one offered download/stream option for an episode.
type DownloadMirror struct {
	Author     string     `json:"author"`
	Resolution string     `json:"resolution"`
	Size       string     `json:"size"`
	Language   string     `json:"language"`
	Link       MirrorLink `json:"link"`
}

// StreamRecord is the final, resolved output for one mirror.
type StreamRecord struct {
	Author     string `json:"author"`
	URL        string `json:"url"`
	Size       string `json:"size"`
	Resolution string `json:"resolution"`
	Language   string `json:"language"`
}

// SourceResult is what a single source's resolver produces on success.
type SourceResult struct {
	Anime   ConfirmedAnime `json:"anime"`
	Streams []StreamRecord `json:"streams"`
}

// SourceStreams is one source's contribution to the aggregate answer.
// A failed or aborted source contributes an empty stream list.
type SourceStreams struct {
	Name    string         `json:"name"`
	Streams []StreamRecord `json:"streams"`
}

// Source resolves a query against one streaming site.
type Source interface {
	Name() string
	Resolve(ctx context.Context, query AnimeQuery) (*SourceResult, error)
}

// TaskStatus is the lifecycle state of a resolution task.
type TaskStatus string

// Task status values. A task moves from pending to exactly one terminal
// state and never regresses.
const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// Task is the unit of asynchronous work polled by the caller.
type Task struct {
	ID        string          `json:"id"`
	Status    TaskStatus      `json:"status"`
	Query     AnimeQuery      `json:"query"`
	Result    []SourceStreams `json:"result,omitempty"`
	ErrorText string          `json:"error,omitempty"`
	Submitted time.Time       `json:"submitted_at"`
	Finished  *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has reached done or error.
func (t Task) Terminal() bool {
	return t.Status == TaskDone || t.Status == TaskError
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
