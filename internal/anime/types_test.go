package anime

import "testing"

func TestQueryValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		query   AnimeQuery
		wantErr error
	}{
		{
			name:    "no titles",
			query:   AnimeQuery{EpisodeNumber: 1},
			wantErr: ErrNoTitle,
		},
		{
			name:    "missing episode",
			query:   AnimeQuery{Title: "Shangri-La Frontier"},
			wantErr: ErrBadEpisode,
		},
		{
			name:    "negative episode",
			query:   AnimeQuery{EnglishTitle: "Shangri-La Frontier", EpisodeNumber: -2},
			wantErr: ErrBadEpisode,
		},
		{
			name:  "valid with one title",
			query: AnimeQuery{JapaneseTitle: "シャングリラ・フロンティア", EpisodeNumber: 3},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.query.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if tc.wantErr != nil && err != tc.wantErr {
				t.Fatalf("Validate() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestQueryTitlesDeduplicates(t *testing.T) {
	t.Parallel()

	q := AnimeQuery{
		Title:         "Frieren",
		EnglishTitle:  "Frieren",
		JapaneseTitle: "葬送のフリーレン",
	}
	titles := q.Titles()
	if len(titles) != 2 {
		t.Fatalf("expected 2 distinct titles, got %v", titles)
	}
	if titles[0] != "Frieren" || titles[1] != "葬送のフリーレン" {
		t.Fatalf("unexpected title order: %v", titles)
	}
}

func TestQueryHasExternalIDs(t *testing.T) {
	t.Parallel()

	if (AnimeQuery{Title: "x", EpisodeNumber: 1}).HasExternalIDs() {
		t.Fatal("expected no external IDs")
	}
	if !(AnimeQuery{Title: "x", EpisodeNumber: 1, MALID: 52347}).HasExternalIDs() {
		t.Fatal("expected MAL ID to count as external ID")
	}
	if !(AnimeQuery{Title: "x", EpisodeNumber: 1, AniListID: 151970}).HasExternalIDs() {
		t.Fatal("expected AniList ID to count as external ID")
	}
}

func TestTaskTerminal(t *testing.T) {
	t.Parallel()

	if (Task{Status: TaskPending}).Terminal() {
		t.Fatal("pending task must not be terminal")
	}
	if !(Task{Status: TaskDone}).Terminal() || !(Task{Status: TaskError}).Terminal() {
		t.Fatal("done and error tasks must be terminal")
	}
}
