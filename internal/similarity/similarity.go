// Package similarity scores title strings for match confidence.
package similarity

import (
	"math"
	"regexp"
	"strings"

	"github.com/AniCorp/anime-stream-finder/internal/anime"
)

// Scorer compares a candidate title against a set of reference titles and
// returns a score in [0,1] per reference plus the maximum. Implementations
// must be deterministic.
type Scorer interface {
	Score(refs []string, candidate string) anime.Similarity
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Lexical implements Scorer with term-frequency cosine similarity.
// Build one at process start and share it by reference.
type Lexical struct{}

// NewLexical creates a Lexical scorer.
func NewLexical() *Lexical {
	return &Lexical{}
}

// Score compares candidate independently against every reference title.
// Empty references are skipped; HighestScore is the maximum over the
// non-empty comparisons, or 0 when there are none.
func (Lexical) Score(refs []string, candidate string) anime.Similarity {
	candVec := freqVector(candidate)
	sim := anime.Similarity{PerTitle: make(map[string]float64, len(refs))}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		score := cosine(freqVector(ref), candVec)
		sim.PerTitle[ref] = score
		if score > sim.HighestScore {
			sim.HighestScore = score
		}
	}
	return sim
}

func freqVector(text string) map[string]int {
	vec := make(map[string]int)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		vec[word]++
	}
	return vec
}

func cosine(a, b map[string]int) float64 {
	var dot, magA, magB float64
	for word, count := range a {
		magA += float64(count * count)
		if other, ok := b[word]; ok {
			dot += float64(count * other)
		}
	}
	for _, count := range b {
		magB += float64(count * count)
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
