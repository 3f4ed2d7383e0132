// Package analysis derives speech-quality signals from a transcript and the
// time it took to say it. Everything here is pure and deterministic.
package analysis

import (
	"math"
	"strings"
	"time"
	"unicode"

	"prepai/internal/types"
)

// fillerPhrases is ordered longest first so multi-word fillers win over a
// single-word prefix at the same position.
var fillerPhrases = [][]string{
	{"you", "know"},
	{"sort", "of"},
	{"um"},
	{"uh"},
	{"like"},
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ComputeRate returns words per minute rounded to the nearest integer. It is 0
// when there is no text or no positive duration.
func ComputeRate(text string, durationSeconds float64) int {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) {
		return 0
	}
	words := WordCount(text)
	if words == 0 {
		return 0
	}
	return int(math.Round(float64(words) / durationSeconds * 60))
}

// CountFillers counts filler words and phrases case-insensitively. Matches are
// whole words and never overlap.
func CountFillers(text string) int {
	tokens := tokenize(text)
	count := 0
	for i := 0; i < len(tokens); {
		n := matchFiller(tokens[i:])
		if n > 0 {
			count++
			i += n
			continue
		}
		i++
	}
	return count
}

func matchFiller(tokens []string) int {
	for _, phrase := range fillerPhrases {
		if len(phrase) > len(tokens) {
			continue
		}
		matched := true
		for j, word := range phrase {
			if tokens[j] != word {
				matched = false
				break
			}
		}
		if matched {
			return len(phrase)
		}
	}
	return 0
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or apostrophe, so "Um," and "um" compare equal.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Measure builds the metrics for one answer.
func Measure(text string, duration time.Duration, confidence float64) types.TurnMetrics {
	seconds := duration.Seconds()
	return types.TurnMetrics{
		WordsPerMinute:        ComputeRate(text, seconds),
		FillerWordCount:       CountFillers(text),
		RecognitionConfidence: confidence,
		DurationSeconds:       math.Round(seconds*100) / 100,
	}
}
