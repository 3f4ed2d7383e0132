package analysis

import (
	"testing"
	"time"
)

func TestComputeRate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		duration float64
		want     int
	}{
		{"four words in two seconds", "one two three four", 2, 120},
		{"empty text", "", 5, 0},
		{"zero duration", "word", 0, 0},
		{"negative duration", "word", -3, 0},
		{"whitespace only", "   \t\n", 10, 0},
		{"rounds to nearest", "a b c", 7, 26},
		{"extra spacing ignored", "  one   two  ", 60, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeRate(tt.text, tt.duration); got != tt.want {
				t.Errorf("ComputeRate(%q, %v) = %d, want %d", tt.text, tt.duration, got, tt.want)
			}
		})
	}
}

func TestCountFillers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"mixed punctuation", "Um, I think, like, this is uh fine", 3},
		{"empty", "", 0},
		{"phrases", "You know, it was sort of hard", 2},
		{"case insensitive", "UM UH Like", 3},
		{"whole words only", "umbrella likely uhh unlike", 0},
		{"no overlap between phrases", "sort of like you know", 3},
		{"partial phrase does not count", "you should know sort", 0},
		{"repeated", "um um um", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountFillers(tt.text); got != tt.want {
				t.Errorf("CountFillers(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountFillersDeterministic(t *testing.T) {
	text := "so um you know I was like uh sort of thinking"
	first := CountFillers(text)
	for range 10 {
		if got := CountFillers(text); got != first {
			t.Fatalf("Expected deterministic result %d, got %d", first, got)
		}
	}
}

func TestMeasure(t *testing.T) {
	m := Measure("um one two three", 2*time.Second, 0.87)

	if m.WordsPerMinute != 120 {
		t.Errorf("Expected 120 wpm, got %d", m.WordsPerMinute)
	}
	if m.FillerWordCount != 1 {
		t.Errorf("Expected 1 filler, got %d", m.FillerWordCount)
	}
	if m.RecognitionConfidence != 0.87 {
		t.Errorf("Expected confidence 0.87, got %v", m.RecognitionConfidence)
	}
	if m.DurationSeconds != 2 {
		t.Errorf("Expected 2 seconds, got %v", m.DurationSeconds)
	}
}
