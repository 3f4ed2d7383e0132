package session

import (
	"math"
	"time"

	"prepai/internal/types"
)

// Readiness tiers by overall score.
const (
	TierElite    = "Elite Candidate"
	TierReady    = "Job Ready"
	TierTraining = "Needs Training"
)

// Report summarizes a finished session.
type Report struct {
	SessionID         string                `json:"session_id,omitempty"`
	Config            types.InterviewConfig `json:"config"`
	Turns             int                   `json:"turns"`
	AverageClarity    int                   `json:"avg_clarity"`
	AverageConfidence int                   `json:"avg_confidence"`
	TotalFillerWords  int                   `json:"total_filler_words"`
	AverageWPM        int                   `json:"avg_wpm"`
	OverallScore      int                   `json:"overall_score"`
	Tier              string                `json:"tier"`
	History           []Turn                `json:"history"`
	GeneratedAt       time.Time             `json:"generated_at"`
}

// BuildReport derives the report from a history. Missing scores and metrics
// count as zero; an empty history scores zero.
func BuildReport(history []Turn) Report {
	r := Report{
		Turns:   len(history),
		History: append([]Turn(nil), history...),
		Tier:    TierTraining,
	}
	if len(history) == 0 {
		return r
	}

	var clarity, confidence, wpm int
	for _, t := range history {
		if t.Feedback.ClarityScore != nil {
			clarity += *t.Feedback.ClarityScore
		}
		if t.Feedback.ConfidenceScore != nil {
			confidence += *t.Feedback.ConfidenceScore
		}
		if t.Metrics != nil {
			r.TotalFillerWords += t.Metrics.FillerWordCount
			wpm += t.Metrics.WordsPerMinute
		}
	}

	n := float64(len(history))
	r.AverageClarity = int(math.Round(float64(clarity) / n))
	r.AverageConfidence = int(math.Round(float64(confidence) / n))
	r.AverageWPM = int(math.Round(float64(wpm) / n))
	r.OverallScore = int(math.Round(float64(r.AverageClarity+r.AverageConfidence) / 2 * 10))
	r.Tier = TierFor(r.OverallScore)
	return r
}

// TierFor maps an overall score to its readiness tier.
func TierFor(score int) string {
	switch {
	case score >= 85:
		return TierElite
	case score >= 70:
		return TierReady
	default:
		return TierTraining
	}
}
