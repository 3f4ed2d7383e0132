package session

import (
	"testing"

	"prepai/internal/types"
)

func turnWith(clarity, confidence *int, metrics *types.TurnMetrics) Turn {
	return Turn{
		Feedback: types.Feedback{ClarityScore: clarity, ConfidenceScore: confidence},
		Metrics:  metrics,
	}
}

func TestBuildReport(t *testing.T) {
	tests := []struct {
		name        string
		history     []Turn
		wantClarity int
		wantConf    int
		wantFillers int
		wantWPM     int
		wantScore   int
		wantTier    string
	}{
		{
			name:     "empty history",
			wantTier: TierTraining,
		},
		{
			name: "elite",
			history: []Turn{
				turnWith(types.IntPtr(9), types.IntPtr(9), &types.TurnMetrics{WordsPerMinute: 140, FillerWordCount: 1}),
				turnWith(types.IntPtr(9), types.IntPtr(8), &types.TurnMetrics{WordsPerMinute: 130, FillerWordCount: 2}),
			},
			wantClarity: 9,
			wantConf:    9, // 8.5 rounds half away from zero
			wantFillers: 3,
			wantWPM:     135,
			wantScore:   90,
			wantTier:    TierElite,
		},
		{
			name: "job ready boundary",
			history: []Turn{
				turnWith(types.IntPtr(7), types.IntPtr(7), nil),
			},
			wantClarity: 7,
			wantConf:    7,
			wantScore:   70,
			wantTier:    TierReady,
		},
		{
			name: "missing scores count as zero",
			history: []Turn{
				turnWith(types.IntPtr(8), nil, &types.TurnMetrics{WordsPerMinute: 120}),
				turnWith(nil, nil, nil),
			},
			wantClarity: 4,
			wantConf:    0,
			wantWPM:     60,
			wantScore:   20,
			wantTier:    TierTraining,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := BuildReport(tt.history)
			if r.Turns != len(tt.history) {
				t.Errorf("Turns = %d, want %d", r.Turns, len(tt.history))
			}
			if r.AverageClarity != tt.wantClarity {
				t.Errorf("AverageClarity = %d, want %d", r.AverageClarity, tt.wantClarity)
			}
			if r.AverageConfidence != tt.wantConf {
				t.Errorf("AverageConfidence = %d, want %d", r.AverageConfidence, tt.wantConf)
			}
			if r.TotalFillerWords != tt.wantFillers {
				t.Errorf("TotalFillerWords = %d, want %d", r.TotalFillerWords, tt.wantFillers)
			}
			if r.AverageWPM != tt.wantWPM {
				t.Errorf("AverageWPM = %d, want %d", r.AverageWPM, tt.wantWPM)
			}
			if r.OverallScore != tt.wantScore {
				t.Errorf("OverallScore = %d, want %d", r.OverallScore, tt.wantScore)
			}
			if r.Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", r.Tier, tt.wantTier)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, TierElite},
		{85, TierElite},
		{84, TierReady},
		{70, TierReady},
		{69, TierTraining},
		{0, TierTraining},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestBuildReportCopiesHistory(t *testing.T) {
	history := []Turn{turnWith(types.IntPtr(5), types.IntPtr(5), nil)}
	r := BuildReport(history)
	history[0].Answer = "changed"
	if r.History[0].Answer != "" {
		t.Error("report history aliases the input slice")
	}
}
