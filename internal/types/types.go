package types

// Mode selects how answers are given and evaluated.
type Mode string

const (
	ModeVerbal Mode = "verbal"
	ModeCoding Mode = "coding"
)

// Valid reports whether m is a known interview mode.
func (m Mode) Valid() bool {
	return m == ModeVerbal || m == ModeCoding
}

// InterviewConfig is the immutable configuration of one session
type InterviewConfig struct {
	Role            string `json:"role"`
	ExperienceLevel string `json:"experience"`
	FocusArea       string `json:"focus"`
	Intensity       int    `json:"intensity"`
	TurnLimit       int    `json:"turn_limit"`
	ResumeContext   string `json:"resume_context,omitempty"`
	Mode            Mode   `json:"mode"`
}

// Question is opaque content issued by the remote interviewer
type Question struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	InputFormat  string `json:"input_format,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Complete reports whether the question carries the required fields.
func (q *Question) Complete() bool {
	return q != nil && q.Title != "" && q.Description != ""
}

// TurnMetrics are the speech-quality signals of one answer
type TurnMetrics struct {
	WordsPerMinute        int     `json:"wpm"`
	FillerWordCount       int     `json:"filler_words"`
	RecognitionConfidence float64 `json:"confidence"`
	DurationSeconds       float64 `json:"duration"`
}

// Feedback is the remote evaluation of one answer. Which fields are set
// depends on the interview mode.
type Feedback struct {
	ClarityScore    *int   `json:"clarity_score,omitempty"`
	ConfidenceScore *int   `json:"confidence_score,omitempty"`
	Correctness     string `json:"correctness,omitempty"`
	TimeComplexity  string `json:"time_complexity,omitempty"`
	Commentary      string `json:"commentary"`
}

// StartSessionRequest is posted to the initiate endpoint
type StartSessionRequest struct {
	Role          string `json:"role"`
	Experience    string `json:"experience"`
	Focus         string `json:"focus"`
	Intensity     int    `json:"intensity"`
	ResumeContext string `json:"resume_context"`
	Mode          Mode   `json:"mode,omitempty"`
}

// StartSessionResponse carries the issued session id and the first question
type StartSessionResponse struct {
	SessionID string    `json:"session_id"`
	Question  *Question `json:"question"`
}

// SubmitAnswerRequest is posted to the submit endpoint
type SubmitAnswerRequest struct {
	SessionID     string       `json:"session_id"`
	AnswerText    string       `json:"answer"`
	QuestionTitle string       `json:"question_title"`
	Metrics       *TurnMetrics `json:"metrics,omitempty"`
	Mode          Mode         `json:"mode"`
}

// LegacyReview is the older submit response body still served by some
// backends.
type LegacyReview struct {
	ClarityScore      *int   `json:"clarity_score,omitempty"`
	ConfidenceScore   *int   `json:"confidence_score,omitempty"`
	TechnicalAccuracy string `json:"technical_accuracy,omitempty"`
	TimeComplexity    string `json:"time_complexity,omitempty"`
	Feedback          string `json:"feedback"`
}

// SubmitAnswerResponse accepts both the current and the legacy shape
type SubmitAnswerResponse struct {
	Success  *bool         `json:"success,omitempty"`
	Feedback *Feedback     `json:"feedback,omitempty"`
	Review   *LegacyReview `json:"review,omitempty"`
}

// Resolve normalizes the response into a Feedback value.
func (r *SubmitAnswerResponse) Resolve() (*Feedback, bool) {
	if r.Feedback != nil {
		return r.Feedback, true
	}
	if r.Review != nil {
		return &Feedback{
			ClarityScore:    r.Review.ClarityScore,
			ConfidenceScore: r.Review.ConfidenceScore,
			Correctness:     r.Review.TechnicalAccuracy,
			TimeComplexity:  r.Review.TimeComplexity,
			Commentary:      r.Review.Feedback,
		}, true
	}
	return nil, false
}

// NextQuestionRequest asks for the follow-up question. Role, experience and
// focus are repeated so a stateless backend keeps context.
type NextQuestionRequest struct {
	SessionID          string `json:"session_id"`
	PriorQuestionTitle string `json:"prior_question_title"`
	Role               string `json:"role,omitempty"`
	Experience         string `json:"experience,omitempty"`
	Focus              string `json:"focus,omitempty"`
	ResumeContext      string `json:"resume_context,omitempty"`
}

// ErrorResponse is the error body returned by the remote API and the gateway
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// Retryable is set when re-issuing the same request may succeed
	Retryable bool `json:"retryable,omitempty"`
}

// IntPtr is a small helper for optional scores.
func IntPtr(v int) *int {
	return &v
}
