package formatters

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"prepai/internal/session"
	"prepai/internal/types"

	"gopkg.in/yaml.v3"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(data any) (string, error)
	SupportedType() string
}

// FormatterRegistry manages all available formatters
type FormatterRegistry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// NewFormatterRegistry creates a new formatter registry with default formatters
func NewFormatterRegistry() *FormatterRegistry {
	registry := &FormatterRegistry{
		formatters: make(map[string]map[string]Formatter),
	}

	registry.RegisterFormatter("json", "any", &JSONFormatter{})
	registry.RegisterFormatter("yaml", "any", &YAMLFormatter{})
	registry.RegisterFormatter("text", "Report", &ReportTextFormatter{})
	registry.RegisterFormatter("markdown", "Report", &ReportMarkdownFormatter{})

	return registry
}

// RegisterFormatter registers a new formatter for a specific format and data type
func (fr *FormatterRegistry) RegisterFormatter(format, dataType string, formatter Formatter) {
	if fr.formatters[format] == nil {
		fr.formatters[format] = make(map[string]Formatter)
	}
	fr.formatters[format][dataType] = formatter
}

// Format formats data using the appropriate formatter
func (fr *FormatterRegistry) Format(data any, format string) (string, error) {
	dataType := getDataType(data)

	if formatters, exists := fr.formatters[format]; exists {
		if formatter, exists := formatters[dataType]; exists {
			return formatter.Format(data)
		}
		if formatter, exists := formatters["any"]; exists {
			return formatter.Format(data)
		}
	}

	return "", fmt.Errorf("no formatter found for format '%s' and type '%s'", format, dataType)
}

// GetSupportedFormats returns all supported formats in sorted order
func (fr *FormatterRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(fr.formatters))
	for format := range fr.formatters {
		formats = append(formats, format)
	}
	slices.Sort(formats)
	return formats
}

// ContentType returns the HTTP content type of a format.
func ContentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml":
		return "application/yaml"
	case "markdown":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func getDataType(data any) string {
	switch data.(type) {
	case session.Report, *session.Report:
		return "Report"
	default:
		return "any"
	}
}

func asReport(data any) (session.Report, error) {
	switch r := data.(type) {
	case session.Report:
		return r, nil
	case *session.Report:
		if r != nil {
			return *r, nil
		}
	}
	return session.Report{}, fmt.Errorf("expected Report, got %T", data)
}

// JSONFormatter handles JSON formatting for any data type
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

func (jf *JSONFormatter) SupportedType() string {
	return "any"
}

// YAMLFormatter renders any value as block-style YAML. Field names follow the
// JSON tags so both formats use the same keys.
type YAMLFormatter struct{}

func (yf *YAMLFormatter) Format(data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	// JSON is valid YAML; parsing it into a node keeps key order.
	var node yaml.Node
	if err := yaml.Unmarshal(jsonData, &node); err != nil {
		return "", fmt.Errorf("failed to convert to YAML: %w", err)
	}
	resetStyle(&node)

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (yf *YAMLFormatter) SupportedType() string {
	return "any"
}

// resetStyle switches flow mappings and quoted scalars back to the default
// block style.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		resetStyle(child)
	}
}

// ReportTextFormatter handles text formatting for session reports
type ReportTextFormatter struct{}

func (rtf *ReportTextFormatter) Format(data any) (string, error) {
	r, err := asReport(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder

	output.WriteString("=== INTERVIEW REPORT ===\n\n")
	if r.Config.Role != "" {
		output.WriteString(fmt.Sprintf("Role: %s (%s)\n", r.Config.Role, r.Config.ExperienceLevel))
	}
	if r.Config.FocusArea != "" {
		output.WriteString(fmt.Sprintf("Focus: %s\n", r.Config.FocusArea))
	}
	output.WriteString(fmt.Sprintf("Questions answered: %d\n\n", r.Turns))

	output.WriteString(fmt.Sprintf("Overall score: %d/100\n", r.OverallScore))
	output.WriteString(fmt.Sprintf("Readiness: %s\n\n", r.Tier))

	output.WriteString("=== AVERAGES ===\n")
	output.WriteString(fmt.Sprintf("Clarity: %d/10\n", r.AverageClarity))
	output.WriteString(fmt.Sprintf("Confidence: %d/10\n", r.AverageConfidence))
	if r.Config.Mode != types.ModeCoding {
		output.WriteString(fmt.Sprintf("Speaking pace: %d wpm\n", r.AverageWPM))
		output.WriteString(fmt.Sprintf("Filler words: %d\n", r.TotalFillerWords))
	}

	for _, turn := range r.History {
		output.WriteString(fmt.Sprintf("\n=== QUESTION %d: %s ===\n", turn.Index, turn.Question.Title))
		output.WriteString("Answer:\n")
		output.WriteString(turn.Answer)
		output.WriteString("\n\n")
		output.WriteString(fmt.Sprintf("Scores: %s\n", scoreLine(turn.Feedback)))
		if turn.Feedback.Correctness != "" {
			output.WriteString(fmt.Sprintf("Correctness: %s\n", turn.Feedback.Correctness))
		}
		if turn.Feedback.TimeComplexity != "" {
			output.WriteString(fmt.Sprintf("Time complexity: %s\n", turn.Feedback.TimeComplexity))
		}
		if turn.Metrics != nil {
			output.WriteString(fmt.Sprintf("Delivery: %d wpm, %d filler words\n", turn.Metrics.WordsPerMinute, turn.Metrics.FillerWordCount))
		}
		if turn.Feedback.Commentary != "" {
			output.WriteString("Feedback:\n")
			output.WriteString(turn.Feedback.Commentary)
			output.WriteString("\n")
		}
	}

	return output.String(), nil
}

func (rtf *ReportTextFormatter) SupportedType() string {
	return "Report"
}

// ReportMarkdownFormatter handles markdown formatting for session reports
type ReportMarkdownFormatter struct{}

func (rmf *ReportMarkdownFormatter) Format(data any) (string, error) {
	r, err := asReport(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder

	output.WriteString("# Interview Report\n\n")
	if r.Config.Role != "" {
		output.WriteString(fmt.Sprintf("**Role:** %s (%s)  \n", r.Config.Role, r.Config.ExperienceLevel))
	}
	if r.Config.FocusArea != "" {
		output.WriteString(fmt.Sprintf("**Focus:** %s  \n", r.Config.FocusArea))
	}
	output.WriteString(fmt.Sprintf("**Questions answered:** %d\n\n", r.Turns))

	output.WriteString(fmt.Sprintf("## %s: %d/100\n\n", r.Tier, r.OverallScore))

	output.WriteString("| Metric | Value |\n")
	output.WriteString("|---|---|\n")
	output.WriteString(fmt.Sprintf("| Clarity | %d/10 |\n", r.AverageClarity))
	output.WriteString(fmt.Sprintf("| Confidence | %d/10 |\n", r.AverageConfidence))
	if r.Config.Mode != types.ModeCoding {
		output.WriteString(fmt.Sprintf("| Speaking pace | %d wpm |\n", r.AverageWPM))
		output.WriteString(fmt.Sprintf("| Filler words | %d |\n", r.TotalFillerWords))
	}

	for _, turn := range r.History {
		output.WriteString(fmt.Sprintf("\n## Question %d: %s\n\n", turn.Index, turn.Question.Title))
		if turn.Question.Description != "" {
			output.WriteString(fmt.Sprintf("> %s\n\n", turn.Question.Description))
		}
		output.WriteString("### Answer\n")
		output.WriteString(turn.Answer)
		output.WriteString("\n\n")
		output.WriteString(fmt.Sprintf("**Scores:** %s\n", scoreLine(turn.Feedback)))
		if turn.Feedback.Correctness != "" {
			output.WriteString(fmt.Sprintf("**Correctness:** %s\n", turn.Feedback.Correctness))
		}
		if turn.Feedback.TimeComplexity != "" {
			output.WriteString(fmt.Sprintf("**Time complexity:** `%s`\n", turn.Feedback.TimeComplexity))
		}
		if turn.Feedback.Commentary != "" {
			output.WriteString("\n### Feedback\n")
			output.WriteString(turn.Feedback.Commentary)
			output.WriteString("\n")
		}
	}

	return output.String(), nil
}

func (rmf *ReportMarkdownFormatter) SupportedType() string {
	return "Report"
}

func scoreLine(fb types.Feedback) string {
	return fmt.Sprintf("clarity %s, confidence %s", scoreText(fb.ClarityScore), scoreText(fb.ConfidenceScore))
}

func scoreText(score *int) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d/10", *score)
}
