package operation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

// Normalized is a validated payload plus the rejection it recovered from, if any.
type Normalized struct {
	Payload         domain.Payload
	FallbackApplied bool
	Rejected        string
}

// Normalizer enforces each operation's output contract.
type Normalizer struct {
	fallbackCategory string
	responseMaxChars int
}

func NewNormalizer(fallbackCategory string, responseMaxChars int) *Normalizer {
	return &Normalizer{fallbackCategory: fallbackCategory, responseMaxChars: responseMaxChars}
}

// Category maps raw onto the canonical spelling of one allowed category.
// Anything else resolves to the fallback category.
func (n *Normalizer) Category(raw string, params domain.Parameters) (Normalized, error) {
	answer := strings.TrimSpace(stripFences(raw))
	answer = strings.TrimSpace(strings.Trim(answer, "\"'`"))
	answer = strings.TrimSpace(strings.TrimSuffix(answer, "."))

	for _, c := range params.Categories {
		if strings.EqualFold(strings.TrimSpace(c), answer) {
			return Normalized{Payload: domain.Payload{Category: c}}, nil
		}
	}
	return Normalized{
		Payload:         domain.Payload{Category: n.fallbackCategory},
		FallbackApplied: true,
		Rejected:        raw,
	}, nil
}

func (n *Normalizer) Response(raw string, _ domain.Parameters) (Normalized, error) {
	text := strings.TrimSpace(stripFences(raw))
	if text == "" {
		return Normalized{}, apperr.ValidationFailed("model returned an empty response")
	}
	if count := utf8.RuneCountInString(text); count > n.responseMaxChars {
		return Normalized{}, apperr.ValidationFailed(
			fmt.Sprintf("response of %d characters exceeds the limit of %d", count, n.responseMaxChars))
	}
	return Normalized{Payload: domain.Payload{Response: text}}, nil
}

func (n *Normalizer) Summary(raw string, _ domain.Parameters) (Normalized, error) {
	lines := nonEmptyLines(stripFences(raw))
	if len(lines) == 0 {
		return Normalized{}, apperr.ValidationFailed("model returned an empty summary")
	}
	return Normalized{Payload: domain.Payload{Summary: strings.Join(lines, "\n")}}, nil
}

// noActions is the sentinel the actions prompt asks for when nothing is due.
const noActions = "NONE"

var listMarkerPattern = regexp.MustCompile(`^(?:[-*•]|\d+[.)]|\[[ xX]?\])\s*`)

func (n *Normalizer) Actions(raw string, _ domain.Parameters) (Normalized, error) {
	lines := nonEmptyLines(stripFences(raw))
	if len(lines) == 0 {
		return Normalized{}, apperr.ValidationFailed("model returned an empty action list")
	}
	if len(lines) == 1 && strings.EqualFold(strings.Trim(lines[0], ". "), noActions) {
		return Normalized{Payload: domain.Payload{Actions: []string{}}}, nil
	}

	actions := make([]string, 0, len(lines))
	for _, line := range lines {
		if action := strings.TrimSpace(listMarkerPattern.ReplaceAllString(line, "")); action != "" {
			actions = append(actions, action)
		}
	}
	if len(actions) == 0 {
		return Normalized{}, apperr.ValidationFailed("action list has no entries")
	}
	return Normalized{Payload: domain.Payload{Actions: actions}}, nil
}

// Analysis accepts any non-empty text. A format recommendation must name at
// least one format the exporter can produce.
func (n *Normalizer) Analysis(raw string, params domain.Parameters) (Normalized, error) {
	text := strings.TrimSpace(stripFences(raw))
	if text == "" {
		return Normalized{}, apperr.ValidationFailed("model returned an empty analysis")
	}
	if params.Focus == "export" && !exportFormatPattern.MatchString(text) {
		return Normalized{}, apperr.ValidationFailed("format recommendation names no supported export format")
	}
	return Normalized{Payload: domain.Payload{Analysis: text}}, nil
}

// Export checks the artifact path reported by the exporter.
func (n *Normalizer) Export(raw string, params domain.Parameters) (Normalized, error) {
	path := strings.TrimSpace(raw)
	format := domain.NormalizeFormat(params.ExportFormat)
	if path == "" {
		return Normalized{}, apperr.ValidationFailed("exporter returned no output path")
	}
	if !domain.MatchesFormat(path, format) {
		return Normalized{}, apperr.ValidationFailed(
			fmt.Sprintf("exported file %s does not match format %s", path, format))
	}
	return Normalized{Payload: domain.Payload{Export: &domain.ExportArtifact{Format: format, OutputPath: path}}}, nil
}

var exportFormatPattern = regexp.MustCompile(`\b(?:` + strings.Join(domain.ExportFormats, "|") + `)\b`)

var fencePattern = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\n?(.*?)\\n?```\\s*$")

// stripFences removes a markdown code fence wrapping the whole answer.
func stripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
