package operation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"assist_worker/core/domain"
)

// TruncationMarker is appended to content cut at the configured length.
// Arguments: characters kept, characters in the untruncated content.
const TruncationMarker = "\n[content truncated: first %d of %d characters shown]"

// TonePresets maps a tone name to the instruction embedded in reply prompts.
var TonePresets = map[string]string{
	"professional": "Write in a professional, courteous business tone.",
	"friendly":     "Write in a warm, friendly and approachable tone.",
	"formal":       "Write in a formal tone suited to official correspondence.",
	"casual":       "Write in a relaxed, conversational tone.",
	"concise":      "Write as briefly as possible while still answering every point.",
}

// AnalysisFocus maps a focus name to the guidance embedded in analysis prompts.
var AnalysisFocus = map[string]string{
	"general":       "Give a balanced overview of the part: purpose, key features and notable properties.",
	"design":        "Focus on design quality: feature structure, dimensional intent and possible simplifications.",
	"manufacturing": "Focus on manufacturability: processes, tolerances, material choice and cost drivers.",
	"performance":   "Focus on performance: mass, strength considerations and weak points under load.",
	"export":        "Recommend the export format best suited to the use case, with export settings, alternatives and compatibility notes. Name the recommended format on the first line.",
	"troubleshoot":  "Diagnose the conversion error: likely root cause, fixes to try first, workarounds through other formats and how to prevent it.",
}

// focusLabels name the free-text instructions for focuses that require them.
var focusLabels = map[string]string{
	"export":       "Use case: ",
	"troubleshoot": "Conversion error: ",
}

// Prompt is the text sent to the inference stage for one item.
type Prompt struct {
	Text      string
	Truncated bool
}

// PromptBuilder renders deterministic prompts. It holds no state besides the
// content limit, so one instance is shared by every batch.
type PromptBuilder struct {
	maxContentChars int
}

func NewPromptBuilder(maxContentChars int) *PromptBuilder {
	return &PromptBuilder{maxContentChars: maxContentChars}
}

func (b *PromptBuilder) Categorize(item *domain.ItemContent, params domain.Parameters) Prompt {
	body, truncated := Truncate(CleanBody(item.Body), b.maxContentChars)

	var sb strings.Builder
	sb.WriteString("Classify the email below into exactly one category.\n\n")
	sb.WriteString("Allowed categories:\n")
	for _, c := range params.Categories {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("\nAnswer with exactly one category name from the list above and nothing else.\n\n")
	writeEmail(&sb, item, body)
	return Prompt{Text: sb.String(), Truncated: truncated}
}

func (b *PromptBuilder) Response(item *domain.ItemContent, params domain.Parameters) Prompt {
	body, truncated := Truncate(CleanBody(item.Body), b.maxContentChars)

	var sb strings.Builder
	sb.WriteString("Write a reply to the email below.\n\n")
	sb.WriteString("Tone: " + TonePresets[params.Tone] + "\n")
	if instr := strings.TrimSpace(params.Instructions); instr != "" {
		sb.WriteString("Additional instructions: " + instr + "\n")
	}
	sb.WriteString("Only output the reply body. Do not include a subject line or headers.\n\n")
	writeEmail(&sb, item, body)
	return Prompt{Text: sb.String(), Truncated: truncated}
}

func (b *PromptBuilder) Summary(item *domain.ItemContent, params domain.Parameters) Prompt {
	body, truncated := Truncate(CleanBody(item.Body), b.maxContentChars)

	var sb strings.Builder
	sb.WriteString("Summarize the email below in 2-3 short sentences covering the main point and any request.\n")
	if instr := strings.TrimSpace(params.Instructions); instr != "" {
		sb.WriteString("Additional instructions: " + instr + "\n")
	}
	sb.WriteString("\n")
	writeEmail(&sb, item, body)
	return Prompt{Text: sb.String(), Truncated: truncated}
}

func (b *PromptBuilder) Actions(item *domain.ItemContent, params domain.Parameters) Prompt {
	body, truncated := Truncate(CleanBody(item.Body), b.maxContentChars)

	var sb strings.Builder
	sb.WriteString("List the action items the recipient must take based on the email below.\n")
	sb.WriteString("Write one action per line, starting with \"- \".\n")
	sb.WriteString("If there are no action items, answer with exactly: NONE\n\n")
	writeEmail(&sb, item, body)
	return Prompt{Text: sb.String(), Truncated: truncated}
}

func (b *PromptBuilder) Analysis(item *domain.ItemContent, params domain.Parameters) Prompt {
	meta, truncated := Truncate(formatMetadata(item.Metadata), b.maxContentChars)

	var sb strings.Builder
	sb.WriteString("You are a mechanical design reviewer. Analyze the CAD file described below.\n")
	sb.WriteString(AnalysisFocus[params.Focus] + "\n")
	if params.Focus == "export" {
		sb.WriteString("Supported export formats: " + strings.Join(domain.ExportFormats, ", ") + "\n")
	}
	if params.Focus == "troubleshoot" && params.ExportFormat != "" {
		sb.WriteString("Target format: " + params.ExportFormat + "\n")
	}
	if instr := strings.TrimSpace(params.Instructions); instr != "" {
		label, ok := focusLabels[params.Focus]
		if !ok {
			label = "Additional instructions: "
		}
		sb.WriteString(label + instr + "\n")
	}
	sb.WriteString("\nFile: " + item.Subject + "\n")
	sb.WriteString(meta)
	return Prompt{Text: sb.String(), Truncated: truncated}
}

// Export renders the directive handed to the CAD exporter.
func (b *PromptBuilder) Export(item *domain.ItemContent, params domain.Parameters) Prompt {
	format := domain.NormalizeFormat(params.ExportFormat)

	var sb strings.Builder
	sb.WriteString("EXPORT\n")
	sb.WriteString("source: " + item.ID + "\n")
	sb.WriteString("format: " + format + "\n")
	if params.Template != "" {
		sb.WriteString("template: " + params.Template + "\n")
	}
	sb.WriteString("output: " + domain.ExportOutputName(item.ID, format) + "\n")
	return Prompt{Text: sb.String()}
}

func writeEmail(sb *strings.Builder, item *domain.ItemContent, body string) {
	sb.WriteString("From: " + item.From + "\n")
	sb.WriteString("Subject: " + item.Subject + "\n\n")
	sb.WriteString(body)
	sb.WriteString("\n")
}

// formatMetadata renders metadata in key order so prompts stay stable.
func formatMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, meta[k])
	}
	return sb.String()
}

// Truncate keeps the first max characters of s and appends TruncationMarker.
// Counting is by rune so multi-byte text is never split.
func Truncate(s string, max int) (string, bool) {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s, false
	}
	return string(runes[:max]) + fmt.Sprintf(TruncationMarker, max, len(runes)), true
}

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	quotedPattern    = regexp.MustCompile(`(?m)^>.*$`)
	blankRunsPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunsPattern = regexp.MustCompile(`[ \t]+`)
)

// CleanBody strips markup, quoted replies and redundant whitespace.
func CleanBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = htmlTagPattern.ReplaceAllString(body, "")
	body = quotedPattern.ReplaceAllString(body, "")
	body = spaceRunsPattern.ReplaceAllString(body, " ")
	body = blankRunsPattern.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
