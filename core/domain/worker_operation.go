package domain

import (
	"fmt"
	"strings"
)

// OperationKind is the closed set of batch operations the worker understands.
type OperationKind string

const (
	OperationCategorize       OperationKind = "categorize"
	OperationGenerateResponse OperationKind = "generate-response"
	OperationSummarize        OperationKind = "summarize"
	OperationExtractActions   OperationKind = "extract-actions"
	OperationConvert          OperationKind = "convert"
	OperationAnalyze          OperationKind = "analyze"
)

// AllOperations lists every operation kind in a stable order.
var AllOperations = []OperationKind{
	OperationCategorize,
	OperationGenerateResponse,
	OperationSummarize,
	OperationExtractActions,
	OperationConvert,
	OperationAnalyze,
}

// ParseOperationKind accepts the wire name of an operation. Matching ignores case
// and treats underscores and spaces as hyphens ("generate_response" works).
func ParseOperationKind(s string) (OperationKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	for _, k := range AllOperations {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

func (k OperationKind) String() string {
	return string(k)
}

// SourceKind tells which data source an operation reads its items from.
type SourceKind string

const (
	SourceEmail SourceKind = "email"
	SourceCAD   SourceKind = "cad"
)

// Source returns the data source an operation kind reads from.
func (k OperationKind) Source() SourceKind {
	switch k {
	case OperationConvert, OperationAnalyze:
		return SourceCAD
	default:
		return SourceEmail
	}
}

// Parameters are the operation-specific knobs of a request.
type Parameters struct {
	Categories   []string `json:"categories,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	ExportFormat string   `json:"export_format,omitempty"`
	Template     string   `json:"template,omitempty"`
	Focus        string   `json:"focus,omitempty"`
	Directory    string   `json:"directory,omitempty"`
	FilePattern  string   `json:"file_pattern,omitempty"`
}

// DefaultFilePattern selects every native CAD file of a directory.
const DefaultFilePattern = "*.sld*"

// OperationRequest is one batch call. It is not modified after dispatch.
type OperationRequest struct {
	Operation  OperationKind `json:"operation"`
	ItemIDs    []string      `json:"item_ids"`
	Parameters Parameters    `json:"parameters"`
}

// ItemContent is what a data source returns for one item id. It lives only
// for the duration of that item's pipeline run.
type ItemContent struct {
	ID       string
	Source   SourceKind
	Subject  string
	From     string
	Body     string
	Metadata map[string]string
}

// InferenceProfile holds the sampling settings for one operation kind.
type InferenceProfile struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Validate checks the profile bounds.
func (p InferenceProfile) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", p.Temperature)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", p.MaxTokens)
	}
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
