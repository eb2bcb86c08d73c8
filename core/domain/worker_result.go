package domain

// ItemStage is the position of one item inside its pipeline run.
type ItemStage string

const (
	StagePending    ItemStage = "pending"
	StageFetching   ItemStage = "fetching"
	StagePrompting  ItemStage = "prompting"
	StageInferring  ItemStage = "inferring"
	StageValidating ItemStage = "validating"
	StageCompleted  ItemStage = "completed"
	StageFailed     ItemStage = "failed"
	StageCancelled  ItemStage = "cancelled"
)

// Terminal reports whether no further transition can follow.
func (s ItemStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// ItemStatus is the outcome reported for one item.
type ItemStatus string

const (
	StatusSucceeded ItemStatus = "succeeded"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

// ExportArtifact describes a file produced by the convert operation.
type ExportArtifact struct {
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}

// Payload carries the normalized answer. Exactly one field is set, matching
// the operation kind.
type Payload struct {
	Category string          `json:"category,omitempty"`
	Response string          `json:"response,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Actions  []string        `json:"actions,omitempty"`
	Analysis string          `json:"analysis,omitempty"`
	Export   *ExportArtifact `json:"export,omitempty"`
}

// ErrorInfo is the error attached to a failed or cancelled item.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NormalizedResult is the outcome of one item.
type NormalizedResult struct {
	ItemID          string     `json:"item_id"`
	Status          ItemStatus `json:"status"`
	Payload         *Payload   `json:"payload,omitempty"`
	FallbackApplied bool       `json:"fallback_applied,omitempty"`
	Truncated       bool       `json:"truncated,omitempty"`
	Error           *ErrorInfo `json:"error,omitempty"`
	FailedAt        ItemStage  `json:"failed_at,omitempty"`
}

// BatchResult holds one NormalizedResult per requested item, in request order.
type BatchResult struct {
	BatchID   string             `json:"batch_id"`
	Operation OperationKind      `json:"operation"`
	Results   []NormalizedResult `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Cancelled int                `json:"cancelled"`
}

// Len returns the number of item results.
func (b *BatchResult) Len() int {
	return len(b.Results)
}
