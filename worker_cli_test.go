package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"assist_worker/core/domain"
)

func TestResultText(t *testing.T) {
	tests := []struct {
		name string
		in   domain.NormalizedResult
		want string
	}{
		{"category", domain.NormalizedResult{Payload: &domain.Payload{Category: "Work"}}, "Work"},
		{"no actions", domain.NormalizedResult{Payload: &domain.Payload{Actions: []string{}}}, "(no actions)"},
		{"actions", domain.NormalizedResult{Payload: &domain.Payload{Actions: []string{"a", "b"}}}, "- a\n- b"},
		{"export", domain.NormalizedResult{Payload: &domain.Payload{Export: &domain.ExportArtifact{Format: "STEP", OutputPath: "/x/a.step"}}}, "STEP -> /x/a.step"},
		{"error", domain.NormalizedResult{
			Error:    &domain.ErrorInfo{Code: "ITEM_NOT_FOUND", Message: "missing"},
			FailedAt: domain.StageFetching,
		}, "ITEM_NOT_FOUND: missing [" + string(domain.StageFetching) + "]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultText(tt.in))
		})
	}
}

func TestRenderBatch(t *testing.T) {
	var buf bytes.Buffer
	renderBatch(&buf, &domain.BatchResult{
		BatchID: "b1",
		Results: []domain.NormalizedResult{
			{ItemID: "e1", Status: domain.StatusSucceeded, FallbackApplied: true, Payload: &domain.Payload{Category: "Uncategorized"}},
		},
		Succeeded: 1,
	})
	out := buf.String()
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "(fallback)")
	assert.Contains(t, out, "Uncategorized")
}

func TestRenderCatalogue(t *testing.T) {
	var buf bytes.Buffer
	renderCatalogue(&buf, domain.Catalogue())
	assert.Contains(t, buf.String(), "STEP")
}

func TestRunFlagsReachParameters(t *testing.T) {
	t.Cleanup(func() { runParams = domain.Parameters{} })

	a := assert.New(t)
	a.NoError(runCmd.Flags().Parse([]string{"--directory", "parts", "--pattern", "*.sldasm", "--format", "stl"}))
	a.Equal("parts", runParams.Directory)
	a.Equal("*.sldasm", runParams.FilePattern)
	a.Equal("stl", runParams.ExportFormat)

	a.NoError(runCmd.Args(runCmd, []string{"convert"}))
	a.Error(runCmd.Args(runCmd, nil))
}
