package pipeline

import (
	"testing"
	"time"

	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningRecord() *models.Record {
	r := models.NewRecord("id", "topic", time.Unix(0, 0).UTC())
	r.PipelineStatus = models.StatusRunning
	r.Progress = 30
	return r
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		event stage.Event
		check func(t *testing.T, r *models.Record)
	}{
		{
			name:  "text message",
			event: stage.TextMessage{Author: "writer", Text: "drafting"},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelGenerating, r.Status)
				assert.Equal(t, "drafting", r.Update)
				assert.Equal(t, []string{"drafting"}, r.AgentUpdates)
			},
		},
		{
			name:  "blank text ignored",
			event: stage.TextMessage{Text: "  "},
			check: func(t *testing.T, r *models.Record) {
				assert.Empty(t, r.AgentUpdates)
			},
		},
		{
			name:  "tool call request",
			event: stage.ToolCallRequest{Calls: []stage.ToolCall{{Name: "web_search"}, {Name: "fetch_page"}}},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelExecutingTools, r.Status)
				assert.Equal(t, "Agent is executing tools:\n- web_search\n- fetch_page", r.Update)
			},
		},
		{
			name:  "tool call request without calls ignored",
			event: stage.ToolCallRequest{},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelQueued, r.Status, "status label unchanged")
				assert.Empty(t, r.AgentUpdates)
			},
		},
		{
			name:  "tool result without results ignored",
			event: stage.ToolResult{Results: []stage.ToolOutcome{}},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelQueued, r.Status, "status label unchanged")
				assert.Empty(t, r.AgentUpdates)
			},
		},
		{
			name:  "tool result",
			event: stage.ToolResult{Results: []stage.ToolOutcome{{Name: "web_search"}}},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelToolResults, r.Status)
				assert.Equal(t, "Tool `web_search` execution completed", r.Update)
			},
		},
		{
			name:  "control signal fails the record",
			event: stage.ControlSignal{Reason: "runtime error"},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.StatusFailed, r.PipelineStatus)
				assert.Equal(t, "An error occurred during processing.", r.Error)
				assert.Equal(t, 30, r.Progress, "partial progress is kept")
			},
		},
		{
			name: "file produced",
			event: stage.FileProduced{File: models.AgentFile{
				URL: "https://files.example.com/r.md", Name: "r.md", Filetype: "markdown", Description: "the report",
			}},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.LabelFileCreated, r.Status)
				require.Len(t, r.AgentFiles, 1)
				assert.Equal(t, "File `r.md` (markdown) created: https://files.example.com/r.md", r.Update)
				assert.Equal(t, []string{"File created:\n[Download r.md](https://files.example.com/r.md) : the report"}, r.AgentUpdates)
			},
		},
		{
			name:  "progress raises",
			event: stage.ProgressUpdate{Percent: 55},
			check: func(t *testing.T, r *models.Record) { assert.Equal(t, 55, r.Progress) },
		},
		{
			name:  "progress never decreases",
			event: stage.ProgressUpdate{Percent: 10},
			check: func(t *testing.T, r *models.Record) { assert.Equal(t, 30, r.Progress) },
		},
		{
			name:  "progress is clamped",
			event: stage.ProgressUpdate{Percent: 250},
			check: func(t *testing.T, r *models.Record) { assert.Equal(t, 100, r.Progress) },
		},
		{
			name: "input request",
			event: stage.InputRequest{Spec: models.InputSpec{
				AgentName: "planner", Description: "Which audience?", Options: []string{"a", "b"},
			}},
			check: func(t *testing.T, r *models.Record) {
				assert.Equal(t, models.StatusWaitingForInput, r.PipelineStatus)
				assert.Equal(t, models.LabelWaitingForInput, r.Status)
				assert.Equal(t, "Which audience?", r.Update)
				require.NotNil(t, r.UserInputSpecs)
				assert.Equal(t, "planner", r.UserInputSpecs.AgentName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := runningRecord()
			before := in.Clone()

			out, err := Apply(in, tt.event)
			require.NoError(t, err)
			tt.check(t, out)
			assert.Equal(t, before, in, "input record must not be modified")
		})
	}
}

func TestApplyIgnoresEventsOnFinalizedRecord(t *testing.T) {
	r := runningRecord()
	r.Finish(models.StatusCompleted, models.LabelCompleted)

	out, err := Apply(r, stage.TextMessage{Text: "late"})
	require.NoError(t, err)
	assert.Equal(t, r, out)
}

func TestApplyRejectsInputRequestWhenNotRunning(t *testing.T) {
	r := runningRecord()
	r.PipelineStatus = models.StatusWaitingForInput

	_, err := Apply(r, stage.InputRequest{})
	assert.ErrorIs(t, err, ErrUnexpectedEvent)
}
