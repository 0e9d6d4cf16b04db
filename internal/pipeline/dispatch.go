// Package pipeline drives work records through the external stages.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/stage"
)

// Messages written by the dispatcher.
const (
	msgExecutingTools = "Agent is executing tools:"
	msgControlSignal  = "An error occurred during processing."
)

// Apply folds one stage event into a copy of rec and returns the copy.
// It performs no I/O. Events on a finalized record leave it unchanged, as do
// blank messages and empty tool batches.
func Apply(rec *models.Record, ev stage.Event) (*models.Record, error) {
	next := rec.Clone()
	if next.PipelineStatus.Terminal() {
		return next, nil
	}

	switch e := ev.(type) {
	case stage.TextMessage:
		if strings.TrimSpace(e.Text) == "" {
			return next, nil
		}
		next.Status = models.LabelGenerating
		next.AppendUpdate(e.Text)

	case stage.ToolCallRequest:
		if len(e.Calls) == 0 {
			return next, nil
		}
		var b strings.Builder
		b.WriteString(msgExecutingTools)
		for _, c := range e.Calls {
			b.WriteString("\n- ")
			b.WriteString(c.Name)
		}
		next.Status = models.LabelExecutingTools
		next.AppendUpdate(b.String())

	case stage.ToolResult:
		if len(e.Results) == 0 {
			return next, nil
		}
		lines := make([]string, 0, len(e.Results))
		for _, r := range e.Results {
			lines = append(lines, fmt.Sprintf("Tool `%s` execution completed", r.Name))
		}
		next.Status = models.LabelToolResults
		next.AppendUpdate(strings.Join(lines, "\n"))

	case stage.ControlSignal:
		next.Error = msgControlSignal
		next.AppendUpdate(msgControlSignal)
		next.Finish(models.StatusFailed, models.LabelFailed)

	case stage.FileProduced:
		f := e.File
		next.Status = models.LabelFileCreated
		next.AgentFiles = append(next.AgentFiles, f)
		next.AgentUpdates = append(next.AgentUpdates,
			fmt.Sprintf("File created:\n[Download %s](%s) : %s", f.Name, f.URL, f.Description))
		next.Update = fmt.Sprintf("File `%s` (%s) created: %s", f.Name, f.Filetype, f.URL)

	case stage.ProgressUpdate:
		next.Progress = max(next.Progress, min(max(e.Percent, 0), 100))

	case stage.InputRequest:
		if next.PipelineStatus != models.StatusRunning {
			return nil, fmt.Errorf("%w: input requested while %s", ErrUnexpectedEvent, next.PipelineStatus)
		}
		spec := e.Spec
		spec.Options = append([]string(nil), e.Spec.Options...)
		next.PipelineStatus = models.StatusWaitingForInput
		next.Status = models.LabelWaitingForInput
		next.UserInputSpecs = &spec
		next.AppendUpdate(spec.Description)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}

	return next, nil
}
