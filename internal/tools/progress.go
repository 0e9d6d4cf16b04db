package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/agentd/internal/stage"
)

// ReportProgress lets the agent move the progress bar.
type ReportProgress struct{}

func (ReportProgress) Name() string { return "report_progress" }

func (ReportProgress) Description() string {
	return "Report how far the research has come, as a percentage between 0 and 100."
}

func (ReportProgress) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"percent": map[string]any{
				"type":        "integer",
				"description": "Completion percentage (0-100)",
				"minimum":     0,
				"maximum":     100,
			},
		},
		"required": []string{"percent"},
	}
}

func (ReportProgress) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Percent float64 `json:"percent"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	pct := int(args.Percent)
	if err := emit(ctx, stage.ProgressUpdate{Percent: pct}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Progress recorded: %d%%", pct), nil
}
