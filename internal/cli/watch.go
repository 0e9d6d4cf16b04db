package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/agentd/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch <request-id>",
	Short: "Stream pipeline updates until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &updatePrinter{w: cmd.OutOrStdout()}
		if err := apiClient.Watch(cmd.Context(), args[0], p.print); err != nil {
			return fmt.Errorf("watch pipeline: %w", err)
		}
		if p.last != nil && p.last.PipelineStatus == models.StatusFailed {
			return pipelineError(p.last)
		}
		return nil
	},
}

// updatePrinter writes the agent updates and status changes not printed yet.
type updatePrinter struct {
	w       io.Writer
	printed int
	last    *models.StatusView
}

func (p *updatePrinter) print(v *models.StatusView) error {
	if p.last == nil || p.last.Status != v.Status || p.last.Progress != v.Progress {
		fmt.Fprintf(p.w, "[%s] %d%% %s\n", v.PipelineStatus, v.Progress, v.Status)
	}
	for _, u := range v.AgentUpdates[min(p.printed, len(v.AgentUpdates)):] {
		fmt.Fprintf(p.w, "  %s\n", u)
	}
	p.printed = max(p.printed, len(v.AgentUpdates))
	p.last = v
	return nil
}
