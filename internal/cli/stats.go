package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/agentd/internal/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline counts and server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		counts, err := apiClient.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		health, err := apiClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("get health: %w", err)
		}
		printStats(cmd.OutOrStdout(), counts, health)
		return nil
	},
}

func printStats(w io.Writer, c *client.StatusCounts, h *client.Health) {
	fmt.Fprintln(w, "Pipelines")
	fmt.Fprintln(w, "─────────")
	fmt.Fprintf(w, "  Queued:            %d\n", c.Queued)
	fmt.Fprintf(w, "  Running:           %d\n", c.Running)
	fmt.Fprintf(w, "  Waiting for input: %d\n", c.WaitingForInput)
	fmt.Fprintf(w, "  Completed:         %d\n", c.Completed)
	fmt.Fprintf(w, "  Failed:            %d\n", c.Failed)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Server")
	fmt.Fprintln(w, "──────")
	fmt.Fprintf(w, "  Status:   %s\n", h.Status)
	fmt.Fprintf(w, "  Uptime:   %s\n", (time.Duration(h.Uptime) * time.Second).String())
	fmt.Fprintf(w, "  Sessions: %d (in flight %d/%d)\n", h.ActiveSessions, h.InFlight, h.Capacity)
	if h.LastCleanup != nil {
		fmt.Fprintf(w, "  Cleanup:  %d sweeps, last %s\n", h.CleanupCount, h.LastCleanup.Format(time.RFC3339))
	}

	if h.Metrics == nil || len(h.Metrics.Operations) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-14s %8s %8s %10s %10s\n", "OPERATION", "COUNT", "ERRORS", "AVG MS", "MAX MS")
	names := make([]string, 0, len(h.Metrics.Operations))
	for name := range h.Metrics.Operations {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		op := h.Metrics.Operations[name]
		fmt.Fprintf(w, "%-14s %8d %8d %10.1f %10d\n", name, op.Count, op.Errors, op.AvgTimeMs, op.MaxTimeMs)
		if op.TotalInputTokens != nil && op.TotalOutputTokens != nil {
			fmt.Fprintf(w, "%-14s tokens in %d, out %d\n", "", *op.TotalInputTokens, *op.TotalOutputTokens)
		}
	}
}
