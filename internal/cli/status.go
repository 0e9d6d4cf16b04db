package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/agentd/internal/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show the status of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := apiClient.Status(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		printStatus(cmd.OutOrStdout(), view)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status view")
}

func printStatus(w io.Writer, v *models.StatusView) {
	fmt.Fprintf(w, "Pipeline: %s\n", v.RequestID)
	fmt.Fprintf(w, "  Topic: %s\n", v.Topic)
	fmt.Fprintf(w, "  Status: %s (%s)\n", v.PipelineStatus, v.Status)
	fmt.Fprintf(w, "  Progress: %d%%\n", v.Progress)
	fmt.Fprintf(w, "  Started: %s\n", v.StartedAt.Format(time.RFC3339))
	if v.EndedAt != nil {
		fmt.Fprintf(w, "  Ended: %s\n", v.EndedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", v.EndedAt.Sub(v.StartedAt).Round(time.Second))
	}
	if v.Error != nil && *v.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", *v.Error)
	}
	if v.Update != "" {
		fmt.Fprintf(w, "  Latest: %s\n", firstLine(v.Update))
	}

	if v.UserInputSpecs != nil {
		fmt.Fprintf(w, "\nWaiting for input (%s):\n  %s\n", v.UserInputSpecs.AgentName, v.UserInputSpecs.Description)
		for i, opt := range v.UserInputSpecs.Options {
			fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprintf(w, "Answer with: agentd answer %s <answer>\n", v.RequestID)
	}

	fmt.Fprint(w, renderFiles(v))
}
