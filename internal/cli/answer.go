package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var answerCmd = &cobra.Command{
	Use:   "answer <request-id> <answer>",
	Short: "Answer the question of a waiting pipeline",
	Long: `Answer the question of a pipeline that waits for input. An option number
is replaced by the option text.

Examples:
  agentd answer 0b5c... 2
  agentd answer 0b5c... "focus on rural households"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id := args[0]
		answer := strings.Join(args[1:], " ")

		view, err := apiClient.Status(ctx, id)
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		answer = resolveAnswer(answer, view.UserInputSpecs)

		if err := apiClient.Answer(ctx, id, answer); err != nil {
			return fmt.Errorf("submit answer: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Answer submitted: %s\n", answer)
		return nil
	},
}

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a queued, running or waiting pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Cancel(cmd.Context(), args[0], cancelReason); err != nil {
			return fmt.Errorf("cancel pipeline: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded in the pipeline error")
}
