package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/agentd/internal/models"
)

var runDetach bool

// resumePollInterval spaces status checks while the server picks up an answer.
const resumePollInterval = 200 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Submit a topic and follow the pipeline",
	Long: `Submit a topic to the server and show live progress.

When the pipeline asks a question you are prompted for the answer; enter an
option number or free text. Press Ctrl+C to leave the pipeline running in
the background.

Examples:
  agentd run "home battery storage"
  agentd run --detach "heat pumps in old buildings"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "print the request id and return immediately")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	topic := strings.Join(args, " ")

	id, err := apiClient.Run(ctx, topic)
	if err != nil {
		return fmt.Errorf("submit topic: %w", err)
	}

	out := cmd.OutOrStdout()
	if runDetach || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(out, id)
		return nil
	}

	fmt.Fprintf(out, "Pipeline %s started.\n", id)
	in := bufio.NewReader(os.Stdin)
	for {
		view, err := runProgress(apiClient, id)
		if err != nil {
			return err
		}
		if view == nil || view.PipelineStatus != models.StatusWaitingForInput {
			return nil
		}

		answer, err := promptAnswer(out, in, view.UserInputSpecs)
		if err != nil {
			return err
		}
		if err := apiClient.Answer(ctx, id, answer); err != nil {
			return fmt.Errorf("submit answer: %w", err)
		}
		if _, err := awaitResume(ctx, apiClient, id, view, resumePollInterval); err != nil {
			return err
		}
	}
}

// awaitResume polls until the pipeline has picked up the answer to asked:
// it left waiting_for_input, or it recorded new updates (e.g. a follow-up
// question).
func awaitResume(ctx context.Context, c statusFetcher, id string, asked *models.StatusView, interval time.Duration) (*models.StatusView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.Status(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get status: %w", err)
		}
		if view.PipelineStatus != models.StatusWaitingForInput || len(view.AgentUpdates) > len(asked.AgentUpdates) {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// promptAnswer shows the pending question and reads a non-empty answer.
func promptAnswer(out io.Writer, in *bufio.Reader, spec *models.InputSpec) (string, error) {
	if spec != nil {
		fmt.Fprintf(out, "\n%s\n", defaultTheme.questionStyle().Render(spec.Description))
		for i, opt := range spec.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
		}
	}

	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			return resolveAnswer(line, spec), nil
		}
		if err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
	}
}

// resolveAnswer maps an option number to the option text. Anything else is
// returned unchanged.
func resolveAnswer(input string, spec *models.InputSpec) string {
	if spec == nil {
		return input
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(spec.Options) {
		return input
	}
	return spec.Options[n-1]
}
