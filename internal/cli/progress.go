package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/agentd/internal/client"
	"github.com/raphaelgruber/agentd/internal/models"
)

const pollInterval = time.Second

// maxShownUpdates is the number of recent agent updates shown under the bar.
const maxShownUpdates = 3

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	Question   lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	Question:   lipgloss.Color("#FFAF00"), // amber
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) questionStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Question).Bold(true)
}

// statusFetcher is the part of the client the progress UI needs.
type statusFetcher interface {
	Status(ctx context.Context, id string) (*models.StatusView, error)
}

// tickMsg triggers polling the record status
type tickMsg time.Time

// statusMsg carries the updated status view
type statusMsg struct {
	view *models.StatusView
	err  error
}

// progressModel is the bubbletea model for a running pipeline. It quits
// when the record is terminal or waits for an answer.
type progressModel struct {
	client   statusFetcher
	id       string
	view     *models.StatusView
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c statusFetcher, id string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		id:       id,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.view = msg.view

		switch m.view.PipelineStatus {
		case models.StatusCompleted, models.StatusWaitingForInput:
			m.done = true
			return m, tea.Quit
		case models.StatusFailed:
			m.done = true
			m.err = pipelineError(m.view)
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.view == nil {
		return "Loading pipeline status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.view.Status))
	bar := m.progress.ViewAs(float64(m.view.Progress) / 100)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %3d%%\n", status, bar, m.view.Progress)
	for _, u := range recentUpdates(m.view.AgentUpdates, maxShownUpdates) {
		fmt.Fprintf(&b, "  %s\n", firstLine(u))
	}
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to continue in background"))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nPipeline %s continues in background.\nUse 'agentd status %s' to check status.\n",
			m.id, m.id)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Pipeline failed: %s\n", m.err))
	}

	if m.view != nil && m.view.PipelineStatus == models.StatusWaitingForInput {
		return m.theme.questionStyle().Render("? Input required") + "\n"
	}

	return m.theme.completedStyle().Render("✓ Completed") + "\n" + renderFiles(m.view)
}

// fetchStatus runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		view, err := m.client.Status(ctx, m.id)
		return statusMsg{view: view, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runProgress shows the progress UI until the pipeline finishes, needs an
// answer, or the user detaches. The returned view is nil after detaching.
func runProgress(c *client.Client, id string) (*models.StatusView, error) {
	p := tea.NewProgram(newProgressModel(c, id))

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok || m.quitting {
		return nil, nil
	}
	if m.err != nil {
		return m.view, m.err
	}
	return m.view, nil
}

func pipelineError(v *models.StatusView) error {
	if v.Error != nil && *v.Error != "" {
		return fmt.Errorf("%s", *v.Error)
	}
	return fmt.Errorf("pipeline failed with unknown error")
}

func recentUpdates(updates []string, n int) []string {
	if len(updates) <= n {
		return updates
	}
	return updates[len(updates)-n:]
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func renderFiles(v *models.StatusView) string {
	if v == nil || len(v.AgentFiles) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nFiles:\n")
	for _, f := range v.AgentFiles {
		fmt.Fprintf(&b, "  • %s (%s) %s\n", f.Name, f.Filetype, f.URL)
		if f.Description != "" {
			fmt.Fprintf(&b, "    %s\n", f.Description)
		}
	}
	return b.String()
}
