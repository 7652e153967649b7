package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/runs"
)

const pollInterval = time.Second

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a delegated run until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd, args[0])
	},
}

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
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

// tickMsg triggers polling the run
type tickMsg time.Time

// runUpdateMsg carries the updated run
type runUpdateMsg struct {
	run *models.Run
	err error
}

// watchModel is the bubbletea model for run progress.
type watchModel struct {
	svc      runs.Service
	runID    string
	run      *models.Run
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newWatchModel(svc runs.Service, runID string) watchModel {
	return watchModel{
		svc:      svc,
		runID:    runID,
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchRun(), m.progress.Init())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchRun()

	case runUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch run: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.run = msg.run
		if m.run.State.Terminal() {
			m.done = true
			m.err = runError(m.run)
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

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.run == nil {
		return "Loading run status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.run.State))
	bar := m.progress.ViewAs(fraction(m.run))
	counts := fmt.Sprintf("%d/%d samples", m.run.Progress, m.run.Total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")
	return fmt.Sprintf("%s %s %s %s\n%s\n", m.run.IssueType.Title(), status, bar, counts, hint)
}

func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'dataquality watch %s' to follow it again.\n",
			m.runID, m.runID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run failed: %s\n", m.err))
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

// fetchRun reads the run off the UI goroutine.
func (m watchModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		run, err := m.svc.Get(ctx, m.runID)
		return runUpdateMsg{run: run, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fraction(run *models.Run) float64 {
	if run.Total <= 0 {
		return 0
	}
	return float64(run.Progress) / float64(run.Total)
}

func runError(run *models.Run) error {
	if run.State != models.RunFailed {
		return nil
	}
	if run.Error != nil {
		return errors.New(*run.Error)
	}
	return errors.New("run failed with unknown error")
}

// watchRun follows a run until it finishes: with the progress UI on a
// terminal, with one line per change otherwise. Returns nil when the user
// leaves the run in the background, and the run's error when it failed.
func watchRun(cmd *cobra.Command, runID string) error {
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runWatchUI(deps.Runs, runID)
	}
	return watchPlain(cmd.Context(), out, deps.Runs, runID, pollInterval)
}

func runWatchUI(svc runs.Service, runID string) error {
	p := tea.NewProgram(newWatchModel(svc, runID))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(watchModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

func watchPlain(ctx context.Context, w io.Writer, svc runs.Service, runID string, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last string
	for {
		run, err := svc.Get(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to fetch run: %w", err)
		}
		line := fmt.Sprintf("%s [%s] %d/%d samples", run.IssueType.Title(), run.State, run.Progress, run.Total)
		if line != last {
			fmt.Fprintln(w, line)
			last = line
		}
		if run.State.Terminal() {
			return runError(run)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
