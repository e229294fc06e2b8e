package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/avickers/a11ypipe/internal/checkpoint"
	"github.com/avickers/a11ypipe/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
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

// tickMsg triggers polling the checkpoint
type tickMsg time.Time

// checkpointMsg carries the freshly read checkpoint state
type checkpointMsg struct {
	cp  *checkpoint.Checkpoint
	err error
}

// verifyDoneMsg reports the verification run's outcome
type verifyDoneMsg struct {
	summary *models.CoverageSummary
	err     error
}

// verifyProgressModel is the bubbletea model for verification progress.
// It polls the checkpoint file while the processor runs, so the display
// shows exactly the progress a restart would resume from.
type verifyProgressModel struct {
	store    *checkpoint.Store
	scanID   string
	cancel   context.CancelFunc
	cp       *checkpoint.Checkpoint
	summary  *models.CoverageSummary
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newVerifyProgressModel(store *checkpoint.Store, scanID string, cancel context.CancelFunc) verifyProgressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return verifyProgressModel{
		store:    store,
		scanID:   scanID,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m verifyProgressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m verifyProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, nil // wait for verifyDoneMsg so the checkpoint commits
		}

	case tickMsg:
		return m, m.fetchCheckpoint()

	case checkpointMsg:
		// A read error or missing file mid-run is transient (finalization
		// clears the file); keep the last known state on screen.
		if msg.err == nil && msg.cp != nil {
			m.cp = msg.cp
		}
		return m, tickCmd()

	case verifyDoneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m verifyProgressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m verifyProgressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.cp == nil {
		return "Starting verification...\n"
	}

	var pct float64
	if m.cp.TotalBatches > 0 {
		pct = float64(len(m.cp.CompletedBatches)) / float64(m.cp.TotalBatches)
	}

	label := "verifying"
	if m.quitting {
		label = "stopping"
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", label))

	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d batches, %d tokens", len(m.cp.CompletedBatches), m.cp.TotalBatches, m.cp.TokensUsed)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop; progress is checkpointed")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m verifyProgressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nVerification of %s stopped; completed batches are checkpointed.\nRe-run 'a11ypipe verify %s' to resume.\n",
			m.scanID, m.scanID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Verification failed: %s\n", m.err))
	}

	if m.summary != nil {
		s := m.summary
		var output string
		output += m.theme.completedStyle().Render("✓ Verification complete") + "\n\n"
		output += fmt.Sprintf("  Criteria checked: %d\n", s.CriteriaChecked)
		output += fmt.Sprintf("  Passed:           %d\n", s.Passed)
		output += fmt.Sprintf("  Failed:           %d\n", s.Failed)
		output += fmt.Sprintf("  Inapplicable:     %d\n", s.Inapplicable)
		output += fmt.Sprintf("  Tokens used:      %d\n", s.TokensUsed)
		if s.Model != "" {
			output += fmt.Sprintf("  Model:            %s\n", s.Model)
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Verification complete\n")
}

// fetchCheckpoint reads the checkpoint file off the Update loop.
func (m verifyProgressModel) fetchCheckpoint() tea.Cmd {
	return func() tea.Msg {
		cp, err := m.store.Get(m.scanID)
		return checkpointMsg{cp: cp, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunVerifyProgress runs the interactive progress UI while run executes in
// the background. Ctrl+C cancels the run's context; the checkpoint keeps
// whatever committed.
func RunVerifyProgress(store *checkpoint.Store, scanID string, run func(ctx context.Context) (*models.CoverageSummary, error)) (*models.CoverageSummary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := newVerifyProgressModel(store, scanID, cancel)
	p := tea.NewProgram(model)

	go func() {
		summary, err := run(ctx)
		p.Send(verifyDoneMsg{summary: summary, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(verifyProgressModel); ok {
		if m.quitting {
			return nil, nil
		}
		return m.summary, m.err
	}
	return nil, nil
}
