package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ProgressView ViewState = iota
	ResultView
	FailuresView
)

const barWidth = 30

// RunFunc starts a run and reports progress on the channel; typically [tasks.Engine.Migrate] or
// [tasks.Engine.Validate].
type RunFunc func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*models.RunSummary, error)

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	title    string
	run      RunFunc
	observe  func(tasks.ProgressUpdate)
	view     ViewState
	width    int
	height   int
	spinner  spinner.Model
	phases   map[tasks.Phase]tasks.ProgressUpdate
	current  tasks.Phase
	progress chan tasks.ProgressUpdate
	results  chan runResult
	summary  *models.RunSummary
	err      error
	done     bool
	quitting bool
	failures list.Model
	help     help.Model
	keys     keyMap
}

// NewModel creates a TUI model for one run. observe, when set, sees every progress update.
func NewModel(ctx context.Context, title string, run RunFunc, observe func(tasks.ProgressUpdate)) *Model {
	ctx, cancel := context.WithCancel(ctx)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.bar

	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		title:   title,
		run:     run,
		observe: observe,
		view:    ProgressView,
		spinner: s,
		phases:  make(map[tasks.Phase]tasks.ProgressUpdate),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Run drives the program until the run finishes and the user quits.
func Run(ctx context.Context, title string, run RunFunc, observe func(tasks.ProgressUpdate)) (*models.RunSummary, error) {
	m := NewModel(ctx, title, run, observe)
	defer m.cancel()

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return nil, fmt.Errorf("terminal UI failed: %w", err)
	}
	return m.summary, m.err
}

// Summary returns the run result once the run has completed.
func (m *Model) Summary() (*models.RunSummary, error) { return m.summary, m.err }

// Init starts the run and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.done {
			m.failures.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			update := msg.data.(tasks.ProgressUpdate)
			m.phases[update.Phase] = update
			m.current = update.Phase
			if m.observe != nil {
				m.observe(update)
			}
			return m, m.waitForProgress()

		case MsgRunComplete:
			result := msg.data.(runResult)
			m.summary = result.summary
			m.err = result.err
			m.done = true
			m.view = ResultView
			m.failures = list.New(failedItems(m.summary), list.NewDefaultDelegate(), 0, 0)
			m.failures.Title = "Failed records"
			m.failures.SetSize(max(m.width-4, 0), max(m.height-8, 0))
			if m.quitting {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	if m.view == FailuresView {
		var cmd tea.Cmd
		m.failures, cmd = m.failures.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case ProgressView:
		if key.Matches(msg, m.keys.quit) {
			m.quitting = true
			m.cancel()
		}
		return m, nil

	case ResultView:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.failures) && len(m.failures.Items()) > 0:
			m.view = FailuresView
		}
		return m, nil

	case FailuresView:
		switch {
		case key.Matches(msg, m.keys.back):
			m.view = ResultView
			return m, nil
		case msg.String() == "q" || msg.String() == "ctrl+c":
			if m.failures.FilterState() != list.Filtering {
				return m, tea.Quit
			}
		}
		var cmd tea.Cmd
		m.failures, cmd = m.failures.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ProgressView:
		return m.renderProgress()
	case ResultView:
		return m.renderResult()
	case FailuresView:
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.up, m.keys.down, m.keys.back, m.keys.quit})
		return fmt.Sprintf("%s\n\n%s", m.failures.View(), helpView)
	default:
		return ""
	}
}

func (m *Model) start() tea.Cmd {
	m.progress = make(chan tasks.ProgressUpdate, 64)
	m.results = make(chan runResult, 1)

	go func(progress chan tasks.ProgressUpdate, results chan<- runResult) {
		summary, err := m.run(m.ctx, progress)
		results <- runResult{summary: summary, err: err}
		close(progress)
	}(m.progress, m.results)

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, results := m.progress, m.results
	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			r := <-results
			return runCompleteMsg(r.summary, r.err)
		}
		return progressUpdateMsg(update)
	}
}

var progressPhases = []tasks.Phase{tasks.Identify, tasks.CoreFields, tasks.Enrichment, tasks.Finalize}

func phaseLabel(p tasks.Phase) string {
	switch p {
	case tasks.Identify:
		return "Identify"
	case tasks.CoreFields:
		return "Core fields"
	case tasks.Enrichment:
		return "Enrichment"
	case tasks.Finalize:
		return "Finalize"
	default:
		return p.String()
	}
}

func (m *Model) renderProgress() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	for _, p := range progressPhases {
		update, seen := m.phases[p]
		marker := " "
		if seen && p == m.current {
			marker = m.spinner.View()
		} else if seen {
			marker = styles.ok.Render("✓")
		}
		fmt.Fprintf(&b, "%s %-12s %s %d/%d  %s\n", marker, phaseLabel(p),
			Bar(update.Step, update.Total, barWidth), update.Step, update.Total, update.Message)
	}

	if m.quitting {
		b.WriteString("\n" + styles.warn.Render("Cancelling, waiting for in-flight batches..."))
	} else {
		b.WriteString("\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	}
	return b.String()
}

func (m *Model) renderResult() string {
	var b strings.Builder

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("✗ Run failed: %v", m.err)))
	case m.summary != nil && m.summary.Failed > 0:
		b.WriteString(styles.warn.Render(fmt.Sprintf("! Run finished with %d failed records", m.summary.Failed)))
	default:
		b.WriteString(styles.ok.Render("✓ Run complete"))
	}
	b.WriteString("\n")

	if s := m.summary; s != nil {
		fmt.Fprintf(&b, "\nRun: %s (%s)\n", s.RunID, s.Mode)
		fmt.Fprintf(&b, "Total: %d  Created: %d  Updated: %d  Skipped: %d  Failed: %d\n",
			s.Total, s.Created, s.Updated, s.Skipped, s.Failed)
		fmt.Fprintf(&b, "Duration: %s\n", s.Duration.Round(time.Millisecond))

		for _, reason := range s.Reasons() {
			fmt.Fprintf(&b, "  %s %d\n", styles.warn.Render(reason+":"), len(s.FailedByReason[reason]))
		}
	}

	helpKeys := []key.Binding{m.keys.quit}
	if len(m.failures.Items()) > 0 {
		helpKeys = []key.Binding{m.keys.failures, m.keys.quit}
	}
	fmt.Fprintf(&b, "\n%s", m.help.ShortHelpView(helpKeys))
	return b.String()
}
