package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mlsync/internal/tasks"
)

// RunFunc executes one sync run. The model cancels ctx when the user quits.
type RunFunc func(ctx context.Context) (*tasks.Result, error)

const maxBarWidth = 80

// Model is the sync progress view.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	run     RunFunc
	updates <-chan tasks.ProgressUpdate

	title    string
	current  tasks.ProgressUpdate
	hidden   bool
	stopping bool
	done     bool

	result *tasks.Result
	err    error

	bar  progress.Model
	help help.Model
	keys keyMap
}

// NewModel creates a model that runs run and renders updates until it returns.
func NewModel(ctx context.Context, run RunFunc, updates <-chan tasks.ProgressUpdate) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		run:     run,
		updates: updates,
		title:   "Library sync",
		bar:     progress.New(progress.WithGradient(styles.barFrom, styles.barTo)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Result is the finished run, nil until the sync returns.
func (m *Model) Result() *tasks.Result { return m.result }

// Err is the error returned by the run, if any.
func (m *Model) Err() error { return m.err }

// Init starts the sync and the progress listener.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.startSync(), m.waitForProgress())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && !m.stopping {
			m.stopping = true
			m.cancel()
		}
		return m, nil

	case Msg:
		return m.handle(msg)
	}
	return m, nil
}

func (m *Model) handle(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		switch update.Phase {
		case tasks.Started:
			m.title = update.Heading
		case tasks.Closed:
			m.hidden = true
		default:
			m.current = update
		}
		return m, m.waitForProgress()

	case MsgProgressClosed:
		m.hidden = true
		return m, nil

	case MsgSyncComplete:
		outcome := msg.data.(syncOutcome)
		m.result = outcome.result
		m.err = outcome.err
		m.done = true
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

// View renders the title, the current section and the bar.
func (m *Model) View() string {
	if m.done {
		return m.verdict()
	}

	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	switch {
	case m.stopping:
		b.WriteString(styles.warn.Render("Canceling, waiting for pending writes..."))
		b.WriteString("\n")
	case m.hidden:
		b.WriteString(styles.help.Render("Progress hidden while media plays. Sync continues in the background."))
		b.WriteString("\n")
	default:
		heading := m.current.Heading
		if heading == "" {
			heading = "Listing library sections..."
		}
		fmt.Fprintf(&b, "%s\n%s\n", heading, m.bar.ViewAs(float64(m.current.Percent)/100))
		if m.current.Message != "" {
			b.WriteString(styles.help.Render(m.current.Message))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// verdict is the last frame left on screen after the program exits.
func (m *Model) verdict() string {
	switch {
	case m.err != nil:
		return styles.err.Render("✗ Library sync failed: "+m.err.Error()) + "\n"
	case m.result == nil:
		return ""
	case m.result.Canceled:
		return styles.Outcome(false, true).Render("■ Library sync canceled") + "\n"
	case m.result.Successful:
		return styles.Outcome(true, false).Render("✓ Library sync finished") + "\n"
	default:
		return styles.Outcome(false, false).Render("✗ Library sync finished with errors") + "\n"
	}
}

func (m *Model) startSync() tea.Cmd {
	return func() tea.Msg {
		result, err := m.run(m.ctx)
		return syncCompleteMsg(result, err)
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		if m.updates == nil {
			return progressClosedMsg()
		}
		update, ok := <-m.updates
		if !ok {
			return progressClosedMsg()
		}
		return progressUpdateMsg(update)
	}
}
