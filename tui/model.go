// Package tui renders a live view of one pipeline run in the terminal.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/pipeline"
)

// EventMsg wraps one pipeline event for the update loop.
type EventMsg domain.Event

// DoneMsg signals that the pipeline run returned.
type DoneMsg struct {
	Err error
}

// TickMsg refreshes the elapsed-time display.
type TickMsg time.Time

// Model is the TUI application model
type Model struct {
	repo   string
	prompt string

	stage      domain.Stage
	percentage int
	lines      []string
	prURL      string
	err        error
	done       bool

	startedAt time.Time
	now       time.Time

	width  int
	height int
	scroll int

	sub chan tea.Msg
}

// NewModel creates a model for one run. Feed it events through Sink
// and end it with Finish.
func NewModel(repo, prompt string) Model {
	now := time.Now()
	return Model{
		repo:      repo,
		prompt:    prompt,
		stage:     domain.StageIdle,
		startedAt: now,
		now:       now,
		sub:       make(chan tea.Msg, 256),
	}
}

// Sink returns the pipeline sink that feeds this model. Safe to call
// from the pipeline goroutine.
func (m Model) Sink() pipeline.Sink {
	sub := m.sub
	return pipeline.SinkFunc(func(event domain.Event) {
		select {
		case sub <- EventMsg(event):
		default:
			// A stalled terminal must not block the pipeline.
		}
	})
}

// Finish tells the view the run returned. Call it exactly once. When
// the view already quit and nothing drains the channel, the message is
// dropped rather than blocking the pipeline goroutine.
func (m Model) Finish(err error) {
	select {
	case m.sub <- DoneMsg{Err: err}:
	default:
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), tickCmd())
}

func waitForEvent(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
