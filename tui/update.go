package tui

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.scroll < len(m.lines)-1 {
				m.scroll++
			}
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		case "G":
			m.scroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case EventMsg:
		m = m.applyEvent(domain.Event(msg))
		return m, waitForEvent(m.sub)

	case DoneMsg:
		m.done = true
		if msg.Err != nil && m.err == nil {
			m.err = msg.Err
		}
		return m, nil
	}

	return m, nil
}

// applyEvent folds one pipeline event into the view state.
func (m Model) applyEvent(event domain.Event) Model {
	switch event.Kind {
	case domain.EventProgress:
		if stage, ok := event.Data["stage"].(string); ok {
			m.stage = domain.Stage(stage)
		}
		switch pct := event.Data["percentage"].(type) {
		case int:
			m.percentage = pct
		case float64:
			m.percentage = int(pct)
		}
		m.lines = append(m.lines, fmt.Sprintf("▸ %s", stringData(event, "message")))

	case domain.EventTool:
		m.lines = append(m.lines, fmt.Sprintf("  %s %s",
			toolGlyph(stringData(event, "tool")), stringData(event, "detail")))

	case domain.EventMessage:
		m.lines = append(m.lines, "  "+stringData(event, "message"))

	case domain.EventWarning:
		m.lines = append(m.lines, "  ! "+stringData(event, "message"))

	case domain.EventChangeSummary:
		m.lines = append(m.lines, fmt.Sprintf("  Σ %v files, +%v/-%v",
			event.Data["total_files"], event.Data["total_additions"], event.Data["total_deletions"]))

	case domain.EventPRCreated:
		m.prURL = stringData(event, "pr_url")
		m.lines = append(m.lines, "  ✓ "+m.prURL)

	case domain.EventCleanup:
		m.lines = append(m.lines, "  · "+stringData(event, "message"))

	case domain.EventError:
		m.err = errors.New(stringData(event, "message"))
		m.stage = domain.StageFailed
		m.lines = append(m.lines, "  ✗ "+stringData(event, "message"))

	case domain.EventComplete:
		m.stage = domain.StageSucceeded
		m.percentage = 100
	}
	return m
}

func stringData(event domain.Event, key string) string {
	if s, ok := event.Data[key].(string); ok {
		return s
	}
	return ""
}

func toolGlyph(tool string) string {
	switch tool {
	case "create_file":
		return "+"
	case "edit_file":
		return "~"
	case "read_file":
		return "»"
	case "run_command":
		return "$"
	default:
		return "·"
	}
}
