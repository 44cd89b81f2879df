package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

func apply(m Model, event domain.Event) Model {
	next, _ := m.Update(EventMsg(event))
	return next.(Model)
}

func TestModel_ProgressUpdatesStage(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	m = apply(m, domain.ProgressEvent("r1", domain.StageSourceCheckout, "Cloning repository", 15))
	if m.stage != domain.StageSourceCheckout || m.percentage != 15 {
		t.Errorf("stage = %s pct = %d", m.stage, m.percentage)
	}

	m = apply(m, domain.ProgressEvent("r1", domain.StageAgentExecution, "Running coding agent", 40))
	if m.stage != domain.StageAgentExecution || m.percentage != 40 {
		t.Errorf("stage = %s pct = %d", m.stage, m.percentage)
	}
}

func TestModel_ToolAndMessageLines(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	m = apply(m, domain.ToolEvent("r1", "edit_file", "main.go"))
	m = apply(m, domain.MessageEvent("r1", "thinking about it"))

	if len(m.lines) != 2 {
		t.Fatalf("lines = %v", m.lines)
	}
	if !strings.Contains(m.lines[0], "main.go") {
		t.Errorf("tool line = %q", m.lines[0])
	}
}

func TestModel_PRCreatedAndComplete(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	url := "https://github.com/octocat/hello-world/pull/7"
	m = apply(m, domain.PRCreatedEvent("r1", url, "tb/x"))
	m = apply(m, domain.CompleteEvent("r1", url))

	if m.prURL != url {
		t.Errorf("prURL = %q", m.prURL)
	}
	if m.stage != domain.StageSucceeded || m.percentage != 100 {
		t.Errorf("stage = %s pct = %d", m.stage, m.percentage)
	}
}

func TestModel_ErrorEvent(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	m = apply(m, domain.ErrorEvent("r1", domain.Errf(domain.ErrClone, "repository not found")))
	if m.err == nil || m.stage != domain.StageFailed {
		t.Errorf("err = %v stage = %s", m.err, m.stage)
	}
}

func TestModel_DoneMsg(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	next, _ := m.Update(DoneMsg{Err: errors.New("boom")})
	m = next.(Model)
	if !m.done || m.err == nil {
		t.Errorf("done = %v err = %v", m.done, m.err)
	}
}

func TestModel_SinkDeliversToSubscription(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the bug")

	m.Sink().Emit(domain.MessageEvent("r1", "hello"))
	m.Finish(nil)

	first := <-m.sub
	if _, ok := first.(EventMsg); !ok {
		t.Errorf("first message = %T, want EventMsg", first)
	}
	second := <-m.sub
	if _, ok := second.(DoneMsg); !ok {
		t.Errorf("second message = %T, want DoneMsg", second)
	}
}

func TestModel_ViewRenders(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix the login bug in the session handler")
	m.width, m.height = 100, 30

	m = apply(m, domain.ProgressEvent("r1", domain.StageAgentExecution, "Running coding agent", 40))
	m = apply(m, domain.ToolEvent("r1", "create_file", "handler.go"))

	out := m.View()
	if !strings.Contains(out, "octocat/hello-world") {
		t.Error("view missing repo name")
	}
	if !strings.Contains(out, "Agent working") {
		t.Error("view missing stage label")
	}
	if !strings.Contains(out, "handler.go") {
		t.Error("view missing tool line")
	}
	if !strings.Contains(out, "40%") {
		t.Error("view missing progress percentage")
	}
}

func TestModel_Scrolling(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix it")
	for i := 0; i < 5; i++ {
		m = apply(m, domain.MessageEvent("r1", "line"))
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = next.(Model)
	if m.scroll != 1 {
		t.Errorf("scroll = %d, want 1", m.scroll)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	m = next.(Model)
	if m.scroll != 0 {
		t.Errorf("scroll = %d, want 0", m.scroll)
	}
}

func TestModel_QuitKey(t *testing.T) {
	m := NewModel("octocat/hello-world", "fix it")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should produce a quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("cmd() = %v, want tea.Quit message", msg)
	}
}
