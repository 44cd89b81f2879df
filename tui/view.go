package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	barFillStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

var stageLabels = map[domain.Stage]string{
	domain.StageIdle:           "Waiting",
	domain.StageProvisioning:   "Provisioning sandbox",
	domain.StageSourceCheckout: "Cloning repository",
	domain.StageBranchCreation: "Creating branch",
	domain.StageAgentExecution: "Agent working",
	domain.StageChangeCommit:   "Committing changes",
	domain.StagePublication:    "Opening pull request",
	domain.StageCleanup:        "Cleaning up",
	domain.StageSucceeded:      "Done",
	domain.StageFailed:         "Failed",
}

// View renders the model
func (m Model) View() string {
	width := m.width
	if width < 40 {
		width = 80
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("tiny-backspace") + "  " + m.repo + "\n")
	b.WriteString(dimStyle.Render(truncate(m.prompt, width-2)) + "\n\n")

	b.WriteString(m.stageLine(width) + "\n")
	b.WriteString(progressBar(m.percentage, width-10) + "\n\n")

	b.WriteString(m.logWindow(width))

	b.WriteString("\n" + m.footer() + "\n")
	return b.String()
}

func (m Model) stageLine(width int) string {
	label := stageLabels[m.stage]
	if label == "" {
		label = string(m.stage)
	}

	style := stageStyle
	switch m.stage {
	case domain.StageSucceeded:
		style = successStyle
	case domain.StageFailed:
		style = errorStyle
	}

	elapsed := m.now.Sub(m.startedAt).Round(1e9)
	return style.Render(label) + dimStyle.Render(fmt.Sprintf("  %s elapsed", elapsed))
}

func (m Model) logWindow(width int) string {
	visible := m.height - 10
	if visible < 5 {
		visible = 15
	}

	lines := m.lines
	end := len(lines) - m.scroll
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, line := range lines[start:end] {
		b.WriteString(truncate(line, width-2) + "\n")
	}
	return b.String()
}

func (m Model) footer() string {
	if m.err != nil {
		return errorStyle.Render("run failed: "+m.err.Error()) + dimStyle.Render("  q to quit")
	}
	if m.prURL != "" && m.done {
		return successStyle.Render(m.prURL) +
			dimStyle.Render(fmt.Sprintf("  started %s  q to quit", humanize.Time(m.startedAt)))
	}
	return dimStyle.Render("j/k scroll · q quit")
}

func progressBar(pct, width int) string {
	if width < 10 {
		width = 40
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := width * pct / 100
	bar := barFillStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
