// Package message generates deterministic commit and pull-request text
// from a change request and its analyzed change-set. Nothing here does
// I/O: identical inputs always produce byte-identical output.
package message

import (
	"fmt"
	"strings"

	"github.com/tinybackspace/tiny-backspace/internal/changeset"
	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// Intent is a conventional-commit change type.
type Intent string

const (
	IntentFix      Intent = "fix"
	IntentFeat     Intent = "feat"
	IntentRefactor Intent = "refactor"
	IntentDocs     Intent = "docs"
	IntentTest     Intent = "test"
	IntentStyle    Intent = "style"
)

// intentKeywords are scanned in priority order: the first group with a
// match wins, overriding any category-based inference.
var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentFix, []string{"fix", "bug", "error", "issue"}},
	{IntentTest, []string{"test", "spec"}},
	{IntentRefactor, []string{"refactor", "restructure", "reorganize"}},
	{IntentDocs, []string{"document", "docs", "readme"}},
	{IntentStyle, []string{"style", "format", "lint"}},
	{IntentFeat, []string{"add", "new", "create", "implement"}},
}

// ClassifyIntent determines the change type from the prompt, falling
// back to the change-set's category shape when no keyword matches.
func ClassifyIntent(prompt string, cs *changeset.ChangeSet) Intent {
	lower := strings.ToLower(prompt)
	for _, group := range intentKeywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				return group.intent
			}
		}
	}

	if cs != nil {
		categories := cs.Categories
		if len(categories["tests"]) > 0 {
			return IntentTest
		}
		if len(categories) == 1 && len(categories["docs"]) > 0 {
			return IntentDocs
		}
		if len(categories) == 1 && len(categories["styles"]) > 0 {
			return IntentStyle
		}
	}

	return IntentFeat
}

const attribution = "Generated by Tiny Backspace with Claude Code"

// titleFor renders the conventional-commit title line with the prompt
// truncated at 50 characters.
func titleFor(intent Intent, prompt string) string {
	clean := strings.TrimSpace(prompt)
	if runes := []rune(clean); len(runes) > 50 {
		clean = strings.TrimRight(string(runes[:50]), " ") + "..."
	}
	return fmt.Sprintf("%s: %s", intent, clean)
}

// CommitMessage renders the full commit message: conventional title,
// categorized file listing capped at 5 per category, stats line, and
// attribution footer.
func CommitMessage(intent Intent, prompt string, cs *changeset.ChangeSet) string {
	var b strings.Builder
	b.WriteString(titleFor(intent, prompt))
	b.WriteString("\n\n")
	b.WriteString("Task: " + prompt + "\n\n")
	b.WriteString("Changes made:\n")

	for _, category := range changeset.CategoryOrder {
		files := cs.Categories[category]
		if len(files) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("- %s:\n", capitalize(category)))
		for i, file := range files {
			if i == 5 {
				b.WriteString(fmt.Sprintf("  - ... and %d more\n", len(files)-5))
				break
			}
			b.WriteString("  - " + file + "\n")
		}
	}

	if cs.Stats.TotalFiles > 0 {
		b.WriteString(fmt.Sprintf("\nImpact: %d files changed, +%d/-%d lines\n",
			cs.Stats.TotalFiles, cs.Stats.TotalAdditions, cs.Stats.TotalDeletions))
	}

	b.WriteString("\n" + attribution)
	return b.String()
}

// PRTitle renders the pull-request title.
func PRTitle(intent Intent, prompt string) string {
	return titleFor(intent, prompt)
}

// PRBody renders the pull-request body: summary with aggregate stats,
// per-category file listing with actions and deltas, narrative tool
// usage, a testing checklist, and the attribution footer.
func PRBody(prompt string, cs *changeset.ChangeSet, usage domain.ToolUsage, branchName, requestID string) string {
	sections := []string{
		fmt.Sprintf("## Summary\n\n**Task:** %s\n\n**Impact:** %d files changed | +%d lines | -%d lines",
			prompt, cs.Stats.TotalFiles, cs.Stats.TotalAdditions, cs.Stats.TotalDeletions),
		filesSection(cs),
	}

	if details := technicalDetails(usage); details != "" {
		sections = append(sections, details)
	}

	sections = append(sections, testingChecklist(cs))

	sections = append(sections, fmt.Sprintf(
		"---\n\n### %s\n\nThis PR was automatically generated based on the prompt above. The implementation was done by a coding agent in a sandboxed environment.\n\n**Branch:** `%s`\n**Request ID:** `%s`",
		attribution, branchName, requestID))

	return strings.Join(sections, "\n\n")
}

func filesSection(cs *changeset.ChangeSet) string {
	var b strings.Builder
	b.WriteString("## Files Changed\n")

	actionLabel := map[changeset.Action]string{
		changeset.ActionAdded:    "[Added]",
		changeset.ActionModified: "[Modified]",
		changeset.ActionDeleted:  "[Deleted]",
	}

	byPath := make(map[string]changeset.FileChange, len(cs.Files))
	for _, f := range cs.Files {
		byPath[f.Path] = f
	}

	wrote := false
	for _, category := range changeset.CategoryOrder {
		files := cs.Categories[category]
		if len(files) == 0 {
			continue
		}
		wrote = true
		b.WriteString(fmt.Sprintf("\n### %s\n", capitalize(category)))
		for i, path := range files {
			if i == 5 {
				b.WriteString(fmt.Sprintf("- ... and %d more\n", len(files)-5))
				break
			}
			f := byPath[path]
			b.WriteString(fmt.Sprintf("- %s `%s` (+%d/-%d)\n",
				actionLabel[f.Action], path, f.Additions, f.Deletions))
		}
	}
	if !wrote {
		b.WriteString("\nNo categorized changes found.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func technicalDetails(usage domain.ToolUsage) string {
	if len(usage.FilesRead) == 0 && len(usage.CommandsRun) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Technical Details\n")

	if len(usage.FilesRead) > 0 {
		b.WriteString(fmt.Sprintf("\n**Files Analyzed:** %d\n", len(usage.FilesRead)))
		for i, file := range usage.FilesRead {
			if i == 5 {
				b.WriteString(fmt.Sprintf("- ... and %d more\n", len(usage.FilesRead)-5))
				break
			}
			b.WriteString("- `" + file + "`\n")
		}
	}

	if len(usage.CommandsRun) > 0 {
		b.WriteString("\n**Commands Executed:**\n")
		for i, cmd := range usage.CommandsRun {
			if i == 3 {
				break
			}
			b.WriteString("```bash\n" + cmd + "\n```\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func testingChecklist(cs *changeset.ChangeSet) string {
	var b strings.Builder
	b.WriteString("## Testing Checklist\n\n")
	b.WriteString("- [ ] Code compiles without errors\n")
	b.WriteString("- [ ] No linting errors introduced\n")

	if len(cs.Categories["code"]) > 0 {
		b.WriteString("- [ ] Unit tests pass\n")
		b.WriteString("- [ ] Manual testing completed\n")
	}
	if len(cs.Categories["config"]) > 0 {
		b.WriteString("- [ ] Configuration changes validated\n")
	}
	if len(cs.Categories["styles"]) > 0 {
		b.WriteString("- [ ] Visual changes reviewed\n")
	}
	if len(cs.Categories["docs"]) > 0 {
		b.WriteString("- [ ] Documentation builds correctly\n")
	}
	if cs.Stats.TotalAdditions > 100 {
		b.WriteString("- [ ] Performance impact assessed\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
