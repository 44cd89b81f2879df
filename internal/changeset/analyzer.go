// Package changeset turns raw git status and numstat output into a
// normalized, categorized change-set.
package changeset

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Action classifies what happened to a file.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
)

// FileChange is one changed file with its line deltas.
type FileChange struct {
	Path      string
	Action    Action
	Additions int
	Deletions int
}

// Stats aggregates the per-file deltas.
type Stats struct {
	TotalFiles     int
	TotalAdditions int
	TotalDeletions int
}

// ChangeSet is the normalized output of Analyze. It is never mutated
// after construction; re-analysis produces a new ChangeSet.
type ChangeSet struct {
	Files      []FileChange
	Stats      Stats
	Categories map[string][]string
}

// CategoryOrder fixes the iteration order for rendering, keeping all
// generated text deterministic.
var CategoryOrder = []string{"code", "config", "docs", "styles", "tests", "data", "other"}

var categoryByExt = map[string]string{
	".py": "code", ".js": "code", ".ts": "code", ".tsx": "code", ".jsx": "code",
	".java": "code", ".cpp": "code", ".c": "code", ".h": "code", ".go": "code",
	".rs": "code", ".rb": "code", ".php": "code",

	".json": "config", ".yaml": "config", ".yml": "config", ".toml": "config",
	".ini": "config", ".env": "config", ".gitignore": "config",

	".md": "docs", ".rst": "docs", ".txt": "docs", ".pdf": "docs", ".docx": "docs",

	".css": "styles", ".scss": "styles", ".sass": "styles", ".less": "styles",

	".csv": "data", ".xml": "data", ".sql": "data",
}

var testSuffixes = []string{"_test.go", "_test.py", ".test.js", ".spec.js", ".spec.ts", "_spec.rb"}

// Categorize maps a path to its category bucket. Test files are
// detected by filename suffix before the extension table; anything
// unmatched falls back to "other" so every file lands in exactly one
// bucket.
func Categorize(path string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, suffix := range testSuffixes {
		if strings.HasSuffix(base, suffix) {
			return "tests"
		}
	}
	if category, ok := categoryByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return category
	}
	return "other"
}

// DiffLookup returns the `git diff --numstat` line for a single path.
type DiffLookup func(path string) (string, error)

// Analyze parses `git status --porcelain` output into a ChangeSet,
// using lookup for per-file line deltas of non-deleted files. The
// result is deterministic: identical input always yields an identical
// ChangeSet.
func Analyze(statusOutput string, lookup DiffLookup) *ChangeSet {
	cs := &ChangeSet{Categories: make(map[string][]string)}

	for _, line := range strings.Split(statusOutput, "\n") {
		if len(strings.TrimSpace(line)) == 0 || len(line) < 3 {
			continue
		}

		// Porcelain format: XY<space>path. The first two characters
		// are the status code, the path starts at offset 3.
		code := strings.TrimSpace(line[:2])
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}

		change := FileChange{Path: path, Action: actionFor(code)}
		if change.Action != ActionDeleted && lookup != nil {
			if numstat, err := lookup(path); err == nil {
				change.Additions, change.Deletions = parseNumstat(numstat)
			}
		}

		cs.Files = append(cs.Files, change)
		category := Categorize(path)
		cs.Categories[category] = append(cs.Categories[category], path)
	}

	for _, f := range cs.Files {
		cs.Stats.TotalAdditions += f.Additions
		cs.Stats.TotalDeletions += f.Deletions
	}
	cs.Stats.TotalFiles = len(cs.Files)

	return cs
}

// actionFor maps a porcelain status code to an action. Unknown codes
// default to modified: the caller must always receive some
// classification for every changed path.
func actionFor(code string) Action {
	switch code {
	case "A", "??":
		return ActionAdded
	case "D":
		return ActionDeleted
	default:
		return ActionModified
	}
}

// parseNumstat extracts additions and deletions from one numstat line
// ("12\t3\tpath"). A dash marks a binary file and counts as zero.
func parseNumstat(line string) (additions, deletions int) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) < 3 {
		return 0, 0
	}
	additions = numstatField(parts[0])
	deletions = numstatField(parts[1])
	return additions, deletions
}

func numstatField(field string) int {
	if field == "-" {
		return 0
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0
	}
	return n
}
