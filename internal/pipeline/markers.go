// Package pipeline runs a change request end to end: provision a
// sandbox, clone the repository, run the coding agent, commit what it
// changed, and open a pull request.
package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// LineKind classifies one agent log line.
type LineKind string

const (
	LineFileCreate LineKind = "file_create"
	LineFileEdit   LineKind = "file_edit"
	LineFileRead   LineKind = "file_read"
	LineCommand    LineKind = "command"
	LineCompletion LineKind = "completion"
	LineOther      LineKind = "other"
)

// MarkerSet holds the log prefixes the agent wrapper emits for each
// activity. The set is loadable from YAML so a different agent wrapper
// only needs a config change.
type MarkerSet struct {
	Completion string   `yaml:"completion"`
	FileCreate []string `yaml:"file_create"`
	FileEdit   []string `yaml:"file_edit"`
	FileRead   []string `yaml:"file_read"`
	Command    []string `yaml:"command"`
}

// DefaultMarkers matches the stock agent wrapper script.
func DefaultMarkers() MarkerSet {
	return MarkerSet{
		Completion: "Agent execution completed with exit code:",
		FileCreate: []string{"Creating file:", "Writing to:"},
		FileEdit:   []string{"Editing file:", "Modifying:"},
		FileRead:   []string{"Reading file:"},
		Command:    []string{"Executing:", "Running command:"},
	}
}

// LoadMarkers reads a marker set from a YAML file. Empty fields fall
// back to the defaults so a partial file stays usable.
func LoadMarkers(path string) (MarkerSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MarkerSet{}, fmt.Errorf("read markers file: %w", err)
	}

	markers := DefaultMarkers()
	if err := yaml.Unmarshal(data, &markers); err != nil {
		return MarkerSet{}, &domain.PipelineError{
			Kind:    domain.ErrConfiguration,
			Message: "invalid markers file",
			Detail:  err.Error(),
		}
	}
	if markers.Completion == "" {
		markers.Completion = DefaultMarkers().Completion
	}
	return markers, nil
}

// Classify maps a log line to its kind and the detail after the
// marker. Wrapper lines carry a "[HH:MM:SS] " timestamp prefix; the
// detail starts after the last "] " so plain lines also work.
func (m MarkerSet) Classify(line string) (LineKind, string) {
	body := line
	if idx := strings.LastIndex(line, "] "); idx >= 0 {
		body = line[idx+2:]
	}

	if strings.Contains(line, m.Completion) {
		return LineCompletion, body
	}

	groups := []struct {
		kind    LineKind
		markers []string
	}{
		{LineFileCreate, m.FileCreate},
		{LineFileEdit, m.FileEdit},
		{LineFileRead, m.FileRead},
		{LineCommand, m.Command},
	}
	for _, group := range groups {
		for _, marker := range group.markers {
			if idx := strings.Index(body, marker); idx >= 0 {
				return group.kind, strings.TrimSpace(body[idx+len(marker):])
			}
		}
	}

	return LineOther, body
}

// ExitCode extracts the exit code from a completion line. The second
// return is false when the line carries no parsable code.
func (m MarkerSet) ExitCode(line string) (int, bool) {
	idx := strings.Index(line, m.Completion)
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len(m.Completion):])
	if rest == "" {
		return 0, false
	}
	// Take the leading integer, tolerating trailing text.
	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}

// ExtractUsage scans a full log and aggregates tool activity.
func (m MarkerSet) ExtractUsage(log string) domain.ToolUsage {
	var usage domain.ToolUsage
	for _, line := range strings.Split(log, "\n") {
		kind, detail := m.Classify(line)
		if detail == "" {
			continue
		}
		switch kind {
		case LineFileCreate:
			usage.AddCreate(detail)
		case LineFileEdit:
			usage.AddEdit(detail)
		case LineFileRead:
			usage.AddRead(detail)
		case LineCommand:
			usage.AddCommand(detail)
		}
	}
	return usage
}
