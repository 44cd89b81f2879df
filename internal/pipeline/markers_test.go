package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarkerSet_Classify(t *testing.T) {
	markers := DefaultMarkers()

	tests := []struct {
		line   string
		kind   LineKind
		detail string
	}{
		{"[12:00:01] Creating file: src/app.py", LineFileCreate, "src/app.py"},
		{"[12:00:02] Writing to: README.md", LineFileCreate, "README.md"},
		{"[12:00:03] Editing file: main.go", LineFileEdit, "main.go"},
		{"[12:00:04] Modifying: config.toml", LineFileEdit, "config.toml"},
		{"[12:00:05] Reading file: go.mod", LineFileRead, "go.mod"},
		{"[12:00:06] Executing: go test ./...", LineCommand, "go test ./..."},
		{"[12:00:07] Running command: ls -la", LineCommand, "ls -la"},
		{"Creating file: bare.txt", LineFileCreate, "bare.txt"},
		{"[12:00:08] just some narration", LineOther, "just some narration"},
		{"[12:00:09] Agent execution completed with exit code: 0", LineCompletion, "Agent execution completed with exit code: 0"},
	}

	for _, tt := range tests {
		kind, detail := markers.Classify(tt.line)
		if kind != tt.kind {
			t.Errorf("Classify(%q) kind = %s, want %s", tt.line, kind, tt.kind)
		}
		if kind != LineCompletion && kind != LineOther && detail != tt.detail {
			t.Errorf("Classify(%q) detail = %q, want %q", tt.line, detail, tt.detail)
		}
	}
}

func TestMarkerSet_ExitCode(t *testing.T) {
	markers := DefaultMarkers()

	tests := []struct {
		line string
		code int
		ok   bool
	}{
		{"[12:00:09] Agent execution completed with exit code: 0", 0, true},
		{"Agent execution completed with exit code: 137", 137, true},
		{"Agent execution completed with exit code: -1", -1, true},
		{"Agent execution completed with exit code:", 0, false},
		{"unrelated line", 0, false},
	}

	for _, tt := range tests {
		code, ok := markers.ExitCode(tt.line)
		if ok != tt.ok || code != tt.code {
			t.Errorf("ExitCode(%q) = %d,%v, want %d,%v", tt.line, code, ok, tt.code, tt.ok)
		}
	}
}

func TestMarkerSet_ExtractUsage(t *testing.T) {
	log := `[12:00:01] Reading file: go.mod
[12:00:02] Reading file: go.mod
[12:00:03] Creating file: handler.go
[12:00:04] Editing file: router.go
[12:00:05] Executing: go vet ./...
[12:00:06] narration line
[12:00:07] Agent execution completed with exit code: 0`

	usage := DefaultMarkers().ExtractUsage(log)

	if len(usage.FilesRead) != 1 || usage.FilesRead[0] != "go.mod" {
		t.Errorf("FilesRead = %v, want deduplicated [go.mod]", usage.FilesRead)
	}
	if len(usage.FilesCreated) != 1 || usage.FilesCreated[0] != "handler.go" {
		t.Errorf("FilesCreated = %v", usage.FilesCreated)
	}
	if len(usage.FilesEdited) != 1 || usage.FilesEdited[0] != "router.go" {
		t.Errorf("FilesEdited = %v", usage.FilesEdited)
	}
	if len(usage.CommandsRun) != 1 || usage.CommandsRun[0] != "go vet ./..." {
		t.Errorf("CommandsRun = %v", usage.CommandsRun)
	}
}

func TestLoadMarkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markers.yaml")

	content := `
completion: "DONE WITH CODE:"
file_create:
  - "NEW:"
command:
  - "RUN:"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	markers, err := LoadMarkers(path)
	if err != nil {
		t.Fatalf("LoadMarkers: %v", err)
	}
	if markers.Completion != "DONE WITH CODE:" {
		t.Errorf("Completion = %q", markers.Completion)
	}
	if kind, detail := markers.Classify("[12:00:00] NEW: thing.go"); kind != LineFileCreate || detail != "thing.go" {
		t.Errorf("custom marker classify = %s %q", kind, detail)
	}
	if code, ok := markers.ExitCode("DONE WITH CODE: 3"); !ok || code != 3 {
		t.Errorf("custom completion exit code = %d,%v", code, ok)
	}
}

func TestLoadMarkers_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markers.yaml")
	if err := os.WriteFile(path, []byte("file_create: not-a-list"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMarkers(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
