// Package runstore provides SQLite-backed persistence for pipeline
// runs and their event streams.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/pipeline"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// RunRecord is the persisted view of one pipeline run.
type RunRecord struct {
	ID           string
	RepoURL      string
	Owner        string
	Repo         string
	Prompt       string
	Branch       string
	SandboxID    string
	Stage        domain.Stage
	PRURL        string
	ErrorType    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records a freshly accepted request.
func (s *Store) CreateRun(req *domain.Request) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, repo_url, prompt, stage, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, req.RequestID, req.RepoURL, req.Prompt, string(domain.StageIdle), time.Now())
	return err
}

// UpdateRun refreshes the mutable fields from the live run state.
func (s *Store) UpdateRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		UPDATE runs SET owner = ?, repo = ?, branch = ?, sandbox_id = ?, stage = ?, pr_url = ?
		WHERE id = ?
	`, run.Owner, run.Repo, run.BranchName, run.SandboxID, string(run.Stage), run.PRURL,
		run.Request.RequestID)
	return err
}

// UpdateStage updates just the stage column.
func (s *Store) UpdateStage(id string, stage domain.Stage) error {
	_, err := s.db.Exec(`UPDATE runs SET stage = ? WHERE id = ?`, string(stage), id)
	return err
}

// FinishRun marks a run terminal. errType and errMessage are empty for
// a successful run.
func (s *Store) FinishRun(id string, stage domain.Stage, prURL, errType, errMessage string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET stage = ?, pr_url = ?, error_type = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, string(stage), prURL, errType, errMessage, time.Now(), id)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, repo_url, owner, repo, prompt, branch, sandbox_id, stage, pr_url, error_type, error_message, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row.Scan)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, repo_url, owner, repo, prompt, branch, sandbox_id, stage, pr_url, error_type, error_message, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// AppendEvent persists one event at the end of the run's stream.
func (s *Store) AppendEvent(runID string, event domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO run_events (run_id, timestamp, kind, data) VALUES (?, ?, ?, ?)
	`, runID, time.Now(), string(event.Kind), string(data))
	return err
}

// ListEvents returns a run's events in emission order.
func (s *Store) ListEvents(runID string) ([]domain.Event, error) {
	rows, err := s.db.Query(`
		SELECT kind, data FROM run_events WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var kind, data string
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, err
		}
		event := domain.Event{RequestID: runID, Kind: domain.EventKind(kind)}
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Recorder returns a sink that persists every event of one run. Write
// failures are dropped: persistence must never stall the pipeline.
func (s *Store) Recorder(runID string) pipeline.Sink {
	return pipeline.SinkFunc(func(event domain.Event) {
		_ = s.AppendEvent(runID, event)
	})
}

func scanRun(scan func(dest ...interface{}) error) (*RunRecord, error) {
	var record RunRecord
	var owner, repo, branch, sandboxID, prURL, errType, errMessage sql.NullString
	var stage string
	var finishedAt sql.NullTime

	err := scan(&record.ID, &record.RepoURL, &owner, &repo, &record.Prompt, &branch,
		&sandboxID, &stage, &prURL, &errType, &errMessage, &record.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	record.Owner = owner.String
	record.Repo = repo.String
	record.Branch = branch.String
	record.SandboxID = sandboxID.String
	record.Stage = domain.Stage(stage)
	record.PRURL = prURL.String
	record.ErrorType = errType.String
	record.ErrorMessage = errMessage.String
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	return &record, nil
}
