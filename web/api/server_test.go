package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/pipeline"
	"github.com/tinybackspace/tiny-backspace/internal/runstore"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu     sync.Mutex
	runs   map[string]*runstore.RunRecord
	events map[string][]domain.Event
}

func newMemStore() *memStore {
	return &memStore{
		runs:   make(map[string]*runstore.RunRecord),
		events: make(map[string][]domain.Event),
	}
}

func (m *memStore) CreateRun(req *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[req.RequestID] = &runstore.RunRecord{
		ID:        req.RequestID,
		RepoURL:   req.RepoURL,
		Prompt:    req.Prompt,
		Stage:     domain.StageIdle,
		StartedAt: time.Now(),
	}
	return nil
}

func (m *memStore) UpdateRun(run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.runs[run.Request.RequestID]; ok {
		record.Branch = run.BranchName
		record.Stage = run.Stage
		record.PRURL = run.PRURL
	}
	return nil
}

func (m *memStore) FinishRun(id string, stage domain.Stage, prURL, errType, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.runs[id]; ok {
		now := time.Now()
		record.Stage = stage
		record.PRURL = prURL
		record.ErrorType = errType
		record.ErrorMessage = errMessage
		record.FinishedAt = &now
	}
	return nil
}

func (m *memStore) GetRun(id string) (*runstore.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return record, nil
}

func (m *memStore) ListRuns(limit int) ([]*runstore.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*runstore.RunRecord
	for _, record := range m.runs {
		records = append(records, record)
	}
	return records, nil
}

func (m *memStore) ListEvents(runID string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[runID], nil
}

func (m *memStore) Recorder(runID string) pipeline.Sink {
	return pipeline.SinkFunc(func(event domain.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.events[runID] = append(m.events[runID], event)
	})
}

// stubRunner finishes instantly with a fixed outcome.
type stubRunner struct {
	err  error
	done chan string
}

func (r *stubRunner) Process(ctx context.Context, req *domain.Request, sink pipeline.Sink) (*domain.Run, error) {
	run := &domain.Run{Request: req, Owner: "octocat", Repo: "hello-world"}
	if r.err != nil {
		run.Stage = domain.StageFailed
		sink.Emit(domain.ErrorEvent(req.RequestID, r.err))
	} else {
		run.Stage = domain.StageSucceeded
		run.PRURL = "https://github.com/octocat/hello-world/pull/7"
		sink.Emit(domain.CompleteEvent(req.RequestID, run.PRURL))
	}
	if r.done != nil {
		r.done <- req.RequestID
	}
	return run, r.err
}

func postCode(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/code", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCodeHandler_Accepted(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{done: make(chan string, 1)}
	server := NewServer(store, runner, ":0", 2)

	rec := postCode(t, server.Handler(),
		`{"repo_url": "https://github.com/octocat/hello-world", "prompt": "fix the bug"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var resp CodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID == "" || resp.Status != "accepted" {
		t.Errorf("response = %+v", resp)
	}

	select {
	case id := <-runner.done:
		if id != resp.RequestID {
			t.Errorf("runner saw %q, want %q", id, resp.RequestID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner was never invoked")
	}

	// The run reaches its terminal state in the store.
	deadline := time.Now().Add(2 * time.Second)
	for {
		record, err := store.GetRun(resp.RequestID)
		if err == nil && record.Stage == domain.StageSucceeded {
			if record.PRURL == "" {
				t.Error("finished run should carry the pr url")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached succeeded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCodeHandler_ValidationFailure(t *testing.T) {
	server := NewServer(newMemStore(), &stubRunner{}, ":0", 1)

	rec := postCode(t, server.Handler(),
		`{"repo_url": "https://github.com/octocat/hello-world", "prompt": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["error_type"] != "PromptValidationError" {
		t.Errorf("error_type = %q, want PromptValidationError", resp["error_type"])
	}
}

func TestCodeHandler_BadJSON(t *testing.T) {
	server := NewServer(newMemStore(), &stubRunner{}, ":0", 1)
	rec := postCode(t, server.Handler(), "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCodeHandler_MethodNotAllowed(t *testing.T) {
	server := NewServer(newMemStore(), &stubRunner{}, ":0", 1)
	req := httptest.NewRequest(http.MethodGet, "/api/code", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRunEndpoints(t *testing.T) {
	store := newMemStore()
	server := NewServer(store, &stubRunner{}, ":0", 1)

	req, err := domain.NewRequest("https://github.com/octocat/hello-world", "add tests")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateRun(req); err != nil {
		t.Fatal(err)
	}
	store.Recorder(req.RequestID).Emit(domain.MessageEvent(req.RequestID, "hello"))

	// Single run.
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/runs/"+req.RequestID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get run status = %d", rec.Code)
	}
	var run RunResponse
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID != req.RequestID || run.Stage != "idle" {
		t.Errorf("run = %+v", run)
	}

	// Its events.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/runs/"+req.RequestID+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get events status = %d", rec.Code)
	}
	var events []domain.Event
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != domain.EventMessage {
		t.Errorf("events = %+v", events)
	}

	// Unknown run.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rec.Code)
	}

	// Listing.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list runs status = %d", rec.Code)
	}
	var list []RunResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestStatusHandler(t *testing.T) {
	store := newMemStore()
	server := NewServer(store, &stubRunner{}, ":0", 1)

	for i := 0; i < 3; i++ {
		req, err := domain.NewRequest("https://github.com/octocat/hello-world",
			fmt.Sprintf("task %d", i))
		if err != nil {
			t.Fatal(err)
		}
		if err := store.CreateRun(req); err != nil {
			t.Fatal(err)
		}
		switch i {
		case 0:
			store.FinishRun(req.RequestID, domain.StageSucceeded, "https://github.com/o/r/pull/1", "", "")
		case 1:
			store.FinishRun(req.RequestID, domain.StageFailed, "", "CloneError", "boom")
		}
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Total != 3 || status.Succeeded != 1 || status.Failed != 1 || status.Active != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestSSEHub_FiltersByRun(t *testing.T) {
	hub := NewSSEHub()
	go hub.Run()

	all := &sseClient{ch: make(chan domain.Event, 4)}
	one := &sseClient{runID: "r1", ch: make(chan domain.Event, 4)}
	hub.register <- all
	hub.register <- one

	hub.Broadcast(domain.MessageEvent("r1", "hello"))
	hub.Broadcast(domain.MessageEvent("r2", "other"))

	if e := <-all.ch; e.RequestID != "r1" {
		t.Errorf("unfiltered client got %q first", e.RequestID)
	}
	if e := <-all.ch; e.RequestID != "r2" {
		t.Errorf("unfiltered client got %q second", e.RequestID)
	}
	if e := <-one.ch; e.RequestID != "r1" {
		t.Errorf("filtered client got %q", e.RequestID)
	}
	select {
	case e := <-one.ch:
		t.Errorf("filtered client received foreign event %+v", e)
	default:
	}
}

func TestSSEHandler_ReplaysPersistedRun(t *testing.T) {
	store := newMemStore()
	server := NewServer(store, &stubRunner{}, ":0", 1)

	req, err := domain.NewRequest("https://github.com/octocat/hello-world", "fix it")
	if err != nil {
		t.Fatal(err)
	}
	recorder := store.Recorder(req.RequestID)
	recorder.Emit(domain.ProgressEvent(req.RequestID, domain.StageSourceCheckout, "Cloning repository", 15))
	recorder.Emit(domain.ToolEvent(req.RequestID, "edit_file", "main.go"))

	// A pre-cancelled context makes the stream close right after the
	// replay is written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	httpReq := httptest.NewRequest(http.MethodGet, "/api/events?run="+req.RequestID, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		server.Handler().ServeHTTP(rec, httpReq)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sse handler never returned")
	}

	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: progress")) {
		t.Errorf("replay missing progress event:\n%s", body)
	}
	if !bytes.Contains([]byte(body), []byte("Cloning repository")) {
		t.Errorf("replay missing persisted payload:\n%s", body)
	}
	if !bytes.Contains([]byte(body), []byte("main.go")) {
		t.Errorf("replay missing tool event:\n%s", body)
	}
}

func TestExecute_RecordsFailure(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{err: domain.Errf(domain.ErrClone, "repository not found"), done: make(chan string, 1)}
	server := NewServer(store, runner, ":0", 1)

	req, err := domain.NewRequest("https://github.com/octocat/hello-world", "do it")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateRun(req); err != nil {
		t.Fatal(err)
	}

	server.execute(req)

	record, err := store.GetRun(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if record.Stage != domain.StageFailed || record.ErrorType != "CloneError" {
		t.Errorf("record = %+v", record)
	}
	if record.FinishedAt == nil {
		t.Error("failed run should carry a finish time")
	}
}
