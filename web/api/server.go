// Package api exposes the pipeline over HTTP: request intake, run
// inspection, and live event streaming via SSE and websockets.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/pipeline"
	"github.com/tinybackspace/tiny-backspace/internal/runstore"
)

// Store is the persistence surface the server needs.
type Store interface {
	CreateRun(req *domain.Request) error
	UpdateRun(run *domain.Run) error
	FinishRun(id string, stage domain.Stage, prURL, errType, errMessage string) error
	GetRun(id string) (*runstore.RunRecord, error)
	ListRuns(limit int) ([]*runstore.RunRecord, error)
	ListEvents(runID string) ([]domain.Event, error)
	Recorder(runID string) pipeline.Sink
}

// Runner executes one accepted request end to end.
type Runner interface {
	Process(ctx context.Context, req *domain.Request, sink pipeline.Sink) (*domain.Run, error)
}

// Server is the HTTP API server
type Server struct {
	store  Store
	runner Runner
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
	wsHub  *WSHub

	// Bounds how many pipeline runs execute at once; extra requests
	// queue on this semaphore, not in the sandbox provider.
	sem chan struct{}
}

// NewServer creates a new API server
func NewServer(store Store, runner Runner, addr string, maxConcurrent int) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Server{
		store:  store,
		runner: runner,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		wsHub:  NewWSHub(),
		sem:    make(chan struct{}, maxConcurrent),
	}
	s.setupRoutes()
	go s.sseHub.Run()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/code", s.codeHandler())
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.runSubtreeHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// runSink fans pipeline events to persistence, the SSE stream and the
// run's websocket watchers.
func (s *Server) runSink(requestID string) pipeline.Sink {
	return pipeline.MultiSink{
		s.store.Recorder(requestID),
		pipeline.SinkFunc(s.sseHub.Broadcast),
		pipeline.SinkFunc(func(event domain.Event) {
			s.wsHub.Publish(requestID, event)
		}),
	}
}

// execute runs one request under the concurrency bound and persists
// its terminal state.
func (s *Server) execute(req *domain.Request) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	sink := s.runSink(req.RequestID)
	run, err := s.runner.Process(context.Background(), req, sink)

	if run != nil {
		_ = s.store.UpdateRun(run)
	}
	if err != nil {
		_ = s.store.FinishRun(req.RequestID, domain.StageFailed, "",
			string(domain.KindOf(err)), err.Error())
		return
	}
	_ = s.store.FinishRun(req.RequestID, domain.StageSucceeded, run.PRURL, "", "")
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
