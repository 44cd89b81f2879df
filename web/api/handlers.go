package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/runstore"
)

// CodeRequest is the intake payload.
type CodeRequest struct {
	RepoURL string `json:"repo_url"`
	Prompt  string `json:"prompt"`
}

// CodeResponse acknowledges an accepted request.
type CodeResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// RunResponse is the API view of a persisted run.
type RunResponse struct {
	ID         string  `json:"id"`
	RepoURL    string  `json:"repo_url"`
	Prompt     string  `json:"prompt"`
	Branch     string  `json:"branch,omitempty"`
	Stage      string  `json:"stage"`
	PRURL      string  `json:"pr_url,omitempty"`
	ErrorType  string  `json:"error_type,omitempty"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func runToResponse(r *runstore.RunRecord) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		RepoURL:   r.RepoURL,
		Prompt:    r.Prompt,
		Branch:    r.Branch,
		Stage:     string(r.Stage),
		PRURL:     r.PRURL,
		ErrorType: r.ErrorType,
		Error:     r.ErrorMessage,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

// codeHandler accepts a change request and starts its pipeline run.
// The response is the request id; progress arrives over the streams.
func (s *Server) codeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var payload CodeRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		req, err := domain.NewRequest(payload.RepoURL, payload.Prompt)
		if err != nil {
			writeJSONStatus(w, http.StatusBadRequest, map[string]string{
				"error":      err.Error(),
				"error_type": string(domain.KindOf(err)),
			})
			return
		}

		if err := s.store.CreateRun(req); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		go s.execute(req)

		writeJSONStatus(w, http.StatusAccepted, CodeResponse{
			RequestID: req.RequestID,
			Status:    "accepted",
		})
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(runs)
		for _, run := range runs {
			switch run.Stage {
			case domain.StageSucceeded:
				status.Succeeded++
			case domain.StageFailed:
				status.Failed++
			default:
				status.Active++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RunResponse, len(runs))
		for i, run := range runs {
			responses[i] = runToResponse(run)
		}
		writeJSON(w, responses)
	}
}

// runSubtreeHandler serves /api/runs/{id}, /api/runs/{id}/events and
// /api/runs/{id}/stream.
func (s *Server) runSubtreeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run id required")
			return
		}

		id := path
		action := ""
		if idx := strings.Index(path, "/"); idx > 0 {
			id, action = path[:idx], path[idx+1:]
		}

		switch action {
		case "":
			s.getRun(w, r, id)
		case "events":
			s.getRunEvents(w, r, id)
		case "stream":
			s.wsHub.Serve(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "unknown run resource")
		}
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run, err := s.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, runToResponse(run))
}

func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	events, err := s.store.ListEvents(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, events)
}
