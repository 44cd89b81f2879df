package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// DaytonaClient talks to a Daytona-compatible sandbox API.
type DaytonaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewDaytonaClient creates a client for the given API endpoint.
// Commands can run for minutes, so the HTTP timeout is generous.
func NewDaytonaClient(baseURL, apiKey string) *DaytonaClient {
	return &DaytonaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type createRequest struct {
	Name   string            `json:"name,omitempty"`
	CPU    int               `json:"cpu,omitempty"`
	Memory int               `json:"memory,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

type execRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// Create provisions a new sandbox from the profile.
func (c *DaytonaClient) Create(ctx context.Context, profile Profile) (Handle, error) {
	body := createRequest{
		Name:   profile.Name,
		CPU:    profile.CPU,
		Memory: profile.MemoryGB,
	}
	if profile.AgentType != "" {
		body.Labels = map[string]string{"agent": profile.AgentType}
	}

	var info Info
	if err := c.do(ctx, http.MethodPost, "/sandbox", body, &info); err != nil {
		return Handle{}, &domain.PipelineError{
			Kind:    domain.ErrProvisioning,
			Message: "failed to create sandbox",
			Detail:  err.Error(),
		}
	}
	if info.ID == "" {
		return Handle{}, domain.Errf(domain.ErrProvisioning, "sandbox service returned no id")
	}
	return Handle{ID: info.ID}, nil
}

// Exec runs a shell command inside the sandbox and returns its result.
// The error is non-nil only for transport or decoding failures.
func (c *DaytonaClient) Exec(ctx context.Context, h Handle, command, workdir string) (ExecResult, error) {
	var result ExecResult
	path := fmt.Sprintf("/toolbox/%s/process/execute", h.ID)
	if err := c.do(ctx, http.MethodPost, path, execRequest{Command: command, Cwd: workdir}, &result); err != nil {
		return ExecResult{}, fmt.Errorf("exec in sandbox %s: %w", h.ID, err)
	}
	return result, nil
}

// Destroy deletes the sandbox.
func (c *DaytonaClient) Destroy(ctx context.Context, h Handle) error {
	if err := c.do(ctx, http.MethodDelete, "/sandbox/"+h.ID, nil, nil); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", h.ID, err)
	}
	return nil
}

// List returns all sandboxes visible to this API key.
func (c *DaytonaClient) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	if err := c.do(ctx, http.MethodGet, "/sandbox", nil, &infos); err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	return infos, nil
}

func (c *DaytonaClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
