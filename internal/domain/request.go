package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxPromptLength is the upper bound on the free-text change request.
const MaxPromptLength = 1000

// Request is the immutable input to one pipeline run.
type Request struct {
	RequestID string
	RepoURL   string
	Prompt    string
}

// NewRequest validates the prompt and assigns a request ID.
// URL validation happens separately so the caller can surface it
// with its own error kind.
func NewRequest(repoURL, prompt string) (*Request, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &PipelineError{Kind: ErrPromptValidation, Message: "prompt cannot be empty"}
	}
	if len(prompt) > MaxPromptLength {
		return nil, &PipelineError{
			Kind:    ErrPromptValidation,
			Message: fmt.Sprintf("prompt too long (max %d characters)", MaxPromptLength),
		}
	}

	return &Request{
		RequestID: uuid.NewString(),
		RepoURL:   strings.TrimSpace(repoURL),
		Prompt:    prompt,
	}, nil
}

// ShortID returns the first 8 characters of the request ID, used in
// sandbox and branch names.
func (r *Request) ShortID() string {
	if len(r.RequestID) < 8 {
		return r.RequestID
	}
	return r.RequestID[:8]
}
