// Package sandbox provisions and drives ephemeral execution
// environments through a remote sandbox service.
package sandbox

import (
	"context"
	"time"
)

// Profile describes the environment to provision.
type Profile struct {
	Name      string
	AgentType string
	CPU       int
	MemoryGB  int
}

// Handle identifies a provisioned sandbox.
type Handle struct {
	ID string
}

// Info describes an existing sandbox as reported by the service.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExecResult is the outcome of a command that the sandbox actually ran.
// A nonzero ExitCode is not an error at this layer.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"result"`
}

// Gateway is the sandbox service contract. Exec returns an error only
// when the command could not be delivered or its result could not be
// retrieved; command failure is reported through ExecResult.ExitCode.
type Gateway interface {
	Create(ctx context.Context, profile Profile) (Handle, error)
	Exec(ctx context.Context, h Handle, command, workdir string) (ExecResult, error)
	Destroy(ctx context.Context, h Handle) error
	List(ctx context.Context) ([]Info, error)
}
