package domain

import "errors"

// ErrorKind identifies where in the pipeline a failure originated.
type ErrorKind string

const (
	ErrInvalidURL       ErrorKind = "InvalidUrlError"
	ErrPromptValidation ErrorKind = "PromptValidationError"
	ErrConfiguration    ErrorKind = "ConfigurationError"
	ErrProvisioning     ErrorKind = "ProvisioningError"
	ErrClone            ErrorKind = "CloneError"
	ErrBranch           ErrorKind = "BranchError"
	ErrNoChanges        ErrorKind = "NoChangesError"
	ErrPublication      ErrorKind = "PublicationError"
	ErrCleanup          ErrorKind = "CleanupError"
	ErrInternal         ErrorKind = "InternalError"
)

// PipelineError is a stage-local failure with an error kind the caller
// can dispatch on. Detail carries raw command output for diagnostics.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Detail  string
}

func (e *PipelineError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errf builds a PipelineError from a kind and message.
func Errf(kind ErrorKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// KindOf extracts the error kind, defaulting to InternalError for
// untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrInternal
}

// DetailOf extracts the raw diagnostic output attached to an error,
// if any.
func DetailOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Detail
	}
	return ""
}
