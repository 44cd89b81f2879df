package domain

// EventKind classifies a pipeline event for the consumer.
type EventKind string

const (
	EventProgress      EventKind = "progress"
	EventTool          EventKind = "tool"
	EventMessage       EventKind = "message"
	EventChangeSummary EventKind = "change_summary"
	EventPRCreated     EventKind = "pr_created"
	EventWarning       EventKind = "warning"
	EventCleanup       EventKind = "cleanup"
	EventError         EventKind = "error"
	EventComplete      EventKind = "complete"
)

// Event is one unit of the ordered, append-only status stream surfaced
// to the caller. Events are never retracted or rewritten.
type Event struct {
	RequestID string                 `json:"request_id"`
	Kind      EventKind              `json:"kind"`
	Data      map[string]interface{} `json:"data"`
}

// ProgressEvent reports stage transition progress.
func ProgressEvent(requestID string, stage Stage, message string, percentage int) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventProgress,
		Data: map[string]interface{}{
			"stage":      string(stage),
			"message":    message,
			"percentage": percentage,
		},
	}
}

// ToolEvent reports a tool invocation, either observed in the agent's
// log or performed by the pipeline itself.
func ToolEvent(requestID, tool, detail string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventTool,
		Data: map[string]interface{}{
			"tool":   tool,
			"detail": detail,
		},
	}
}

// MessageEvent carries free-text narration.
func MessageEvent(requestID, message string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventMessage,
		Data:      map[string]interface{}{"message": message},
	}
}

// WarningEvent carries a non-fatal condition such as a monitor timeout.
func WarningEvent(requestID, message string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventWarning,
		Data:      map[string]interface{}{"message": message},
	}
}

// CleanupEvent carries low-severity cleanup diagnostics. Cleanup
// failures are never escalated to the run's terminal status.
func CleanupEvent(requestID, message string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventCleanup,
		Data:      map[string]interface{}{"message": message},
	}
}

// ChangeSummaryEvent reports the analyzed change-set about to be
// committed.
func ChangeSummaryEvent(requestID string, files, additions, deletions int, intent string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventChangeSummary,
		Data: map[string]interface{}{
			"total_files":     files,
			"total_additions": additions,
			"total_deletions": deletions,
			"intent":          intent,
		},
	}
}

// PRCreatedEvent reports the published pull request.
func PRCreatedEvent(requestID, url, branch string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventPRCreated,
		Data: map[string]interface{}{
			"pr_url": url,
			"branch": branch,
		},
	}
}

// CompleteEvent is the terminal event of a successful run.
func CompleteEvent(requestID, prURL string) Event {
	return Event{
		RequestID: requestID,
		Kind:      EventComplete,
		Data: map[string]interface{}{
			"pr_url":  prURL,
			"message": "pipeline finished",
		},
	}
}

// ErrorEvent is the terminal event of a failed run.
func ErrorEvent(requestID string, err error) Event {
	data := map[string]interface{}{
		"error_type": string(KindOf(err)),
		"message":    err.Error(),
	}
	if detail := DetailOf(err); detail != "" {
		data["detail"] = detail
	}
	return Event{RequestID: requestID, Kind: EventError, Data: data}
}
