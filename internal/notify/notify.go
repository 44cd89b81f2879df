// Package notify delivers terminal-outcome notifications for pipeline
// runs.
package notify

import (
	"fmt"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	PRURL   string // Optional PR URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// RunFinished builds the outcome notification for a completed run.
func RunFinished(run *domain.Run, err error) Notification {
	id := run.Request.RequestID
	if err != nil {
		return Notification{
			Title:   "Pipeline run failed",
			Message: fmt.Sprintf("%s/%s: %v", run.Owner, run.Repo, err),
			Type:    NotifyError,
			RunID:   id,
		}
	}
	return Notification{
		Title:   "Pull request ready",
		Message: fmt.Sprintf("%s/%s: %s", run.Owner, run.Repo, run.PRURL),
		Type:    NotifySuccess,
		RunID:   id,
		PRURL:   run.PRURL,
	}
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
