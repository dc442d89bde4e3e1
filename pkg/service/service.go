package service

import "github.com/postpilot/approvalflow/pkg/models"

// Logger defines the logging interface the services depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Dispatcher is the notification collaborator consumed by the transition
// engine. QueueApprovalNotifications must not block and must never surface a
// failure into the transition path; delivery is at-least-once and duplicate
// notifications are an accepted characteristic of the dispatcher's digest
// batching.
type Dispatcher interface {
	QueueApprovalNotifications(assignment models.Assignment, event models.TransitionEvent)
}

// ActionInput carries the optional free-text fields an actor may attach to an
// approve/reject/request-changes action.
type ActionInput struct {
	Comment *string
	Reason  *string
}
