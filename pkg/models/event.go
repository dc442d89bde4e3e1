package models

import "time"

// TransitionEvent describes one completed workflow transition, emitted to the
// notification dispatcher after the transactional write commits.
type TransitionEvent struct {
	AssignmentID string           `json:"assignment_id"`
	ContentID    string           `json:"content_id"`
	WorkflowID   string           `json:"workflow_id"`
	ActorID      string           `json:"actor_id"`
	Action       ApprovalAction   `json:"action"`
	FromStepID   string           `json:"from_step_id"`
	ToStepID     *string          `json:"to_step_id"`
	Status       AssignmentStatus `json:"status"`
	// RecipientID is the approver of the new current step, or the content
	// owner on terminal outcomes.
	RecipientID string    `json:"recipient_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DashboardRow is one row of the cross-workflow approval dashboard, scoped to
// the steps the requesting actor may act on.
type DashboardRow struct {
	AssignmentID    string           `json:"assignment_id" db:"assignment_id"`
	ContentID       string           `json:"content_id" db:"content_id"`
	ContentOwnerID  string           `json:"content_owner_id" db:"content_owner_id"`
	WorkflowID      string           `json:"workflow_id" db:"workflow_id"`
	WorkflowName    string           `json:"workflow_name" db:"workflow_name"`
	CurrentStepID   string           `json:"current_step_id" db:"current_step_id"`
	CurrentStepName string           `json:"current_step_name" db:"current_step_name"`
	Status          AssignmentStatus `json:"status" db:"status"`
	WaitingSince    time.Time        `json:"waiting_since" db:"waiting_since"`
}

// ApprovalStats aggregates assignment counts for an owner's workflows.
type ApprovalStats struct {
	Total            int            `json:"total"`
	Pending          int            `json:"pending"`
	Approved         int            `json:"approved"`
	Rejected         int            `json:"rejected"`
	ChangesRequested int            `json:"changes_requested"`
	PendingByStep    map[string]int `json:"pending_by_step"`
}
