package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type AssignmentStatus string

const (
	PendingAssignmentStatus          AssignmentStatus = "pending"
	ApprovedAssignmentStatus         AssignmentStatus = "approved"
	RejectedAssignmentStatus         AssignmentStatus = "rejected"
	ChangesRequestedAssignmentStatus AssignmentStatus = "changes_requested"
)

// Terminal reports whether no further transitions are possible on an
// assignment in this status.
func (s AssignmentStatus) Terminal() bool {
	switch s {
	case ApprovedAssignmentStatus, RejectedAssignmentStatus, ChangesRequestedAssignmentStatus:
		return true
	}
	return false
}

type ApprovalAction string

const (
	ApproveAction        ApprovalAction = "approve"
	RejectAction         ApprovalAction = "reject"
	RequestChangesAction ApprovalAction = "request_changes"
)

// Valid reports whether the action is one of the three recognized actions.
func (a ApprovalAction) Valid() bool {
	switch a {
	case ApproveAction, RejectAction, RequestChangesAction:
		return true
	}
	return false
}

// TransitionRecord is one entry of an assignment's append-only step history.
type TransitionRecord struct {
	ActorID         string           `json:"actor_id"`
	Action          ApprovalAction   `json:"action"`
	StepID          string           `json:"step_id"`
	ResultingStepID *string          `json:"resulting_step_id"`
	Status          AssignmentStatus `json:"status"`
	At              time.Time        `json:"at"`
}

// Validate rejects records missing the fields every transition must carry.
func (r TransitionRecord) Validate() error {
	if r.ActorID == "" {
		return fmt.Errorf("transition record: actor_id is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("transition record: invalid action %q", r.Action)
	}
	if r.StepID == "" {
		return fmt.Errorf("transition record: step_id is required")
	}
	if r.At.IsZero() {
		return fmt.Errorf("transition record: timestamp is required")
	}
	return nil
}

// StepHistory is the ordered list of transitions an assignment has been
// through, stored as a JSONB column.
type StepHistory []TransitionRecord

func (h StepHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(StepHistory{})
	}
	return json.Marshal(h)
}

func (h *StepHistory) Scan(src interface{}) error {
	if src == nil {
		*h = StepHistory{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("step history: cannot scan %T", src)
	}
	return json.Unmarshal(b, h)
}

// Assignment binds one content item to one workflow instance and tracks the
// current step. Exactly one assignment per content item is authoritative at
// any time; Version backs the conditional update that enforces it under
// concurrent transitions.
type Assignment struct {
	ID            string           `json:"id" db:"id"`
	ContentID     string           `json:"content_id" db:"content_id"`
	WorkflowID    string           `json:"workflow_id" db:"workflow_id"`
	CurrentStepID string           `json:"current_step_id" db:"current_step_id"`
	Status        AssignmentStatus `json:"status" db:"status"`
	StepHistory   StepHistory      `json:"step_history" db:"step_history"`
	Version       int              `json:"version" db:"version"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}
