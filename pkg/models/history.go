package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ActionDetails carries the free-text fields an actor may attach to an
// action. Both fields are independently optional. When serialized, both keys
// are always present, with explicit null for the one not supplied; an action
// with neither field supplied is recorded as null rather than as an empty
// object. NewActionDetails enforces that contract.
type ActionDetails struct {
	Comment *string `json:"comment"`
	Reason  *string `json:"reason"`
}

// NewActionDetails returns nil when both fields are absent, so the history
// column records SQL null instead of {"comment":null,"reason":null}.
func NewActionDetails(comment, reason *string) *ActionDetails {
	if comment == nil && reason == nil {
		return nil
	}
	return &ActionDetails{Comment: comment, Reason: reason}
}

func (d *ActionDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *ActionDetails) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("action details: cannot scan %T", src)
	}
	return json.Unmarshal(b, d)
}

// HistoryEntry is an immutable audit record of a single actor action on an
// assignment step.
type HistoryEntry struct {
	ID           string         `json:"id" db:"id"`
	AssignmentID string         `json:"assignment_id" db:"assignment_id"`
	StepID       string         `json:"step_id" db:"step_id"`
	ActorID      string         `json:"actor_id" db:"actor_id"`
	Action       ApprovalAction `json:"action" db:"action"`
	Details      *ActionDetails `json:"action_details" db:"action_details"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
