package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type WorkflowScope string

const (
	GlobalWorkflowScope WorkflowScope = "global"
	ScopedWorkflowScope WorkflowScope = "scoped"
)

// ScopeFilter narrows a scoped workflow to content matching any of the listed
// platforms or tags. Empty lists impose no restriction on that dimension.
type ScopeFilter struct {
	Platforms []string `json:"platforms,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Value implements driver.Valuer so the filter is stored as JSONB.
func (f ScopeFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *ScopeFilter) Scan(src interface{}) error {
	if src == nil {
		*f = ScopeFilter{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("scope filter: cannot scan %T", src)
	}
	return json.Unmarshal(b, f)
}

// Matches reports whether content with the given platforms and tags falls
// under this filter. A filter with both dimensions empty matches nothing,
// so an empty scoped workflow never shadows a global one.
func (f ScopeFilter) Matches(platforms, tags []string) bool {
	if len(f.Platforms) == 0 && len(f.Tags) == 0 {
		return false
	}
	if len(f.Platforms) > 0 && !intersects(f.Platforms, platforms) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, tags) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Workflow is an ordered multi-step approval sequence, scoped globally or to
// a subset of content via its ScopeFilter.
type Workflow struct {
	ID          string         `json:"id" db:"id"`
	OwnerID     string         `json:"owner_id" db:"owner_id"`
	Name        string         `json:"name" db:"name"`
	Description *string        `json:"description,omitempty" db:"description"`
	Scope       WorkflowScope  `json:"scope" db:"scope"`
	ScopeFilter ScopeFilter    `json:"scope_filter" db:"scope_filter"`
	Active      bool           `json:"active" db:"active"`
	Steps       []WorkflowStep `json:"steps,omitempty"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// FirstStep returns the step with the lowest order index.
func (w Workflow) FirstStep() (WorkflowStep, bool) {
	if len(w.Steps) == 0 {
		return WorkflowStep{}, false
	}
	first := w.Steps[0]
	for _, s := range w.Steps[1:] {
		if s.StepOrder < first.StepOrder {
			first = s
		}
	}
	return first, true
}

// StepByID looks up a step of this workflow by its ID.
func (w Workflow) StepByID(stepID string) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// NextStep returns the step following the given one in order, or false if the
// given step is the last.
func (w Workflow) NextStep(stepID string) (WorkflowStep, bool) {
	curr, ok := w.StepByID(stepID)
	if !ok {
		return WorkflowStep{}, false
	}
	var next WorkflowStep
	found := false
	for _, s := range w.Steps {
		if s.StepOrder <= curr.StepOrder {
			continue
		}
		if !found || s.StepOrder < next.StepOrder {
			next = s
			found = true
		}
	}
	return next, found
}

// Validate checks the structural invariants of a workflow definition:
// at least one step, min_approvals >= 1 everywhere, and a strictly
// increasing, gapless step order starting at 1.
func (w Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if w.Scope != GlobalWorkflowScope && w.Scope != ScopedWorkflowScope {
		return fmt.Errorf("invalid workflow scope %q", w.Scope)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q must have at least one step", w.Name)
	}
	seen := make(map[int]bool, len(w.Steps))
	maxOrder := 0
	for _, s := range w.Steps {
		if s.MinApprovals < 1 {
			return fmt.Errorf("step %q: min_approvals must be at least 1", s.Name)
		}
		if s.ApproverID == nil && s.ApproverRole == nil {
			return fmt.Errorf("step %q: approver or approver role required", s.Name)
		}
		if seen[s.StepOrder] {
			return fmt.Errorf("step %q: duplicate step order %d", s.Name, s.StepOrder)
		}
		seen[s.StepOrder] = true
		if s.StepOrder > maxOrder {
			maxOrder = s.StepOrder
		}
	}
	for i := 1; i <= maxOrder; i++ {
		if !seen[i] {
			return fmt.Errorf("workflow %q: step order has a gap at %d", w.Name, i)
		}
	}
	return nil
}
