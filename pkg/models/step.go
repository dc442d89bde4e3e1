package models

// WorkflowStep is one stage in a workflow's ordered approval sequence.
// The approver is designated either directly (ApproverID) or by role
// (ApproverRole); at least one must be set.
type WorkflowStep struct {
	ID              string  `json:"id" db:"id"`
	WorkflowID      string  `json:"workflow_id" db:"workflow_id"`
	StepOrder       int     `json:"step_order" db:"step_order"`
	Name            string  `json:"name" db:"name"`
	ApproverID      *string `json:"approver_id,omitempty" db:"approver_id"`
	ApproverRole    *string `json:"approver_role,omitempty" db:"approver_role"`
	MinApprovals    int     `json:"min_approvals" db:"min_approvals"`
	EscalationHours *int    `json:"escalation_hours,omitempty" db:"escalation_hours"`
	Optional        bool    `json:"optional" db:"optional"`
	SLAHours        *int    `json:"sla_hours,omitempty" db:"sla_hours"`
}

// AllowsActor reports whether the given actor, holding the given roles, may
// act on this step.
func (s WorkflowStep) AllowsActor(actorID string, roles []string) bool {
	if s.ApproverID != nil && *s.ApproverID == actorID {
		return true
	}
	if s.ApproverRole != nil {
		for _, r := range roles {
			if r == *s.ApproverRole {
				return true
			}
		}
	}
	return false
}
