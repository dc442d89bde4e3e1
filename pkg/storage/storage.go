package storage

import (
	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by UpdateAssignment when the assignment's
// version no longer matches the expected one, i.e. a concurrent transition
// won the race.
var ErrVersionConflict = errors.New("assignment version conflict")

// ErrDuplicateContent is returned by SaveAssignment when an assignment for
// the same content item already exists (unique constraint on content_id).
var ErrDuplicateContent = errors.New("assignment already exists for content")

// WorkflowRepository is the catalog of workflow definitions and their
// ordered steps.
type WorkflowRepository interface {
	// SaveWorkflow persists a workflow together with its steps.
	SaveWorkflow(w models.Workflow) error
	// GetWorkflow retrieves a workflow with its steps ordered by step_order.
	GetWorkflow(id string) (models.Workflow, error)
	// ListWorkflows lists all workflows owned by the given actor, steps included.
	ListWorkflows(ownerID string) ([]models.Workflow, error)
	// ListActiveWorkflows lists the active workflows visible to the given
	// owner, steps included, oldest first.
	ListActiveWorkflows(ownerID string) ([]models.Workflow, error)
	// ListStepIDsForActor returns the IDs of all active-workflow steps the
	// actor may act on, directly or via one of the given roles.
	ListStepIDsForActor(actorID string, roles []string) ([]string, error)
	// GetActorRoles returns the roles held by an actor.
	GetActorRoles(actorID string) ([]string, error)
}

// AssignmentRepository persists the live binding of content items to
// workflow instances.
type AssignmentRepository interface {
	// GetAssignmentByContent retrieves the authoritative assignment for a
	// content item, or ErrNotFound.
	GetAssignmentByContent(contentID string) (models.Assignment, error)
	// SaveAssignment inserts a new assignment. Returns ErrDuplicateContent
	// when one already exists for the same content item.
	SaveAssignment(a models.Assignment) error
	// UpdateAssignment persists status, current step, history and bumped
	// version, conditioned on the version read at load time. Returns
	// ErrVersionConflict when the row has moved on.
	UpdateAssignment(a models.Assignment, expectedVersion int) error
	// ListPendingByStepIDs lists non-terminal assignments whose current step
	// is one of the given steps.
	ListPendingByStepIDs(stepIDs []string) ([]models.Assignment, error)
	// DashboardByStepIDs builds dashboard rows for non-terminal assignments
	// filtered to the given current steps.
	DashboardByStepIDs(stepIDs []string) ([]models.DashboardRow, error)
	// StatsByOwner aggregates assignment counts across the owner's workflows.
	StatsByOwner(ownerID string) (models.ApprovalStats, error)
}

// HistoryRepository is the append-only approval audit trail.
type HistoryRepository interface {
	AppendHistory(e models.HistoryEntry) error
	ListHistory(assignmentID string) ([]models.HistoryEntry, error)
	// CountStepApprovals counts distinct actors who approved the given step
	// of the given assignment.
	CountStepApprovals(assignmentID, stepID string) (int, error)
}

// ContentRepository exposes the content attributes scope filters match
// against and the denormalized approval status mirror.
type ContentRepository interface {
	SaveContent(c models.ContentItem) error
	GetContent(contentID string) (models.ContentItem, error)
	UpdateContentApprovalStatus(contentID string, status models.AssignmentStatus) error
}

// Store groups the repositories behind one handle with transaction control.
// Begin returns a Store whose operations run inside a single transaction;
// exclusivity is expressed entirely through the database, never through
// in-process locks, since multiple process instances may run concurrently.
type Store interface {
	WorkflowRepository
	AssignmentRepository
	HistoryRepository
	ContentRepository

	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error
}
