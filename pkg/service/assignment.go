package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/storage"
)

// AssignmentService creates and fetches the single active assignment binding
// a content item to a workflow instance.
type AssignmentService struct {
	store  storage.Store
	logger Logger
}

func NewAssignmentService(store storage.Store, logger Logger) *AssignmentService {
	return &AssignmentService{store: store, logger: logger}
}

// EnsureAssignment is idempotent: if an assignment already exists for the
// content item it is returned unchanged. Otherwise the best-matching active
// workflow visible to ownerID is selected and a new assignment is created at
// its first step. A nil assignment with a nil error means no workflow matches
// and the content item is not subject to approval.
//
// A failed existence check is surfaced as a PersistenceError rather than
// treated as "no assignment exists"; the latter would create a duplicate.
func (s *AssignmentService) EnsureAssignment(ctx context.Context, contentID, ownerID string) (*models.Assignment, error) {
	if contentID == "" {
		return nil, errors.New("content ID cannot be empty")
	}

	existing, err := s.store.GetAssignmentByContent(contentID)
	if err == nil {
		s.logger.Infof("Assignment %s already exists for content %s", existing.ID, contentID)
		return &existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, persistence("Failed to check existing assignment", err)
	}

	content, err := s.store.GetContent(contentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "content %s", contentID)
	}
	if err != nil {
		return nil, persistence("Failed to load content attributes", err)
	}

	wf, ok, err := s.selectWorkflow(ownerID, content)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Infof("No active workflow matches content %s; not gated", contentID)
		return nil, nil
	}
	firstStep, ok := wf.FirstStep()
	if !ok {
		return nil, errors.Errorf("workflow %s has no steps", wf.ID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created := models.Assignment{
		ID:            uuid.NewString(),
		ContentID:     contentID,
		WorkflowID:    wf.ID,
		CurrentStepID: firstStep.ID,
		Status:        models.PendingAssignmentStatus,
		StepHistory:   models.StepHistory{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.insertAssignment(created); err != nil {
		if errors.Is(err, storage.ErrDuplicateContent) {
			// A concurrent call won the insert race; converge on its row.
			winner, fetchErr := s.store.GetAssignmentByContent(contentID)
			if fetchErr != nil {
				return nil, persistence("Failed to fetch assignment after duplicate insert", fetchErr)
			}
			s.logger.Infof("Concurrent assignment creation for content %s; returning %s", contentID, winner.ID)
			return &winner, nil
		}
		return nil, persistence("Failed to create assignment", err)
	}

	s.logger.Infof("Created assignment %s for content %s on workflow %s (step %s)",
		created.ID, contentID, wf.ID, firstStep.ID)
	return &created, nil
}

// insertAssignment writes the assignment row and the denormalized content
// status mirror in one transaction.
func (s *AssignmentService) insertAssignment(a models.Assignment) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = persistence("Failed to commit transaction", commitErr)
		}
	}()

	if err = txStore.SaveAssignment(a); err != nil {
		return err
	}
	if err = txStore.UpdateContentApprovalStatus(a.ContentID, models.PendingAssignmentStatus); err != nil {
		return err
	}
	return nil
}

// selectWorkflow picks the best-matching active workflow for the content:
// a scoped workflow whose filter matches beats a global one, ties go to the
// oldest workflow. Workflows without steps are unusable and skipped.
func (s *AssignmentService) selectWorkflow(ownerID string, content models.ContentItem) (models.Workflow, bool, error) {
	candidates, err := s.store.ListActiveWorkflows(ownerID)
	if err != nil {
		return models.Workflow{}, false, persistence("Failed to load candidate workflows", err)
	}
	var global models.Workflow
	var haveGlobal bool
	for _, wf := range candidates {
		if len(wf.Steps) == 0 {
			s.logger.Warnf("Skipping workflow %s: no steps defined", wf.ID)
			continue
		}
		switch wf.Scope {
		case models.ScopedWorkflowScope:
			if wf.ScopeFilter.Matches(content.Platforms, content.Tags) {
				return wf, true, nil
			}
		case models.GlobalWorkflowScope:
			if !haveGlobal {
				global = wf
				haveGlobal = true
			}
		}
	}
	return global, haveGlobal, nil
}
