package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/storage"
)

// WorkflowService maintains the catalog of workflow definitions and the
// content records scope filters match against.
type WorkflowService struct {
	store  storage.Store
	logger Logger
}

func NewWorkflowService(store storage.Store, logger Logger) *WorkflowService {
	return &WorkflowService{store: store, logger: logger}
}

// CreateWorkflow validates and persists a workflow definition with its steps.
// IDs are assigned here; step order must be gapless and every step needs an
// approver designation and a quorum of at least 1.
func (s *WorkflowService) CreateWorkflow(wf models.Workflow) (created models.Workflow, err error) {
	if len(wf.Name) > 100 {
		return models.Workflow{}, errors.New("workflow name too long (max 100 characters)")
	}
	if wf.Scope == "" {
		wf.Scope = models.GlobalWorkflowScope
	}
	for i := range wf.Steps {
		if wf.Steps[i].MinApprovals == 0 {
			wf.Steps[i].MinApprovals = 1
		}
	}
	if err := wf.Validate(); err != nil {
		return models.Workflow{}, err
	}

	now := time.Now().UTC()
	wf.ID = uuid.NewString()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for i := range wf.Steps {
		wf.Steps[i].ID = uuid.NewString()
		wf.Steps[i].WorkflowID = wf.ID
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, persistence("Failed to begin transaction", err)
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

	if err = txStore.SaveWorkflow(wf); err != nil {
		err = persistence("Failed to save workflow", err)
		return models.Workflow{}, err
	}
	s.logger.Infof("Created workflow '%s' with ID %s (%d steps)", wf.Name, wf.ID, len(wf.Steps))
	return wf, nil
}

// GetWorkflow fetches a workflow with its ordered steps.
func (s *WorkflowService) GetWorkflow(id string) (models.Workflow, error) {
	wf, err := s.store.GetWorkflow(id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Workflow{}, errors.Wrapf(ErrNotFound, "workflow %s", id)
	}
	if err != nil {
		return models.Workflow{}, persistence("Failed to load workflow", err)
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows(ownerID string) ([]models.Workflow, error) {
	workflows, err := s.store.ListWorkflows(ownerID)
	if err != nil {
		return nil, persistence("Failed to list workflows", err)
	}
	return workflows, nil
}

// RegisterContent records a content item so scope filters can match against
// its attributes.
func (s *WorkflowService) RegisterContent(content models.ContentItem) error {
	if content.ID == "" {
		content.ID = uuid.NewString()
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now().UTC()
	}
	if err := s.store.SaveContent(content); err != nil {
		return persistence("Failed to save content", err)
	}
	return nil
}

// GetApprovalHistory returns the immutable audit trail of an assignment.
func (s *WorkflowService) GetApprovalHistory(assignmentID string) ([]models.HistoryEntry, error) {
	entries, err := s.store.ListHistory(assignmentID)
	if err != nil {
		return nil, persistence("Failed to load approval history", err)
	}
	return entries, nil
}
