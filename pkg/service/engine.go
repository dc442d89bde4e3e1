package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/storage"
)

// TransitionEngine validates actor actions against the current workflow step
// and advances assignment state. The history append and the assignment update
// are one transaction; the notification dispatch happens only after that
// transaction commits and never fails the transition.
type TransitionEngine struct {
	store      storage.Store
	dispatcher Dispatcher
	logger     Logger
}

func NewTransitionEngine(store storage.Store, dispatcher Dispatcher, logger Logger) *TransitionEngine {
	return &TransitionEngine{store: store, dispatcher: dispatcher, logger: logger}
}

// AdvanceStep applies one actor action to the assignment of the given
// content item and returns the updated assignment.
//
// Approve advances to the next step once the current step's quorum of
// distinct approvers is met, or closes the assignment as approved on the last
// step. Reject and request_changes close the assignment immediately, keeping
// the current step for audit. The conditional update is keyed on the version
// read at load time; a lost race surfaces as ErrConcurrentModification.
func (e *TransitionEngine) AdvanceStep(ctx context.Context, contentID, actorID string, action models.ApprovalAction, input ActionInput) (*models.Assignment, error) {
	if !action.Valid() {
		return nil, errors.Errorf("invalid action %q", action)
	}
	if actorID == "" {
		return nil, errors.New("actor ID cannot be empty")
	}

	assignment, err := e.store.GetAssignmentByContent(contentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "no assignment for content %s", contentID)
	}
	if err != nil {
		return nil, persistence("Failed to load assignment", err)
	}

	wf, err := e.store.GetWorkflow(assignment.WorkflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "workflow %s", assignment.WorkflowID)
	}
	if err != nil {
		return nil, persistence("Failed to load workflow", err)
	}

	if assignment.Status.Terminal() {
		return nil, errors.Wrapf(ErrAlreadyTerminal, "assignment %s is %s", assignment.ID, assignment.Status)
	}
	step, ok := wf.StepByID(assignment.CurrentStepID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "step %s in workflow %s", assignment.CurrentStepID, wf.ID)
	}

	roles, err := e.store.GetActorRoles(actorID)
	if err != nil {
		return nil, persistence("Failed to load actor roles", err)
	}
	if !step.AllowsActor(actorID, roles) {
		return nil, errors.Wrapf(ErrUnauthorizedTransition, "actor %s on step %s", actorID, step.ID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updated, err := e.applyTransition(assignment, wf, step, actorID, action, input)
	if err != nil {
		return nil, err
	}

	e.notify(updated, wf, step, actorID, action)
	return &updated, nil
}

// applyTransition runs the transactional unit: append the immutable history
// entry, compute the next state, and conditionally update the assignment and
// the content status mirror.
func (e *TransitionEngine) applyTransition(assignment models.Assignment, wf models.Workflow, step models.WorkflowStep, actorID string, action models.ApprovalAction, input ActionInput) (updated models.Assignment, err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return models.Assignment{}, persistence("Failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				e.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			e.logger.Errorf("Failed to commit: %v", commitErr)
			err = persistence("Failed to commit transaction", commitErr)
		}
	}()

	now := time.Now().UTC()
	entry := models.HistoryEntry{
		ID:           uuid.NewString(),
		AssignmentID: assignment.ID,
		StepID:       step.ID,
		ActorID:      actorID,
		Action:       action,
		Details:      models.NewActionDetails(input.Comment, input.Reason),
		CreatedAt:    now,
	}
	if err = txStore.AppendHistory(entry); err != nil {
		err = persistence("Failed to append approval history", err)
		return models.Assignment{}, err
	}

	updated = assignment
	var resultingStep *string
	switch action {
	case models.RejectAction:
		updated.Status = models.RejectedAssignmentStatus
	case models.RequestChangesAction:
		updated.Status = models.ChangesRequestedAssignmentStatus
	case models.ApproveAction:
		var approvals int
		approvals, err = txStore.CountStepApprovals(assignment.ID, step.ID)
		if err != nil {
			err = persistence("Failed to count step approvals", err)
			return models.Assignment{}, err
		}
		if approvals >= step.MinApprovals {
			if next, ok := wf.NextStep(step.ID); ok {
				updated.CurrentStepID = next.ID
				resultingStep = &next.ID
			} else {
				updated.Status = models.ApprovedAssignmentStatus
			}
		}
	}

	record := models.TransitionRecord{
		ActorID:         actorID,
		Action:          action,
		StepID:          step.ID,
		ResultingStepID: resultingStep,
		Status:          updated.Status,
		At:              now,
	}
	if err = record.Validate(); err != nil {
		return models.Assignment{}, err
	}
	updated.StepHistory = append(updated.StepHistory, record)
	updated.UpdatedAt = now

	if err = txStore.UpdateAssignment(updated, assignment.Version); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			err = errors.Wrapf(ErrConcurrentModification, "assignment %s", assignment.ID)
			return models.Assignment{}, err
		}
		err = persistence("Failed to update assignment", err)
		return models.Assignment{}, err
	}
	updated.Version = assignment.Version + 1

	// Denormalized mirror on the content record; absent content is the
	// caller's concern, not a transition failure.
	if err = txStore.UpdateContentApprovalStatus(assignment.ContentID, updated.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warnf("Content %s missing; approval status mirror not updated", assignment.ContentID)
			err = nil
		} else {
			err = persistence("Failed to update content approval status", err)
			return models.Assignment{}, err
		}
	}

	e.logger.Infof("Assignment %s: %s by %s on step %s -> status %s",
		assignment.ID, action, actorID, step.ID, updated.Status)
	return updated, nil
}

// notify emits the transition event to the dispatcher, fire-and-forget.
// Recipient is the new current step's approver, or the content owner once the
// assignment is terminal.
func (e *TransitionEngine) notify(updated models.Assignment, wf models.Workflow, fromStep models.WorkflowStep, actorID string, action models.ApprovalAction) {
	event := models.TransitionEvent{
		AssignmentID: updated.ID,
		ContentID:    updated.ContentID,
		WorkflowID:   updated.WorkflowID,
		ActorID:      actorID,
		Action:       action,
		FromStepID:   fromStep.ID,
		Status:       updated.Status,
		OccurredAt:   updated.UpdatedAt,
	}
	if updated.CurrentStepID != fromStep.ID {
		event.ToStepID = &updated.CurrentStepID
	}

	if updated.Status.Terminal() {
		content, err := e.store.GetContent(updated.ContentID)
		if err != nil {
			e.logger.Warnf("Failed to resolve content owner for notification: %v", err)
		} else {
			event.RecipientID = content.OwnerID
		}
	} else if step, ok := wf.StepByID(updated.CurrentStepID); ok {
		event.RecipientID = approverRecipient(step)
	}

	e.dispatcher.QueueApprovalNotifications(updated, event)
}

func approverRecipient(step models.WorkflowStep) string {
	if step.ApproverID != nil {
		return *step.ApproverID
	}
	if step.ApproverRole != nil {
		return "role:" + *step.ApproverRole
	}
	return ""
}
