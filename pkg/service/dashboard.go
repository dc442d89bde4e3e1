package service

import (
	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/storage"
)

// DashboardService is the read side: pending approvals per actor, the
// cross-workflow dashboard, and aggregate stats. No method has side effects.
type DashboardService struct {
	store  storage.Store
	logger Logger
}

func NewDashboardService(store storage.Store, logger Logger) *DashboardService {
	return &DashboardService{store: store, logger: logger}
}

// GetPendingApprovals lists the non-terminal assignments whose current step
// the actor may act on.
func (s *DashboardService) GetPendingApprovals(actorID string) ([]models.Assignment, error) {
	stepIDs, err := s.actorStepIDs(actorID)
	if err != nil {
		return nil, err
	}
	if len(stepIDs) == 0 {
		return []models.Assignment{}, nil
	}
	assignments, err := s.store.ListPendingByStepIDs(stepIDs)
	if err != nil {
		return nil, persistence("Failed to list pending approvals", err)
	}
	if assignments == nil {
		assignments = []models.Assignment{}
	}
	return assignments, nil
}

// GetApprovalDashboard builds the dashboard rows the actor is authorized to
// see. When the actor has no assigned steps the dashboard query is skipped
// entirely; issuing it unfiltered would scan every open assignment.
func (s *DashboardService) GetApprovalDashboard(actorID string) ([]models.DashboardRow, error) {
	stepIDs, err := s.actorStepIDs(actorID)
	if err != nil {
		return nil, err
	}
	if len(stepIDs) == 0 {
		return []models.DashboardRow{}, nil
	}
	rows, err := s.store.DashboardByStepIDs(stepIDs)
	if err != nil {
		return nil, persistence("Failed to build approval dashboard", err)
	}
	if rows == nil {
		rows = []models.DashboardRow{}
	}
	return rows, nil
}

// GetApprovalStats aggregates assignment counts by status and per-step
// pending counts across the owner's workflows.
func (s *DashboardService) GetApprovalStats(ownerID string) (models.ApprovalStats, error) {
	stats, err := s.store.StatsByOwner(ownerID)
	if err != nil {
		return models.ApprovalStats{}, persistence("Failed to aggregate approval stats", err)
	}
	return stats, nil
}

func (s *DashboardService) actorStepIDs(actorID string) ([]string, error) {
	roles, err := s.store.GetActorRoles(actorID)
	if err != nil {
		return nil, persistence("Failed to load actor roles", err)
	}
	stepIDs, err := s.store.ListStepIDsForActor(actorID, roles)
	if err != nil {
		return nil, persistence("Failed to resolve actor steps", err)
	}
	return stepIDs, nil
}
