package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/approvalflow/internal/log"
	internal_storage "github.com/postpilot/approvalflow/internal/storage"
	"github.com/postpilot/approvalflow/internal/testutil"
	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
	"github.com/postpilot/approvalflow/pkg/storage"
)

func strPtr(s string) *string { return &s }

func buildWorkflow(ownerID string, active bool, stepCount int) models.Workflow {
	now := time.Now().UTC()
	wf := models.Workflow{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      "Review pipeline",
		Scope:     models.GlobalWorkflowScope,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 1; i <= stepCount; i++ {
		wf.Steps = append(wf.Steps, models.WorkflowStep{
			ID:           uuid.NewString(),
			WorkflowID:   wf.ID,
			StepOrder:    i,
			Name:         "Step",
			ApproverID:   strPtr("reviewer-1"),
			MinApprovals: 1,
		})
	}
	return wf
}

func buildContent(ownerID string) models.ContentItem {
	return models.ContentItem{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Platforms: pq.StringArray{"instagram"},
		Tags:      pq.StringArray{"campaign"},
		CreatedAt: time.Now().UTC(),
	}
}

func buildAssignment(contentID string, wf models.Workflow) models.Assignment {
	now := time.Now().UTC()
	return models.Assignment{
		ID:            uuid.NewString(),
		ContentID:     contentID,
		WorkflowID:    wf.ID,
		CurrentStepID: wf.Steps[0].ID,
		Status:        models.PendingAssignmentStatus,
		StepHistory:   models.StepHistory{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	t.Run("SaveAndGetWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-1", true, 2)
		wf.Steps[0].Name = "Editorial review"
		wf.Steps[1].Name = "Final sign-off"
		assert.NoError(t, store.SaveWorkflow(wf))

		saved, err := store.GetWorkflow(wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, wf.Name, saved.Name)
		assert.Len(t, saved.Steps, 2)
		assert.Equal(t, "Editorial review", saved.Steps[0].Name)
		assert.Equal(t, "Final sign-off", saved.Steps[1].Name)
	})

	t.Run("GetNonExistingWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetWorkflow(uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ScopeFilterRoundTrip", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-1", true, 1)
		wf.Scope = models.ScopedWorkflowScope
		wf.ScopeFilter = models.ScopeFilter{Platforms: []string{"tiktok"}, Tags: []string{"paid"}}
		assert.NoError(t, store.SaveWorkflow(wf))

		saved, err := store.GetWorkflow(wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ScopedWorkflowScope, saved.Scope)
		assert.Equal(t, []string{"tiktok"}, saved.ScopeFilter.Platforms)
		assert.Equal(t, []string{"paid"}, saved.ScopeFilter.Tags)
	})

	t.Run("ListActiveWorkflowsFiltersAndOrders", func(t *testing.T) {
		store := newTxStore(t)
		older := buildWorkflow("owner-list", true, 1)
		older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
		newer := buildWorkflow("owner-list", true, 1)
		inactive := buildWorkflow("owner-list", false, 1)
		assert.NoError(t, store.SaveWorkflow(newer))
		assert.NoError(t, store.SaveWorkflow(older))
		assert.NoError(t, store.SaveWorkflow(inactive))

		workflows, err := store.ListActiveWorkflows("owner-list")
		assert.NoError(t, err)
		assert.Len(t, workflows, 2)
		assert.Equal(t, older.ID, workflows[0].ID)
		assert.Equal(t, newer.ID, workflows[1].ID)
	})

	t.Run("ListStepIDsForActor", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-steps", true, 2)
		wf.Steps[1].ApproverID = nil
		wf.Steps[1].ApproverRole = strPtr("content-manager")
		assert.NoError(t, store.SaveWorkflow(wf))

		direct, err := store.ListStepIDsForActor("reviewer-1", nil)
		assert.NoError(t, err)
		assert.Contains(t, direct, wf.Steps[0].ID)
		assert.NotContains(t, direct, wf.Steps[1].ID)

		byRole, err := store.ListStepIDsForActor("somebody-else", []string{"content-manager"})
		assert.NoError(t, err)
		assert.Contains(t, byRole, wf.Steps[1].ID)
	})

	t.Run("GetActorRoles", func(t *testing.T) {
		store := newTxStore(t)
		_, err := testDB.DB.Exec(
			"INSERT INTO actor_roles (actor_id, role) VALUES ($1, $2), ($1, $3)",
			"actor-roles-1", "content-manager", "legal")
		require.NoError(t, err)

		roles, err := store.GetActorRoles("actor-roles-1")
		assert.NoError(t, err)
		assert.ElementsMatch(t, []string{"content-manager", "legal"}, roles)

		none, err := store.GetActorRoles("actor-without-roles")
		assert.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("SaveAndGetAssignment", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-a", true, 1)
		content := buildContent("owner-a")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))

		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		saved, err := store.GetAssignmentByContent(content.ID)
		assert.NoError(t, err)
		assert.Equal(t, a.ID, saved.ID)
		assert.Equal(t, wf.Steps[0].ID, saved.CurrentStepID)
		assert.Equal(t, models.PendingAssignmentStatus, saved.Status)
		assert.Equal(t, 1, saved.Version)
		assert.Empty(t, saved.StepHistory)
	})

	t.Run("GetNonExistingAssignment", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetAssignmentByContent(uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DuplicateContentAssignment", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-dup", true, 1)
		content := buildContent("owner-dup")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		assert.NoError(t, store.SaveAssignment(buildAssignment(content.ID, wf)))

		err := store.SaveAssignment(buildAssignment(content.ID, wf))
		assert.ErrorIs(t, err, storage.ErrDuplicateContent)
	})

	t.Run("UpdateAssignmentBumpsVersion", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-u", true, 2)
		content := buildContent("owner-u")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		a.CurrentStepID = wf.Steps[1].ID
		a.StepHistory = models.StepHistory{{
			ActorID:         "reviewer-1",
			Action:          models.ApproveAction,
			StepID:          wf.Steps[0].ID,
			ResultingStepID: &wf.Steps[1].ID,
			Status:          models.PendingAssignmentStatus,
			At:              time.Now().UTC(),
		}}
		a.UpdatedAt = time.Now().UTC()
		assert.NoError(t, store.UpdateAssignment(a, 1))

		updated, err := store.GetAssignmentByContent(content.ID)
		assert.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, wf.Steps[1].ID, updated.CurrentStepID)
		assert.Len(t, updated.StepHistory, 1)
		assert.Equal(t, models.ApproveAction, updated.StepHistory[0].Action)
	})

	t.Run("UpdateAssignmentStaleVersion", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-v", true, 1)
		content := buildContent("owner-v")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		a.UpdatedAt = time.Now().UTC()
		assert.NoError(t, store.UpdateAssignment(a, 1))
		err := store.UpdateAssignment(a, 1)
		assert.ErrorIs(t, err, storage.ErrVersionConflict)
	})

	t.Run("HistoryRoundTrip", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-h", true, 1)
		content := buildContent("owner-h")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		entry := models.HistoryEntry{
			ID:           uuid.NewString(),
			AssignmentID: a.ID,
			StepID:       wf.Steps[0].ID,
			ActorID:      "reviewer-1",
			Action:       models.RejectAction,
			Details:      models.NewActionDetails(strPtr("tone is off"), strPtr("brand guidelines")),
			CreatedAt:    time.Now().UTC(),
		}
		assert.NoError(t, store.AppendHistory(entry))

		entries, err := store.ListHistory(a.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, models.RejectAction, entries[0].Action)
		assert.NotNil(t, entries[0].Details)
		assert.Equal(t, "tone is off", *entries[0].Details.Comment)
		assert.Equal(t, "brand guidelines", *entries[0].Details.Reason)
	})

	t.Run("HistoryWithoutDetailsStaysNull", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-hn", true, 1)
		content := buildContent("owner-hn")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		entry := models.HistoryEntry{
			ID:           uuid.NewString(),
			AssignmentID: a.ID,
			StepID:       wf.Steps[0].ID,
			ActorID:      "reviewer-1",
			Action:       models.ApproveAction,
			Details:      models.NewActionDetails(nil, nil),
			CreatedAt:    time.Now().UTC(),
		}
		assert.NoError(t, store.AppendHistory(entry))

		entries, err := store.ListHistory(a.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Nil(t, entries[0].Details)
	})

	t.Run("CountStepApprovalsDistinctActors", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-c", true, 1)
		content := buildContent("owner-c")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		for _, actor := range []string{"reviewer-1", "reviewer-1", "reviewer-2"} {
			assert.NoError(t, store.AppendHistory(models.HistoryEntry{
				ID:           uuid.NewString(),
				AssignmentID: a.ID,
				StepID:       wf.Steps[0].ID,
				ActorID:      actor,
				Action:       models.ApproveAction,
				CreatedAt:    time.Now().UTC(),
			}))
		}

		count, err := store.CountStepApprovals(a.ID, wf.Steps[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("ListPendingByStepIDs", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-p", true, 2)
		pendingContent := buildContent("owner-p")
		approvedContent := buildContent("owner-p")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(pendingContent))
		assert.NoError(t, store.SaveContent(approvedContent))

		pending := buildAssignment(pendingContent.ID, wf)
		assert.NoError(t, store.SaveAssignment(pending))
		approved := buildAssignment(approvedContent.ID, wf)
		approved.Status = models.ApprovedAssignmentStatus
		assert.NoError(t, store.SaveAssignment(approved))

		got, err := store.ListPendingByStepIDs([]string{wf.Steps[0].ID})
		assert.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, pending.ID, got[0].ID)

		none, err := store.ListPendingByStepIDs([]string{wf.Steps[1].ID})
		assert.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("DashboardByStepIDs", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-d", true, 1)
		wf.Name = "Brand review"
		wf.Steps[0].Name = "Legal check"
		content := buildContent("creator-7")
		assert.NoError(t, store.SaveWorkflow(wf))
		assert.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		assert.NoError(t, store.SaveAssignment(a))

		rows, err := store.DashboardByStepIDs([]string{wf.Steps[0].ID})
		assert.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Equal(t, a.ID, rows[0].AssignmentID)
		assert.Equal(t, content.ID, rows[0].ContentID)
		assert.Equal(t, "creator-7", rows[0].ContentOwnerID)
		assert.Equal(t, "Brand review", rows[0].WorkflowName)
		assert.Equal(t, "Legal check", rows[0].CurrentStepName)
		assert.Equal(t, models.PendingAssignmentStatus, rows[0].Status)
	})

	t.Run("StatsByOwner", func(t *testing.T) {
		store := newTxStore(t)
		wf := buildWorkflow("owner-stats", true, 1)
		assert.NoError(t, store.SaveWorkflow(wf))

		statuses := []models.AssignmentStatus{
			models.PendingAssignmentStatus,
			models.PendingAssignmentStatus,
			models.ApprovedAssignmentStatus,
			models.RejectedAssignmentStatus,
		}
		for _, status := range statuses {
			content := buildContent("owner-stats")
			assert.NoError(t, store.SaveContent(content))
			a := buildAssignment(content.ID, wf)
			a.Status = status
			assert.NoError(t, store.SaveAssignment(a))
		}

		stats, err := store.StatsByOwner("owner-stats")
		assert.NoError(t, err)
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 1, stats.Approved)
		assert.Equal(t, 1, stats.Rejected)
		assert.Equal(t, 0, stats.ChangesRequested)
		assert.Equal(t, 2, stats.PendingByStep[wf.Steps[0].ID])
	})

	t.Run("UpdateContentApprovalStatus", func(t *testing.T) {
		store := newTxStore(t)
		content := buildContent("owner-cs")
		assert.NoError(t, store.SaveContent(content))

		assert.NoError(t, store.UpdateContentApprovalStatus(content.ID, models.ApprovedAssignmentStatus))
		saved, err := store.GetContent(content.ID)
		assert.NoError(t, err)
		assert.Equal(t, string(models.ApprovedAssignmentStatus), saved.ApprovalStatus)

		err = store.UpdateContentApprovalStatus(uuid.NewString(), models.ApprovedAssignmentStatus)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

type noopDispatcher struct{}

func (noopDispatcher) QueueApprovalNotifications(models.Assignment, models.TransitionEvent) {}

// failingStore wraps a root store so that a chosen write fails inside the
// transition's transaction.
type failingStore struct {
	storage.Store
	failAssignmentUpdate bool
	failContentStatus    bool
}

func (s *failingStore) Begin() (storage.Store, error) {
	tx, err := s.Store.Begin()
	if err != nil {
		return nil, err
	}
	return &failingTxStore{
		Store:                tx,
		failAssignmentUpdate: s.failAssignmentUpdate,
		failContentStatus:    s.failContentStatus,
	}, nil
}

type failingTxStore struct {
	storage.Store
	failAssignmentUpdate bool
	failContentStatus    bool
}

func (s *failingTxStore) UpdateAssignment(a models.Assignment, expectedVersion int) error {
	if s.failAssignmentUpdate {
		return fmt.Errorf("connection reset by peer")
	}
	return s.Store.UpdateAssignment(a, expectedVersion)
}

func (s *failingTxStore) UpdateContentApprovalStatus(contentID string, status models.AssignmentStatus) error {
	if s.failContentStatus {
		return fmt.Errorf("connection reset by peer")
	}
	return s.Store.UpdateContentApprovalStatus(contentID, status)
}

// A transition writes the history entry and the assignment update as one
// transaction: when either write fails, neither may survive.
func TestTransitionAtomicity(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	store, err := internal_storage.InitStore(testDB.ConnStr)
	require.NoError(t, err)
	defer store.Close()

	seed := func(t *testing.T) models.Assignment {
		wf := buildWorkflow("owner-atomic", true, 2)
		content := buildContent("owner-atomic")
		require.NoError(t, store.SaveWorkflow(wf))
		require.NoError(t, store.SaveContent(content))
		a := buildAssignment(content.ID, wf)
		require.NoError(t, store.SaveAssignment(a))
		return a
	}

	advance := func(wrapped storage.Store, contentID string) error {
		engine := service.NewTransitionEngine(wrapped, noopDispatcher{}, log.GetLogger())
		_, err := engine.AdvanceStep(context.Background(), contentID, "reviewer-1",
			models.ApproveAction, service.ActionInput{Comment: strPtr("checked")})
		return err
	}

	t.Run("FailedAssignmentUpdateDiscardsHistory", func(t *testing.T) {
		a := seed(t)
		err := advance(&failingStore{Store: store, failAssignmentUpdate: true}, a.ContentID)
		require.Error(t, err)

		entries, err := store.ListHistory(a.ID)
		assert.NoError(t, err)
		assert.Empty(t, entries)

		current, err := store.GetAssignmentByContent(a.ContentID)
		assert.NoError(t, err)
		assert.Equal(t, 1, current.Version)
		assert.Equal(t, a.CurrentStepID, current.CurrentStepID)
		assert.Empty(t, current.StepHistory)
	})

	t.Run("FailedContentStatusUpdateDiscardsTransition", func(t *testing.T) {
		a := seed(t)
		err := advance(&failingStore{Store: store, failContentStatus: true}, a.ContentID)
		require.Error(t, err)

		entries, err := store.ListHistory(a.ID)
		assert.NoError(t, err)
		assert.Empty(t, entries)

		current, err := store.GetAssignmentByContent(a.ContentID)
		assert.NoError(t, err)
		assert.Equal(t, 1, current.Version)
		assert.Equal(t, a.CurrentStepID, current.CurrentStepID)
	})

	t.Run("SuccessfulTransitionKeepsBoth", func(t *testing.T) {
		a := seed(t)
		require.NoError(t, advance(store, a.ContentID))

		entries, err := store.ListHistory(a.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)

		current, err := store.GetAssignmentByContent(a.ContentID)
		assert.NoError(t, err)
		assert.Equal(t, 2, current.Version)
		assert.NotEqual(t, a.CurrentStepID, current.CurrentStepID)
		assert.Len(t, current.StepHistory, 1)
	})
}
