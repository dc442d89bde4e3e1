package service_test

import (
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
	"github.com/postpilot/approvalflow/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{})  {}
func (l logger) Warnf(format string, args ...interface{})  {}
func (l logger) Errorf(format string, args ...interface{}) {}

type capturingDispatcher struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func (d *capturingDispatcher) QueueApprovalNotifications(a models.Assignment, ev models.TransitionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *capturingDispatcher) Events() []models.TransitionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.TransitionEvent(nil), d.events...)
}

func strptr(s string) *string { return &s }

// seedContent registers a content item owned by "owner-1".
func seedContent(t *testing.T, store *storage.MockStore, contentID string, platforms ...string) {
	t.Helper()
	require.NoError(t, store.SaveContent(models.ContentItem{
		ID:        contentID,
		OwnerID:   "owner-1",
		Platforms: pq.StringArray(platforms),
	}))
}

// seedTwoStepWorkflow creates a global two-step workflow owned by "owner-1":
// step 1 approved by "reviewer-1", step 2 by "manager-1", quorum 1 each.
func seedTwoStepWorkflow(t *testing.T, store *storage.MockStore) models.Workflow {
	t.Helper()
	svc := service.NewWorkflowService(store, logger{})
	wf, err := svc.CreateWorkflow(models.Workflow{
		OwnerID: "owner-1",
		Name:    "Standard review",
		Scope:   models.GlobalWorkflowScope,
		Active:  true,
		Steps: []models.WorkflowStep{
			{StepOrder: 1, Name: "Editorial review", ApproverID: strptr("reviewer-1"), MinApprovals: 1},
			{StepOrder: 2, Name: "Final sign-off", ApproverID: strptr("manager-1"), MinApprovals: 1},
		},
	})
	require.NoError(t, err)
	return wf
}
