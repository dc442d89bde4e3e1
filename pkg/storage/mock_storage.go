package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/pkg/models"
)

// MockStore implements Store with in-memory state for tests. All state is
// shared between the root store and the stores returned by Begin, so a
// "transaction" is only a grouping construct here; tests that need real
// rollback semantics run against the postgres store.
type MockStore struct {
	mu          sync.Mutex
	workflows   []models.Workflow
	assignments []models.Assignment
	history     []models.HistoryEntry
	content     []models.ContentItem
	roles       map[string][]string

	// Error injection for failure-path tests.
	GetAssignmentErr    error
	SaveAssignmentErr   error
	UpdateAssignmentErr error
	AppendHistoryErr    error
	CommitErr           error

	// AssignmentNotFoundOnce makes the next lookup miss even when a row
	// exists, simulating a concurrent insert racing the existence check.
	AssignmentNotFoundOnce bool

	// Invocation counters.
	DashboardQueries   int
	AssignmentLookups  int
	LastDashboardSteps []string
}

func NewMockStore() *MockStore {
	return &MockStore{roles: make(map[string][]string)}
}

// SetActorRoles seeds the role table for an actor.
func (m *MockStore) SetActorRoles(actorID string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[actorID] = roles
}

func (m *MockStore) Begin() (Store, error) { return m, nil }
func (m *MockStore) Commit() error         { return m.CommitErr }
func (m *MockStore) Rollback() error       { return nil }
func (m *MockStore) Close() error          { return nil }

func (m *MockStore) SaveWorkflow(w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workflows {
		if existing.ID == w.ID {
			return errors.New("workflow already exists")
		}
	}
	m.workflows = append(m.workflows, w)
	return nil
}

func (m *MockStore) GetWorkflow(id string) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *MockStore) ListWorkflows(ownerID string) ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Workflow
	for _, w := range m.workflows {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MockStore) ListActiveWorkflows(ownerID string) ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Workflow
	for _, w := range m.workflows {
		if w.Active && w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) ListStepIDsForActor(actorID string, roles []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, w := range m.workflows {
		if !w.Active {
			continue
		}
		for _, s := range w.Steps {
			if s.AllowsActor(actorID, roles) {
				ids = append(ids, s.ID)
			}
		}
	}
	return ids, nil
}

func (m *MockStore) GetActorRoles(actorID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[actorID], nil
}

func (m *MockStore) GetAssignmentByContent(contentID string) (models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssignmentLookups++
	if m.GetAssignmentErr != nil {
		return models.Assignment{}, m.GetAssignmentErr
	}
	if m.AssignmentNotFoundOnce {
		m.AssignmentNotFoundOnce = false
		return models.Assignment{}, ErrNotFound
	}
	for _, a := range m.assignments {
		if a.ContentID == contentID {
			return a, nil
		}
	}
	return models.Assignment{}, ErrNotFound
}

func (m *MockStore) SaveAssignment(a models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveAssignmentErr != nil {
		return m.SaveAssignmentErr
	}
	for _, existing := range m.assignments {
		if existing.ContentID == a.ContentID {
			return ErrDuplicateContent
		}
	}
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *MockStore) UpdateAssignment(a models.Assignment, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateAssignmentErr != nil {
		return m.UpdateAssignmentErr
	}
	for i, existing := range m.assignments {
		if existing.ID != a.ID {
			continue
		}
		if existing.Version != expectedVersion {
			return ErrVersionConflict
		}
		a.Version = expectedVersion + 1
		a.UpdatedAt = time.Now()
		m.assignments[i] = a
		return nil
	}
	return ErrNotFound
}

func (m *MockStore) ListPendingByStepIDs(stepIDs []string) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.Status.Terminal() {
			continue
		}
		for _, id := range stepIDs {
			if a.CurrentStepID == id {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (m *MockStore) DashboardByStepIDs(stepIDs []string) ([]models.DashboardRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DashboardQueries++
	m.LastDashboardSteps = append([]string(nil), stepIDs...)
	var out []models.DashboardRow
	for _, a := range m.assignments {
		if a.Status.Terminal() {
			continue
		}
		for _, id := range stepIDs {
			if a.CurrentStepID != id {
				continue
			}
			row := models.DashboardRow{
				AssignmentID:  a.ID,
				ContentID:     a.ContentID,
				WorkflowID:    a.WorkflowID,
				CurrentStepID: a.CurrentStepID,
				Status:        a.Status,
				WaitingSince:  a.UpdatedAt,
			}
			for _, w := range m.workflows {
				if w.ID != a.WorkflowID {
					continue
				}
				row.WorkflowName = w.Name
				if s, ok := w.StepByID(a.CurrentStepID); ok {
					row.CurrentStepName = s.Name
				}
			}
			for _, c := range m.content {
				if c.ID == a.ContentID {
					row.ContentOwnerID = c.OwnerID
				}
			}
			out = append(out, row)
			break
		}
	}
	return out, nil
}

func (m *MockStore) StatsByOwner(ownerID string) (models.ApprovalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.ApprovalStats{PendingByStep: make(map[string]int)}
	owned := make(map[string]bool)
	for _, w := range m.workflows {
		if w.OwnerID == ownerID {
			owned[w.ID] = true
		}
	}
	for _, a := range m.assignments {
		if !owned[a.WorkflowID] {
			continue
		}
		stats.Total++
		switch a.Status {
		case models.PendingAssignmentStatus:
			stats.Pending++
			stats.PendingByStep[a.CurrentStepID]++
		case models.ApprovedAssignmentStatus:
			stats.Approved++
		case models.RejectedAssignmentStatus:
			stats.Rejected++
		case models.ChangesRequestedAssignmentStatus:
			stats.ChangesRequested++
		}
	}
	return stats, nil
}

func (m *MockStore) AppendHistory(e models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendHistoryErr != nil {
		return m.AppendHistoryErr
	}
	if err := (models.TransitionRecord{
		ActorID: e.ActorID,
		Action:  e.Action,
		StepID:  e.StepID,
		At:      e.CreatedAt,
	}).Validate(); err != nil {
		return err
	}
	m.history = append(m.history, e)
	return nil
}

func (m *MockStore) ListHistory(assignmentID string) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HistoryEntry
	for _, e := range m.history {
		if e.AssignmentID == assignmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockStore) CountStepApprovals(assignmentID, stepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actors := make(map[string]bool)
	for _, e := range m.history {
		if e.AssignmentID == assignmentID && e.StepID == stepID && e.Action == models.ApproveAction {
			actors[e.ActorID] = true
		}
	}
	return len(actors), nil
}

func (m *MockStore) SaveContent(c models.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.content {
		if existing.ID == c.ID {
			return errors.New("content already exists")
		}
	}
	m.content = append(m.content, c)
	return nil
}

func (m *MockStore) GetContent(contentID string) (models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.content {
		if c.ID == contentID {
			return c, nil
		}
	}
	return models.ContentItem{}, ErrNotFound
}

func (m *MockStore) UpdateContentApprovalStatus(contentID string, status models.AssignmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.content {
		if c.ID == contentID {
			m.content[i].ApprovalStatus = string(status)
			return nil
		}
	}
	return ErrNotFound
}
