package storage

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveWorkflow inserts a workflow and its steps.
func (s *PostgresStore) SaveWorkflow(w models.Workflow) error {
	_, err := s.db.Exec(`
		INSERT INTO workflows (id, owner_id, name, description, scope, scope_filter, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.OwnerID, w.Name, w.Description, w.Scope, w.ScopeFilter, w.Active, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	for _, step := range w.Steps {
		_, err := s.db.Exec(`
			INSERT INTO workflow_steps (id, workflow_id, step_order, name, approver_id, approver_role, min_approvals, escalation_hours, optional, sla_hours)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			step.ID, w.ID, step.StepOrder, step.Name, step.ApproverID, step.ApproverRole,
			step.MinApprovals, step.EscalationHours, step.Optional, step.SLAHours)
		if err != nil {
			return fmt.Errorf("save workflow step %s: %w", step.Name, err)
		}
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID with its steps ordered by step_order.
func (s *PostgresStore) GetWorkflow(id string) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.Get(&wf, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	if err := s.db.Select(&wf.Steps, "SELECT * FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order", id); err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows(ownerID string) ([]models.Workflow, error) {
	return s.selectWorkflows("SELECT * FROM workflows WHERE owner_id = $1 ORDER BY created_at", ownerID)
}

func (s *PostgresStore) ListActiveWorkflows(ownerID string) ([]models.Workflow, error) {
	return s.selectWorkflows("SELECT * FROM workflows WHERE owner_id = $1 AND active ORDER BY created_at", ownerID)
}

func (s *PostgresStore) selectWorkflows(query string, args ...interface{}) ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	if err := s.db.Select(&workflows, query, args...); err != nil {
		return nil, err
	}
	for i := range workflows {
		err := s.db.Select(&workflows[i].Steps,
			"SELECT * FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order", workflows[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list workflow steps for %s: %w", workflows[i].ID, err)
		}
	}
	return workflows, nil
}

func (s *PostgresStore) ListStepIDsForActor(actorID string, roles []string) ([]string, error) {
	if roles == nil {
		roles = []string{}
	}
	ids := []string{}
	err := s.db.Select(&ids, `
		SELECT s.id FROM workflow_steps s
		JOIN workflows w ON w.id = s.workflow_id
		WHERE w.active AND (s.approver_id = $1 OR s.approver_role = ANY($2))`,
		actorID, pq.Array(roles))
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) GetActorRoles(actorID string) ([]string, error) {
	roles := []string{}
	if err := s.db.Select(&roles, "SELECT role FROM actor_roles WHERE actor_id = $1", actorID); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *PostgresStore) GetAssignmentByContent(contentID string) (models.Assignment, error) {
	var a models.Assignment
	err := s.db.Get(&a, "SELECT * FROM post_approval_assignments WHERE content_id = $1", contentID)
	if err == sql.ErrNoRows {
		return models.Assignment{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Assignment{}, err
	}
	return a, nil
}

func (s *PostgresStore) SaveAssignment(a models.Assignment) error {
	_, err := s.db.Exec(`
		INSERT INTO post_approval_assignments (id, content_id, workflow_id, current_step_id, status, step_history, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ContentID, a.WorkflowID, a.CurrentStepID, a.Status, a.StepHistory, a.Version, a.CreatedAt, a.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return storage.ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("save assignment: %w", err)
	}
	return nil
}

// UpdateAssignment is the conditional write backing optimistic concurrency:
// the row only moves when its version still matches the one read.
func (s *PostgresStore) UpdateAssignment(a models.Assignment, expectedVersion int) error {
	res, err := s.db.Exec(`
		UPDATE post_approval_assignments
		SET current_step_id = $1, status = $2, step_history = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		a.CurrentStepID, a.Status, a.StepHistory, a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ListPendingByStepIDs(stepIDs []string) ([]models.Assignment, error) {
	assignments := []models.Assignment{}
	err := s.db.Select(&assignments, `
		SELECT * FROM post_approval_assignments
		WHERE status = 'pending' AND current_step_id = ANY($1)
		ORDER BY updated_at`,
		pq.Array(stepIDs))
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *PostgresStore) DashboardByStepIDs(stepIDs []string) ([]models.DashboardRow, error) {
	rows := []models.DashboardRow{}
	err := s.db.Select(&rows, `
		SELECT a.id AS assignment_id,
		       a.content_id,
		       c.owner_id AS content_owner_id,
		       a.workflow_id,
		       w.name AS workflow_name,
		       a.current_step_id,
		       s.name AS current_step_name,
		       a.status,
		       a.updated_at AS waiting_since
		FROM post_approval_assignments a
		JOIN workflows w ON w.id = a.workflow_id
		JOIN workflow_steps s ON s.id = a.current_step_id
		JOIN content_items c ON c.id = a.content_id
		WHERE a.status = 'pending' AND a.current_step_id = ANY($1)
		ORDER BY a.updated_at`,
		pq.Array(stepIDs))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PostgresStore) StatsByOwner(ownerID string) (models.ApprovalStats, error) {
	stats := models.ApprovalStats{PendingByStep: make(map[string]int)}
	var byStatus []struct {
		Status models.AssignmentStatus `db:"status"`
		Count  int                     `db:"count"`
	}
	err := s.db.Select(&byStatus, `
		SELECT a.status, COUNT(*) AS count
		FROM post_approval_assignments a
		JOIN workflows w ON w.id = a.workflow_id
		WHERE w.owner_id = $1
		GROUP BY a.status`, ownerID)
	if err != nil {
		return models.ApprovalStats{}, err
	}
	for _, row := range byStatus {
		stats.Total += row.Count
		switch row.Status {
		case models.PendingAssignmentStatus:
			stats.Pending = row.Count
		case models.ApprovedAssignmentStatus:
			stats.Approved = row.Count
		case models.RejectedAssignmentStatus:
			stats.Rejected = row.Count
		case models.ChangesRequestedAssignmentStatus:
			stats.ChangesRequested = row.Count
		}
	}

	var byStep []struct {
		StepID string `db:"current_step_id"`
		Count  int    `db:"count"`
	}
	err = s.db.Select(&byStep, `
		SELECT a.current_step_id, COUNT(*) AS count
		FROM post_approval_assignments a
		JOIN workflows w ON w.id = a.workflow_id
		WHERE w.owner_id = $1 AND a.status = 'pending'
		GROUP BY a.current_step_id`, ownerID)
	if err != nil {
		return models.ApprovalStats{}, err
	}
	for _, row := range byStep {
		stats.PendingByStep[row.StepID] = row.Count
	}
	return stats, nil
}

func (s *PostgresStore) AppendHistory(e models.HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO approval_history (id, assignment_id, step_id, actor_id, action, action_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AssignmentID, e.StepID, e.ActorID, e.Action, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history for assignment %s: %w", e.AssignmentID, err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(assignmentID string) ([]models.HistoryEntry, error) {
	entries := []models.HistoryEntry{}
	err := s.db.Select(&entries,
		"SELECT * FROM approval_history WHERE assignment_id = $1 ORDER BY created_at", assignmentID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) CountStepApprovals(assignmentID, stepID string) (int, error) {
	var count int
	err := s.db.Get(&count, `
		SELECT COUNT(DISTINCT actor_id) FROM approval_history
		WHERE assignment_id = $1 AND step_id = $2 AND action = 'approve'`,
		assignmentID, stepID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) SaveContent(c models.ContentItem) error {
	_, err := s.db.Exec(`
		INSERT INTO content_items (id, owner_id, platforms, tags, approval_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.OwnerID, c.Platforms, c.Tags, c.ApprovalStatus, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save content %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetContent(contentID string) (models.ContentItem, error) {
	var c models.ContentItem
	err := s.db.Get(&c, "SELECT * FROM content_items WHERE id = $1", contentID)
	if err == sql.ErrNoRows {
		return models.ContentItem{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ContentItem{}, err
	}
	return c, nil
}

func (s *PostgresStore) UpdateContentApprovalStatus(contentID string, status models.AssignmentStatus) error {
	res, err := s.db.Exec("UPDATE content_items SET approval_status = $1 WHERE id = $2", status, contentID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
