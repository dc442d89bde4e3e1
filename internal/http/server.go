package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/postpilot/approvalflow/internal/log"
	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
	"github.com/postpilot/approvalflow/pkg/storage"
)

// Server exposes the engine's five operations plus the workflow catalog over
// JSON. It is deliberately thin: authentication and presentation live
// elsewhere.
type Server struct {
	workflows   *service.WorkflowService
	assignments *service.AssignmentService
	engine      *service.TransitionEngine
	dashboard   *service.DashboardService
}

func NewServer(store storage.Store, dispatcher service.Dispatcher) *Server {
	logger := log.GetLogger()
	return &Server{
		workflows:   service.NewWorkflowService(store, logger),
		assignments: service.NewAssignmentService(store, logger),
		engine:      service.NewTransitionEngine(store, dispatcher, logger),
		dashboard:   service.NewDashboardService(store, logger),
	}
}

func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", s.health)
	router.POST("/workflows", s.createWorkflow)
	router.GET("/workflows", s.listWorkflows)
	router.POST("/content", s.registerContent)
	router.POST("/assignments/ensure", s.ensureAssignment)
	router.POST("/assignments/:contentID/advance", s.advanceStep)
	router.GET("/approvals/pending", s.pendingApprovals)
	router.GET("/approvals/dashboard", s.approvalDashboard)
	router.GET("/approvals/stats", s.approvalStats)
	router.GET("/history/:assignmentID", s.approvalHistory)
	return router
}

func StartServer(port string, store storage.Store, dispatcher service.Dispatcher) error {
	srv := NewServer(store, dispatcher)
	log.GetLogger().Infof("Starting approvalflow server on :%s", port)
	return http.ListenAndServe(":"+port, srv.Router())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprintf(w, "approvalflow server is running")
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var wf models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		http.Error(w, "Invalid workflow payload", http.StatusBadRequest)
		return
	}
	created, err := s.workflows.CreateWorkflow(wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "Missing 'owner_id' parameter", http.StatusBadRequest)
		return
	}
	workflows, err := s.workflows.ListWorkflows(ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) registerContent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var content models.ContentItem
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		http.Error(w, "Invalid content payload", http.StatusBadRequest)
		return
	}
	if err := s.workflows.RegisterContent(content); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, content)
}

type ensureRequest struct {
	ContentID string `json:"content_id"`
	OwnerID   string `json:"owner_id"`
}

func (s *Server) ensureAssignment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ensureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	assignment, err := s.assignments.EnsureAssignment(r.Context(), req.ContentID, req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if assignment == nil {
		// No matching workflow: the content is not gated.
		writeJSON(w, http.StatusOK, map[string]interface{}{"gated": false})
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

type advanceRequest struct {
	ActorID string  `json:"actor_id"`
	Action  string  `json:"action"`
	Comment *string `json:"comment"`
	Reason  *string `json:"reason"`
}

func (s *Server) advanceStep(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	assignment, err := s.engine.AdvanceStep(r.Context(), ps.ByName("contentID"), req.ActorID,
		models.ApprovalAction(req.Action), service.ActionInput{Comment: req.Comment, Reason: req.Reason})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) pendingApprovals(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		http.Error(w, "Missing 'actor_id' parameter", http.StatusBadRequest)
		return
	}
	assignments, err := s.dashboard.GetPendingApprovals(actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (s *Server) approvalDashboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		http.Error(w, "Missing 'actor_id' parameter", http.StatusBadRequest)
		return
	}
	rows, err := s.dashboard.GetApprovalDashboard(actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) approvalStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "Missing 'owner_id' parameter", http.StatusBadRequest)
		return
	}
	stats, err := s.dashboard.GetApprovalStats(ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) approvalHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entries, err := s.workflows.GetApprovalHistory(ps.ByName("assignmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var pe *service.PersistenceError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorizedTransition):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyTerminal), errors.Is(err, service.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.As(err, &pe):
		status = http.StatusInternalServerError
	default:
		status = http.StatusBadRequest
	}
	log.GetLogger().Errorf("Request failed: %v", err)
	http.Error(w, err.Error(), status)
}
