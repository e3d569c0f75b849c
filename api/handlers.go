/*
handlers.go - HTTP handlers over the governance coordinator

PURPOSE:
  Thin translation layer: decode JSON, resolve the acting user from
  headers, call the one coordinator method for the intent, map the
  error kind to an HTTP status. No business logic lives here.

ERROR MAPPING:
  ErrNotFound                             -> 404
  ErrNotAuthorized                        -> 403
  ErrAlreadyPending / ErrAlreadyProcessed -> 409
  ErrConcurrencyConflict                  -> 409 (retryable)
  other client errors (IsClientError)     -> 400
  anything else                           -> 500

ACTOR RESOLUTION:
  The engine trusts X-Actor-ID / X-Actor-Role headers. Authentication
  is a gateway concern, deliberately outside this service.
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian/governance-engine/governance"
)

type Handler struct {
	Coordinator *governance.Coordinator
}

func NewHandler(c *governance.Coordinator) *Handler {
	return &Handler{Coordinator: c}
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) (governance.Actor, bool) {
	id := r.Header.Get("X-Actor-ID")
	role := r.Header.Get("X-Actor-Role")
	if id == "" || role == "" {
		return governance.Actor{}, false
	}
	return governance.Actor{ID: id, Role: governance.Role(role)}, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("api: encode response: %v", err)
		}
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case governance.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, governance.ErrNotAuthorized):
		status, kind = http.StatusForbidden, "not_authorized"
	case errors.Is(err, governance.ErrAlreadyPending):
		status, kind = http.StatusConflict, "already_pending"
	case errors.Is(err, governance.ErrAlreadyProcessed):
		status, kind = http.StatusConflict, "already_processed"
	case governance.IsRetryable(err):
		status, kind = http.StatusConflict, "concurrency_conflict"
	case governance.IsClientError(err):
		status, kind = http.StatusBadRequest, "invalid_request"
	default:
		log.Printf("api: internal error: %v", err)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (governance.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing X-Actor-ID / X-Actor-Role headers", Kind: "unauthenticated"})
	}
	return actor, ok
}

func parseAmount(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid decimal amount: " + raw, Kind: "invalid_request"})
		return decimal.Zero, false
	}
	return amount, true
}

// =============================================================================
// PROJECTS
// =============================================================================

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "name is required", Kind: "invalid_request"})
		return
	}

	project, err := h.Coordinator.InitiateProject(r.Context(), req.Name, actor)
	if err != nil {
		observeIntent("initiate_project", err)
		respondError(w, err)
		return
	}
	observeIntent("initiate_project", nil)
	respondJSON(w, http.StatusCreated, toProjectResponse(project))
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Coordinator.Store.ListProjects(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.Coordinator.Store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) ProjectNextStep(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	step, err := h.Coordinator.ProjectNextStep(r.Context(), chi.URLParam(r, "projectID"), actor.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"next_step": string(step)})
}

func (h *Handler) AssignTeam(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req AssignTeamRequest
	if !decode(w, r, &req) {
		return
	}

	project, err := h.Coordinator.AssignTeam(r.Context(), chi.URLParam(r, "projectID"), req.ProjectManager, req.SeniorProjectManager, actor)
	if err != nil {
		observeIntent("assign_team", err)
		respondError(w, err)
		return
	}
	observeIntent("assign_team", nil)
	respondJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) FinalizeProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req FinalizeProjectRequest
	if !decode(w, r, &req) {
		return
	}
	milestones := make([]governance.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		milestones = append(milestones, governance.MilestoneInput{Title: m.Title, DueDate: m.DueDate})
	}

	project, err := h.Coordinator.FinalizeProject(r.Context(), chi.URLParam(r, "projectID"), actor, milestones)
	if err != nil {
		observeIntent("finalize_project", err)
		respondError(w, err)
		return
	}
	observeIntent("finalize_project", nil)
	respondJSON(w, http.StatusOK, toProjectResponse(project))
}

// =============================================================================
// BUDGETS
// =============================================================================

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Categories) == 0 {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "at least one category is required", Kind: "invalid_request"})
		return
	}
	categories := make([]governance.CategoryInput, 0, len(req.Categories))
	for _, c := range req.Categories {
		allocated, ok := parseAmount(w, c.Allocated)
		if !ok {
			return
		}
		categories = append(categories, governance.CategoryInput{Name: c.Name, Allocated: allocated})
	}

	budget, err := h.Coordinator.CreateBudgetVersion(r.Context(), chi.URLParam(r, "projectID"), categories, actor)
	if err != nil {
		observeIntent("create_budget", err)
		respondError(w, err)
		return
	}
	observeIntent("create_budget", nil)
	respondJSON(w, http.StatusCreated, toBudgetResponse(budget))
}

func (h *Handler) BudgetSummary(w http.ResponseWriter, r *http.Request) {
	view, err := h.Coordinator.BudgetSummary(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}
	out := BudgetSummaryResponse{
		Budget: toBudgetResponse(view.Budget),
		Total:  toCategorySummaryResponse(view.Total),
	}
	for _, s := range view.Categories {
		out.Categories = append(out.Categories, toCategorySummaryResponse(s))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) SubmitBudget(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SubmitBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	urgency := governance.Urgency(req.Urgency)
	if urgency == "" {
		urgency = governance.UrgencyNormal
	}

	approval, err := h.Coordinator.SubmitForApproval(r.Context(), chi.URLParam(r, "budgetID"), actor, urgency)
	if err != nil {
		observeIntent("submit_for_approval", err)
		respondError(w, err)
		return
	}
	observeIntent("submit_for_approval", nil)
	respondJSON(w, http.StatusCreated, toApprovalResponse(approval))
}

// =============================================================================
// APPROVALS
// =============================================================================

func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	views, err := h.Coordinator.PendingApprovalsFor(r.Context(), actor.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]ApprovalResponse, 0, len(views))
	for _, v := range views {
		resp := toApprovalResponse(&v.BudgetApproval)
		resp.DaysPending = v.DaysPending
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req DecideApprovalRequest
	if !decode(w, r, &req) {
		return
	}
	decision := governance.Decision(req.Decision)
	switch decision {
	case governance.DecisionApprove, governance.DecisionReject, governance.DecisionEscalate:
	default:
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "decision must be approve, reject, or escalate", Kind: "invalid_request"})
		return
	}

	result, err := h.Coordinator.DecideApproval(r.Context(), chi.URLParam(r, "approvalID"), decision, actor, req.Comments)
	if err != nil {
		observeIntent("decide_approval", err)
		respondError(w, err)
		return
	}
	observeIntent("decide_approval", nil)

	out := map[string]any{"approval": toApprovalResponse(result.Updated)}
	if result.Spawned != nil {
		out["escalated_to"] = toApprovalResponse(result.Spawned)
	}
	respondJSON(w, http.StatusOK, out)
}

// =============================================================================
// LEDGER
// =============================================================================

func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req AddEntryRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	in := governance.EntryInput{
		Amount:      amount,
		EntryType:   governance.EntryType(req.EntryType),
		Status:      governance.EntryStatus(req.Status),
		Description: req.Description,
	}

	entry, err := h.Coordinator.AddBudgetEntry(r.Context(), chi.URLParam(r, "categoryID"), in, actor)
	if err != nil {
		observeIntent("add_entry", err)
		respondError(w, err)
		return
	}
	observeIntent("add_entry", nil)
	respondJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) SetEntryStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SetEntryStatusRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.Coordinator.SetEntryStatus(r.Context(), chi.URLParam(r, "entryID"), governance.EntryStatus(req.Status), actor)
	if err != nil {
		observeIntent("set_entry_status", err)
		respondError(w, err)
		return
	}
	observeIntent("set_entry_status", nil)
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) TransferFunds(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	transfer, err := h.Coordinator.TransferFunds(r.Context(), req.FromCategoryID, req.ToCategoryID, amount, req.Reason, actor)
	if err != nil {
		observeIntent("transfer_funds", err)
		respondError(w, err)
		return
	}
	observeIntent("transfer_funds", nil)
	respondJSON(w, http.StatusCreated, toTransferResponse(transfer))
}

// =============================================================================
// GATE MEETINGS
// =============================================================================

func (h *Handler) TransitionGateMeeting(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req GateTransitionRequest
	if !decode(w, r, &req) {
		return
	}
	in := governance.TransitionInput{
		NewState:         governance.GateState(req.NewState),
		Notes:            req.Notes,
		AutoTransitionAt: req.AutoTransitionAt,
		AutoTransitionTo: governance.GateState(req.AutoTransitionTo),
	}

	state, err := h.Coordinator.TransitionGateMeeting(r.Context(), chi.URLParam(r, "meetingID"), in, actor)
	if err != nil {
		observeIntent("gate_transition", err)
		respondError(w, err)
		return
	}
	observeIntent("gate_transition", nil)
	respondJSON(w, http.StatusCreated, toGateStateResponse(state))
}

func (h *Handler) GateMeetingHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Coordinator.GateMeetingHistory(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]GateStateResponse, 0, len(history))
	for i := range history {
		out = append(out, toGateStateResponse(&history[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// =============================================================================
// AUDIT + NOTIFICATIONS
// =============================================================================

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := governance.AuditFilter{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		ActorID:  q.Get("actor_id"),
	}

	entries, err := h.Coordinator.AuditTrail(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			Entity:    e.Entity,
			EntityID:  e.EntityID,
			Action:    string(e.Action),
			Details:   e.Details,
			ActorID:   e.ActorID,
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Coordinator.Store.ListNotifications(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]NotificationResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, toNotificationResponse(n))
	}
	respondJSON(w, http.StatusOK, out)
}
