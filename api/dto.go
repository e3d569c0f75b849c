/*
dto.go - Request/response shapes for the HTTP API

PURPOSE:
  JSON-facing structs, kept separate from governance domain types so the
  wire format can evolve without touching the engine. Money crosses the
  wire as decimal strings, never floats.
*/
package api

import (
	"time"

	"github.com/meridian/governance-engine/governance"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type AssignTeamRequest struct {
	ProjectManager       string `json:"project_manager"`
	SeniorProjectManager string `json:"senior_project_manager"`
}

type MilestoneRequest struct {
	Title   string    `json:"title"`
	DueDate time.Time `json:"due_date"`
}

type FinalizeProjectRequest struct {
	Milestones []MilestoneRequest `json:"milestones"`
}

type CategoryRequest struct {
	Name      string `json:"name"`
	Allocated string `json:"allocated"` // decimal string
}

type CreateBudgetRequest struct {
	Categories []CategoryRequest `json:"categories"`
}

type SubmitBudgetRequest struct {
	Urgency string `json:"urgency,omitempty"`
}

type DecideApprovalRequest struct {
	Decision string `json:"decision"` // approve | reject | escalate
	Comments string `json:"comments,omitempty"`
}

type AddEntryRequest struct {
	Amount      string `json:"amount"` // decimal string
	EntryType   string `json:"entry_type"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

type SetEntryStatusRequest struct {
	Status string `json:"status"`
}

type TransferRequest struct {
	FromCategoryID string `json:"from_category_id"`
	ToCategoryID   string `json:"to_category_id"`
	Amount         string `json:"amount"` // decimal string
	Reason         string `json:"reason,omitempty"`
}

type GateTransitionRequest struct {
	NewState         string     `json:"new_state"`
	Notes            string     `json:"notes,omitempty"`
	AutoTransitionAt *time.Time `json:"auto_transition_at,omitempty"`
	AutoTransitionTo string     `json:"auto_transition_to,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ProjectResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	LifecycleStatus string `json:"lifecycle_status"`
	WorkflowStatus  string `json:"workflow_status"`
	InitiatedBy     string `json:"initiated_by"`
	AssignedPM      string `json:"assigned_pm,omitempty"`
	AssignedSPM     string `json:"assigned_spm,omitempty"`
	AssignedBy      string `json:"assigned_by,omitempty"`
	FinalizedBy     string `json:"finalized_by,omitempty"`
}

func toProjectResponse(p *governance.Project) ProjectResponse {
	return ProjectResponse{
		ID:              p.ID,
		Name:            p.Name,
		LifecycleStatus: string(p.LifecycleStatus),
		WorkflowStatus:  string(p.WorkflowStatus),
		InitiatedBy:     p.InitiatedBy,
		AssignedPM:      p.AssignedPM,
		AssignedSPM:     p.AssignedSPM,
		AssignedBy:      p.AssignedBy,
		FinalizedBy:     p.FinalizedBy,
	}
}

type BudgetResponse struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Version     int    `json:"version"`
	TotalBudget string `json:"total_budget"`
	Status      string `json:"status"`
	ApprovedBy  string `json:"approved_by,omitempty"`
}

func toBudgetResponse(b *governance.ProjectBudget) BudgetResponse {
	return BudgetResponse{
		ID:          b.ID,
		ProjectID:   b.ProjectID,
		Version:     b.Version,
		TotalBudget: b.TotalBudget.String(),
		Status:      string(b.Status),
		ApprovedBy:  b.ApprovedBy,
	}
}

type ApprovalResponse struct {
	ID            string     `json:"id"`
	BudgetID      string     `json:"budget_id"`
	ApprovalLevel int        `json:"approval_level"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	ApproverID    string     `json:"approver_id,omitempty"`
	Urgency       string     `json:"urgency"`
	Comments      string     `json:"comments,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	DaysPending   int        `json:"days_pending,omitempty"`
}

func toApprovalResponse(a *governance.BudgetApproval) ApprovalResponse {
	return ApprovalResponse{
		ID:            a.ID,
		BudgetID:      a.BudgetID,
		ApprovalLevel: a.ApprovalLevel,
		Status:        string(a.Status),
		RequestedBy:   a.RequestedBy,
		ApproverID:    a.ApproverID,
		Urgency:       string(a.Urgency),
		Comments:      a.Comments,
		RequestedAt:   a.RequestedAt,
		DecidedAt:     a.DecidedAt,
	}
}

type CategorySummaryResponse struct {
	CategoryID string `json:"category_id,omitempty"`
	Name       string `json:"name"`
	Allocated  string `json:"allocated"`
	Committed  string `json:"committed"`
	Spent      string `json:"spent"`
	Available  string `json:"available"`
}

func toCategorySummaryResponse(s governance.CategorySummary) CategorySummaryResponse {
	return CategorySummaryResponse{
		CategoryID: s.CategoryID,
		Name:       s.Name,
		Allocated:  s.Allocated.String(),
		Committed:  s.Committed.String(),
		Spent:      s.Spent.String(),
		Available:  s.Available.String(),
	}
}

type BudgetSummaryResponse struct {
	Budget     BudgetResponse            `json:"budget"`
	Categories []CategorySummaryResponse `json:"categories"`
	Total      CategorySummaryResponse   `json:"total"`
}

type EntryResponse struct {
	ID          string `json:"id"`
	CategoryID  string `json:"category_id"`
	Amount      string `json:"amount"`
	EntryType   string `json:"entry_type"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

func toEntryResponse(e *governance.BudgetEntry) EntryResponse {
	return EntryResponse{
		ID:          e.ID,
		CategoryID:  e.CategoryID,
		Amount:      e.Amount.String(),
		EntryType:   string(e.EntryType),
		Status:      string(e.Status),
		Description: e.Description,
	}
}

type TransferResponse struct {
	ID             string `json:"id"`
	FromCategoryID string `json:"from_category_id"`
	ToCategoryID   string `json:"to_category_id"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason,omitempty"`
	TransferredBy  string `json:"transferred_by"`
}

func toTransferResponse(t *governance.BudgetTransfer) TransferResponse {
	return TransferResponse{
		ID:             t.ID,
		FromCategoryID: t.FromCategoryID,
		ToCategoryID:   t.ToCategoryID,
		Amount:         t.Amount.String(),
		Reason:         t.Reason,
		TransferredBy:  t.TransferredBy,
	}
}

type GateStateResponse struct {
	ID                 string     `json:"id"`
	GateMeetingID      string     `json:"gate_meeting_id"`
	CurrentState       string     `json:"current_state"`
	PreviousState      string     `json:"previous_state,omitempty"`
	NextPossibleStates []string   `json:"next_possible_states"`
	Notes              string     `json:"notes,omitempty"`
	StateEnteredBy     string     `json:"state_entered_by"`
	StateEnteredAt     time.Time  `json:"state_entered_at"`
	AutoTransitionAt   *time.Time `json:"auto_transition_at,omitempty"`
	AutoTransitionTo   string     `json:"auto_transition_to,omitempty"`
}

func toGateStateResponse(s *governance.GateMeetingState) GateStateResponse {
	next := make([]string, len(s.NextPossibleStates))
	for i, st := range s.NextPossibleStates {
		next[i] = string(st)
	}
	return GateStateResponse{
		ID:                 s.ID,
		GateMeetingID:      s.GateMeetingID,
		CurrentState:       string(s.CurrentState),
		PreviousState:      string(s.PreviousState),
		NextPossibleStates: next,
		Notes:              s.Notes,
		StateEnteredBy:     s.StateEnteredBy,
		StateEnteredAt:     s.StateEnteredAt,
		AutoTransitionAt:   s.AutoTransitionAt,
		AutoTransitionTo:   string(s.AutoTransitionTo),
	}
}

type AuditEntryResponse struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationResponse struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toNotificationResponse(n governance.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
