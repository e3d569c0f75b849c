/*
Package governance provides the core governance and budget approval engine.

PURPOSE:
  This package contains the state machines and invariant-preserving
  operations that move capital projects and their budgets through fixed
  approval pipelines: project lifecycle, budget approval escalation,
  budget ledger arithmetic, and gate-meeting workflow history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Project: lifecycle + workflow status, team assignment
  - ProjectBudget: versioned budget snapshot (highest version wins)
  - BudgetCategory / BudgetEntry: ledger rows
  - BudgetApproval: one row per approval request, escalation chain
  - GateMeetingState: append-only workflow history row

DESIGN PRINCIPLES:
  1. Immutability: superseded budget versions, ledger entries (except
     status), transfers, and gate-meeting history rows are never edited
  2. Precision: decimal.Decimal for all money, never float64
  3. Explicit transitions: every state change goes through an engine
     operation; there is no generic "update" path

SEE ALSO:
  - ledger.go: availability arithmetic over categories and entries
  - approval.go: approval levels, submission, decision, escalation
  - lifecycle.go: initiated -> assigned -> finalized
  - gatemeeting.go: gate-meeting adjacency table and transitions
  - coordinator.go: transaction boundary over all of the above
*/
package governance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is an alias for decimal.Decimal. All amounts are in a single
// portfolio currency; the alias keeps decimal's method set intact.
type Money = decimal.Decimal

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RolePMI       Role = "pmi" // Planning, Monitoring & Implementation: initiates projects
	RoleManager   Role = "manager"
	RolePM        Role = "project_manager"
	RoleSPM       Role = "senior_project_manager"
	RoleDirector  Role = "director"
	RoleExecutive Role = "executive"
	RoleCEO       Role = "ceo"
	RoleCFO       Role = "cfo"
)

// Actor is the already-authenticated caller of a coordinator operation.
// The engine trusts this input completely; verification happens upstream.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by scheduled jobs (auto-transitions, auto-submission).
var SystemActor = Actor{ID: "system", Role: RolePMI}

// =============================================================================
// PROJECT
// =============================================================================

type LifecycleStatus string

const (
	LifecyclePlanning LifecycleStatus = "planning"
	LifecycleActive   LifecycleStatus = "active"
	LifecycleClosed   LifecycleStatus = "closed"
)

type WorkflowStatus string

const (
	WorkflowInitiated WorkflowStatus = "initiated"
	WorkflowAssigned  WorkflowStatus = "assigned"
	WorkflowFinalized WorkflowStatus = "finalized"
)

// Project is mutated only through lifecycle transitions. The core never
// hard-deletes a project; deletion is an external admin operation.
type Project struct {
	ID              string
	Name            string
	LifecycleStatus LifecycleStatus
	WorkflowStatus  WorkflowStatus

	InitiatedBy string
	AssignedPM  string
	AssignedSPM string
	AssignedBy  string
	FinalizedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Milestone rows are supplied at finalization time.
type Milestone struct {
	ID        string
	ProjectID string
	Title     string
	DueDate   time.Time
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// BUDGET - versioned per project
// =============================================================================

type BudgetStatus string

const (
	// BudgetDraft is the create-or-update state before submission.
	BudgetDraft           BudgetStatus = "Draft"
	BudgetActive          BudgetStatus = "Active"
	BudgetPendingApproval BudgetStatus = "Pending Approval"
	BudgetRejected        BudgetStatus = "Rejected"
)

// ProjectBudget is an immutable snapshot once superseded: the engine always
// reads the highest version for a project.
type ProjectBudget struct {
	ID          string
	ProjectID   string
	Version     int
	TotalBudget decimal.Decimal
	Status      BudgetStatus
	CreatedBy   string
	ApprovedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BudgetCategory belongs to one budget version. AllocatedAmount is mutable
// only via transfer.
type BudgetCategory struct {
	ID              string
	BudgetID        string
	Name            string
	AllocatedAmount decimal.Decimal
	CreatedAt       time.Time
}

// =============================================================================
// BUDGET ENTRIES - expense / commitment / income records
// =============================================================================

type EntryType string

const (
	EntryExpense    EntryType = "expense"
	EntryCommitment EntryType = "commitment"
	EntryIncome     EntryType = "income"
)

type EntryStatus string

const (
	EntryCommitted EntryStatus = "Committed"
	EntryPaid      EntryStatus = "Paid"
	EntryCancelled EntryStatus = "Cancelled"
)

// BudgetEntry is immutable once created except for status changes.
// A Cancelled entry is excluded from all ledger sums.
type BudgetEntry struct {
	ID          string
	CategoryID  string
	Amount      decimal.Decimal
	EntryType   EntryType
	Status      EntryStatus
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// APPROVALS
// =============================================================================

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "Pending"
	ApprovalApproved  ApprovalStatus = "Approved"
	ApprovalRejected  ApprovalStatus = "Rejected"
	ApprovalEscalated ApprovalStatus = "Escalated"
)

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// BudgetApproval is one row per approval request.
//
// INVARIANT: for a given budget, at most one row with status Pending
// may exist at any time. The stores enforce this with a unique partial
// index (sqlite) or a pending-slot check under lock (memory).
type BudgetApproval struct {
	ID            string
	BudgetID      string
	ApprovalLevel int
	Status        ApprovalStatus
	RequestedBy   string
	ApproverID    string
	Urgency       Urgency
	Comments      string
	RequestedAt   time.Time
	DecidedAt     *time.Time
}

// DaysPending reports how long an approval has been waiting, relative to now.
func (a BudgetApproval) DaysPending(now time.Time) int {
	return int(now.Sub(a.RequestedAt).Hours() / 24)
}

type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionEscalate Decision = "escalate"
)

// =============================================================================
// TRANSFERS
// =============================================================================

// BudgetTransfer is an immutable record of a completed category-to-category
// move, always paired with two allocation mutations performed atomically.
type BudgetTransfer struct {
	ID             string
	FromCategoryID string
	ToCategoryID   string
	Amount         decimal.Decimal
	Reason         string
	TransferredBy  string
	CreatedAt      time.Time
}

// =============================================================================
// GATE MEETING WORKFLOW
// =============================================================================

type GateState string

const (
	GateNewProjectAnnounced  GateState = "new_project_announced"
	GatePARApproved          GateState = "par_approved"
	GateMeetingScheduled     GateState = "gate_meeting_scheduled"
	GateMeetingCompleted     GateState = "meeting_completed"
	GateApproved             GateState = "approved"
	GateRejected             GateState = "rejected"
	GateConditionalApproval  GateState = "conditional_approval"
	GateOnHold               GateState = "on_hold"
	GateCancelled            GateState = "cancelled"
)

// GateMeetingState is append-only: the current state of a meeting is the
// most recently inserted row; history is a linked list via PreviousState.
type GateMeetingState struct {
	ID            string
	GateMeetingID string
	CurrentState  GateState
	PreviousState GateState // empty for the first row
	// NextPossibleStates is a snapshot of adjacency[CurrentState] taken
	// at insert time, not a validation of the incoming edge.
	NextPossibleStates []GateState
	Notes              string
	StateEnteredBy     string
	StateEnteredAt     time.Time

	// Auto-transition intent. The engine only persists it; firing is the
	// scheduler's concern.
	AutoTransitionAt *time.Time
	AutoTransitionTo GateState
}

// =============================================================================
// AUDIT + NOTIFICATIONS - write-once side effects of every transition
// =============================================================================

type AuditAction string

const (
	AuditProjectInitiated   AuditAction = "project_initiated"
	AuditTeamAssigned       AuditAction = "team_assigned"
	AuditProjectFinalized   AuditAction = "project_finalized"
	AuditBudgetCreated      AuditAction = "budget_created"
	AuditApprovalSubmitted  AuditAction = "approval_submitted"
	AuditApprovalDecided    AuditAction = "approval_decided"
	AuditEntryAdded         AuditAction = "entry_added"
	AuditEntryStatusChanged AuditAction = "entry_status_changed"
	AuditFundsTransferred   AuditAction = "funds_transferred"
	AuditGateTransitioned   AuditAction = "gate_transitioned"
)

type AuditEntry struct {
	ID        string
	Entity    string // "project", "budget", "approval", "category", "gate_meeting"
	EntityID  string
	Action    AuditAction
	Details   string
	ActorID   string
	CreatedAt time.Time
}

type AuditFilter struct {
	Entity   string
	EntityID string
	ActorID  string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
}

type NotificationType string

const (
	NotifyApprovalRequested NotificationType = "budget_approval_requested"
	NotifyBudgetApproved    NotificationType = "budget_approved"
	NotifyBudgetRejected    NotificationType = "budget_rejected"
	NotifyBudgetEscalated   NotificationType = "budget_escalated"
	NotifyProjectAssigned   NotificationType = "project_assigned"
	NotifyProjectFinalized  NotificationType = "project_finalized"
	NotifyGateStateChanged  NotificationType = "gate_state_changed"
)

// Notification rows are persisted in the same transaction as the state
// change that caused them. Delivery transport is an external concern.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Payload   map[string]string
	CreatedAt time.Time
}
