/*
store.go - Persistence interfaces for the governance engine

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  ProjectStore:     Projects and milestones
  BudgetStore:      Budget versions, categories, entries, transfers
  ApprovalStore:    Approval rows and the Pending-slot invariant
  GateMeetingStore: Append-only workflow history
  AuditLog:         Write-once audit entries
  NotificationSink: Write-once notification rows
  Store:            All of the above plus WithTx

TRANSACTION CONTRACT:
  Every coordinator intent runs inside WithTx. Reads that establish an
  invariant ("no other Pending approval", "available >= amount") and the
  subsequent writes happen in the same transaction. Implementations must
  serialize check-then-act per contended resource:
  - sqlite: single-writer transactions plus a unique partial index on
    (budget_id) where status = 'Pending'
  - memory: one mutex around the WithTx body

APPEND-ONLY TABLES:
  gate_meeting_states, budget_transfers, audit_log, notifications have no
  update or delete operations. Corrections happen by inserting new rows.

SEE ALSO:
  - store/memory.go: In-memory implementation for tests
  - ../store/sqlite/sqlite.go: Production SQLite implementation
*/
package governance

import (
	"context"
	"time"
)

// =============================================================================
// PROJECT STORE
// =============================================================================

type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error

	// GetProject returns ErrNotFound if the project does not exist.
	GetProject(ctx context.Context, id string) (*Project, error)

	// UpdateProject persists lifecycle mutations. Only the engine calls
	// this, and only as part of a transition.
	UpdateProject(ctx context.Context, p *Project) error

	// ListProjects returns projects ordered by creation time, oldest
	// first.
	ListProjects(ctx context.Context) ([]*Project, error)

	InsertMilestones(ctx context.Context, ms []Milestone) error
	ListMilestones(ctx context.Context, projectID string) ([]Milestone, error)
}

// =============================================================================
// BUDGET STORE
// =============================================================================

type BudgetStore interface {
	// CreateBudgetVersion inserts a new version together with its
	// categories. The caller assigns Version = current highest + 1.
	CreateBudgetVersion(ctx context.Context, b *ProjectBudget, categories []BudgetCategory) error

	// GetBudget returns ErrNotFound if the budget version does not exist.
	GetBudget(ctx context.Context, id string) (*ProjectBudget, error)

	// CurrentBudget returns the highest version for a project, or
	// ErrNotFound when the project has no budget yet.
	CurrentBudget(ctx context.Context, projectID string) (*ProjectBudget, error)

	// UpdateBudgetStatus stamps updated_at with the caller-supplied time
	// so the coordinator's clock governs every timestamp.
	UpdateBudgetStatus(ctx context.Context, budgetID string, status BudgetStatus, approvedBy string, updatedAt time.Time) error

	GetCategory(ctx context.Context, id string) (*BudgetCategory, error)

	// ListCategories returns a budget's categories ordered by name.
	ListCategories(ctx context.Context, budgetID string) ([]BudgetCategory, error)

	// AdjustAllocation applies a signed delta to a category's allocated
	// amount. Used only by transfers, inside the transfer's transaction.
	AdjustAllocation(ctx context.Context, categoryID string, delta Money) error

	InsertEntry(ctx context.Context, e *BudgetEntry) error
	GetEntry(ctx context.Context, id string) (*BudgetEntry, error)
	ListEntries(ctx context.Context, categoryID string) ([]BudgetEntry, error)
	UpdateEntryStatus(ctx context.Context, entryID string, status EntryStatus, updatedAt time.Time) error

	InsertTransfer(ctx context.Context, t *BudgetTransfer) error
	ListTransfers(ctx context.Context, budgetID string) ([]BudgetTransfer, error)
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

type ApprovalStore interface {
	// InsertApproval persists a new approval row. When the row is Pending
	// and another Pending row already exists for the same budget, the
	// implementation must fail with ErrConcurrencyConflict (this is the
	// backstop behind the engine's own AlreadyPending check).
	InsertApproval(ctx context.Context, a *BudgetApproval) error

	GetApproval(ctx context.Context, id string) (*BudgetApproval, error)

	// PendingApproval returns the Pending row for a budget, or nil when
	// there is none.
	PendingApproval(ctx context.Context, budgetID string) (*BudgetApproval, error)

	UpdateApproval(ctx context.Context, a *BudgetApproval) error

	// ListPendingApprovals returns Pending rows with level <= maxLevel,
	// oldest first. This backs the "what can this user approve" projection.
	ListPendingApprovals(ctx context.Context, maxLevel int) ([]BudgetApproval, error)

	// ListApprovalsForBudget returns the full chain, oldest first.
	ListApprovalsForBudget(ctx context.Context, budgetID string) ([]BudgetApproval, error)
}

// =============================================================================
// GATE MEETING STORE - append-only
// =============================================================================

type GateMeetingStore interface {
	InsertGateState(ctx context.Context, s *GateMeetingState) error

	// LatestGateState returns the most recent row for a meeting, or nil
	// when the meeting has no history yet.
	LatestGateState(ctx context.Context, gateMeetingID string) (*GateMeetingState, error)

	// GateStateHistory returns all rows for a meeting, oldest first.
	GateStateHistory(ctx context.Context, gateMeetingID string) ([]GateMeetingState, error)

	// ListDueAutoTransitions returns the latest rows whose auto-transition
	// time is at or before asOf and whose intent has not yet fired.
	ListDueAutoTransitions(ctx context.Context, asOf time.Time) ([]GateMeetingState, error)
}

// =============================================================================
// AUDIT + NOTIFICATIONS - write-once
// =============================================================================

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

type NotificationSink interface {
	EnqueueNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)
}

// =============================================================================
// STORE - everything, plus the transaction boundary
// =============================================================================

type Store interface {
	ProjectStore
	BudgetStore
	ApprovalStore
	GateMeetingStore
	AuditLog
	NotificationSink

	// WithTx executes fn within one transaction. If fn returns an error,
	// every write inside it is rolled back and the error is returned
	// unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error
}
