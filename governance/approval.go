/*
approval.go - Budget approval state machine with escalation

PURPOSE:
  Determines the approval level from budget magnitude, enforces the
  one-Pending-per-budget invariant, and performs approve / reject /
  escalate decisions.

STATE MACHINE (per BudgetApproval row):

    Pending ──▶ Approved   (terminal; budget becomes Active)
    Pending ──▶ Rejected   (terminal; budget becomes Rejected)
    Pending ──▶ Escalated  (terminal; spawns a new Pending at level+1,
                            budget stays Pending Approval)

LEVEL ASSIGNMENT:
  level = 3 if total_budget > 1,000,000
  level = 2 if total_budget >   100,000
  level = 1 otherwise
  Computed once at submission time, never recomputed.

ESCALATION CAP:
  Escalating a level-3 approval fails with ErrEscalationLimit. The chain
  is otherwise unbounded in length (a budget can bounce between levels
  across resubmissions).

AUTHORIZATION BY LEVEL:
  Executive/CEO/CFO see levels <= 3, Director <= 2, Manager/PM <= 1.
  This is a monotonic rule: a higher role can always decide lower-level
  approvals.

SEE ALSO:
  - coordinator.go: wraps Submit/Decide in the store transaction
  - ledger.go: the arithmetic the approved budget governs
*/
package governance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEVELS
// =============================================================================

const MaxApprovalLevel = 3

var (
	levelTwoThreshold   = decimal.NewFromInt(100_000)
	levelThreeThreshold = decimal.NewFromInt(1_000_000)
)

// LevelForAmount maps budget magnitude to the required approval level.
// Pure function of the total; computed once at submission.
func LevelForAmount(total Money) int {
	switch {
	case total.GreaterThan(levelThreeThreshold):
		return 3
	case total.GreaterThan(levelTwoThreshold):
		return 2
	default:
		return 1
	}
}

// RoleForLevel returns the role notified when an approval lands at a level.
func RoleForLevel(level int) Role {
	switch level {
	case 3:
		return RoleExecutive
	case 2:
		return RoleDirector
	default:
		return RoleManager
	}
}

// MaxLevelForRole returns the highest approval level a role may decide.
// Unknown roles may decide nothing.
func MaxLevelForRole(role Role) int {
	switch role {
	case RoleExecutive, RoleCEO, RoleCFO:
		return 3
	case RoleDirector:
		return 2
	case RoleManager, RolePM:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// APPROVAL ENGINE
// =============================================================================

// ApprovalEngine contains the transition logic. It is stateless; all rows
// are supplied by and returned to the coordinator's transaction.
type ApprovalEngine struct {
	Clock Clock
}

// SubmitResult is what the coordinator persists after a submission.
type SubmitResult struct {
	Approval     *BudgetApproval
	NotifyRole   Role
	BudgetStatus BudgetStatus // always Pending Approval
}

// Submit validates a submission against the current Pending slot and
// returns the approval row to insert. The coordinator must call this with
// the pending row read in the same transaction as the insert; the store's
// unique Pending index is the backstop if two submissions race anyway.
func (e *ApprovalEngine) Submit(budget *ProjectBudget, existingPending *BudgetApproval, requestedBy string, urgency Urgency) (*SubmitResult, error) {
	if budget == nil {
		return nil, fmt.Errorf("submit: budget: %w", ErrNotFound)
	}
	if existingPending != nil {
		return nil, fmt.Errorf("submit budget %s: %w", budget.ID, ErrAlreadyPending)
	}
	if urgency == "" {
		urgency = UrgencyNormal
	}

	level := LevelForAmount(budget.TotalBudget)
	approval := &BudgetApproval{
		ID:            newID(),
		BudgetID:      budget.ID,
		ApprovalLevel: level,
		Status:        ApprovalPending,
		RequestedBy:   requestedBy,
		Urgency:       urgency,
		RequestedAt:   e.Clock.Now(),
	}

	return &SubmitResult{
		Approval:     approval,
		NotifyRole:   RoleForLevel(level),
		BudgetStatus: BudgetPendingApproval,
	}, nil
}

// DecideResult is what the coordinator persists after a decision.
type DecideResult struct {
	// Updated is the original row with its terminal status set.
	Updated *BudgetApproval
	// Spawned is the new Pending row on escalation, nil otherwise.
	Spawned *BudgetApproval
	// BudgetStatus is the budget's new status.
	BudgetStatus BudgetStatus
	// NotifyRole is set on escalation: the role owning the new level.
	NotifyRole Role
}

// Decide applies a decision to a Pending approval.
//   - approve:  approval Approved, budget Active
//   - reject:   approval Rejected, budget Rejected
//   - escalate: approval Escalated, budget stays Pending Approval, and a
//     new Pending row is spawned at level+1 carrying requested_by and an
//     annotated comment trail
func (e *ApprovalEngine) Decide(approval *BudgetApproval, decision Decision, approverID, comments string) (*DecideResult, error) {
	if approval == nil {
		return nil, fmt.Errorf("decide: approval: %w", ErrNotFound)
	}
	if approval.Status != ApprovalPending {
		return nil, fmt.Errorf("decide approval %s (status %s): %w",
			approval.ID, approval.Status, ErrAlreadyProcessed)
	}

	now := e.Clock.Now()
	updated := *approval
	updated.ApproverID = approverID
	updated.Comments = comments
	updated.DecidedAt = &now

	switch decision {
	case DecisionApprove:
		updated.Status = ApprovalApproved
		return &DecideResult{Updated: &updated, BudgetStatus: BudgetActive}, nil

	case DecisionReject:
		updated.Status = ApprovalRejected
		return &DecideResult{Updated: &updated, BudgetStatus: BudgetRejected}, nil

	case DecisionEscalate:
		if approval.ApprovalLevel >= MaxApprovalLevel {
			return nil, fmt.Errorf("escalate approval %s at level %d: %w",
				approval.ID, approval.ApprovalLevel, ErrEscalationLimit)
		}
		updated.Status = ApprovalEscalated

		nextLevel := approval.ApprovalLevel + 1
		spawned := &BudgetApproval{
			ID:            newID(),
			BudgetID:      approval.BudgetID,
			ApprovalLevel: nextLevel,
			Status:        ApprovalPending,
			RequestedBy:   approval.RequestedBy,
			Urgency:       approval.Urgency,
			Comments:      annotateEscalation(approval, approverID, comments),
			RequestedAt:   now,
		}
		return &DecideResult{
			Updated:      &updated,
			Spawned:      spawned,
			BudgetStatus: BudgetPendingApproval,
			NotifyRole:   RoleForLevel(nextLevel),
		}, nil

	default:
		return nil, fmt.Errorf("decide approval %s: unknown decision %q", approval.ID, decision)
	}
}

// annotateEscalation carries the comment trail forward onto the spawned row.
func annotateEscalation(prev *BudgetApproval, approverID, comments string) string {
	trail := fmt.Sprintf("[escalated from level %d by %s] %s", prev.ApprovalLevel, approverID, comments)
	if prev.Comments != "" {
		trail = prev.Comments + "\n" + trail
	}
	return trail
}

// CanDecide reports whether a role is allowed to decide an approval at the
// given level.
func CanDecide(role Role, level int) bool {
	return level <= MaxLevelForRole(role)
}
