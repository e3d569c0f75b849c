/*
coordinator.go - Transactional orchestration of the governance engine

PURPOSE:
  Every external intent (submit budget, assign team, transfer funds,
  transition gate meeting, ...) enters through the Coordinator. Each
  intent runs in exactly one store transaction:

    ┌──────────────────────────────────────────────────────────┐
    │ WithTx                                                   │
    │   read rows that establish the invariant                 │
    │   delegate to the sub-engine (pure computation)          │
    │   persist the new state                                  │
    │   append audit entry                                     │
    │   enqueue notification rows                              │
    └──────────────────────────────────────────────────────────┘

  Either everything commits or nothing does. A sub-engine error aborts
  the transaction and is returned unchanged: callers can branch on the
  error kind with errors.Is.

ROLE-ADDRESSED NOTIFICATIONS:
  Approval notifications target a role, not a person (the engine does
  not know role membership). Those rows carry a "role:<name>" recipient;
  the external delivery layer resolves membership.

NO RETRIES:
  ErrConcurrencyConflict is surfaced as-is. Retry policy belongs to
  the caller (see api/scheduler.go for the auto-transition job).

SEE ALSO:
  - store.go: the transaction contract WithTx implementations satisfy
  - approval.go, lifecycle.go, ledger.go, gatemeeting.go: the sub-engines
*/
package governance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	Store Store
	Clock Clock

	// StrictGateWorkflow enables incoming-edge validation on gate-meeting
	// transitions. Default false preserves the permissive behavior.
	StrictGateWorkflow bool
}

func NewCoordinator(store Store, clock Clock) *Coordinator {
	return &Coordinator{Store: store, Clock: clock}
}

func (c *Coordinator) lifecycle() *ProjectLifecycle { return &ProjectLifecycle{Clock: c.Clock} }
func (c *Coordinator) approvals() *ApprovalEngine   { return &ApprovalEngine{Clock: c.Clock} }
func (c *Coordinator) gates() *GateMeetingWorkflow {
	return &GateMeetingWorkflow{Clock: c.Clock, Strict: c.StrictGateWorkflow}
}

// roleRecipient addresses a notification to every member of a role.
func roleRecipient(role Role) string { return "role:" + string(role) }

// =============================================================================
// PROJECT LIFECYCLE INTENTS
// =============================================================================

// InitiateProject creates a project in the initiated workflow state.
func (c *Coordinator) InitiateProject(ctx context.Context, name string, actor Actor) (*Project, error) {
	project := c.lifecycle().Initiate(name, actor)

	err := c.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, c.audit("project", project.ID, AuditProjectInitiated,
			fmt.Sprintf("project %q initiated", name), actor))
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// AssignTeam moves a project from initiated to assigned and notifies each
// newly assigned person.
func (c *Coordinator) AssignTeam(ctx context.Context, projectID, pm, spm string, actor Actor) (*Project, error) {
	var result *AssignResult

	err := c.Store.WithTx(ctx, func(tx Store) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		result, err = c.lifecycle().Assign(project, pm, spm, actor)
		if err != nil {
			return err
		}
		if err := tx.UpdateProject(ctx, result.Project); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, c.audit("project", projectID, AuditTeamAssigned,
			fmt.Sprintf("pm=%s spm=%s", pm, spm), actor)); err != nil {
			return err
		}
		for _, userID := range result.NotifyUsers {
			n := c.notification(userID, NotifyProjectAssigned, "Project assigned",
				fmt.Sprintf("You have been assigned to project %q", result.Project.Name),
				map[string]string{"project_id": projectID})
			if err := tx.EnqueueNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Project, nil
}

// FinalizeProject moves a project from assigned to finalized, inserts the
// supplied milestones, and notifies the assigning director and initiator.
func (c *Coordinator) FinalizeProject(ctx context.Context, projectID string, actor Actor, milestones []MilestoneInput) (*Project, error) {
	var result *FinalizeResult

	err := c.Store.WithTx(ctx, func(tx Store) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		result, err = c.lifecycle().Finalize(project, actor, milestones)
		if err != nil {
			return err
		}
		if err := tx.UpdateProject(ctx, result.Project); err != nil {
			return err
		}
		if len(result.Milestones) > 0 {
			if err := tx.InsertMilestones(ctx, result.Milestones); err != nil {
				return err
			}
		}
		if err := tx.AppendAudit(ctx, c.audit("project", projectID, AuditProjectFinalized,
			fmt.Sprintf("%d milestones", len(result.Milestones)), actor)); err != nil {
			return err
		}
		for _, userID := range result.NotifyUsers {
			n := c.notification(userID, NotifyProjectFinalized, "Project finalized",
				fmt.Sprintf("Project %q has been finalized", result.Project.Name),
				map[string]string{"project_id": projectID})
			if err := tx.EnqueueNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Project, nil
}

// =============================================================================
// BUDGET INTENTS
// =============================================================================

// CategoryInput carries caller-supplied category fields for a new version.
type CategoryInput struct {
	Name      string
	Allocated Money
}

// CreateBudgetVersion inserts the next budget version for a project in
// Draft status. The previous version is superseded, never edited.
func (c *Coordinator) CreateBudgetVersion(ctx context.Context, projectID string, categories []CategoryInput, actor Actor) (*ProjectBudget, error) {
	var budget *ProjectBudget

	err := c.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}

		version := 1
		if current, err := tx.CurrentBudget(ctx, projectID); err == nil {
			version = current.Version + 1
		} else if !IsNotFound(err) {
			return err
		}

		now := c.Clock.Now()
		total := decimal.Zero
		for _, in := range categories {
			total = total.Add(in.Allocated)
		}
		budget = &ProjectBudget{
			ID:          newID(),
			ProjectID:   projectID,
			Version:     version,
			TotalBudget: total,
			Status:      BudgetDraft,
			CreatedBy:   actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		rows := make([]BudgetCategory, 0, len(categories))
		for _, in := range categories {
			rows = append(rows, BudgetCategory{
				ID:              newID(),
				BudgetID:        budget.ID,
				Name:            in.Name,
				AllocatedAmount: in.Allocated,
				CreatedAt:       now,
			})
		}
		if err := tx.CreateBudgetVersion(ctx, budget, rows); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, c.audit("budget", budget.ID, AuditBudgetCreated,
			fmt.Sprintf("version %d, total %s", version, total), actor))
	})
	if err != nil {
		return nil, err
	}
	return budget, nil
}

// SubmitForApproval opens an approval request for a budget. The approval
// level is computed from the budget total once, here.
func (c *Coordinator) SubmitForApproval(ctx context.Context, budgetID string, actor Actor, urgency Urgency) (*BudgetApproval, error) {
	var approval *BudgetApproval

	err := c.Store.WithTx(ctx, func(tx Store) error {
		budget, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		pending, err := tx.PendingApproval(ctx, budgetID)
		if err != nil {
			return err
		}
		result, err := c.approvals().Submit(budget, pending, actor.ID, urgency)
		if err != nil {
			return err
		}
		if err := tx.InsertApproval(ctx, result.Approval); err != nil {
			return err
		}
		if err := tx.UpdateBudgetStatus(ctx, budgetID, result.BudgetStatus, "", c.Clock.Now()); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, c.audit("approval", result.Approval.ID, AuditApprovalSubmitted,
			fmt.Sprintf("budget %s at level %d", budgetID, result.Approval.ApprovalLevel), actor)); err != nil {
			return err
		}
		n := c.notification(roleRecipient(result.NotifyRole), NotifyApprovalRequested,
			"Budget approval requested",
			fmt.Sprintf("Budget %s awaits level-%d approval", budgetID, result.Approval.ApprovalLevel),
			map[string]string{"budget_id": budgetID, "approval_id": result.Approval.ID})
		if err := tx.EnqueueNotification(ctx, n); err != nil {
			return err
		}
		approval = result.Approval
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// DecideApproval applies approve/reject/escalate to a Pending approval.
// The actor must be authorized for the approval's level.
func (c *Coordinator) DecideApproval(ctx context.Context, approvalID string, decision Decision, actor Actor, comments string) (*DecideResult, error) {
	var result *DecideResult

	err := c.Store.WithTx(ctx, func(tx Store) error {
		approval, err := tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if !CanDecide(actor.Role, approval.ApprovalLevel) {
			return fmt.Errorf("decide level-%d approval as %s: %w",
				approval.ApprovalLevel, actor.Role, ErrNotAuthorized)
		}
		result, err = c.approvals().Decide(approval, decision, actor.ID, comments)
		if err != nil {
			return err
		}
		if err := tx.UpdateApproval(ctx, result.Updated); err != nil {
			return err
		}
		approvedBy := ""
		if result.Updated.Status == ApprovalApproved {
			approvedBy = actor.ID
		}
		if err := tx.UpdateBudgetStatus(ctx, approval.BudgetID, result.BudgetStatus, approvedBy, c.Clock.Now()); err != nil {
			return err
		}
		if result.Spawned != nil {
			if err := tx.InsertApproval(ctx, result.Spawned); err != nil {
				return err
			}
		}
		if err := tx.AppendAudit(ctx, c.audit("approval", approvalID, AuditApprovalDecided,
			fmt.Sprintf("decision=%s budget=%s", decision, approval.BudgetID), actor)); err != nil {
			return err
		}
		return c.notifyDecision(ctx, tx, approval, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) notifyDecision(ctx context.Context, tx Store, approval *BudgetApproval, result *DecideResult) error {
	payload := map[string]string{"budget_id": approval.BudgetID, "approval_id": approval.ID}

	switch result.Updated.Status {
	case ApprovalApproved:
		n := c.notification(approval.RequestedBy, NotifyBudgetApproved, "Budget approved",
			fmt.Sprintf("Budget %s was approved", approval.BudgetID), payload)
		return tx.EnqueueNotification(ctx, n)
	case ApprovalRejected:
		n := c.notification(approval.RequestedBy, NotifyBudgetRejected, "Budget rejected",
			fmt.Sprintf("Budget %s was rejected", approval.BudgetID), payload)
		return tx.EnqueueNotification(ctx, n)
	case ApprovalEscalated:
		n := c.notification(roleRecipient(result.NotifyRole), NotifyBudgetEscalated,
			"Budget approval escalated",
			fmt.Sprintf("Budget %s escalated to level %d", approval.BudgetID, result.Spawned.ApprovalLevel),
			payload)
		return tx.EnqueueNotification(ctx, n)
	}
	return nil
}

// =============================================================================
// LEDGER INTENTS
// =============================================================================

// AddBudgetEntry records an expense/commitment/income entry against a
// category. Availability is checked in the same transaction as the insert.
func (c *Coordinator) AddBudgetEntry(ctx context.Context, categoryID string, in EntryInput, actor Actor) (*BudgetEntry, error) {
	var entry *BudgetEntry

	err := c.Store.WithTx(ctx, func(tx Store) error {
		category, err := tx.GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, categoryID)
		if err != nil {
			return err
		}
		entry, err = Ledger{}.PrepareEntry(*category, entries, in, actor.ID, c.Clock.Now())
		if err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, c.audit("category", categoryID, AuditEntryAdded,
			fmt.Sprintf("%s %s (%s)", in.EntryType, in.Amount, entry.Status), actor))
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SetEntryStatus changes an entry's status. The only mutation entries
// allow; cancellation releases the amount back to the category, and
// reinstating a cancelled entry re-runs the availability check that
// guarded its creation.
func (c *Coordinator) SetEntryStatus(ctx context.Context, entryID string, status EntryStatus, actor Actor) error {
	return c.Store.WithTx(ctx, func(tx Store) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status == EntryCancelled && status != EntryCancelled {
			category, err := tx.GetCategory(ctx, entry.CategoryID)
			if err != nil {
				return err
			}
			entries, err := tx.ListEntries(ctx, entry.CategoryID)
			if err != nil {
				return err
			}
			// The entry itself is still Cancelled here, so Available
			// already excludes it.
			available := Ledger{}.Available(*category, entries)
			if entry.Amount.GreaterThan(available) {
				return &InsufficientFundsError{
					CategoryID: category.ID,
					Available:  available,
					Requested:  entry.Amount,
				}
			}
		}
		if err := tx.UpdateEntryStatus(ctx, entryID, status, c.Clock.Now()); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, c.audit("category", entry.CategoryID, AuditEntryStatusChanged,
			fmt.Sprintf("entry %s: %s -> %s", entryID, entry.Status, status), actor))
	})
}

// TransferFunds moves allocation between two categories of the same
// budget atomically, recording the immutable transfer row.
func (c *Coordinator) TransferFunds(ctx context.Context, fromCategoryID, toCategoryID string, amount Money, reason string, actor Actor) (*BudgetTransfer, error) {
	var record *BudgetTransfer

	err := c.Store.WithTx(ctx, func(tx Store) error {
		from, err := tx.GetCategory(ctx, fromCategoryID)
		if err != nil {
			return err
		}
		to, err := tx.GetCategory(ctx, toCategoryID)
		if err != nil {
			return err
		}
		fromEntries, err := tx.ListEntries(ctx, fromCategoryID)
		if err != nil {
			return err
		}
		deltas, transfer, err := Ledger{}.PrepareTransfer(*from, fromEntries, *to, amount, reason, actor.ID, c.Clock.Now())
		if err != nil {
			return err
		}
		if err := tx.AdjustAllocation(ctx, deltas.FromCategoryID, deltas.FromDelta); err != nil {
			return err
		}
		if err := tx.AdjustAllocation(ctx, deltas.ToCategoryID, deltas.ToDelta); err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		record = transfer
		return tx.AppendAudit(ctx, c.audit("category", fromCategoryID, AuditFundsTransferred,
			fmt.Sprintf("%s -> %s: %s", fromCategoryID, toCategoryID, amount), actor))
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// =============================================================================
// GATE MEETING INTENTS
// =============================================================================

// TransitionGateMeeting appends a workflow state row for a meeting.
func (c *Coordinator) TransitionGateMeeting(ctx context.Context, gateMeetingID string, in TransitionInput, actor Actor) (*GateMeetingState, error) {
	var state *GateMeetingState

	err := c.Store.WithTx(ctx, func(tx Store) error {
		previous, err := tx.LatestGateState(ctx, gateMeetingID)
		if err != nil {
			return err
		}
		state, err = c.gates().Transition(gateMeetingID, previous, in, actor)
		if err != nil {
			return err
		}
		if err := tx.InsertGateState(ctx, state); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, c.audit("gate_meeting", gateMeetingID, AuditGateTransitioned,
			fmt.Sprintf("%s -> %s", state.PreviousState, state.CurrentState), actor)); err != nil {
			return err
		}
		n := c.notification(roleRecipient(RoleDirector), NotifyGateStateChanged,
			"Gate meeting state changed",
			fmt.Sprintf("Gate meeting %s moved to %s", gateMeetingID, state.CurrentState),
			map[string]string{"gate_meeting_id": gateMeetingID, "state": string(state.CurrentState)})
		return tx.EnqueueNotification(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// =============================================================================
// READ PROJECTIONS - no command-surface involvement
// =============================================================================

// PendingApprovalView decorates a pending approval with waiting time.
type PendingApprovalView struct {
	BudgetApproval
	DaysPending int
}

// PendingApprovalsFor returns the pending approvals a role may decide,
// oldest first, by the monotonic authorization-by-level rule.
func (c *Coordinator) PendingApprovalsFor(ctx context.Context, role Role) ([]PendingApprovalView, error) {
	maxLevel := MaxLevelForRole(role)
	if maxLevel == 0 {
		return nil, nil
	}
	rows, err := c.Store.ListPendingApprovals(ctx, maxLevel)
	if err != nil {
		return nil, err
	}
	now := c.Clock.Now()
	views := make([]PendingApprovalView, 0, len(rows))
	for _, a := range rows {
		views = append(views, PendingApprovalView{BudgetApproval: a, DaysPending: a.DaysPending(now)})
	}
	return views, nil
}

// BudgetSummaryView is the per-category ledger projection of the current
// budget version.
type BudgetSummaryView struct {
	Budget     *ProjectBudget
	Categories []CategorySummary
	Total      CategorySummary
}

// BudgetSummary computes the ledger breakdown of a project's current
// budget version.
func (c *Coordinator) BudgetSummary(ctx context.Context, projectID string) (*BudgetSummaryView, error) {
	budget, err := c.Store.CurrentBudget(ctx, projectID)
	if err != nil {
		return nil, err
	}
	categories, err := c.Store.ListCategories(ctx, budget.ID)
	if err != nil {
		return nil, err
	}

	ledger := Ledger{}
	view := &BudgetSummaryView{Budget: budget}
	total := CategorySummary{Name: "total"}
	for _, cat := range categories {
		entries, err := c.Store.ListEntries(ctx, cat.ID)
		if err != nil {
			return nil, err
		}
		s := ledger.Summarize(cat, entries)
		view.Categories = append(view.Categories, s)
		total.Allocated = total.Allocated.Add(s.Allocated)
		total.Committed = total.Committed.Add(s.Committed)
		total.Spent = total.Spent.Add(s.Spent)
		total.Available = total.Available.Add(s.Available)
	}
	view.Total = total
	return view, nil
}

// GateMeetingHistory returns a meeting's full state history, oldest first.
func (c *Coordinator) GateMeetingHistory(ctx context.Context, gateMeetingID string) ([]GateMeetingState, error) {
	return c.Store.GateStateHistory(ctx, gateMeetingID)
}

// AuditTrail queries the audit log.
func (c *Coordinator) AuditTrail(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	return c.Store.QueryAudit(ctx, f)
}

// ProjectNextStep reports the suggested next action for a role.
func (c *Coordinator) ProjectNextStep(ctx context.Context, projectID string, role Role) (NextStep, error) {
	project, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return StepNone, err
	}
	return NextStepFor(project.WorkflowStatus, role), nil
}

// =============================================================================
// SIDE-EFFECT BUILDERS
// =============================================================================

func (c *Coordinator) audit(entity, entityID string, action AuditAction, details string, actor Actor) AuditEntry {
	return AuditEntry{
		ID:        newID(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Details:   details,
		ActorID:   actor.ID,
		CreatedAt: c.Clock.Now(),
	}
}

func (c *Coordinator) notification(userID string, typ NotificationType, title, message string, payload map[string]string) Notification {
	return Notification{
		ID:        newID(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Payload:   payload,
		CreatedAt: c.Clock.Now(),
	}
}
