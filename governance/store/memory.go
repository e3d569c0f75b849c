/*
Package store provides the in-memory Store implementation.

PURPOSE:
  Backs engine tests and local development. Transactionality is
  implemented by cloning the whole state at WithTx entry and restoring
  the clone when the body fails; one mutex serializes every transaction,
  which also closes the check-then-act races the way the SQLite store's
  single-writer transactions do.

SEE ALSO:
  - ../store.go: interface contracts
  - ../../store/sqlite/sqlite.go: production implementation
*/
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridian/governance-engine/governance"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex
	s  *memState
}

var (
	_ governance.Store = (*Memory)(nil)
	_ governance.Store = (*txView)(nil)
)

type memState struct {
	projects      map[string]governance.Project
	milestones    []governance.Milestone
	budgets       []governance.ProjectBudget
	categories    map[string]governance.BudgetCategory
	entries       []governance.BudgetEntry
	approvals     []governance.BudgetApproval
	transfers     []governance.BudgetTransfer
	gateStates    []governance.GateMeetingState
	audits        []governance.AuditEntry
	notifications []governance.Notification
}

func NewMemory() *Memory {
	return &Memory{s: newMemState()}
}

func newMemState() *memState {
	return &memState{
		projects:   make(map[string]governance.Project),
		categories: make(map[string]governance.BudgetCategory),
	}
}

// clone copies every collection. Row values are immutable once inserted,
// so a shallow copy per collection is enough for rollback.
func (s *memState) clone() *memState {
	c := &memState{
		projects:      make(map[string]governance.Project, len(s.projects)),
		categories:    make(map[string]governance.BudgetCategory, len(s.categories)),
		milestones:    append([]governance.Milestone(nil), s.milestones...),
		budgets:       append([]governance.ProjectBudget(nil), s.budgets...),
		entries:       append([]governance.BudgetEntry(nil), s.entries...),
		approvals:     append([]governance.BudgetApproval(nil), s.approvals...),
		transfers:     append([]governance.BudgetTransfer(nil), s.transfers...),
		gateStates:    append([]governance.GateMeetingState(nil), s.gateStates...),
		audits:        append([]governance.AuditEntry(nil), s.audits...),
		notifications: append([]governance.Notification(nil), s.notifications...),
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	return c
}

// WithTx serializes the whole body under the store mutex and restores a
// pre-transaction snapshot when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(governance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(&txView{s: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// Non-transactional reads and writes take the same mutex and delegate to
// the unsynchronized view.

func (m *Memory) locked() (*txView, func()) {
	m.mu.Lock()
	return &txView{s: m.s}, m.mu.Unlock
}

func (m *Memory) CreateProject(ctx context.Context, p *governance.Project) error {
	v, done := m.locked()
	defer done()
	return v.CreateProject(ctx, p)
}

func (m *Memory) GetProject(ctx context.Context, id string) (*governance.Project, error) {
	v, done := m.locked()
	defer done()
	return v.GetProject(ctx, id)
}

func (m *Memory) UpdateProject(ctx context.Context, p *governance.Project) error {
	v, done := m.locked()
	defer done()
	return v.UpdateProject(ctx, p)
}

func (m *Memory) ListProjects(ctx context.Context) ([]*governance.Project, error) {
	v, done := m.locked()
	defer done()
	return v.ListProjects(ctx)
}

func (m *Memory) InsertMilestones(ctx context.Context, ms []governance.Milestone) error {
	v, done := m.locked()
	defer done()
	return v.InsertMilestones(ctx, ms)
}

func (m *Memory) ListMilestones(ctx context.Context, projectID string) ([]governance.Milestone, error) {
	v, done := m.locked()
	defer done()
	return v.ListMilestones(ctx, projectID)
}

func (m *Memory) CreateBudgetVersion(ctx context.Context, b *governance.ProjectBudget, categories []governance.BudgetCategory) error {
	v, done := m.locked()
	defer done()
	return v.CreateBudgetVersion(ctx, b, categories)
}

func (m *Memory) GetBudget(ctx context.Context, id string) (*governance.ProjectBudget, error) {
	v, done := m.locked()
	defer done()
	return v.GetBudget(ctx, id)
}

func (m *Memory) CurrentBudget(ctx context.Context, projectID string) (*governance.ProjectBudget, error) {
	v, done := m.locked()
	defer done()
	return v.CurrentBudget(ctx, projectID)
}

func (m *Memory) UpdateBudgetStatus(ctx context.Context, budgetID string, status governance.BudgetStatus, approvedBy string, updatedAt time.Time) error {
	v, done := m.locked()
	defer done()
	return v.UpdateBudgetStatus(ctx, budgetID, status, approvedBy, updatedAt)
}

func (m *Memory) GetCategory(ctx context.Context, id string) (*governance.BudgetCategory, error) {
	v, done := m.locked()
	defer done()
	return v.GetCategory(ctx, id)
}

func (m *Memory) ListCategories(ctx context.Context, budgetID string) ([]governance.BudgetCategory, error) {
	v, done := m.locked()
	defer done()
	return v.ListCategories(ctx, budgetID)
}

func (m *Memory) AdjustAllocation(ctx context.Context, categoryID string, delta governance.Money) error {
	v, done := m.locked()
	defer done()
	return v.AdjustAllocation(ctx, categoryID, delta)
}

func (m *Memory) InsertEntry(ctx context.Context, e *governance.BudgetEntry) error {
	v, done := m.locked()
	defer done()
	return v.InsertEntry(ctx, e)
}

func (m *Memory) GetEntry(ctx context.Context, id string) (*governance.BudgetEntry, error) {
	v, done := m.locked()
	defer done()
	return v.GetEntry(ctx, id)
}

func (m *Memory) ListEntries(ctx context.Context, categoryID string) ([]governance.BudgetEntry, error) {
	v, done := m.locked()
	defer done()
	return v.ListEntries(ctx, categoryID)
}

func (m *Memory) UpdateEntryStatus(ctx context.Context, entryID string, status governance.EntryStatus, updatedAt time.Time) error {
	v, done := m.locked()
	defer done()
	return v.UpdateEntryStatus(ctx, entryID, status, updatedAt)
}

func (m *Memory) InsertTransfer(ctx context.Context, t *governance.BudgetTransfer) error {
	v, done := m.locked()
	defer done()
	return v.InsertTransfer(ctx, t)
}

func (m *Memory) ListTransfers(ctx context.Context, budgetID string) ([]governance.BudgetTransfer, error) {
	v, done := m.locked()
	defer done()
	return v.ListTransfers(ctx, budgetID)
}

func (m *Memory) InsertApproval(ctx context.Context, a *governance.BudgetApproval) error {
	v, done := m.locked()
	defer done()
	return v.InsertApproval(ctx, a)
}

func (m *Memory) GetApproval(ctx context.Context, id string) (*governance.BudgetApproval, error) {
	v, done := m.locked()
	defer done()
	return v.GetApproval(ctx, id)
}

func (m *Memory) PendingApproval(ctx context.Context, budgetID string) (*governance.BudgetApproval, error) {
	v, done := m.locked()
	defer done()
	return v.PendingApproval(ctx, budgetID)
}

func (m *Memory) UpdateApproval(ctx context.Context, a *governance.BudgetApproval) error {
	v, done := m.locked()
	defer done()
	return v.UpdateApproval(ctx, a)
}

func (m *Memory) ListPendingApprovals(ctx context.Context, maxLevel int) ([]governance.BudgetApproval, error) {
	v, done := m.locked()
	defer done()
	return v.ListPendingApprovals(ctx, maxLevel)
}

func (m *Memory) ListApprovalsForBudget(ctx context.Context, budgetID string) ([]governance.BudgetApproval, error) {
	v, done := m.locked()
	defer done()
	return v.ListApprovalsForBudget(ctx, budgetID)
}

func (m *Memory) InsertGateState(ctx context.Context, s *governance.GateMeetingState) error {
	v, done := m.locked()
	defer done()
	return v.InsertGateState(ctx, s)
}

func (m *Memory) LatestGateState(ctx context.Context, gateMeetingID string) (*governance.GateMeetingState, error) {
	v, done := m.locked()
	defer done()
	return v.LatestGateState(ctx, gateMeetingID)
}

func (m *Memory) GateStateHistory(ctx context.Context, gateMeetingID string) ([]governance.GateMeetingState, error) {
	v, done := m.locked()
	defer done()
	return v.GateStateHistory(ctx, gateMeetingID)
}

func (m *Memory) ListDueAutoTransitions(ctx context.Context, asOf time.Time) ([]governance.GateMeetingState, error) {
	v, done := m.locked()
	defer done()
	return v.ListDueAutoTransitions(ctx, asOf)
}

func (m *Memory) AppendAudit(ctx context.Context, e governance.AuditEntry) error {
	v, done := m.locked()
	defer done()
	return v.AppendAudit(ctx, e)
}

func (m *Memory) QueryAudit(ctx context.Context, f governance.AuditFilter) ([]governance.AuditEntry, error) {
	v, done := m.locked()
	defer done()
	return v.QueryAudit(ctx, f)
}

func (m *Memory) EnqueueNotification(ctx context.Context, n governance.Notification) error {
	v, done := m.locked()
	defer done()
	return v.EnqueueNotification(ctx, n)
}

func (m *Memory) ListNotifications(ctx context.Context, userID string) ([]governance.Notification, error) {
	v, done := m.locked()
	defer done()
	return v.ListNotifications(ctx, userID)
}

// txView operates on the state without locking: the enclosing WithTx (or
// the delegating Memory method) already holds the mutex.
type txView struct {
	s *memState
}

// Nested WithTx joins the ambient transaction.
func (v *txView) WithTx(ctx context.Context, fn func(governance.Store) error) error {
	return fn(v)
}

// =============================================================================
// PROJECTS
// =============================================================================

func (v *txView) CreateProject(_ context.Context, p *governance.Project) error {
	if _, ok := v.s.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, governance.ErrConcurrencyConflict)
	}
	v.s.projects[p.ID] = *p
	return nil
}

func (v *txView) GetProject(_ context.Context, id string) (*governance.Project, error) {
	p, ok := v.s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, governance.ErrNotFound)
	}
	return &p, nil
}

func (v *txView) UpdateProject(_ context.Context, p *governance.Project) error {
	if _, ok := v.s.projects[p.ID]; !ok {
		return fmt.Errorf("project %s: %w", p.ID, governance.ErrNotFound)
	}
	v.s.projects[p.ID] = *p
	return nil
}

func (v *txView) ListProjects(_ context.Context) ([]*governance.Project, error) {
	out := make([]*governance.Project, 0, len(v.s.projects))
	for _, p := range v.s.projects {
		p := p
		out = append(out, &p)
	}
	// Creation order, matching the sqlite store.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *txView) InsertMilestones(_ context.Context, ms []governance.Milestone) error {
	v.s.milestones = append(v.s.milestones, ms...)
	return nil
}

func (v *txView) ListMilestones(_ context.Context, projectID string) ([]governance.Milestone, error) {
	var out []governance.Milestone
	for _, m := range v.s.milestones {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

// =============================================================================
// BUDGETS
// =============================================================================

func (v *txView) CreateBudgetVersion(_ context.Context, b *governance.ProjectBudget, categories []governance.BudgetCategory) error {
	v.s.budgets = append(v.s.budgets, *b)
	for _, c := range categories {
		v.s.categories[c.ID] = c
	}
	return nil
}

func (v *txView) GetBudget(_ context.Context, id string) (*governance.ProjectBudget, error) {
	for i := range v.s.budgets {
		if v.s.budgets[i].ID == id {
			b := v.s.budgets[i]
			return &b, nil
		}
	}
	return nil, fmt.Errorf("budget %s: %w", id, governance.ErrNotFound)
}

func (v *txView) CurrentBudget(_ context.Context, projectID string) (*governance.ProjectBudget, error) {
	var current *governance.ProjectBudget
	for i := range v.s.budgets {
		b := v.s.budgets[i]
		if b.ProjectID != projectID {
			continue
		}
		if current == nil || b.Version > current.Version {
			current = &b
		}
	}
	if current == nil {
		return nil, fmt.Errorf("project %s budget: %w", projectID, governance.ErrNotFound)
	}
	return current, nil
}

func (v *txView) UpdateBudgetStatus(_ context.Context, budgetID string, status governance.BudgetStatus, approvedBy string, updatedAt time.Time) error {
	for i := range v.s.budgets {
		if v.s.budgets[i].ID == budgetID {
			v.s.budgets[i].Status = status
			if approvedBy != "" {
				v.s.budgets[i].ApprovedBy = approvedBy
			}
			v.s.budgets[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return fmt.Errorf("budget %s: %w", budgetID, governance.ErrNotFound)
}

func (v *txView) GetCategory(_ context.Context, id string) (*governance.BudgetCategory, error) {
	c, ok := v.s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, governance.ErrNotFound)
	}
	return &c, nil
}

func (v *txView) ListCategories(_ context.Context, budgetID string) ([]governance.BudgetCategory, error) {
	var out []governance.BudgetCategory
	for _, c := range v.s.categories {
		if c.BudgetID == budgetID {
			out = append(out, c)
		}
	}
	// Name order, matching the sqlite store.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *txView) AdjustAllocation(_ context.Context, categoryID string, delta governance.Money) error {
	c, ok := v.s.categories[categoryID]
	if !ok {
		return fmt.Errorf("category %s: %w", categoryID, governance.ErrNotFound)
	}
	next := c.AllocatedAmount.Add(delta)
	if next.IsNegative() {
		// Backstop behind the ledger's availability check.
		return fmt.Errorf("category %s allocation would go negative: %w",
			categoryID, governance.ErrConcurrencyConflict)
	}
	c.AllocatedAmount = next
	v.s.categories[categoryID] = c
	return nil
}

func (v *txView) InsertEntry(_ context.Context, e *governance.BudgetEntry) error {
	v.s.entries = append(v.s.entries, *e)
	return nil
}

func (v *txView) GetEntry(_ context.Context, id string) (*governance.BudgetEntry, error) {
	for i := range v.s.entries {
		if v.s.entries[i].ID == id {
			e := v.s.entries[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, governance.ErrNotFound)
}

func (v *txView) ListEntries(_ context.Context, categoryID string) ([]governance.BudgetEntry, error) {
	var out []governance.BudgetEntry
	for _, e := range v.s.entries {
		if e.CategoryID == categoryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *txView) UpdateEntryStatus(_ context.Context, entryID string, status governance.EntryStatus, updatedAt time.Time) error {
	for i := range v.s.entries {
		if v.s.entries[i].ID == entryID {
			v.s.entries[i].Status = status
			v.s.entries[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return fmt.Errorf("entry %s: %w", entryID, governance.ErrNotFound)
}

func (v *txView) InsertTransfer(_ context.Context, t *governance.BudgetTransfer) error {
	v.s.transfers = append(v.s.transfers, *t)
	return nil
}

func (v *txView) ListTransfers(_ context.Context, budgetID string) ([]governance.BudgetTransfer, error) {
	var out []governance.BudgetTransfer
	for _, t := range v.s.transfers {
		from, okFrom := v.s.categories[t.FromCategoryID]
		to, okTo := v.s.categories[t.ToCategoryID]
		if (okFrom && from.BudgetID == budgetID) || (okTo && to.BudgetID == budgetID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// APPROVALS
// =============================================================================

func (v *txView) InsertApproval(_ context.Context, a *governance.BudgetApproval) error {
	if a.Status == governance.ApprovalPending {
		for _, existing := range v.s.approvals {
			if existing.BudgetID == a.BudgetID && existing.Status == governance.ApprovalPending {
				// Pending-slot invariant: mirrors the sqlite partial
				// unique index.
				return fmt.Errorf("budget %s already has a pending approval: %w",
					a.BudgetID, governance.ErrConcurrencyConflict)
			}
		}
	}
	v.s.approvals = append(v.s.approvals, *a)
	return nil
}

func (v *txView) GetApproval(_ context.Context, id string) (*governance.BudgetApproval, error) {
	for i := range v.s.approvals {
		if v.s.approvals[i].ID == id {
			a := v.s.approvals[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("approval %s: %w", id, governance.ErrNotFound)
}

func (v *txView) PendingApproval(_ context.Context, budgetID string) (*governance.BudgetApproval, error) {
	for i := range v.s.approvals {
		a := v.s.approvals[i]
		if a.BudgetID == budgetID && a.Status == governance.ApprovalPending {
			return &a, nil
		}
	}
	return nil, nil
}

func (v *txView) UpdateApproval(_ context.Context, a *governance.BudgetApproval) error {
	for i := range v.s.approvals {
		if v.s.approvals[i].ID == a.ID {
			v.s.approvals[i] = *a
			return nil
		}
	}
	return fmt.Errorf("approval %s: %w", a.ID, governance.ErrNotFound)
}

func (v *txView) ListPendingApprovals(_ context.Context, maxLevel int) ([]governance.BudgetApproval, error) {
	var out []governance.BudgetApproval
	for _, a := range v.s.approvals {
		if a.Status == governance.ApprovalPending && a.ApprovalLevel <= maxLevel {
			out = append(out, a)
		}
	}
	// Insertion order is request order; oldest first already holds.
	return out, nil
}

func (v *txView) ListApprovalsForBudget(_ context.Context, budgetID string) ([]governance.BudgetApproval, error) {
	var out []governance.BudgetApproval
	for _, a := range v.s.approvals {
		if a.BudgetID == budgetID {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// GATE MEETINGS - append-only
// =============================================================================

func (v *txView) InsertGateState(_ context.Context, s *governance.GateMeetingState) error {
	v.s.gateStates = append(v.s.gateStates, *s)
	return nil
}

func (v *txView) LatestGateState(_ context.Context, gateMeetingID string) (*governance.GateMeetingState, error) {
	for i := len(v.s.gateStates) - 1; i >= 0; i-- {
		if v.s.gateStates[i].GateMeetingID == gateMeetingID {
			s := v.s.gateStates[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (v *txView) GateStateHistory(_ context.Context, gateMeetingID string) ([]governance.GateMeetingState, error) {
	var out []governance.GateMeetingState
	for _, s := range v.s.gateStates {
		if s.GateMeetingID == gateMeetingID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (v *txView) ListDueAutoTransitions(_ context.Context, asOf time.Time) ([]governance.GateMeetingState, error) {
	// Only the latest row per meeting carries a live intent; a newer row
	// supersedes any earlier auto-transition.
	latest := make(map[string]governance.GateMeetingState)
	for _, s := range v.s.gateStates {
		latest[s.GateMeetingID] = s
	}
	var out []governance.GateMeetingState
	for _, s := range latest {
		if s.AutoTransitionAt != nil && s.AutoTransitionTo != "" && !s.AutoTransitionAt.After(asOf) {
			out = append(out, s)
		}
	}
	return out, nil
}

// =============================================================================
// AUDIT + NOTIFICATIONS
// =============================================================================

func (v *txView) AppendAudit(_ context.Context, e governance.AuditEntry) error {
	v.s.audits = append(v.s.audits, e)
	return nil
}

func (v *txView) QueryAudit(_ context.Context, f governance.AuditFilter) ([]governance.AuditEntry, error) {
	var out []governance.AuditEntry
	for _, e := range v.s.audits {
		if f.Entity != "" && e.Entity != f.Entity {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsAction(actions []governance.AuditAction, a governance.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func (v *txView) EnqueueNotification(_ context.Context, n governance.Notification) error {
	v.s.notifications = append(v.s.notifications, n)
	return nil
}

func (v *txView) ListNotifications(_ context.Context, userID string) ([]governance.Notification, error) {
	var out []governance.Notification
	for _, n := range v.s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}
