/*
Package sqlite provides the SQLite-backed implementation of the
governance storage interfaces.

PURPOSE:
  Implements governance.Store using database/sql + mattn/go-sqlite3.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

RACE CLOSURE:
  The reference behavior this engine replaces read with a plain SELECT
  and wrote with a plain INSERT, leaving a check-then-act window on the
  Pending-approval slot and on category availability. This store closes
  both:
  - idx_one_pending_approval: unique partial index, at most one Pending
    row per budget regardless of interleaving
  - WithTx: one store-wide write lock plus a single SQL transaction per
    coordinator intent, so availability checks and the mutation they
    guard are serialized

KEY TABLES:
  projects, milestones:     lifecycle state machine rows
  budgets:                  versioned snapshots, UNIQUE(project_id, version)
  budget_categories:        allocation rows (mutable only via transfer)
  budget_entries:           expense/commitment/income rows
  budget_approvals:         escalation chain rows
  budget_transfers:         immutable transfer records
  gate_meeting_states:      append-only workflow history
  audit_log, notifications: write-once side-effect rows

AMOUNTS AND TIMES:
  Money is stored as decimal text (never float), timestamps as RFC3339.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

SEE ALSO:
  - governance/store.go: interface contracts
  - governance/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/governance-engine/governance"
)

// Store implements governance.Store on SQLite. A Store created by WithTx
// is bound to an open SQL transaction and shares the parent's lock.
type Store struct {
	db *sql.DB
	mu *sync.RWMutex
	tx *sql.Tx
}

var _ governance.Store = (*Store)(nil)

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and makes
	// the store-wide lock the only writer gate.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, mu: &sync.RWMutex{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lifecycle_status TEXT NOT NULL,
		workflow_status TEXT NOT NULL,
		initiated_by TEXT NOT NULL,
		assigned_pm TEXT NOT NULL DEFAULT '',
		assigned_spm TEXT NOT NULL DEFAULT '',
		assigned_by TEXT NOT NULL DEFAULT '',
		finalized_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		title TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_milestones_project ON milestones(project_id);

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		version INTEGER NOT NULL,
		total_budget TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(project_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_budgets_project ON budgets(project_id);

	CREATE TABLE IF NOT EXISTS budget_categories (
		id TEXT PRIMARY KEY,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		name TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_categories_budget ON budget_categories(budget_id);

	CREATE TABLE IF NOT EXISTS budget_entries (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES budget_categories(id),
		amount TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON budget_entries(category_id);
	CREATE INDEX IF NOT EXISTS idx_entries_status ON budget_entries(status);

	CREATE TABLE IF NOT EXISTS budget_approvals (
		id TEXT PRIMARY KEY,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		approval_level INTEGER NOT NULL,
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		approver_id TEXT NOT NULL DEFAULT '',
		urgency TEXT NOT NULL,
		comments TEXT NOT NULL DEFAULT '',
		requested_at TEXT NOT NULL,
		decided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_budget ON budget_approvals(budget_id);
	CREATE INDEX IF NOT EXISTS idx_approvals_status_level
		ON budget_approvals(status, approval_level);

	-- CRITICAL: at most one Pending approval per budget. Two concurrent
	-- submissions cannot both insert; the loser gets a unique violation
	-- mapped to ErrConcurrencyConflict.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_pending_approval
		ON budget_approvals(budget_id) WHERE status = 'Pending';

	CREATE TABLE IF NOT EXISTS budget_transfers (
		id TEXT PRIMARY KEY,
		from_category_id TEXT NOT NULL REFERENCES budget_categories(id),
		to_category_id TEXT NOT NULL REFERENCES budget_categories(id),
		amount TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		transferred_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transfers_from ON budget_transfers(from_category_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_to ON budget_transfers(to_category_id);

	-- Append-only: no UPDATE or DELETE on this table, ever.
	CREATE TABLE IF NOT EXISTS gate_meeting_states (
		id TEXT PRIMARY KEY,
		gate_meeting_id TEXT NOT NULL,
		current_state TEXT NOT NULL,
		previous_state TEXT NOT NULL DEFAULT '',
		next_possible_states TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		state_entered_by TEXT NOT NULL,
		state_entered_at TEXT NOT NULL,
		auto_transition_at TEXT,
		auto_transition_to TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_gate_states_meeting
		ON gate_meeting_states(gate_meeting_id, state_entered_at);
	CREATE INDEX IF NOT EXISTS idx_gate_states_auto
		ON gate_meeting_states(auto_transition_at)
		WHERE auto_transition_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one SQL transaction under the store-wide write
// lock. Nested calls join the ambient transaction.
func (s *Store) WithTx(ctx context.Context, fn func(governance.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	child := &Store{db: s.db, mu: s.mu, tx: tx}
	if err := fn(child); err != nil {
		return err
	}
	return tx.Commit()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) rlock() func() {
	if s.tx != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock() func() {
	if s.tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseMoney(s string) governance.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `id, name, lifecycle_status, workflow_status, initiated_by,
	assigned_pm, assigned_spm, assigned_by, finalized_by, created_at, updated_at`

func (s *Store) CreateProject(ctx context.Context, p *governance.Project) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.LifecycleStatus, p.WorkflowStatus, p.InitiatedBy,
		p.AssignedPM, p.AssignedSPM, p.AssignedBy, p.FinalizedBy,
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*governance.Project, error) {
	var p governance.Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.LifecycleStatus, &p.WorkflowStatus, &p.InitiatedBy,
		&p.AssignedPM, &p.AssignedSPM, &p.AssignedBy, &p.FinalizedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*governance.Project, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *governance.Project) error {
	defer s.wlock()()

	res, err := s.q().ExecContext(ctx, `
		UPDATE projects
		SET lifecycle_status = ?, workflow_status = ?, assigned_pm = ?,
		    assigned_spm = ?, assigned_by = ?, finalized_by = ?, updated_at = ?
		WHERE id = ?`,
		p.LifecycleStatus, p.WorkflowStatus, p.AssignedPM,
		p.AssignedSPM, p.AssignedBy, p.FinalizedBy, fmtTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, governance.ErrNotFound)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*governance.Project, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []*governance.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertMilestones(ctx context.Context, ms []governance.Milestone) error {
	defer s.wlock()()

	for _, m := range ms {
		_, err := s.q().ExecContext(ctx, `
			INSERT INTO milestones (id, project_id, title, due_date, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.ProjectID, m.Title, fmtTime(m.DueDate), m.CreatedBy, fmtTime(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert milestone: %w", err)
		}
	}
	return nil
}

func (s *Store) ListMilestones(ctx context.Context, projectID string) ([]governance.Milestone, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT id, project_id, title, due_date, created_by, created_at
		FROM milestones WHERE project_id = ? ORDER BY due_date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var out []governance.Milestone
	for rows.Next() {
		var m governance.Milestone
		var due, created string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Title, &due, &m.CreatedBy, &created); err != nil {
			return nil, err
		}
		m.DueDate = parseTime(due)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = `id, project_id, version, total_budget, status, created_by,
	approved_by, created_at, updated_at`

func (s *Store) CreateBudgetVersion(ctx context.Context, b *governance.ProjectBudget, categories []governance.BudgetCategory) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProjectID, b.Version, b.TotalBudget.String(), b.Status,
		b.CreatedBy, b.ApprovedBy, fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Version race: another transaction inserted the same version.
			return fmt.Errorf("budget version %d for project %s: %w",
				b.Version, b.ProjectID, governance.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to insert budget: %w", err)
	}

	for _, c := range categories {
		_, err := s.q().ExecContext(ctx, `
			INSERT INTO budget_categories (id, budget_id, name, allocated_amount, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.BudgetID, c.Name, c.AllocatedAmount.String(), fmtTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert category: %w", err)
		}
	}
	return nil
}

func scanBudget(row interface{ Scan(...any) error }) (*governance.ProjectBudget, error) {
	var b governance.ProjectBudget
	var total, createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.ProjectID, &b.Version, &total, &b.Status,
		&b.CreatedBy, &b.ApprovedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.TotalBudget = parseMoney(total)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *Store) GetBudget(ctx context.Context, id string) (*governance.ProjectBudget, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget %s: %w", id, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return b, nil
}

func (s *Store) CurrentBudget(ctx context.Context, projectID string) (*governance.ProjectBudget, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE project_id = ? ORDER BY version DESC LIMIT 1`, projectID)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s budget: %w", projectID, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current budget: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBudgetStatus(ctx context.Context, budgetID string, status governance.BudgetStatus, approvedBy string, updatedAt time.Time) error {
	defer s.wlock()()

	var res sql.Result
	var err error
	if approvedBy != "" {
		res, err = s.q().ExecContext(ctx,
			`UPDATE budgets SET status = ?, approved_by = ?, updated_at = ? WHERE id = ?`,
			status, approvedBy, fmtTime(updatedAt), budgetID)
	} else {
		res, err = s.q().ExecContext(ctx,
			`UPDATE budgets SET status = ?, updated_at = ? WHERE id = ?`,
			status, fmtTime(updatedAt), budgetID)
	}
	if err != nil {
		return fmt.Errorf("failed to update budget status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %s: %w", budgetID, governance.ErrNotFound)
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*governance.BudgetCategory, error) {
	defer s.rlock()()

	var c governance.BudgetCategory
	var allocated, createdAt string
	err := s.q().QueryRowContext(ctx, `
		SELECT id, budget_id, name, allocated_amount, created_at
		FROM budget_categories WHERE id = ?`, id).
		Scan(&c.ID, &c.BudgetID, &c.Name, &allocated, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %s: %w", id, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	c.AllocatedAmount = parseMoney(allocated)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, budgetID string) ([]governance.BudgetCategory, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT id, budget_id, name, allocated_amount, created_at
		FROM budget_categories WHERE budget_id = ? ORDER BY name ASC`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []governance.BudgetCategory
	for rows.Next() {
		var c governance.BudgetCategory
		var allocated, createdAt string
		if err := rows.Scan(&c.ID, &c.BudgetID, &c.Name, &allocated, &createdAt); err != nil {
			return nil, err
		}
		c.AllocatedAmount = parseMoney(allocated)
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AdjustAllocation(ctx context.Context, categoryID string, delta governance.Money) error {
	defer s.wlock()()

	var allocated string
	err := s.q().QueryRowContext(ctx,
		`SELECT allocated_amount FROM budget_categories WHERE id = ?`, categoryID).
		Scan(&allocated)
	if err == sql.ErrNoRows {
		return fmt.Errorf("category %s: %w", categoryID, governance.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load allocation: %w", err)
	}

	next := parseMoney(allocated).Add(delta)
	if next.IsNegative() {
		// Backstop behind the ledger's availability check.
		return fmt.Errorf("category %s allocation would go negative: %w",
			categoryID, governance.ErrConcurrencyConflict)
	}

	_, err = s.q().ExecContext(ctx,
		`UPDATE budget_categories SET allocated_amount = ? WHERE id = ?`,
		next.String(), categoryID)
	if err != nil {
		return fmt.Errorf("failed to adjust allocation: %w", err)
	}
	return nil
}

const entryColumns = `id, category_id, amount, entry_type, status, description,
	created_by, created_at, updated_at`

func (s *Store) InsertEntry(ctx context.Context, e *governance.BudgetEntry) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO budget_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CategoryID, e.Amount.String(), e.EntryType, e.Status,
		e.Description, e.CreatedBy, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*governance.BudgetEntry, error) {
	var e governance.BudgetEntry
	var amount, createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.CategoryID, &amount, &e.EntryType, &e.Status,
		&e.Description, &e.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Amount = parseMoney(amount)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*governance.BudgetEntry, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM budget_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s: %w", id, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, categoryID string) ([]governance.BudgetEntry, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT `+entryColumns+` FROM budget_entries
		WHERE category_id = ? ORDER BY created_at ASC, rowid ASC`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []governance.BudgetEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEntryStatus(ctx context.Context, entryID string, status governance.EntryStatus, updatedAt time.Time) error {
	defer s.wlock()()

	res, err := s.q().ExecContext(ctx,
		`UPDATE budget_entries SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(updatedAt), entryID)
	if err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, governance.ErrNotFound)
	}
	return nil
}

func (s *Store) InsertTransfer(ctx context.Context, t *governance.BudgetTransfer) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO budget_transfers
		(id, from_category_id, to_category_id, amount, reason, transferred_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FromCategoryID, t.ToCategoryID, t.Amount.String(),
		t.Reason, t.TransferredBy, fmtTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, budgetID string) ([]governance.BudgetTransfer, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT t.id, t.from_category_id, t.to_category_id, t.amount, t.reason,
		       t.transferred_by, t.created_at
		FROM budget_transfers t
		WHERE t.from_category_id IN (SELECT id FROM budget_categories WHERE budget_id = ?)
		   OR t.to_category_id   IN (SELECT id FROM budget_categories WHERE budget_id = ?)
		ORDER BY t.created_at ASC, t.rowid ASC`, budgetID, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []governance.BudgetTransfer
	for rows.Next() {
		var t governance.BudgetTransfer
		var amount, createdAt string
		if err := rows.Scan(&t.ID, &t.FromCategoryID, &t.ToCategoryID, &amount,
			&t.Reason, &t.TransferredBy, &createdAt); err != nil {
			return nil, err
		}
		t.Amount = parseMoney(amount)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVALS
// =============================================================================

const approvalColumns = `id, budget_id, approval_level, status, requested_by,
	approver_id, urgency, comments, requested_at, decided_at`

func (s *Store) InsertApproval(ctx context.Context, a *governance.BudgetApproval) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO budget_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BudgetID, a.ApprovalLevel, a.Status, a.RequestedBy,
		a.ApproverID, a.Urgency, a.Comments, fmtTime(a.RequestedAt), nullTime(a.DecidedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// idx_one_pending_approval: a concurrent submission won.
			return fmt.Errorf("budget %s already has a pending approval: %w",
				a.BudgetID, governance.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func scanApproval(row interface{ Scan(...any) error }) (*governance.BudgetApproval, error) {
	var a governance.BudgetApproval
	var requestedAt string
	var decidedAt sql.NullString
	err := row.Scan(&a.ID, &a.BudgetID, &a.ApprovalLevel, &a.Status, &a.RequestedBy,
		&a.ApproverID, &a.Urgency, &a.Comments, &requestedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	a.RequestedAt = parseTime(requestedAt)
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		a.DecidedAt = &t
	}
	return &a, nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*governance.BudgetApproval, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM budget_approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval %s: %w", id, governance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	return a, nil
}

func (s *Store) PendingApproval(ctx context.Context, budgetID string) (*governance.BudgetApproval, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM budget_approvals
		WHERE budget_id = ? AND status = 'Pending'`, budgetID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending approval: %w", err)
	}
	return a, nil
}

func (s *Store) UpdateApproval(ctx context.Context, a *governance.BudgetApproval) error {
	defer s.wlock()()

	res, err := s.q().ExecContext(ctx, `
		UPDATE budget_approvals
		SET status = ?, approver_id = ?, comments = ?, decided_at = ?
		WHERE id = ?`,
		a.Status, a.ApproverID, a.Comments, nullTime(a.DecidedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approval %s: %w", a.ID, governance.ErrNotFound)
	}
	return nil
}

func (s *Store) ListPendingApprovals(ctx context.Context, maxLevel int) ([]governance.BudgetApproval, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM budget_approvals
		WHERE status = 'Pending' AND approval_level <= ?
		ORDER BY requested_at ASC, rowid ASC`, maxLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (s *Store) ListApprovalsForBudget(ctx context.Context, budgetID string) ([]governance.BudgetApproval, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM budget_approvals
		WHERE budget_id = ? ORDER BY requested_at ASC, rowid ASC`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func collectApprovals(rows *sql.Rows) ([]governance.BudgetApproval, error) {
	var out []governance.BudgetApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// =============================================================================
// GATE MEETINGS - append-only
// =============================================================================

const gateColumns = `id, gate_meeting_id, current_state, previous_state,
	next_possible_states, notes, state_entered_by, state_entered_at,
	auto_transition_at, auto_transition_to`

func (s *Store) InsertGateState(ctx context.Context, st *governance.GateMeetingState) error {
	defer s.wlock()()

	nextJSON, _ := json.Marshal(st.NextPossibleStates)
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO gate_meeting_states (`+gateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.GateMeetingID, st.CurrentState, st.PreviousState,
		string(nextJSON), st.Notes, st.StateEnteredBy, fmtTime(st.StateEnteredAt),
		nullTime(st.AutoTransitionAt), st.AutoTransitionTo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert gate state: %w", err)
	}
	return nil
}

func scanGateState(row interface{ Scan(...any) error }) (*governance.GateMeetingState, error) {
	var st governance.GateMeetingState
	var nextJSON, enteredAt string
	var autoAt sql.NullString
	err := row.Scan(&st.ID, &st.GateMeetingID, &st.CurrentState, &st.PreviousState,
		&nextJSON, &st.Notes, &st.StateEnteredBy, &enteredAt, &autoAt, &st.AutoTransitionTo)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nextJSON), &st.NextPossibleStates); err != nil {
		return nil, fmt.Errorf("failed to decode next states: %w", err)
	}
	st.StateEnteredAt = parseTime(enteredAt)
	if autoAt.Valid {
		t := parseTime(autoAt.String)
		st.AutoTransitionAt = &t
	}
	return &st, nil
}

func (s *Store) LatestGateState(ctx context.Context, gateMeetingID string) (*governance.GateMeetingState, error) {
	defer s.rlock()()

	row := s.q().QueryRowContext(ctx, `
		SELECT `+gateColumns+` FROM gate_meeting_states
		WHERE gate_meeting_id = ?
		ORDER BY state_entered_at DESC, rowid DESC LIMIT 1`, gateMeetingID)
	st, err := scanGateState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest gate state: %w", err)
	}
	return st, nil
}

func (s *Store) GateStateHistory(ctx context.Context, gateMeetingID string) ([]governance.GateMeetingState, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT `+gateColumns+` FROM gate_meeting_states
		WHERE gate_meeting_id = ?
		ORDER BY state_entered_at ASC, rowid ASC`, gateMeetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate history: %w", err)
	}
	defer rows.Close()

	var out []governance.GateMeetingState
	for rows.Next() {
		st, err := scanGateState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) ListDueAutoTransitions(ctx context.Context, asOf time.Time) ([]governance.GateMeetingState, error) {
	defer s.rlock()()

	// Only the latest row per meeting carries a live intent; any newer
	// row supersedes an earlier auto-transition.
	rows, err := s.q().QueryContext(ctx, `
		SELECT `+gateColumns+` FROM gate_meeting_states g
		WHERE g.auto_transition_at IS NOT NULL
		  AND g.auto_transition_to != ''
		  AND g.auto_transition_at <= ?
		  AND g.rowid = (
			SELECT MAX(rowid) FROM gate_meeting_states
			WHERE gate_meeting_id = g.gate_meeting_id
		  )`, fmtTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query due auto-transitions: %w", err)
	}
	defer rows.Close()

	var out []governance.GateMeetingState
	for rows.Next() {
		st, err := scanGateState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT + NOTIFICATIONS
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e governance.AuditEntry) error {
	defer s.wlock()()

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO audit_log (id, entity, entity_id, action, details, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Entity, e.EntityID, e.Action, e.Details, e.ActorID, fmtTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, f governance.AuditFilter) ([]governance.AuditEntry, error) {
	defer s.rlock()()

	// Parameterized predicate list, never string-concatenated values.
	query := `SELECT id, entity, entity_id, action, details, actor_id, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Entity != "" {
		query += ` AND entity = ?`
		args = append(args, f.Entity)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if len(f.Actions) > 0 {
		query += ` AND action IN (?` + strings.Repeat(",?", len(f.Actions)-1) + `)`
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += ` AND created_at <= ?`
		args = append(args, fmtTime(*f.To))
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []governance.AuditEntry
	for rows.Next() {
		var e governance.AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Action, &e.Details,
			&e.ActorID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EnqueueNotification(ctx context.Context, n governance.Notification) error {
	defer s.wlock()()

	payloadJSON, _ := json.Marshal(n.Payload)
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, string(payloadJSON), fmtTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]governance.Notification, error) {
	defer s.rlock()()

	rows, err := s.q().QueryContext(ctx, `
		SELECT id, user_id, type, title, message, payload_json, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []governance.Notification
	for rows.Next() {
		var n governance.Notification
		var payloadJSON, createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&payloadJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &n.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
