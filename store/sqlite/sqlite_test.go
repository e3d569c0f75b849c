package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/governance-engine/governance"
	"github.com/meridian/governance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testTime = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestCoordinator(t *testing.T) (*governance.Coordinator, *sqlite.Store) {
	store := newTestStore(t)
	return governance.NewCoordinator(store, governance.FixedClock{At: testTime}), store
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	pmi      = governance.Actor{ID: "pmi-1", Role: governance.RolePMI}
	director = governance.Actor{ID: "director-1", Role: governance.RoleDirector}
)

// seedBudget creates a project with one draft budget and returns both.
func seedBudget(t *testing.T, c *governance.Coordinator, total string) (*governance.Project, *governance.ProjectBudget) {
	t.Helper()
	ctx := context.Background()

	project, err := c.InitiateProject(ctx, "Harbor Expansion", pmi)
	require.NoError(t, err)
	budget, err := c.CreateBudgetVersion(ctx, project.ID,
		[]governance.CategoryInput{{Name: "Construction", Allocated: money(total)}}, director)
	require.NoError(t, err)
	return project, budget
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_ProjectRoundTrip(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	created, err := c.InitiateProject(ctx, "Harbor Expansion", pmi)
	require.NoError(t, err)

	got, err := store.GetProject(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Harbor Expansion", got.Name)
	assert.Equal(t, governance.WorkflowInitiated, got.WorkflowStatus)
	assert.Equal(t, governance.LifecyclePlanning, got.LifecycleStatus)
	assert.Equal(t, "pmi-1", got.InitiatedBy)
	assert.True(t, got.CreatedAt.Equal(testTime), "timestamps survive the text round trip")
}

func TestStore_GetProject_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, governance.ErrNotFound)
}

func TestStore_DecimalPrecision(t *testing.T) {
	// Amounts are stored as TEXT; fractional cents must survive unchanged.
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	_, budget := seedBudget(t, c, "123456.789")

	got, err := store.GetBudget(ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalBudget.Equal(money("123456.789")),
		"expected 123456.789, got %s", got.TotalBudget)
}

func TestStore_CurrentBudget_HighestVersion(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	project, _ := seedBudget(t, c, "1000")
	v2, err := c.CreateBudgetVersion(ctx, project.ID,
		[]governance.CategoryInput{{Name: "Construction", Allocated: money("2000")}}, director)
	require.NoError(t, err)

	current, err := store.CurrentBudget(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, current.ID)
	assert.Equal(t, 2, current.Version)
}

func TestStore_EntryStatusUpdate(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	_, budget := seedBudget(t, c, "1000")
	categories, err := store.ListCategories(ctx, budget.ID)
	require.NoError(t, err)
	require.Len(t, categories, 1)

	entry, err := c.AddBudgetEntry(ctx, categories[0].ID, governance.EntryInput{
		Amount:    money("400"),
		EntryType: governance.EntryCommitment,
	}, director)
	require.NoError(t, err)

	stampedAt := testTime.Add(2 * time.Hour)
	require.NoError(t, store.UpdateEntryStatus(ctx, entry.ID, governance.EntryPaid, stampedAt))

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.EntryPaid, got.Status)
	assert.True(t, got.UpdatedAt.Equal(stampedAt))
}

func TestStore_NotificationPayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := governance.Notification{
		ID:        "n-1",
		UserID:    "user-1",
		Type:      governance.NotifyBudgetApproved,
		Title:     "Budget approved",
		Message:   "Budget b-1 was approved",
		Payload:   map[string]string{"budget_id": "b-1", "approval_id": "a-1"},
		CreatedAt: testTime,
	}
	require.NoError(t, store.EnqueueNotification(ctx, n))

	rows, err := store.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, n.Payload, rows[0].Payload)
}

// =============================================================================
// PENDING-SLOT INVARIANT
// =============================================================================

func TestStore_PendingIndex_SecondPendingRejected(t *testing.T) {
	// GIVEN: A budget with one Pending approval
	// WHEN: Inserting a second Pending row directly, bypassing the engine
	// THEN: The unique partial index rejects it as ErrConcurrencyConflict

	c, store := newTestCoordinator(t)
	ctx := context.Background()
	_, budget := seedBudget(t, c, "150000")

	first := &governance.BudgetApproval{
		ID:            "a-1",
		BudgetID:      budget.ID,
		ApprovalLevel: 2,
		Status:        governance.ApprovalPending,
		RequestedBy:   "user-1",
		Urgency:       governance.UrgencyNormal,
		RequestedAt:   testTime,
	}
	require.NoError(t, store.InsertApproval(ctx, first))

	second := *first
	second.ID = "a-2"
	err := store.InsertApproval(ctx, &second)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrConcurrencyConflict)
}

func TestStore_PendingIndex_TerminalRowsDoNotBlock(t *testing.T) {
	// Approved and Rejected rows are outside the partial index: a budget
	// can accumulate terminal rows and still accept one new Pending.
	c, store := newTestCoordinator(t)
	ctx := context.Background()
	_, budget := seedBudget(t, c, "150000")

	decided := testTime
	for i, status := range []governance.ApprovalStatus{
		governance.ApprovalRejected, governance.ApprovalEscalated,
	} {
		row := &governance.BudgetApproval{
			ID:            "a-" + string(rune('1'+i)),
			BudgetID:      budget.ID,
			ApprovalLevel: 2,
			Status:        status,
			RequestedBy:   "user-1",
			Urgency:       governance.UrgencyNormal,
			RequestedAt:   testTime,
			DecidedAt:     &decided,
		}
		require.NoError(t, store.InsertApproval(ctx, row))
	}

	pending := &governance.BudgetApproval{
		ID:            "a-pending",
		BudgetID:      budget.ID,
		ApprovalLevel: 2,
		Status:        governance.ApprovalPending,
		RequestedBy:   "user-1",
		Urgency:       governance.UrgencyNormal,
		RequestedAt:   testTime,
	}
	assert.NoError(t, store.InsertApproval(ctx, pending))
}

func TestStore_PendingApproval_NilWhenNone(t *testing.T) {
	c, store := newTestCoordinator(t)
	_, budget := seedBudget(t, c, "1000")

	row, err := store.PendingApproval(context.Background(), budget.ID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

var errBoom = errors.New("boom")

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an audit row and then fails
	// WHEN: WithTx returns
	// THEN: The error is surfaced unchanged and the write is gone

	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx governance.Store) error {
		if err := tx.AppendAudit(ctx, governance.AuditEntry{
			ID:        "audit-1",
			Entity:    "project",
			EntityID:  "p-1",
			Action:    governance.AuditProjectInitiated,
			ActorID:   "user-1",
			CreatedAt: testTime,
		}); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	trail, err := store.QueryAudit(ctx, governance.AuditFilter{Entity: "project"})
	require.NoError(t, err)
	assert.Empty(t, trail, "rolled-back write must not be visible")
}

func TestStore_WithTx_NestedJoinsAmbient(t *testing.T) {
	// A nested WithTx joins the outer transaction; an outer failure takes
	// the inner writes down with it.
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(outer governance.Store) error {
		return outer.WithTx(ctx, func(inner governance.Store) error {
			if err := inner.AppendAudit(ctx, governance.AuditEntry{
				ID: "audit-1", Entity: "budget", EntityID: "b-1",
				Action: governance.AuditBudgetCreated, ActorID: "user-1", CreatedAt: testTime,
			}); err != nil {
				return err
			}
			return errBoom
		})
	})
	assert.ErrorIs(t, err, errBoom)

	trail, err := store.QueryAudit(ctx, governance.AuditFilter{Entity: "budget"})
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestStore_CoordinatorIntent_Atomic(t *testing.T) {
	// Run a full coordinator intent that fails mid-transaction and verify
	// nothing leaked: an insufficient-funds entry leaves no entry row and
	// no audit row.
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	_, budget := seedBudget(t, c, "1000")
	categories, err := store.ListCategories(ctx, budget.ID)
	require.NoError(t, err)
	catID := categories[0].ID

	_, err = c.AddBudgetEntry(ctx, catID, governance.EntryInput{
		Amount:    money("5000"),
		EntryType: governance.EntryExpense,
	}, director)
	require.ErrorIs(t, err, governance.ErrInsufficientFunds)

	entries, err := store.ListEntries(ctx, catID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	trail, err := store.QueryAudit(ctx, governance.AuditFilter{Entity: "category", EntityID: catID})
	require.NoError(t, err)
	assert.Empty(t, trail)
}

// =============================================================================
// GATE MEETING HISTORY
// =============================================================================

func gateRow(id, meetingID string, state governance.GateState, enteredAt time.Time) *governance.GateMeetingState {
	return &governance.GateMeetingState{
		ID:                 id,
		GateMeetingID:      meetingID,
		CurrentState:       state,
		NextPossibleStates: governance.NextPossibleStates(state),
		StateEnteredBy:     "director-1",
		StateEnteredAt:     enteredAt,
	}
}

func TestStore_GateStateHistory_Ordered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertGateState(ctx,
		gateRow("g-1", "gm-1", governance.GateNewProjectAnnounced, testTime)))
	require.NoError(t, store.InsertGateState(ctx,
		gateRow("g-2", "gm-1", governance.GatePARApproved, testTime.Add(time.Hour))))

	history, err := store.GateStateHistory(ctx, "gm-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, governance.GateNewProjectAnnounced, history[0].CurrentState)
	assert.Equal(t, governance.GatePARApproved, history[1].CurrentState)

	latest, err := store.LatestGateState(ctx, "gm-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "g-2", latest.ID)
}

func TestStore_LatestGateState_NilWithoutHistory(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.LatestGateState(context.Background(), "gm-none")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStore_ListDueAutoTransitions_LatestRowWins(t *testing.T) {
	// GIVEN: Meeting gm-1 had a due intent that a newer row superseded;
	//        meeting gm-2's latest row carries a due intent
	// WHEN: Listing due transitions
	// THEN: Only gm-2 is returned

	store := newTestStore(t)
	ctx := context.Background()
	past := testTime.Add(-time.Hour)

	superseded := gateRow("g-1", "gm-1", governance.GateConditionalApproval, testTime.Add(-2*time.Hour))
	superseded.AutoTransitionAt = &past
	superseded.AutoTransitionTo = governance.GateApproved
	require.NoError(t, store.InsertGateState(ctx, superseded))
	require.NoError(t, store.InsertGateState(ctx,
		gateRow("g-2", "gm-1", governance.GateApproved, testTime.Add(-30*time.Minute))))

	live := gateRow("g-3", "gm-2", governance.GateConditionalApproval, testTime.Add(-2*time.Hour))
	live.AutoTransitionAt = &past
	live.AutoTransitionTo = governance.GateApproved
	require.NoError(t, store.InsertGateState(ctx, live))

	due, err := store.ListDueAutoTransitions(ctx, testTime)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "gm-2", due[0].GateMeetingID)
}

func TestStore_ListDueAutoTransitions_FutureIntentNotDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	future := testTime.Add(time.Hour)

	row := gateRow("g-1", "gm-1", governance.GateConditionalApproval, testTime)
	row.AutoTransitionAt = &future
	row.AutoTransitionTo = governance.GateApproved
	require.NoError(t, store.InsertGateState(ctx, row))

	due, err := store.ListDueAutoTransitions(ctx, testTime)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// =============================================================================
// AUDIT QUERIES
// =============================================================================

func TestStore_QueryAudit_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := []governance.AuditEntry{
		{ID: "a-1", Entity: "project", EntityID: "p-1", Action: governance.AuditProjectInitiated, ActorID: "u-1", CreatedAt: testTime},
		{ID: "a-2", Entity: "project", EntityID: "p-1", Action: governance.AuditTeamAssigned, ActorID: "u-2", CreatedAt: testTime.Add(time.Hour)},
		{ID: "a-3", Entity: "budget", EntityID: "b-1", Action: governance.AuditBudgetCreated, ActorID: "u-2", CreatedAt: testTime.Add(2 * time.Hour)},
	}
	for _, e := range rows {
		require.NoError(t, store.AppendAudit(ctx, e))
	}

	got, err := store.QueryAudit(ctx, governance.AuditFilter{Entity: "project", EntityID: "p-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.QueryAudit(ctx, governance.AuditFilter{ActorID: "u-2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.QueryAudit(ctx, governance.AuditFilter{
		Actions: []governance.AuditAction{governance.AuditBudgetCreated},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-3", got[0].ID)
}
