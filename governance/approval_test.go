package governance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/governance-engine/governance"
)

func newApprovalEngine() *governance.ApprovalEngine {
	return &governance.ApprovalEngine{Clock: governance.FixedClock{At: testTime}}
}

func draftBudget(total string) *governance.ProjectBudget {
	return &governance.ProjectBudget{
		ID:          "budget-1",
		ProjectID:   "project-1",
		Version:     1,
		TotalBudget: money(total),
		Status:      governance.BudgetDraft,
	}
}

// =============================================================================
// LEVEL ASSIGNMENT
// =============================================================================

func TestLevelForAmount_Boundaries(t *testing.T) {
	// Thresholds are strict: exactly 100k stays level 1, exactly 1M stays level 2.
	cases := []struct {
		amount string
		level  int
	}{
		{"0", 1},
		{"50000", 1},
		{"100000", 1},
		{"100000.01", 2},
		{"150000", 2},
		{"1000000", 2},
		{"1000000.01", 3},
		{"5000000", 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.level, governance.LevelForAmount(money(c.amount)),
			"amount %s should map to level %d", c.amount, c.level)
	}
}

func TestMaxLevelForRole(t *testing.T) {
	assert.Equal(t, 3, governance.MaxLevelForRole(governance.RoleExecutive))
	assert.Equal(t, 3, governance.MaxLevelForRole(governance.RoleCEO))
	assert.Equal(t, 3, governance.MaxLevelForRole(governance.RoleCFO))
	assert.Equal(t, 2, governance.MaxLevelForRole(governance.RoleDirector))
	assert.Equal(t, 1, governance.MaxLevelForRole(governance.RoleManager))
	assert.Equal(t, 0, governance.MaxLevelForRole(governance.RolePMI), "unknown approver roles decide nothing")
}

func TestCanDecide_Monotonic(t *testing.T) {
	// A director can decide level 1 and 2 but not level 3.
	assert.True(t, governance.CanDecide(governance.RoleDirector, 1))
	assert.True(t, governance.CanDecide(governance.RoleDirector, 2))
	assert.False(t, governance.CanDecide(governance.RoleDirector, 3))
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestApprovalEngine_Submit_LevelFromMagnitude(t *testing.T) {
	// GIVEN: A 150,000 budget
	// WHEN: Submitting for approval
	// THEN: Level 2, director notified, budget moves to Pending Approval

	engine := newApprovalEngine()

	result, err := engine.Submit(draftBudget("150000"), nil, "user-1", governance.UrgencyNormal)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Approval.ApprovalLevel)
	assert.Equal(t, governance.ApprovalPending, result.Approval.Status)
	assert.Equal(t, "user-1", result.Approval.RequestedBy)
	assert.Equal(t, governance.RoleDirector, result.NotifyRole)
	assert.Equal(t, governance.BudgetPendingApproval, result.BudgetStatus)
	assert.Equal(t, testTime, result.Approval.RequestedAt)
}

func TestApprovalEngine_Submit_AlreadyPending(t *testing.T) {
	// GIVEN: A budget with an open Pending approval
	// WHEN: Submitting again
	// THEN: ErrAlreadyPending; the slot is single-occupancy

	engine := newApprovalEngine()
	existing := &governance.BudgetApproval{
		ID:       "approval-1",
		BudgetID: "budget-1",
		Status:   governance.ApprovalPending,
	}

	_, err := engine.Submit(draftBudget("150000"), existing, "user-2", governance.UrgencyNormal)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrAlreadyPending)
}

func TestApprovalEngine_Submit_NilBudget(t *testing.T) {
	engine := newApprovalEngine()

	_, err := engine.Submit(nil, nil, "user-1", governance.UrgencyNormal)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrNotFound)
}

func TestApprovalEngine_Submit_DefaultUrgency(t *testing.T) {
	engine := newApprovalEngine()

	result, err := engine.Submit(draftBudget("1000"), nil, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, governance.UrgencyNormal, result.Approval.Urgency)
}

// =============================================================================
// DECISIONS
// =============================================================================

func pendingApproval(level int) *governance.BudgetApproval {
	return &governance.BudgetApproval{
		ID:            "approval-1",
		BudgetID:      "budget-1",
		ApprovalLevel: level,
		Status:        governance.ApprovalPending,
		RequestedBy:   "user-1",
		Urgency:       governance.UrgencyNormal,
		RequestedAt:   testTime.Add(-48 * time.Hour),
	}
}

func TestApprovalEngine_Decide_Approve(t *testing.T) {
	engine := newApprovalEngine()

	result, err := engine.Decide(pendingApproval(2), governance.DecisionApprove, "director-1", "looks good")
	require.NoError(t, err)

	assert.Equal(t, governance.ApprovalApproved, result.Updated.Status)
	assert.Equal(t, "director-1", result.Updated.ApproverID)
	assert.Equal(t, governance.BudgetActive, result.BudgetStatus)
	assert.Nil(t, result.Spawned)
	require.NotNil(t, result.Updated.DecidedAt)
	assert.Equal(t, testTime, *result.Updated.DecidedAt)
}

func TestApprovalEngine_Decide_Reject(t *testing.T) {
	engine := newApprovalEngine()

	result, err := engine.Decide(pendingApproval(1), governance.DecisionReject, "manager-1", "over scope")
	require.NoError(t, err)

	assert.Equal(t, governance.ApprovalRejected, result.Updated.Status)
	assert.Equal(t, governance.BudgetRejected, result.BudgetStatus)
	assert.Nil(t, result.Spawned)
}

func TestApprovalEngine_Decide_Escalate_SpawnsNextLevel(t *testing.T) {
	// GIVEN: A Pending level-2 approval
	// WHEN: Escalating
	// THEN: Original row terminal Escalated; new Pending row at level 3
	//       carrying the original requester, budget stays Pending Approval

	engine := newApprovalEngine()

	result, err := engine.Decide(pendingApproval(2), governance.DecisionEscalate, "director-1", "above my comfort")
	require.NoError(t, err)

	assert.Equal(t, governance.ApprovalEscalated, result.Updated.Status)
	assert.Equal(t, governance.BudgetPendingApproval, result.BudgetStatus)

	require.NotNil(t, result.Spawned)
	assert.Equal(t, 3, result.Spawned.ApprovalLevel)
	assert.Equal(t, governance.ApprovalPending, result.Spawned.Status)
	assert.Equal(t, "user-1", result.Spawned.RequestedBy, "spawned row keeps the original requester")
	assert.NotEqual(t, result.Updated.ID, result.Spawned.ID)
	assert.Contains(t, result.Spawned.Comments, "[escalated from level 2 by director-1]")
	assert.Equal(t, governance.RoleExecutive, result.NotifyRole)
}

func TestApprovalEngine_Decide_Escalate_AtTopLevel(t *testing.T) {
	// GIVEN: A Pending level-3 approval
	// WHEN: Escalating
	// THEN: ErrEscalationLimit; there is no level 4

	engine := newApprovalEngine()

	_, err := engine.Decide(pendingApproval(3), governance.DecisionEscalate, "exec-1", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrEscalationLimit)
}

func TestApprovalEngine_Decide_AlreadyProcessed(t *testing.T) {
	// GIVEN: An approval already Approved
	// WHEN: Deciding it again
	// THEN: ErrAlreadyProcessed regardless of the decision

	engine := newApprovalEngine()
	approval := pendingApproval(1)
	approval.Status = governance.ApprovalApproved

	for _, d := range []governance.Decision{
		governance.DecisionApprove,
		governance.DecisionReject,
		governance.DecisionEscalate,
	} {
		_, err := engine.Decide(approval, d, "manager-1", "")
		assert.ErrorIs(t, err, governance.ErrAlreadyProcessed, "decision %s", d)
	}
}

func TestApprovalEngine_Decide_EscalationCommentTrail(t *testing.T) {
	// Escalating twice accumulates the trail on the spawned rows.
	engine := newApprovalEngine()

	first, err := engine.Decide(pendingApproval(1), governance.DecisionEscalate, "manager-1", "too big for me")
	require.NoError(t, err)

	second, err := engine.Decide(first.Spawned, governance.DecisionEscalate, "director-1", "board matter")
	require.NoError(t, err)

	assert.Contains(t, second.Spawned.Comments, "[escalated from level 1 by manager-1] too big for me")
	assert.Contains(t, second.Spawned.Comments, "[escalated from level 2 by director-1] board matter")
	assert.Equal(t, 3, second.Spawned.ApprovalLevel)
}
