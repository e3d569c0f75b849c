package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/governance-engine/governance"
)

func newLifecycle() *governance.ProjectLifecycle {
	return &governance.ProjectLifecycle{Clock: governance.FixedClock{At: testTime}}
}

var (
	pmi      = governance.Actor{ID: "pmi-1", Role: governance.RolePMI}
	director = governance.Actor{ID: "director-1", Role: governance.RoleDirector}
)

// =============================================================================
// INITIATE
// =============================================================================

func TestLifecycle_Initiate(t *testing.T) {
	lc := newLifecycle()

	project := lc.Initiate("Harbor Expansion", pmi)

	assert.NotEmpty(t, project.ID)
	assert.Equal(t, governance.WorkflowInitiated, project.WorkflowStatus)
	assert.Equal(t, governance.LifecyclePlanning, project.LifecycleStatus)
	assert.Equal(t, "pmi-1", project.InitiatedBy)
	assert.Empty(t, project.AssignedPM)
}

// =============================================================================
// ASSIGN
// =============================================================================

func TestLifecycle_Assign_FromInitiated(t *testing.T) {
	// GIVEN: An initiated project
	// WHEN: A director assigns PM and SPM
	// THEN: Workflow moves to assigned, both people are notified

	lc := newLifecycle()
	project := lc.Initiate("Harbor Expansion", pmi)

	result, err := lc.Assign(project, "pm-1", "spm-1", director)
	require.NoError(t, err)

	assert.Equal(t, governance.WorkflowAssigned, result.Project.WorkflowStatus)
	assert.Equal(t, "pm-1", result.Project.AssignedPM)
	assert.Equal(t, "spm-1", result.Project.AssignedSPM)
	assert.Equal(t, "director-1", result.Project.AssignedBy)
	assert.ElementsMatch(t, []string{"pm-1", "spm-1"}, result.NotifyUsers)

	// The input project is untouched; the engine returns a copy.
	assert.Equal(t, governance.WorkflowInitiated, project.WorkflowStatus)
}

func TestLifecycle_Assign_SamePersonBothRoles(t *testing.T) {
	lc := newLifecycle()
	project := lc.Initiate("Harbor Expansion", pmi)

	result, err := lc.Assign(project, "pm-1", "pm-1", director)
	require.NoError(t, err)
	assert.Equal(t, []string{"pm-1"}, result.NotifyUsers, "one person, one notification")
}

func TestLifecycle_Assign_WrongStatus(t *testing.T) {
	// GIVEN: An already assigned project
	// WHEN: Assigning again
	// THEN: InvalidStatusError wrapping ErrInvalidProjectStatus

	lc := newLifecycle()
	project := lc.Initiate("Harbor Expansion", pmi)
	first, err := lc.Assign(project, "pm-1", "spm-1", director)
	require.NoError(t, err)

	_, err = lc.Assign(first.Project, "pm-2", "spm-2", director)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrInvalidProjectStatus)

	var statusErr *governance.InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, governance.WorkflowAssigned, statusErr.Status)
	assert.Equal(t, governance.WorkflowInitiated, statusErr.Wanted)
}

// =============================================================================
// FINALIZE
// =============================================================================

func assignedProject(t *testing.T, lc *governance.ProjectLifecycle) *governance.Project {
	t.Helper()
	project := lc.Initiate("Harbor Expansion", pmi)
	result, err := lc.Assign(project, "pm-1", "spm-1", director)
	require.NoError(t, err)
	return result.Project
}

func TestLifecycle_Finalize_ByAssignedPM(t *testing.T) {
	// GIVEN: An assigned project
	// WHEN: The assigned PM finalizes with two milestones
	// THEN: Workflow finalized, lifecycle active, milestones stamped

	lc := newLifecycle()
	project := assignedProject(t, lc)

	result, err := lc.Finalize(project, governance.Actor{ID: "pm-1", Role: governance.RolePM},
		[]governance.MilestoneInput{
			{Title: "Design complete", DueDate: testTime.AddDate(0, 1, 0)},
			{Title: "Construction start", DueDate: testTime.AddDate(0, 3, 0)},
		})
	require.NoError(t, err)

	assert.Equal(t, governance.WorkflowFinalized, result.Project.WorkflowStatus)
	assert.Equal(t, governance.LifecycleActive, result.Project.LifecycleStatus)
	assert.Equal(t, "pm-1", result.Project.FinalizedBy)

	require.Len(t, result.Milestones, 2)
	assert.Equal(t, project.ID, result.Milestones[0].ProjectID)
	assert.Equal(t, "pm-1", result.Milestones[0].CreatedBy)

	assert.ElementsMatch(t, []string{"director-1", "pmi-1"}, result.NotifyUsers)
}

func TestLifecycle_Finalize_BySPM(t *testing.T) {
	lc := newLifecycle()
	project := assignedProject(t, lc)

	result, err := lc.Finalize(project, governance.Actor{ID: "spm-1", Role: governance.RoleSPM}, nil)
	require.NoError(t, err)
	assert.Equal(t, "spm-1", result.Project.FinalizedBy)
}

func TestLifecycle_Finalize_NotAssignedPerson(t *testing.T) {
	// GIVEN: An assigned project
	// WHEN: Someone outside the assigned pair finalizes, even a director
	// THEN: ErrNotAuthorized

	lc := newLifecycle()
	project := assignedProject(t, lc)

	_, err := lc.Finalize(project, director, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrNotAuthorized)
}

func TestLifecycle_Finalize_FromInitiated(t *testing.T) {
	// GIVEN: A project still in initiated
	// WHEN: Finalizing
	// THEN: Status error, authorization is not even consulted

	lc := newLifecycle()
	project := lc.Initiate("Harbor Expansion", pmi)

	_, err := lc.Finalize(project, governance.Actor{ID: "pm-1", Role: governance.RolePM}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrInvalidProjectStatus)
}

// =============================================================================
// NEXT STEP
// =============================================================================

func TestNextStepFor(t *testing.T) {
	cases := []struct {
		status governance.WorkflowStatus
		role   governance.Role
		want   governance.NextStep
	}{
		{governance.WorkflowInitiated, governance.RoleDirector, governance.StepAssignTeam},
		{governance.WorkflowInitiated, governance.RolePM, governance.StepAwaitAssignment},
		{governance.WorkflowAssigned, governance.RolePM, governance.StepFinalize},
		{governance.WorkflowAssigned, governance.RoleSPM, governance.StepFinalize},
		{governance.WorkflowAssigned, governance.RoleDirector, governance.StepAwaitFinalize},
		{governance.WorkflowFinalized, governance.RoleDirector, governance.StepNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, governance.NextStepFor(c.status, c.role),
			"status=%s role=%s", c.status, c.role)
	}
}
