/*
lifecycle.go - Project lifecycle state machine

PURPOSE:
  Three states, one-directional:

    initiated ──▶ assigned ──▶ finalized

  A PM&I user initiates, a director assigns the PM/SPM pair, and either
  assigned person finalizes. Finalization flips lifecycle_status to
  active and records the supplied milestones.

TOTALITY:
  Assign succeeds only from initiated; Finalize only from assigned.
  No other transition exists. NextStep encodes the same graph as data
  for the read side, which makes it a convenient oracle for enumerating
  valid transitions in tests.

SEE ALSO:
  - coordinator.go: persists the transition plus audit and notifications
  - gatemeeting.go: the independent gate-meeting workflow
*/
package governance

import (
	"fmt"
	"time"
)

// =============================================================================
// LIFECYCLE ENGINE
// =============================================================================

type ProjectLifecycle struct {
	Clock Clock
}

// Initiate builds a new project in the initiated workflow state.
func (l *ProjectLifecycle) Initiate(name string, actor Actor) *Project {
	now := l.Clock.Now()
	return &Project{
		ID:              newID(),
		Name:            name,
		LifecycleStatus: LifecyclePlanning,
		WorkflowStatus:  WorkflowInitiated,
		InitiatedBy:     actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AssignResult is what the coordinator persists after an assignment.
type AssignResult struct {
	Project *Project
	// NotifyUsers are the newly assigned people, deduplicated.
	NotifyUsers []string
}

// Assign moves a project from initiated to assigned, recording the PM/SPM
// pair and the acting director.
func (l *ProjectLifecycle) Assign(project *Project, pm, spm string, actingDirector Actor) (*AssignResult, error) {
	if project == nil {
		return nil, fmt.Errorf("assign: project: %w", ErrNotFound)
	}
	if project.WorkflowStatus != WorkflowInitiated {
		return nil, &InvalidStatusError{
			ProjectID: project.ID,
			Status:    project.WorkflowStatus,
			Wanted:    WorkflowInitiated,
		}
	}

	updated := *project
	updated.WorkflowStatus = WorkflowAssigned
	updated.AssignedPM = pm
	updated.AssignedSPM = spm
	updated.AssignedBy = actingDirector.ID
	updated.UpdatedAt = l.Clock.Now()

	notify := []string{pm}
	if spm != "" && spm != pm {
		notify = append(notify, spm)
	}
	return &AssignResult{Project: &updated, NotifyUsers: notify}, nil
}

// FinalizeResult is what the coordinator persists after finalization.
type FinalizeResult struct {
	Project    *Project
	Milestones []Milestone
	// NotifyUsers are the assigning director and the initiator,
	// deduplicated when they are the same person.
	NotifyUsers []string
}

// Finalize moves a project from assigned to finalized. Only the assigned
// PM or SPM may finalize. Lifecycle status becomes active.
func (l *ProjectLifecycle) Finalize(project *Project, actor Actor, milestones []MilestoneInput) (*FinalizeResult, error) {
	if project == nil {
		return nil, fmt.Errorf("finalize: project: %w", ErrNotFound)
	}
	if project.WorkflowStatus != WorkflowAssigned {
		return nil, &InvalidStatusError{
			ProjectID: project.ID,
			Status:    project.WorkflowStatus,
			Wanted:    WorkflowAssigned,
		}
	}
	if actor.ID != project.AssignedPM && actor.ID != project.AssignedSPM {
		return nil, fmt.Errorf("finalize project %s by %s: %w", project.ID, actor.ID, ErrNotAuthorized)
	}

	now := l.Clock.Now()
	updated := *project
	updated.WorkflowStatus = WorkflowFinalized
	updated.LifecycleStatus = LifecycleActive
	updated.FinalizedBy = actor.ID
	updated.UpdatedAt = now

	rows := make([]Milestone, 0, len(milestones))
	for _, in := range milestones {
		rows = append(rows, Milestone{
			ID:        newID(),
			ProjectID: project.ID,
			Title:     in.Title,
			DueDate:   in.DueDate,
			CreatedBy: actor.ID,
			CreatedAt: now,
		})
	}

	notify := []string{project.AssignedBy}
	if project.InitiatedBy != project.AssignedBy {
		notify = append(notify, project.InitiatedBy)
	}

	return &FinalizeResult{Project: &updated, Milestones: rows, NotifyUsers: notify}, nil
}

// MilestoneInput carries caller-supplied milestone fields.
type MilestoneInput struct {
	Title   string
	DueDate time.Time
}

// =============================================================================
// NEXT STEP - read-side transition graph
// =============================================================================

// NextStep is the UI action suggested for a (workflow status, role) pair.
type NextStep string

const (
	StepAwaitAssignment NextStep = "await_assignment"
	StepAssignTeam      NextStep = "assign_team"
	StepFinalize        NextStep = "finalize_project"
	StepAwaitFinalize   NextStep = "await_finalization"
	StepNone            NextStep = "none"
)

// NextStepFor maps the authoritative transition graph to the next action
// for a role. Pure; no mutation.
func NextStepFor(status WorkflowStatus, role Role) NextStep {
	switch status {
	case WorkflowInitiated:
		if role == RoleDirector {
			return StepAssignTeam
		}
		return StepAwaitAssignment
	case WorkflowAssigned:
		if role == RolePM || role == RoleSPM {
			return StepFinalize
		}
		return StepAwaitFinalize
	default:
		return StepNone
	}
}
