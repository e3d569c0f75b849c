/*
gatemeeting.go - Gate-meeting workflow over an explicit transition table

PURPOSE:
  Gate meetings move through a directed graph of named states. Every
  transition inserts a new history row; rows are never mutated. The
  current state of a meeting is the most recently inserted row.

ADJACENCY TABLE:

  new_project_announced ──▶ par_approved | cancelled
  par_approved          ──▶ gate_meeting_scheduled | on_hold | cancelled
  gate_meeting_scheduled──▶ meeting_completed | gate_meeting_scheduled
                            | on_hold | cancelled
  meeting_completed     ──▶ approved | rejected | conditional_approval
  conditional_approval  ──▶ gate_meeting_scheduled | approved | rejected
  on_hold               ──▶ gate_meeting_scheduled | par_approved | cancelled
  approved / rejected / cancelled: terminal

PERMISSIVE vs STRICT:
  Historically the workflow accepted any incoming state and only used the
  table to compute next_possible_states for the new row. That behavior is
  preserved as the default. Strict mode validates the incoming edge
  against adjacency[current] and fails with InvalidTransitionError on an
  illegal edge (including any transition out of a terminal state).

AUTO-TRANSITIONS:
  A transition may carry an auto-transition intent (fire at T, move to S).
  The engine only persists the intent; the scheduler reads due intents and
  calls Transition again through the ordinary path.

SEE ALSO:
  - coordinator.go: transaction boundary, audit, notifications
  - ../api/scheduler.go: fires due auto-transition intents
*/
package governance

import (
	"fmt"
	"time"
)

// =============================================================================
// ADJACENCY TABLE
// =============================================================================

var gateAdjacency = map[GateState][]GateState{
	GateNewProjectAnnounced: {GatePARApproved, GateCancelled},
	GatePARApproved:         {GateMeetingScheduled, GateOnHold, GateCancelled},
	GateMeetingScheduled:    {GateMeetingCompleted, GateMeetingScheduled, GateOnHold, GateCancelled},
	GateMeetingCompleted:    {GateApproved, GateRejected, GateConditionalApproval},
	GateConditionalApproval: {GateMeetingScheduled, GateApproved, GateRejected},
	GateOnHold:              {GateMeetingScheduled, GatePARApproved, GateCancelled},
	GateApproved:            {},
	GateRejected:            {},
	GateCancelled:           {},
}

// NextPossibleStates returns the legal successor set of a state. The
// returned slice is a copy; callers may keep it.
func NextPossibleStates(s GateState) []GateState {
	succ := gateAdjacency[s]
	out := make([]GateState, len(succ))
	copy(out, succ)
	return out
}

// IsGateState reports whether s names a state in the table.
func IsGateState(s GateState) bool {
	_, ok := gateAdjacency[s]
	return ok
}

// =============================================================================
// WORKFLOW ENGINE
// =============================================================================

// GateMeetingWorkflow builds append-only history rows.
//
// Strict=false preserves the historical permissive behavior: any known
// state is accepted as the next state regardless of the current edge.
type GateMeetingWorkflow struct {
	Clock  Clock
	Strict bool
}

// TransitionInput carries the caller-supplied fields of a transition.
type TransitionInput struct {
	NewState GateState
	Notes    string

	// Optional time-deferred follow-up transition.
	AutoTransitionAt *time.Time
	AutoTransitionTo GateState
}

// Transition computes the next history row for a meeting. previous is the
// most recent row, or nil for a meeting with no history. The caller
// persists the result in the same transaction that read previous.
func (w *GateMeetingWorkflow) Transition(gateMeetingID string, previous *GateMeetingState, in TransitionInput, actor Actor) (*GateMeetingState, error) {
	if !IsGateState(in.NewState) {
		return nil, fmt.Errorf("gate meeting %s: unknown state %q: %w", gateMeetingID, in.NewState, ErrInvalidTransition)
	}
	if in.AutoTransitionTo != "" && !IsGateState(in.AutoTransitionTo) {
		return nil, fmt.Errorf("gate meeting %s: unknown auto-transition state %q: %w", gateMeetingID, in.AutoTransitionTo, ErrInvalidTransition)
	}

	var previousState GateState
	if previous != nil {
		previousState = previous.CurrentState
	}

	if w.Strict {
		if err := w.validateEdge(gateMeetingID, previous, in.NewState); err != nil {
			return nil, err
		}
	}

	return &GateMeetingState{
		ID:                 newID(),
		GateMeetingID:      gateMeetingID,
		CurrentState:       in.NewState,
		PreviousState:      previousState,
		NextPossibleStates: NextPossibleStates(in.NewState),
		Notes:              in.Notes,
		StateEnteredBy:     actor.ID,
		StateEnteredAt:     w.Clock.Now(),
		AutoTransitionAt:   in.AutoTransitionAt,
		AutoTransitionTo:   in.AutoTransitionTo,
	}, nil
}

func (w *GateMeetingWorkflow) validateEdge(gateMeetingID string, previous *GateMeetingState, next GateState) error {
	if previous == nil {
		// The graph has a single entry point.
		if next != GateNewProjectAnnounced {
			return &InvalidTransitionError{GateMeetingID: gateMeetingID, From: "", To: next}
		}
		return nil
	}
	for _, s := range gateAdjacency[previous.CurrentState] {
		if s == next {
			return nil
		}
	}
	return &InvalidTransitionError{
		GateMeetingID: gateMeetingID,
		From:          previous.CurrentState,
		To:            next,
	}
}
