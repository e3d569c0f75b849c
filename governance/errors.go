/*
errors.go - Centralized error kinds for the governance engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every engine operation returns one of these kinds; the coordinator
  aborts its transaction and surfaces the kind unchanged to the caller.

ERROR CATEGORIES:
  1. Lookup errors   - referenced rows that do not exist
  2. State errors    - operations attempted from the wrong state
  3. Ledger errors   - availability violations
  4. Conflict errors - concurrent check-then-act losers

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, governance.ErrAlreadyPending) {
        // a Pending approval already exists for this budget
    }

SEE ALSO:
  - coordinator.go: propagation policy (no re-wrapping that loses the kind)
*/
package governance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced project, budget, category,
	// approval, or meeting does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPending is returned when submitting a budget that already
	// has a Pending approval.
	ErrAlreadyPending = errors.New("approval already pending for budget")

	// ErrAlreadyProcessed is returned when deciding an approval that is no
	// longer Pending.
	ErrAlreadyProcessed = errors.New("approval already processed")

	// ErrInvalidProjectStatus is returned when a lifecycle transition is
	// attempted from the wrong workflow status.
	ErrInvalidProjectStatus = errors.New("invalid project status for transition")

	// ErrNotAuthorized is returned when the acting user is not permitted to
	// perform the transition (e.g. finalize by a non-assigned user).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInsufficientFunds is returned when an entry or transfer exceeds the
	// available amount of a category.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned when an entry or transfer amount is zero
	// or negative. Amounts are strictly positive; cancellation is the only
	// way to back funds out of a category.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrCrossBudgetTransfer is returned when a transfer names categories
	// that belong to different budgets.
	ErrCrossBudgetTransfer = errors.New("transfer categories belong to different budgets")

	// ErrInvalidTransition is returned in strict mode when a gate-meeting
	// transition is not in the adjacency table of the current state.
	ErrInvalidTransition = errors.New("invalid gate-meeting transition")

	// ErrEscalationLimit is returned when escalating past the maximum
	// defined approval level.
	ErrEscalationLimit = errors.New("escalation past maximum approval level")

	// ErrConcurrencyConflict is returned when a concurrent transaction won a
	// check-then-act race (pending slot, category availability). Callers may
	// retry; the engine itself never does.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports an availability shortfall on a category.
type InsufficientFundsError struct {
	CategoryID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in category %s: available %s, requested %s",
		e.CategoryID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InvalidTransitionError reports a rejected gate-meeting edge.
type InvalidTransitionError struct {
	GateMeetingID string
	From          GateState
	To            GateState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("gate meeting %s: no transition %s -> %s",
		e.GateMeetingID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InvalidStatusError reports a lifecycle operation attempted from the wrong
// workflow status.
type InvalidStatusError struct {
	ProjectID string
	Status    WorkflowStatus
	Wanted    WorkflowStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("project %s: workflow status is %s, operation requires %s",
		e.ProjectID, e.Status, e.Wanted)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidProjectStatus }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only the external caller (e.g. the auto-submission job) retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input or
// state, rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyPending) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInvalidProjectStatus) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCrossBudgetTransfer) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrEscalationLimit)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
