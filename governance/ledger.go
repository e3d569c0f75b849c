/*
ledger.go - Pure budget ledger arithmetic

PURPOSE:
  Availability math over already-fetched category and entry rows. The
  Ledger holds no state and performs no I/O: it computes what should be
  persisted and the coordinator persists it inside the same transaction
  that fetched the inputs. That pairing is what closes the check-then-act
  race window (see coordinator.go).

CRITICAL INVARIANTS:
  1. available(category) = allocated - sum(entries where status != Cancelled)
  2. No entry or transfer may push available below zero
  3. No transfer may push allocated_amount below zero
  4. transfer conserves: allocated(from) + allocated(to) is unchanged
  5. Entry and transfer amounts are strictly positive
  6. A transfer stays within one budget: from and to share a BudgetID

CANCELLATION:
  A Cancelled entry is excluded from sums. Entries are never deleted;
  cancellation is the only way to back an amount out of a category.

SEE ALSO:
  - coordinator.go: persists PrepareEntry / PrepareTransfer results
  - store.go: AdjustAllocation used to apply transfer deltas
*/
package governance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - stateless arithmetic
// =============================================================================

type Ledger struct{}

// ActiveTotal sums the non-cancelled entries of a category.
func (Ledger) ActiveTotal(entries []BudgetEntry) Money {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status == EntryCancelled {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

// Available returns allocated minus the active entry total.
func (l Ledger) Available(category BudgetCategory, entries []BudgetEntry) Money {
	return category.AllocatedAmount.Sub(l.ActiveTotal(entries))
}

// TotalByStatus sums entries in a single status.
func (Ledger) TotalByStatus(entries []BudgetEntry, status EntryStatus) Money {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status == status {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// =============================================================================
// ENTRY PREPARATION
// =============================================================================

// EntryInput carries the caller-supplied fields of a new entry.
type EntryInput struct {
	Amount      Money
	EntryType   EntryType
	Status      EntryStatus
	Description string
}

// PrepareEntry validates an entry against the category's available amount
// and returns the row to persist. Returns ErrInvalidAmount for non-positive
// amounts and InsufficientFundsError when the amount exceeds availability.
// The caller must persist the result in the same transaction that fetched
// category and entries.
func (l Ledger) PrepareEntry(category BudgetCategory, entries []BudgetEntry, in EntryInput, actorID string, now time.Time) (*BudgetEntry, error) {
	if in.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("entry amount %s: %w", in.Amount, ErrInvalidAmount)
	}
	available := l.Available(category, entries)
	if in.Amount.GreaterThan(available) {
		return nil, &InsufficientFundsError{
			CategoryID: category.ID,
			Available:  available,
			Requested:  in.Amount,
		}
	}

	status := in.Status
	if status == "" {
		status = EntryCommitted
	}

	return &BudgetEntry{
		ID:          newID(),
		CategoryID:  category.ID,
		Amount:      in.Amount,
		EntryType:   in.EntryType,
		Status:      status,
		Description: in.Description,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// =============================================================================
// TRANSFER PREPARATION
// =============================================================================

// TransferDeltas is the pair of allocation mutations a transfer produces.
// Both are applied atomically or not at all.
type TransferDeltas struct {
	FromCategoryID string
	ToCategoryID   string
	FromDelta      Money // negative
	ToDelta        Money // positive
}

// PrepareTransfer validates a category-to-category move and returns the
// allocation deltas plus the immutable transfer record. Fails with
// ErrInvalidAmount for non-positive amounts, ErrCrossBudgetTransfer when
// the categories belong to different budgets, and InsufficientFundsError
// when amount exceeds available(from); the post-transfer allocated amount
// of the source can therefore never go negative (available <= allocated
// always).
func (l Ledger) PrepareTransfer(from BudgetCategory, fromEntries []BudgetEntry, to BudgetCategory, amount Money, reason, actorID string, now time.Time) (*TransferDeltas, *BudgetTransfer, error) {
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("transfer amount %s: %w", amount, ErrInvalidAmount)
	}
	if from.BudgetID != to.BudgetID {
		return nil, nil, fmt.Errorf("categories %s and %s: %w", from.ID, to.ID, ErrCrossBudgetTransfer)
	}
	available := l.Available(from, fromEntries)
	if amount.GreaterThan(available) {
		return nil, nil, &InsufficientFundsError{
			CategoryID: from.ID,
			Available:  available,
			Requested:  amount,
		}
	}

	deltas := &TransferDeltas{
		FromCategoryID: from.ID,
		ToCategoryID:   to.ID,
		FromDelta:      amount.Neg(),
		ToDelta:        amount,
	}
	record := &BudgetTransfer{
		ID:             newID(),
		FromCategoryID: from.ID,
		ToCategoryID:   to.ID,
		Amount:         amount,
		Reason:         reason,
		TransferredBy:  actorID,
		CreatedAt:      now,
	}
	return deltas, record, nil
}

// =============================================================================
// CATEGORY SUMMARY - read projection
// =============================================================================

// CategorySummary is the per-category ledger breakdown used by read-side
// reporting. Computed, never stored.
type CategorySummary struct {
	CategoryID string
	Name       string
	Allocated  Money
	Committed  Money
	Spent      Money
	Available  Money
}

func (l Ledger) Summarize(category BudgetCategory, entries []BudgetEntry) CategorySummary {
	return CategorySummary{
		CategoryID: category.ID,
		Name:       category.Name,
		Allocated:  category.AllocatedAmount,
		Committed:  l.TotalByStatus(entries, EntryCommitted),
		Spent:      l.TotalByStatus(entries, EntryPaid),
		Available:  l.Available(category, entries),
	}
}
