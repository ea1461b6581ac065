// Package allocation implements the cash waterfall: a pure computation
// splitting a collected amount across a loan's unpaid installments,
// oldest due date first, penalty before rental within each installment.
// Persisting the result is the collection service's job so the split can
// be tested in isolation.
package allocation

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// Line is one installment's share of an allocation.
type Line struct {
	InstallmentID uuid.UUID
	Penalty       decimal.Decimal
	Rental        decimal.Decimal
}

// Result is the outcome of allocating cash against an installment
// snapshot. Leftover is whatever the installments could not absorb; the
// caller books it as suspense credit.
type Result struct {
	Lines    []Line
	Leftover decimal.Decimal
}

// Allocated returns the total cash the lines absorbed.
func (r *Result) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.Penalty).Add(line.Rental)
	}
	return total
}

// Allocate splits cash across the given installments. Installments are
// visited in ascending due-date order, ties broken by installment id so
// the split is deterministic for any input order. Within an installment
// the penalty shortfall is paid before the rental shortfall. The input
// slice is not mutated.
func Allocate(installments []*domain.Installment, cash decimal.Decimal) (*Result, error) {
	if !cash.IsPositive() {
		return nil, apperrors.WrapInvalidAmount(cash.String())
	}

	ordered := make([]*domain.Installment, len(installments))
	copy(ordered, installments)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].DueDate.Equal(ordered[j].DueDate) {
			return ordered[i].DueDate.Before(ordered[j].DueDate)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	result := &Result{Leftover: decimal.Zero}
	remaining := cash

	for _, inst := range ordered {
		if remaining.IsZero() {
			break
		}

		penalty := decimal.Min(remaining, inst.PenaltyShortfall())
		if penalty.IsNegative() {
			penalty = decimal.Zero
		}
		remaining = remaining.Sub(penalty)

		rental := decimal.Min(remaining, inst.RentalShortfall())
		if rental.IsNegative() {
			rental = decimal.Zero
		}
		remaining = remaining.Sub(rental)

		if penalty.IsPositive() || rental.IsPositive() {
			result.Lines = append(result.Lines, Line{
				InstallmentID: inst.ID,
				Penalty:       penalty,
				Rental:        rental,
			})
		}
	}

	result.Leftover = remaining
	return result, nil
}
