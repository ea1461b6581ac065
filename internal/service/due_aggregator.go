package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// DueAggregator computes per-loan due views for a branch/center scope.
// Pure read path, no side effects.
type DueAggregator struct {
	loanRepo        repository.LoanRepository
	installmentRepo repository.InstallmentRepository
	logger          *logrus.Logger
}

func NewDueAggregator(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	logger *logrus.Logger,
) *DueAggregator {
	return &DueAggregator{
		loanRepo:        loanRepo,
		installmentRepo: installmentRepo,
		logger:          logger,
	}
}

// GetDueView returns a due view per loan in scope for the given date,
// plus scope totals. An empty centerID covers the whole branch.
func (a *DueAggregator) GetDueView(ctx context.Context, branchID, centerID string, date time.Time) (*domain.DueListResponse, error) {
	loans, err := a.loanRepo.ListByScope(ctx, branchID, centerID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	date = truncateToDay(date)

	items := make([]*domain.DueView, 0, len(loans))
	totals := &domain.DueTotals{
		Due:       decimal.Zero,
		Collected: decimal.Zero,
		Arrears:   decimal.Zero,
		Suspense:  decimal.Zero,
	}

	for _, loan := range loans {
		installments, err := a.installmentRepo.GetByLoanID(ctx, loan.LoanID)
		if err != nil {
			return nil, apperrors.WrapDatabaseError(err)
		}

		view, collected := buildDueView(loan, installments, date)
		items = append(items, view)

		totals.Due = totals.Due.Add(view.DueAmount)
		totals.Collected = totals.Collected.Add(collected)
		totals.Arrears = totals.Arrears.Add(view.Arrears)
		totals.Suspense = totals.Suspense.Add(view.Suspense)
	}

	return &domain.DueListResponse{Items: items, Totals: totals}, nil
}

// buildDueView computes one loan's projection. Due covers installments
// whose due date is on or before the query date; arrears only those
// strictly before it. NetArrears keeps its sign: positive is overdue
// exposure, negative a credit, zero on track.
func buildDueView(loan *domain.LoanAccount, installments []*domain.Installment, date time.Time) (*domain.DueView, decimal.Decimal) {
	due := decimal.Zero
	outstanding := decimal.Zero
	arrears := decimal.Zero
	collected := decimal.Zero

	for _, inst := range installments {
		shortfall := inst.PenaltyShortfall().Add(inst.RentalShortfall())
		outstanding = outstanding.Add(shortfall)

		dueDate := truncateToDay(inst.DueDate)
		if !dueDate.After(date) {
			due = due.Add(shortfall)
			collected = collected.Add(inst.PenaltyPaid).Add(inst.RentalPaid)
		}
		if dueDate.Before(date) {
			arrears = arrears.Add(shortfall)
		}
	}

	canCollect := due.IsPositive() && loan.CycleStatus == domain.CycleStatusOpen

	return &domain.DueView{
		LoanID:      loan.LoanID,
		BranchID:    loan.BranchID,
		CenterID:    loan.CenterID,
		DueAmount:   due,
		Outstanding: outstanding,
		Arrears:     arrears,
		Suspense:    loan.SuspenseBalance,
		NetArrears:  arrears.Sub(loan.SuspenseBalance),
		CanCollect:  canCollect,
	}, collected
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
