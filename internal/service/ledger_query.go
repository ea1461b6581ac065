package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// LedgerQueryService composes the read paths so callers never recompute
// netting or allocation logic themselves. No mutation capability.
type LedgerQueryService struct {
	loanRepo    repository.LoanRepository
	receiptRepo repository.ReceiptRepository
	due         *DueAggregator
}

func NewLedgerQueryService(
	loanRepo repository.LoanRepository,
	receiptRepo repository.ReceiptRepository,
	due *DueAggregator,
) *LedgerQueryService {
	return &LedgerQueryService{
		loanRepo:    loanRepo,
		receiptRepo: receiptRepo,
		due:         due,
	}
}

// GetHistory returns a loan's receipts, newest collection first.
func (s *LedgerQueryService) GetHistory(ctx context.Context, loanID string) ([]*domain.Receipt, error) {
	_, err := s.loanRepo.GetByLoanID(ctx, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapLoanNotFound(loanID)
	}
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	receipts, err := s.receiptRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return receipts, nil
}

// GetReceipt returns one receipt with its allocation lines.
func (s *LedgerQueryService) GetReceipt(ctx context.Context, receiptID uuid.UUID) (*domain.Receipt, error) {
	receipt, err := s.receiptRepo.GetByID(ctx, receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapReceiptNotFound(receiptID.String())
	}
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return receipt, nil
}

// GetDuePayments delegates list views to the due aggregator.
func (s *LedgerQueryService) GetDuePayments(ctx context.Context, branchID, centerID string, date time.Time) (*domain.DueListResponse, error) {
	return s.due.GetDueView(ctx, branchID, centerID, date)
}
