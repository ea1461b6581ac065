package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/microfin/collection-ledger/internal/allocation"
	"github.com/microfin/collection-ledger/internal/config"
	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// CollectionService owns the receipt lifecycle: posting a collection and
// driving a receipt through the two-party cancellation workflow.
type CollectionService struct {
	loanRepo        repository.LoanRepository
	installmentRepo repository.InstallmentRepository
	receiptRepo     repository.ReceiptRepository
	locker          LoanLocker
	idempotency     IdempotencyStore
	events          EventPublisher
	config          *config.Config
	logger          *logrus.Logger
}

func NewCollectionService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	receiptRepo repository.ReceiptRepository,
	locker LoanLocker,
	idempotency IdempotencyStore,
	events EventPublisher,
	config *config.Config,
	logger *logrus.Logger,
) *CollectionService {
	return &CollectionService{
		loanRepo:        loanRepo,
		installmentRepo: installmentRepo,
		receiptRepo:     receiptRepo,
		locker:          locker,
		idempotency:     idempotency,
		events:          events,
		config:          config,
		logger:          logger,
	}
}

// Collect allocates cash against the loan's installments and persists
// the result as an active receipt. A receiptRef, when supplied, is an
// idempotency token: a retry with the same ref returns the stored
// receipt without mutating anything.
func (s *CollectionService) Collect(ctx context.Context, loanID string, amount decimal.Decimal, date time.Time, receiptRef, collectedBy string) (*domain.Receipt, error) {
	if !amount.IsPositive() {
		return nil, apperrors.WrapInvalidAmount(amount.String())
	}

	if receiptRef != "" {
		if existing, err := s.findByRef(ctx, receiptRef); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	unlock, err := s.locker.Acquire(ctx, loanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loan, err := s.loanRepo.GetByLoanID(ctx, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapLoanNotFound(loanID)
	}
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	if loan.CycleStatus != domain.CycleStatusOpen {
		return nil, apperrors.WrapCycleClosed(loanID)
	}

	installments, err := s.installmentRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	view, _ := buildDueView(loan, installments, truncateToDay(date))
	if !view.DueAmount.IsPositive() {
		return nil, apperrors.WrapAlreadySettled(loanID)
	}

	result, err := allocation.Allocate(installments, amount)
	if err != nil {
		return nil, err
	}

	if result.Leftover.IsPositive() {
		limit := s.config.GetMaxSuspenseBalance()
		if loan.SuspenseBalance.Add(result.Leftover).GreaterThan(limit) {
			return nil, apperrors.WrapSuspenseLimitExceeded(loanID, limit.String())
		}
	}

	now := time.Now()
	receipt := &domain.Receipt{
		ID:             uuid.New(),
		ReceiptRef:     receiptRef,
		LoanID:         loanID,
		Amount:         amount,
		SuspenseAmount: result.Leftover,
		CollectionDate: truncateToDay(date),
		CollectedBy:    collectedBy,
		Status:         domain.ReceiptStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, line := range result.Lines {
		receipt.Lines = append(receipt.Lines, &domain.AllocationLine{
			ID:            uuid.New(),
			ReceiptID:     receipt.ID,
			InstallmentID: line.InstallmentID,
			Penalty:       line.Penalty,
			Rental:        line.Rental,
		})
	}

	if err = s.receiptRepo.Create(ctx, receipt); err != nil {
		if errors.Is(err, repository.ErrDuplicateRef) {
			existing, lookupErr := s.findByRef(ctx, receiptRef)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		var business *apperrors.BusinessError
		if errors.As(err, &business) {
			return nil, business
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	if receiptRef != "" {
		if err := s.idempotency.Put(ctx, receiptRef, receipt.ID); err != nil {
			s.logger.WithError(err).WithField("receipt_ref", receiptRef).Warn("failed to cache receipt ref")
		}
	}

	s.publish(ctx, EventReceiptCreated, receipt, collectedBy)
	s.logger.WithFields(logrus.Fields{
		"loan_id":    loanID,
		"receipt_id": receipt.ID,
		"amount":     amount,
		"leftover":   result.Leftover,
	}).Info("receipt created")

	return receipt, nil
}

// RequestCancellation moves an active receipt to cancellation_pending,
// stamping the requester and reason.
func (s *CollectionService) RequestCancellation(ctx context.Context, receiptID uuid.UUID, reason, requestedBy string) (*domain.Receipt, error) {
	if reason == "" {
		return nil, apperrors.WrapInvalidReason(receiptID.String())
	}

	receipt, err := s.getReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(receipt.Status, domain.ReceiptStatusCancellationPending) {
		return nil, apperrors.WrapInvalidState(receiptID.String(), receipt.Status, domain.ReceiptStatusCancellationPending)
	}

	from := receipt.Status
	receipt.Status = domain.ReceiptStatusCancellationPending
	receipt.CancelReason = reason
	receipt.CancelRequestedBy = requestedBy
	receipt.ApprovedBy = ""

	if err = s.receiptRepo.UpdateStatus(ctx, receipt, from); err != nil {
		var business *apperrors.BusinessError
		if errors.As(err, &business) {
			return nil, business
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.publish(ctx, EventReceiptCancellationRequested, receipt, requestedBy)
	s.logger.WithFields(logrus.Fields{
		"receipt_id":   receiptID,
		"requested_by": requestedBy,
	}).Info("receipt cancellation requested")

	return receipt, nil
}

// ApproveCancellation voids a pending receipt by replaying the inverse
// of its recorded allocation lines. The requester may not approve their
// own reversal.
func (s *CollectionService) ApproveCancellation(ctx context.Context, receiptID uuid.UUID, approvedBy string) (*domain.Receipt, error) {
	receipt, err := s.getReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(receipt.Status, domain.ReceiptStatusCancelled) {
		return nil, apperrors.WrapInvalidState(receiptID.String(), receipt.Status, domain.ReceiptStatusCancelled)
	}

	if receipt.CancelRequestedBy == approvedBy {
		return nil, apperrors.WrapSelfApproval(receiptID.String())
	}

	unlock, err := s.locker.Acquire(ctx, receipt.LoanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt.ApprovedBy = approvedBy
	if err = s.receiptRepo.Cancel(ctx, receipt); err != nil {
		var business *apperrors.BusinessError
		if errors.As(err, &business) {
			return nil, business
		}
		return nil, apperrors.WrapDatabaseError(err)
	}
	receipt.Status = domain.ReceiptStatusCancelled

	s.publish(ctx, EventReceiptCancelled, receipt, approvedBy)
	s.logger.WithFields(logrus.Fields{
		"receipt_id":  receiptID,
		"loan_id":     receipt.LoanID,
		"approved_by": approvedBy,
	}).Info("receipt cancelled")

	return receipt, nil
}

// RejectCancellation returns a pending receipt to active, clearing the
// request. No balances change.
func (s *CollectionService) RejectCancellation(ctx context.Context, receiptID uuid.UUID, rejectedBy string) (*domain.Receipt, error) {
	receipt, err := s.getReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(receipt.Status, domain.ReceiptStatusActive) {
		return nil, apperrors.WrapInvalidState(receiptID.String(), receipt.Status, domain.ReceiptStatusActive)
	}

	from := receipt.Status
	receipt.Status = domain.ReceiptStatusActive
	receipt.CancelReason = ""
	receipt.CancelRequestedBy = ""
	receipt.ApprovedBy = ""

	if err = s.receiptRepo.UpdateStatus(ctx, receipt, from); err != nil {
		var business *apperrors.BusinessError
		if errors.As(err, &business) {
			return nil, business
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.publish(ctx, EventReceiptCancellationRejected, receipt, rejectedBy)
	s.logger.WithFields(logrus.Fields{
		"receipt_id":  receiptID,
		"rejected_by": rejectedBy,
	}).Info("receipt cancellation rejected")

	return receipt, nil
}

// ListPending returns the approval queue.
func (s *CollectionService) ListPending(ctx context.Context) ([]*domain.Receipt, error) {
	receipts, err := s.receiptRepo.ListPending(ctx)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return receipts, nil
}

func (s *CollectionService) getReceipt(ctx context.Context, receiptID uuid.UUID) (*domain.Receipt, error) {
	receipt, err := s.receiptRepo.GetByID(ctx, receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapReceiptNotFound(receiptID.String())
	}
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return receipt, nil
}

func (s *CollectionService) findByRef(ctx context.Context, ref string) (*domain.Receipt, error) {
	if id, ok, err := s.idempotency.Get(ctx, ref); err != nil {
		s.logger.WithError(err).WithField("receipt_ref", ref).Warn("idempotency cache lookup failed")
	} else if ok {
		receipt, err := s.receiptRepo.GetByID(ctx, id)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapDatabaseError(err)
		}
	}

	receipt, err := s.receiptRepo.GetByRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return receipt, nil
}

func (s *CollectionService) publish(ctx context.Context, name string, receipt *domain.Receipt, actor string) {
	event := Event{
		Name:       name,
		ReceiptID:  receipt.ID.String(),
		LoanID:     receipt.LoanID,
		Amount:     receipt.Amount,
		Actor:      actor,
		OccurredAt: time.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", name).Warn("failed to publish domain event")
	}
}
