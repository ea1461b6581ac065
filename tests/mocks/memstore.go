package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// MemStore is an in-memory implementation of the three repositories
// sharing one state, for tests that need real balance effects rather
// than canned expectations (e.g. the collect/reverse round trip). Its
// mutating methods mirror the SQL guards: paid stays within [0, due]
// and suspense never goes negative, violations surfacing as conflicts.
type MemStore struct {
	mu           sync.Mutex
	Loans        map[string]*domain.LoanAccount
	Installments map[uuid.UUID]*domain.Installment
	Receipts     map[uuid.UUID]*domain.Receipt
}

var (
	_ repository.LoanRepository        = (*MemStore)(nil)
	_ repository.ReceiptRepository     = (*MemStore)(nil)
	_ repository.InstallmentRepository = memInstallmentRepo{}
)

func NewMemStore() *MemStore {
	return &MemStore{
		Loans:        make(map[string]*domain.LoanAccount),
		Installments: make(map[uuid.UUID]*domain.Installment),
		Receipts:     make(map[uuid.UUID]*domain.Receipt),
	}
}

func (s *MemStore) AddLoan(loan *domain.LoanAccount) {
	s.Loans[loan.LoanID] = loan
}

func (s *MemStore) AddInstallment(inst *domain.Installment) {
	s.Installments[inst.ID] = inst
}

// LoanRepository

func (s *MemStore) GetByLoanID(ctx context.Context, loanID string) (*domain.LoanAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.Loans[loanID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *loan
	return &copied, nil
}

func (s *MemStore) ListByScope(ctx context.Context, branchID, centerID string) ([]*domain.LoanAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loans []*domain.LoanAccount
	for _, loan := range s.Loans {
		if loan.BranchID != branchID {
			continue
		}
		if centerID != "" && loan.CenterID != centerID {
			continue
		}
		copied := *loan
		loans = append(loans, &copied)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].LoanID < loans[j].LoanID })
	return loans, nil
}

func (s *MemStore) CloseSettledLoans(ctx context.Context, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed int64
	for _, loan := range s.Loans {
		if loan.CycleStatus != domain.CycleStatusOpen {
			continue
		}
		settled := true
		for _, inst := range s.Installments {
			if inst.LoanID != loan.LoanID {
				continue
			}
			if inst.Unpaid() {
				settled = false
				break
			}
		}
		if settled {
			loan.CycleStatus = domain.CycleStatusClosed
			closed++
		}
	}
	return closed, nil
}

// InstallmentRepo adapts the store to the installment repository, whose
// GetByLoanID signature collides with the loan repository's.
func (s *MemStore) InstallmentRepo() repository.InstallmentRepository {
	return memInstallmentRepo{s}
}

type memInstallmentRepo struct{ store *MemStore }

func (r memInstallmentRepo) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var installments []*domain.Installment
	for _, inst := range s.Installments {
		if inst.LoanID == loanID {
			copied := *inst
			installments = append(installments, &copied)
		}
	}
	sort.Slice(installments, func(i, j int) bool {
		if !installments[i].DueDate.Equal(installments[j].DueDate) {
			return installments[i].DueDate.Before(installments[j].DueDate)
		}
		return installments[i].ID.String() < installments[j].ID.String()
	})
	return installments, nil
}

// ReceiptRepository

func (s *MemStore) Create(ctx context.Context, receipt *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.ReceiptRef != "" {
		for _, existing := range s.Receipts {
			if existing.ReceiptRef == receipt.ReceiptRef {
				return repository.ErrDuplicateRef
			}
		}
	}

	loan, ok := s.Loans[receipt.LoanID]
	if !ok {
		return sql.ErrNoRows
	}

	penaltyTotal := decimal.Zero
	rentalTotal := decimal.Zero
	for _, line := range receipt.Lines {
		inst, ok := s.Installments[line.InstallmentID]
		if !ok {
			return sql.ErrNoRows
		}
		if inst.PenaltyPaid.Add(line.Penalty).GreaterThan(inst.PenaltyDue) ||
			inst.RentalPaid.Add(line.Rental).GreaterThan(inst.RentalDue) {
			return apperrors.WrapConflict(receipt.LoanID)
		}
		inst.PenaltyPaid = inst.PenaltyPaid.Add(line.Penalty)
		inst.RentalPaid = inst.RentalPaid.Add(line.Rental)
		penaltyTotal = penaltyTotal.Add(line.Penalty)
		rentalTotal = rentalTotal.Add(line.Rental)
	}

	loan.PrincipalBalance = loan.PrincipalBalance.Sub(rentalTotal)
	loan.PenaltyBalance = loan.PenaltyBalance.Sub(penaltyTotal)
	loan.SuspenseBalance = loan.SuspenseBalance.Add(receipt.SuspenseAmount)

	stored := *receipt
	s.Receipts[receipt.ID] = &stored
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.Receipts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *receipt
	return &copied, nil
}

func (s *MemStore) GetByRef(ctx context.Context, ref string) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, receipt := range s.Receipts {
		if receipt.ReceiptRef == ref {
			copied := *receipt
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *MemStore) ListByLoanID(ctx context.Context, loanID string) ([]*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var receipts []*domain.Receipt
	for _, receipt := range s.Receipts {
		if receipt.LoanID == loanID {
			copied := *receipt
			receipts = append(receipts, &copied)
		}
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].CollectionDate.After(receipts[j].CollectionDate)
	})
	return receipts, nil
}

func (s *MemStore) ListPending(ctx context.Context) ([]*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var receipts []*domain.Receipt
	for _, receipt := range s.Receipts {
		if receipt.Status == domain.ReceiptStatusCancellationPending {
			copied := *receipt
			receipts = append(receipts, &copied)
		}
	}
	return receipts, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, receipt *domain.Receipt, fromStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.Receipts[receipt.ID]
	if !ok || stored.Status != fromStatus {
		return apperrors.WrapInvalidState(receipt.ID.String(), fromStatus, receipt.Status)
	}

	stored.Status = receipt.Status
	stored.CancelReason = receipt.CancelReason
	stored.CancelRequestedBy = receipt.CancelRequestedBy
	stored.ApprovedBy = receipt.ApprovedBy
	return nil
}

func (s *MemStore) Cancel(ctx context.Context, receipt *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.Receipts[receipt.ID]
	if !ok || stored.Status != domain.ReceiptStatusCancellationPending {
		return apperrors.WrapInvalidState(receipt.ID.String(), domain.ReceiptStatusCancellationPending, domain.ReceiptStatusCancelled)
	}

	loan, ok := s.Loans[receipt.LoanID]
	if !ok || loan.SuspenseBalance.Sub(receipt.SuspenseAmount).IsNegative() {
		return apperrors.WrapConflict(receipt.LoanID)
	}

	penaltyTotal := decimal.Zero
	rentalTotal := decimal.Zero
	for _, line := range receipt.Lines {
		inst, ok := s.Installments[line.InstallmentID]
		if !ok {
			return sql.ErrNoRows
		}
		if inst.PenaltyPaid.Sub(line.Penalty).IsNegative() ||
			inst.RentalPaid.Sub(line.Rental).IsNegative() {
			return apperrors.WrapConflict(receipt.LoanID)
		}
		inst.PenaltyPaid = inst.PenaltyPaid.Sub(line.Penalty)
		inst.RentalPaid = inst.RentalPaid.Sub(line.Rental)
		penaltyTotal = penaltyTotal.Add(line.Penalty)
		rentalTotal = rentalTotal.Add(line.Rental)
	}

	loan.PrincipalBalance = loan.PrincipalBalance.Add(rentalTotal)
	loan.PenaltyBalance = loan.PenaltyBalance.Add(penaltyTotal)
	loan.SuspenseBalance = loan.SuspenseBalance.Sub(receipt.SuspenseAmount)

	stored.Status = domain.ReceiptStatusCancelled
	stored.ApprovedBy = receipt.ApprovedBy
	return nil
}
