package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/service"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.LoanAccount, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LoanAccount), args.Error(1)
}

func (m *MockLoanRepository) ListByScope(ctx context.Context, branchID, centerID string) ([]*domain.LoanAccount, error) {
	args := m.Called(ctx, branchID, centerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LoanAccount), args.Error(1)
}

func (m *MockLoanRepository) CloseSettledLoans(ctx context.Context, asOf time.Time) (int64, error) {
	args := m.Called(ctx, asOf)
	return args.Get(0).(int64), args.Error(1)
}

type MockInstallmentRepository struct {
	mock.Mock
}

func (m *MockInstallmentRepository) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

type MockReceiptRepository struct {
	mock.Mock
}

func (m *MockReceiptRepository) Create(ctx context.Context, receipt *domain.Receipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockReceiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockReceiptRepository) GetByRef(ctx context.Context, ref string) (*domain.Receipt, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockReceiptRepository) ListByLoanID(ctx context.Context, loanID string) ([]*domain.Receipt, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Receipt), args.Error(1)
}

func (m *MockReceiptRepository) ListPending(ctx context.Context) ([]*domain.Receipt, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Receipt), args.Error(1)
}

func (m *MockReceiptRepository) UpdateStatus(ctx context.Context, receipt *domain.Receipt, fromStatus string) error {
	args := m.Called(ctx, receipt, fromStatus)
	return args.Error(0)
}

func (m *MockReceiptRepository) Cancel(ctx context.Context, receipt *domain.Receipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

// NopLocker hands out locks unconditionally.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, loanID string) (service.Unlock, error) {
	return func() {}, nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event service.Event) error {
	return nil
}

// MemoryIdempotencyStore keeps receipt refs in a map.
type MemoryIdempotencyStore struct {
	refs map[string]uuid.UUID
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{refs: make(map[string]uuid.UUID)}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, ref string) (uuid.UUID, bool, error) {
	id, ok := s.refs[ref]
	return id, ok, nil
}

func (s *MemoryIdempotencyStore) Put(ctx context.Context, ref string, receiptID uuid.UUID) error {
	s.refs[ref] = receiptID
	return nil
}
