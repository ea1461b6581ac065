package service_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/microfin/collection-ledger/internal/config"
	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/internal/service"
	"github.com/microfin/collection-ledger/pkg/apperrors"
	"github.com/microfin/collection-ledger/tests/mocks"
)

type fixture struct {
	loanRepo        *mocks.MockLoanRepository
	installmentRepo *mocks.MockInstallmentRepository
	receiptRepo     *mocks.MockReceiptRepository
	idempotency     *mocks.MemoryIdempotencyStore
	svc             *service.CollectionService
}

func newFixture() *fixture {
	f := &fixture{
		loanRepo:        new(mocks.MockLoanRepository),
		installmentRepo: new(mocks.MockInstallmentRepository),
		receiptRepo:     new(mocks.MockReceiptRepository),
		idempotency:     mocks.NewMemoryIdempotencyStore(),
	}

	cfg := &config.Config{
		Business: config.BusinessConfig{MaxSuspenseBalance: "1000"},
	}

	f.svc = service.NewCollectionService(
		f.loanRepo,
		f.installmentRepo,
		f.receiptRepo,
		mocks.NopLocker{},
		f.idempotency,
		mocks.NopPublisher{},
		cfg,
		testLogger(),
	)

	return f
}

var collectionDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func openLoan(suspense float64) *domain.LoanAccount {
	return &domain.LoanAccount{
		LoanID:          "LN001",
		BranchID:        "BR01",
		SuspenseBalance: decimal.NewFromFloat(suspense),
		CycleStatus:     domain.CycleStatusOpen,
	}
}

func TestCollect(t *testing.T) {
	overdue := collectionDate.AddDate(0, -2, 0)

	tests := []struct {
		name          string
		amount        decimal.Decimal
		setupMocks    func(*fixture)
		expectedError error
		validate      func(*testing.T, *fixture, *domain.Receipt)
	}{
		{
			name:   "Success - waterfall applied and persisted",
			amount: decimal.NewFromInt(120),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(0), nil)
				f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
					dueInstallment(overdue, 50, 0, 100, 0),
				}, nil)
				f.receiptRepo.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.Receipt) bool {
					return r.Status == domain.ReceiptStatusActive && len(r.Lines) == 1
				})).Return(nil)
			},
			validate: func(t *testing.T, f *fixture, receipt *domain.Receipt) {
				require.Len(t, receipt.Lines, 1)
				assert.True(t, receipt.Lines[0].Penalty.Equal(decimal.NewFromInt(50)))
				assert.True(t, receipt.Lines[0].Rental.Equal(decimal.NewFromInt(70)))
				assert.True(t, receipt.SuspenseAmount.IsZero())
				// Conservation across lines and leftover.
				assert.True(t, receipt.Allocated().Add(receipt.SuspenseAmount).Equal(receipt.Amount))
			},
		},
		{
			name:   "Success - leftover booked as suspense",
			amount: decimal.NewFromInt(180),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(0), nil)
				f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
					dueInstallment(overdue, 0, 0, 150, 0),
				}, nil)
				f.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
			validate: func(t *testing.T, f *fixture, receipt *domain.Receipt) {
				assert.True(t, receipt.SuspenseAmount.Equal(decimal.NewFromInt(30)))
			},
		},
		{
			name:          "Failure - zero amount",
			amount:        decimal.Zero,
			setupMocks:    func(f *fixture) {},
			expectedError: apperrors.ErrInvalidAmount,
		},
		{
			name:          "Failure - negative amount",
			amount:        decimal.NewFromInt(-5),
			setupMocks:    func(f *fixture) {},
			expectedError: apperrors.ErrInvalidAmount,
		},
		{
			name:   "Failure - loan not found",
			amount: decimal.NewFromInt(100),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(nil, sql.ErrNoRows)
			},
			expectedError: apperrors.ErrNotFound,
		},
		{
			name:   "Failure - cycle closed",
			amount: decimal.NewFromInt(100),
			setupMocks: func(f *fixture) {
				loan := openLoan(0)
				loan.CycleStatus = domain.CycleStatusClosed
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(loan, nil)
			},
			expectedError: apperrors.ErrCycleClosed,
		},
		{
			name:   "Failure - already settled for the period",
			amount: decimal.NewFromInt(100),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(0), nil)
				f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
					dueInstallment(overdue, 50, 50, 100, 100),
				}, nil)
			},
			expectedError: apperrors.ErrAlreadySettled,
		},
		{
			name:   "Failure - only future installments due",
			amount: decimal.NewFromInt(100),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(0), nil)
				f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
					dueInstallment(collectionDate.AddDate(0, 1, 0), 0, 0, 100, 0),
				}, nil)
			},
			expectedError: apperrors.ErrAlreadySettled,
		},
		{
			name:   "Failure - leftover would breach suspense cap",
			amount: decimal.NewFromInt(2000),
			setupMocks: func(f *fixture) {
				f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(900), nil)
				f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
					dueInstallment(overdue, 0, 0, 150, 0),
				}, nil)
			},
			expectedError: apperrors.ErrSuspenseLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setupMocks(f)

			receipt, err := f.svc.Collect(context.Background(), "LN001", tt.amount, collectionDate, "", "collector-1")

			if tt.expectedError != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, receipt)
				f.receiptRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, domain.ReceiptStatusActive, receipt.Status)
			assert.Equal(t, "collector-1", receipt.CollectedBy)
			if tt.validate != nil {
				tt.validate(t, f, receipt)
			}
			f.receiptRepo.AssertExpectations(t)
		})
	}
}

func TestCollectIdempotency(t *testing.T) {
	overdue := collectionDate.AddDate(0, -1, 0)

	t.Run("Cached ref returns stored receipt without mutation", func(t *testing.T) {
		f := newFixture()
		existing := &domain.Receipt{ID: uuid.New(), LoanID: "LN001", Status: domain.ReceiptStatusActive}
		require.NoError(t, f.idempotency.Put(context.Background(), "REF-1", existing.ID))
		f.receiptRepo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)

		receipt, err := f.svc.Collect(context.Background(), "LN001", decimal.NewFromInt(100), collectionDate, "REF-1", "collector-1")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, receipt.ID)
		f.receiptRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Duplicate ref during insert resolves to stored receipt", func(t *testing.T) {
		f := newFixture()
		existing := &domain.Receipt{ID: uuid.New(), LoanID: "LN001", Status: domain.ReceiptStatusActive}

		f.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(openLoan(0), nil)
		f.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
			dueInstallment(overdue, 0, 0, 100, 0),
		}, nil)
		// First lookup misses, the insert races a duplicate, second lookup hits.
		f.receiptRepo.On("GetByRef", mock.Anything, "REF-2").Return(nil, sql.ErrNoRows).Once()
		f.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateRef)
		f.receiptRepo.On("GetByRef", mock.Anything, "REF-2").Return(existing, nil).Once()

		receipt, err := f.svc.Collect(context.Background(), "LN001", decimal.NewFromInt(100), collectionDate, "REF-2", "collector-1")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, receipt.ID)
	})
}

func TestRequestCancellation(t *testing.T) {
	receiptID := uuid.New()

	tests := []struct {
		name          string
		reason        string
		setupMocks    func(*fixture)
		expectedError error
	}{
		{
			name:   "Success",
			reason: "posted against wrong loan",
			setupMocks: func(f *fixture) {
				f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
					ID:     receiptID,
					LoanID: "LN001",
					Status: domain.ReceiptStatusActive,
				}, nil)
				f.receiptRepo.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(r *domain.Receipt) bool {
					return r.Status == domain.ReceiptStatusCancellationPending &&
						r.CancelReason == "posted against wrong loan" &&
						r.CancelRequestedBy == "collector-1"
				}), domain.ReceiptStatusActive).Return(nil)
			},
		},
		{
			name:          "Failure - empty reason",
			reason:        "",
			setupMocks:    func(f *fixture) {},
			expectedError: apperrors.ErrInvalidReason,
		},
		{
			name:   "Failure - second request while still pending",
			reason: "duplicate request",
			setupMocks: func(f *fixture) {
				f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
					ID:     receiptID,
					Status: domain.ReceiptStatusCancellationPending,
				}, nil)
			},
			expectedError: apperrors.ErrInvalidState,
		},
		{
			name:   "Failure - cancelled receipt",
			reason: "too late",
			setupMocks: func(f *fixture) {
				f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
					ID:     receiptID,
					Status: domain.ReceiptStatusCancelled,
				}, nil)
			},
			expectedError: apperrors.ErrInvalidState,
		},
		{
			name:   "Failure - receipt not found",
			reason: "whatever",
			setupMocks: func(f *fixture) {
				f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(nil, sql.ErrNoRows)
			},
			expectedError: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setupMocks(f)

			receipt, err := f.svc.RequestCancellation(context.Background(), receiptID, tt.reason, "collector-1")

			if tt.expectedError != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, receipt)
				f.receiptRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, domain.ReceiptStatusCancellationPending, receipt.Status)
			f.receiptRepo.AssertExpectations(t)
		})
	}
}

func TestApproveCancellation(t *testing.T) {
	receiptID := uuid.New()

	pendingReceipt := func() *domain.Receipt {
		return &domain.Receipt{
			ID:                receiptID,
			LoanID:            "LN001",
			Amount:            decimal.NewFromInt(120),
			Status:            domain.ReceiptStatusCancellationPending,
			CancelRequestedBy: "collector-1",
		}
	}

	t.Run("Success", func(t *testing.T) {
		f := newFixture()
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(pendingReceipt(), nil)
		f.receiptRepo.On("Cancel", mock.Anything, mock.MatchedBy(func(r *domain.Receipt) bool {
			return r.ApprovedBy == "supervisor-1"
		})).Return(nil)

		receipt, err := f.svc.ApproveCancellation(context.Background(), receiptID, "supervisor-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ReceiptStatusCancelled, receipt.Status)
		f.receiptRepo.AssertExpectations(t)
	})

	t.Run("Failure - self approval forbidden", func(t *testing.T) {
		f := newFixture()
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(pendingReceipt(), nil)

		receipt, err := f.svc.ApproveCancellation(context.Background(), receiptID, "collector-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
		assert.Nil(t, receipt)
		f.receiptRepo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("Failure - active receipt", func(t *testing.T) {
		f := newFixture()
		active := pendingReceipt()
		active.Status = domain.ReceiptStatusActive
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(active, nil)

		_, err := f.svc.ApproveCancellation(context.Background(), receiptID, "supervisor-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
		f.receiptRepo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("Failure - second approval on cancelled receipt", func(t *testing.T) {
		f := newFixture()
		cancelled := pendingReceipt()
		cancelled.Status = domain.ReceiptStatusCancelled
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(cancelled, nil)

		_, err := f.svc.ApproveCancellation(context.Background(), receiptID, "supervisor-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
		f.receiptRepo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})
}

func TestRejectCancellation(t *testing.T) {
	receiptID := uuid.New()

	t.Run("Success - receipt resumes active life", func(t *testing.T) {
		f := newFixture()
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
			ID:                receiptID,
			LoanID:            "LN001",
			Status:            domain.ReceiptStatusCancellationPending,
			CancelReason:      "wrong loan",
			CancelRequestedBy: "collector-1",
		}, nil)
		f.receiptRepo.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(r *domain.Receipt) bool {
			return r.Status == domain.ReceiptStatusActive &&
				r.CancelReason == "" &&
				r.CancelRequestedBy == ""
		}), domain.ReceiptStatusCancellationPending).Return(nil)

		receipt, err := f.svc.RejectCancellation(context.Background(), receiptID, "supervisor-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ReceiptStatusActive, receipt.Status)
		f.receiptRepo.AssertExpectations(t)
	})

	t.Run("Failure - not pending", func(t *testing.T) {
		f := newFixture()
		f.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
			ID:     receiptID,
			Status: domain.ReceiptStatusActive,
		}, nil)

		_, err := f.svc.RejectCancellation(context.Background(), receiptID, "supervisor-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
		f.receiptRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestListPending(t *testing.T) {
	f := newFixture()
	pending := []*domain.Receipt{
		{ID: uuid.New(), Status: domain.ReceiptStatusCancellationPending},
	}
	f.receiptRepo.On("ListPending", mock.Anything).Return(pending, nil)

	receipts, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending, receipts)
}
