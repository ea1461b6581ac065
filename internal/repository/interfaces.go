package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/microfin/collection-ledger/internal/domain"
)

// LoanRepository defines the interface for loan account data operations
type LoanRepository interface {
	// GetByLoanID retrieves a loan account by its loan ID
	GetByLoanID(ctx context.Context, loanID string) (*domain.LoanAccount, error)

	// ListByScope retrieves loan accounts for a branch, optionally
	// narrowed to a center (empty centerID means the whole branch)
	ListByScope(ctx context.Context, branchID, centerID string) ([]*domain.LoanAccount, error)

	// CloseSettledLoans closes the cycle on loans whose installments
	// are all fully paid as of the given date, returning how many
	CloseSettledLoans(ctx context.Context, asOf time.Time) (int64, error)
}

// InstallmentRepository defines the interface for installment reads
type InstallmentRepository interface {
	// GetByLoanID retrieves all installments for a loan ordered by due date
	GetByLoanID(ctx context.Context, loanID string) ([]*domain.Installment, error)
}

// ReceiptRepository defines the interface for receipt data operations.
// Create and Cancel run their balance mutations in a single loan-scoped
// transaction; a guarded update losing its race surfaces as a conflict.
type ReceiptRepository interface {
	// Create persists a receipt with its allocation lines, applies the
	// paid increments to each referenced installment, adjusts the loan
	// balances and books the leftover as suspense, all atomically
	Create(ctx context.Context, receipt *domain.Receipt) error

	// GetByID retrieves a receipt with its allocation lines
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error)

	// GetByRef retrieves a receipt by its idempotency reference
	GetByRef(ctx context.Context, ref string) (*domain.Receipt, error)

	// ListByLoanID retrieves a loan's receipts, newest collection first
	ListByLoanID(ctx context.Context, loanID string) ([]*domain.Receipt, error)

	// ListPending retrieves all receipts awaiting cancellation approval
	ListPending(ctx context.Context) ([]*domain.Receipt, error)

	// UpdateStatus moves a receipt to receipt.Status, guarded by the
	// expected source status
	UpdateStatus(ctx context.Context, receipt *domain.Receipt, fromStatus string) error

	// Cancel replays the inverse of the receipt's allocation lines
	// against the installments and loan balances and marks the receipt
	// cancelled, all atomically
	Cancel(ctx context.Context, receipt *domain.Receipt) error
}
