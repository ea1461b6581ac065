package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// ErrDuplicateRef is returned when a receipt with the same idempotency
// reference already exists. The caller resolves it to the stored receipt.
var ErrDuplicateRef = errors.New("receipt reference already exists")

type receiptRepository struct {
	db *sqlx.DB
}

func NewReceiptRepository(db *sqlx.DB) ReceiptRepository {
	return &receiptRepository{db: db}
}

func (r *receiptRepository) Create(ctx context.Context, receipt *domain.Receipt) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Serialize against concurrent mutations on the same loan.
	if err = lockLoan(ctx, tx, receipt.LoanID); err != nil {
		return err
	}

	query := `
		INSERT INTO receipts (id, receipt_ref, loan_id, amount, suspense_amount, collection_date, collected_by, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.ExecContext(ctx, query,
		receipt.ID,
		receipt.ReceiptRef,
		receipt.LoanID,
		receipt.Amount,
		receipt.SuspenseAmount,
		receipt.CollectionDate,
		receipt.CollectedBy,
		receipt.Status,
		receipt.CreatedAt,
		receipt.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRef
		}
		return err
	}

	lineQuery := `
		INSERT INTO receipt_lines (id, receipt_id, installment_id, penalty, rental)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Guarded increments: a concurrent allocation that already consumed
	// the shortfall makes the WHERE clause miss and the whole receipt
	// rolls back as a conflict.
	payQuery := `
		UPDATE installments
		SET penalty_paid = penalty_paid + $2, rental_paid = rental_paid + $3
		WHERE id = $1
		  AND penalty_paid + $2 <= penalty_due
		  AND rental_paid + $3 <= rental_due
	`

	penaltyTotal := decimal.Zero
	rentalTotal := decimal.Zero

	for _, line := range receipt.Lines {
		_, err = tx.ExecContext(ctx, lineQuery,
			line.ID,
			line.ReceiptID,
			line.InstallmentID,
			line.Penalty,
			line.Rental,
		)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, payQuery, line.InstallmentID, line.Penalty, line.Rental)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return apperrors.WrapConflict(receipt.LoanID)
		}

		penaltyTotal = penaltyTotal.Add(line.Penalty)
		rentalTotal = rentalTotal.Add(line.Rental)
	}

	balanceQuery := `
		UPDATE loan_accounts
		SET principal_balance = principal_balance - $2,
		    penalty_balance = penalty_balance - $3,
		    suspense_balance = suspense_balance + $4,
		    updated_at = $5
		WHERE loan_id = $1
	`

	_, err = tx.ExecContext(ctx, balanceQuery,
		receipt.LoanID,
		rentalTotal,
		penaltyTotal,
		receipt.SuspenseAmount,
		time.Now(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	query := `
		SELECT id, COALESCE(receipt_ref, '') AS receipt_ref, loan_id, amount, suspense_amount, collection_date, collected_by, status,
		       COALESCE(cancel_reason, '') AS cancel_reason, COALESCE(cancel_requested_by, '') AS cancel_requested_by,
		       COALESCE(approved_by, '') AS approved_by, created_at, updated_at
		FROM receipts
		WHERE id = $1
	`

	var receipt domain.Receipt
	err := r.db.GetContext(ctx, &receipt, query, id)
	if err != nil {
		return nil, err
	}

	if err = r.attachLines(ctx, &receipt); err != nil {
		return nil, err
	}

	return &receipt, nil
}

func (r *receiptRepository) GetByRef(ctx context.Context, ref string) (*domain.Receipt, error) {
	query := `
		SELECT id, COALESCE(receipt_ref, '') AS receipt_ref, loan_id, amount, suspense_amount, collection_date, collected_by, status,
		       COALESCE(cancel_reason, '') AS cancel_reason, COALESCE(cancel_requested_by, '') AS cancel_requested_by,
		       COALESCE(approved_by, '') AS approved_by, created_at, updated_at
		FROM receipts
		WHERE receipt_ref = $1
	`

	var receipt domain.Receipt
	err := r.db.GetContext(ctx, &receipt, query, ref)
	if err != nil {
		return nil, err
	}

	if err = r.attachLines(ctx, &receipt); err != nil {
		return nil, err
	}

	return &receipt, nil
}

func (r *receiptRepository) ListByLoanID(ctx context.Context, loanID string) ([]*domain.Receipt, error) {
	query := `
		SELECT id, COALESCE(receipt_ref, '') AS receipt_ref, loan_id, amount, suspense_amount, collection_date, collected_by, status,
		       COALESCE(cancel_reason, '') AS cancel_reason, COALESCE(cancel_requested_by, '') AS cancel_requested_by,
		       COALESCE(approved_by, '') AS approved_by, created_at, updated_at
		FROM receipts
		WHERE loan_id = $1
		ORDER BY collection_date DESC, created_at DESC
	`

	var receipts []*domain.Receipt
	err := r.db.SelectContext(ctx, &receipts, query, loanID)
	if err != nil {
		return nil, err
	}

	for _, receipt := range receipts {
		if err = r.attachLines(ctx, receipt); err != nil {
			return nil, err
		}
	}

	return receipts, nil
}

func (r *receiptRepository) ListPending(ctx context.Context) ([]*domain.Receipt, error) {
	query := `
		SELECT id, COALESCE(receipt_ref, '') AS receipt_ref, loan_id, amount, suspense_amount, collection_date, collected_by, status,
		       COALESCE(cancel_reason, '') AS cancel_reason, COALESCE(cancel_requested_by, '') AS cancel_requested_by,
		       COALESCE(approved_by, '') AS approved_by, created_at, updated_at
		FROM receipts
		WHERE status = $1
		ORDER BY updated_at
	`

	var receipts []*domain.Receipt
	err := r.db.SelectContext(ctx, &receipts, query, domain.ReceiptStatusCancellationPending)
	if err != nil {
		return nil, err
	}

	for _, receipt := range receipts {
		if err = r.attachLines(ctx, receipt); err != nil {
			return nil, err
		}
	}

	return receipts, nil
}

func (r *receiptRepository) UpdateStatus(ctx context.Context, receipt *domain.Receipt, fromStatus string) error {
	query := `
		UPDATE receipts
		SET status = $3, cancel_reason = NULLIF($4, ''), cancel_requested_by = NULLIF($5, ''), approved_by = NULLIF($6, ''), updated_at = $7
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		receipt.ID,
		fromStatus,
		receipt.Status,
		receipt.CancelReason,
		receipt.CancelRequestedBy,
		receipt.ApprovedBy,
		time.Now(),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return apperrors.WrapInvalidState(receipt.ID.String(), fromStatus, receipt.Status)
	}

	return nil
}

func (r *receiptRepository) Cancel(ctx context.Context, receipt *domain.Receipt) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err = lockLoan(ctx, tx, receipt.LoanID); err != nil {
		return err
	}

	statusQuery := `
		UPDATE receipts
		SET status = $3, approved_by = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`

	result, err := tx.ExecContext(ctx, statusQuery,
		receipt.ID,
		domain.ReceiptStatusCancellationPending,
		domain.ReceiptStatusCancelled,
		receipt.ApprovedBy,
		time.Now(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return apperrors.WrapInvalidState(receipt.ID.String(), domain.ReceiptStatusCancellationPending, domain.ReceiptStatusCancelled)
	}

	// Inverse replay of the recorded lines. The guard keeps a racing
	// double reversal from driving paid amounts negative.
	reverseQuery := `
		UPDATE installments
		SET penalty_paid = penalty_paid - $2, rental_paid = rental_paid - $3
		WHERE id = $1
		  AND penalty_paid - $2 >= 0
		  AND rental_paid - $3 >= 0
	`

	penaltyTotal := decimal.Zero
	rentalTotal := decimal.Zero

	for _, line := range receipt.Lines {
		result, err := tx.ExecContext(ctx, reverseQuery, line.InstallmentID, line.Penalty, line.Rental)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return apperrors.WrapConflict(receipt.LoanID)
		}

		penaltyTotal = penaltyTotal.Add(line.Penalty)
		rentalTotal = rentalTotal.Add(line.Rental)
	}

	balanceQuery := `
		UPDATE loan_accounts
		SET principal_balance = principal_balance + $2,
		    penalty_balance = penalty_balance + $3,
		    suspense_balance = suspense_balance - $4,
		    updated_at = $5
		WHERE loan_id = $1 AND suspense_balance - $4 >= 0
	`

	result, err = tx.ExecContext(ctx, balanceQuery,
		receipt.LoanID,
		rentalTotal,
		penaltyTotal,
		receipt.SuspenseAmount,
		time.Now(),
	)
	if err != nil {
		return err
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return apperrors.WrapConflict(receipt.LoanID)
	}

	return tx.Commit()
}

func (r *receiptRepository) attachLines(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		SELECT id, receipt_id, installment_id, penalty, rental
		FROM receipt_lines
		WHERE receipt_id = $1
		ORDER BY id
	`

	return r.db.SelectContext(ctx, &receipt.Lines, query, receipt.ID)
}

func lockLoan(ctx context.Context, tx *sqlx.Tx, loanID string) error {
	var locked string
	return tx.GetContext(ctx, &locked, `SELECT loan_id FROM loan_accounts WHERE loan_id = $1 FOR UPDATE`, loanID)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
