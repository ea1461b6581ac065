package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/microfin/collection-ledger/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.LoanAccount, error) {
	query := `
		SELECT loan_id, branch_id, center_id, principal_balance, penalty_balance, suspense_balance, cycle_status, created_at, updated_at
		FROM loan_accounts
		WHERE loan_id = $1
	`

	var loan domain.LoanAccount
	err := r.db.GetContext(ctx, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) ListByScope(ctx context.Context, branchID, centerID string) ([]*domain.LoanAccount, error) {
	query := `
		SELECT loan_id, branch_id, center_id, principal_balance, penalty_balance, suspense_balance, cycle_status, created_at, updated_at
		FROM loan_accounts
		WHERE branch_id = $1 AND ($2 = '' OR center_id = $2)
		ORDER BY loan_id
	`

	var loans []*domain.LoanAccount
	err := r.db.SelectContext(ctx, &loans, query, branchID, centerID)
	if err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) CloseSettledLoans(ctx context.Context, asOf time.Time) (int64, error) {
	query := `
		UPDATE loan_accounts
		SET cycle_status = $1, updated_at = $2
		WHERE cycle_status = $3
		  AND NOT EXISTS (
			SELECT 1 FROM installments i
			WHERE i.loan_id = loan_accounts.loan_id
			  AND (i.rental_paid < i.rental_due OR i.penalty_paid < i.penalty_due)
		  )
	`

	result, err := r.db.ExecContext(ctx, query, domain.CycleStatusClosed, asOf, domain.CycleStatusOpen)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
