package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/microfin/collection-ledger/internal/domain"
)

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

func (r *installmentRepository) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	query := `
		SELECT id, loan_id, due_date, rental_due, rental_paid, penalty_due, penalty_paid, created_at
		FROM installments
		WHERE loan_id = $1
		ORDER BY due_date, id
	`

	var installments []*domain.Installment
	err := r.db.SelectContext(ctx, &installments, query, loanID)
	if err != nil {
		return nil, err
	}

	return installments, nil
}
