package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Installment is one scheduled obligation on a loan: a rental
// (principal plus interest) portion and a penalty portion, each tracking
// how much of it has been paid. Invariant outside an in-flight
// allocation: paid <= due for both portions.
type Installment struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	LoanID      string          `json:"loan_id" db:"loan_id"`
	DueDate     time.Time       `json:"due_date" db:"due_date"`
	RentalDue   decimal.Decimal `json:"rental_due" db:"rental_due"`
	RentalPaid  decimal.Decimal `json:"rental_paid" db:"rental_paid"`
	PenaltyDue  decimal.Decimal `json:"penalty_due" db:"penalty_due"`
	PenaltyPaid decimal.Decimal `json:"penalty_paid" db:"penalty_paid"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// RentalShortfall returns the unpaid rental portion.
func (i *Installment) RentalShortfall() decimal.Decimal {
	return i.RentalDue.Sub(i.RentalPaid)
}

// PenaltyShortfall returns the unpaid penalty portion.
func (i *Installment) PenaltyShortfall() decimal.Decimal {
	return i.PenaltyDue.Sub(i.PenaltyPaid)
}

// Unpaid reports whether anything remains to be paid on the installment.
func (i *Installment) Unpaid() bool {
	return i.RentalShortfall().IsPositive() || i.PenaltyShortfall().IsPositive()
}
