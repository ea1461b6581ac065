package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt statuses. A receipt starts active; cancellation moves it to
// cancellation_pending, from where an approver either cancels it
// (terminal) or rejects the request, returning it to active.
const (
	ReceiptStatusActive              = "active"
	ReceiptStatusCancellationPending = "cancellation_pending"
	ReceiptStatusCancelled           = "cancelled"
)

// receiptTransitions is the single source of truth for legal status moves.
var receiptTransitions = map[string][]string{
	ReceiptStatusActive:              {ReceiptStatusCancellationPending},
	ReceiptStatusCancellationPending: {ReceiptStatusCancelled, ReceiptStatusActive},
	ReceiptStatusCancelled:           {},
}

// CanTransition reports whether a receipt status may move from one
// status to another.
func CanTransition(from, to string) bool {
	for _, next := range receiptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Receipt is the durable record of one collection event. Its allocation
// lines never change after creation; cancellation compensates on the
// installments instead of rewriting history.
type Receipt struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	ReceiptRef        string            `json:"receipt_ref,omitempty" db:"receipt_ref"`
	LoanID            string            `json:"loan_id" db:"loan_id"`
	Amount            decimal.Decimal   `json:"amount" db:"amount"`
	SuspenseAmount    decimal.Decimal   `json:"suspense_amount" db:"suspense_amount"`
	CollectionDate    time.Time         `json:"collection_date" db:"collection_date"`
	CollectedBy       string            `json:"collected_by" db:"collected_by"`
	Status            string            `json:"status" db:"status"`
	CancelReason      string            `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelRequestedBy string            `json:"cancel_requested_by,omitempty" db:"cancel_requested_by"`
	ApprovedBy        string            `json:"approved_by,omitempty" db:"approved_by"`
	Lines             []*AllocationLine `json:"lines" db:"-"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// AllocationLine records how much of a receipt went to one installment,
// split into penalty and rental portions.
type AllocationLine struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	ReceiptID     uuid.UUID       `json:"receipt_id" db:"receipt_id"`
	InstallmentID uuid.UUID       `json:"installment_id" db:"installment_id"`
	Penalty       decimal.Decimal `json:"penalty" db:"penalty"`
	Rental        decimal.Decimal `json:"rental" db:"rental"`
}

// Allocated sums the portions of every line on the receipt. Together
// with SuspenseAmount it must equal Amount.
func (r *Receipt) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.Penalty).Add(line.Rental)
	}
	return total
}

// DTOs for requests and responses

type CollectRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ReceiptRef  string          `json:"receipt_ref" validate:"omitempty,max=64"`
	CollectedBy string          `json:"collected_by" validate:"required"`
}

type RequestCancelRequest struct {
	Reason      string `json:"reason" validate:"required"`
	RequestedBy string `json:"requested_by" validate:"required"`
}

type ResolveCancelRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
}

type HistoryResponse struct {
	LoanID   string     `json:"loan_id"`
	Receipts []*Receipt `json:"receipts"`
}
