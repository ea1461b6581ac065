package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CycleStatusOpen   = "open"
	CycleStatusClosed = "closed"
)

// LoanAccount represents the credit contract whose balances this core reads
// and adjusts. The schedule behind it is generated elsewhere.
type LoanAccount struct {
	LoanID           string          `json:"loan_id" db:"loan_id"`
	BranchID         string          `json:"branch_id" db:"branch_id"`
	CenterID         string          `json:"center_id" db:"center_id"`
	PrincipalBalance decimal.Decimal `json:"principal_balance" db:"principal_balance"`
	PenaltyBalance   decimal.Decimal `json:"penalty_balance" db:"penalty_balance"`
	SuspenseBalance  decimal.Decimal `json:"suspense_balance" db:"suspense_balance"`
	CycleStatus      string          `json:"cycle_status" db:"cycle_status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// DueView is a computed projection per loan for a given date and scope.
// Recomputed on every query, never stored.
type DueView struct {
	LoanID      string          `json:"loan_id"`
	BranchID    string          `json:"branch_id"`
	CenterID    string          `json:"center_id"`
	DueAmount   decimal.Decimal `json:"due_amount"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Arrears     decimal.Decimal `json:"arrears"`
	Suspense    decimal.Decimal `json:"suspense"`
	NetArrears  decimal.Decimal `json:"net_arrears"`
	CanCollect  bool            `json:"can_collect"`
}

// DueTotals aggregates a due list over its whole scope.
type DueTotals struct {
	Due       decimal.Decimal `json:"due"`
	Collected decimal.Decimal `json:"collected"`
	Arrears   decimal.Decimal `json:"arrears"`
	Suspense  decimal.Decimal `json:"suspense"`
}

type DueListResponse struct {
	Items  []*DueView `json:"items"`
	Totals *DueTotals `json:"totals"`
}
