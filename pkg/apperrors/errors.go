package apperrors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidAmount         = errors.New("collection amount must be greater than zero")
	ErrAlreadySettled        = errors.New("nothing left to collect for the period")
	ErrCycleClosed           = errors.New("loan cycle is not open for collection")
	ErrInvalidState          = errors.New("receipt is not in a valid state for this transition")
	ErrForbidden             = errors.New("operation not permitted for this identity")
	ErrNotFound              = errors.New("record not found")
	ErrConflict              = errors.New("concurrent operation on the same loan")
	ErrInvalidReason         = errors.New("cancellation reason is required")
	ErrSuspenseLimitExceeded = errors.New("suspense balance limit exceeded")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidAmount         = "INVALID_AMOUNT"
	ErrCodeAlreadySettled        = "ALREADY_SETTLED"
	ErrCodeCycleClosed           = "CYCLE_CLOSED"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeInvalidReason         = "INVALID_REASON"
	ErrCodeSuspenseLimitExceeded = "SUSPENSE_LIMIT_EXCEEDED"
	ErrCodeDatabaseError         = "DATABASE_ERROR"
	ErrCodeCacheError            = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapInvalidAmount(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAmount,
		fmt.Sprintf("Invalid collection amount: %s", amount),
		ErrInvalidAmount,
	)
}

func WrapAlreadySettled(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadySettled,
		fmt.Sprintf("Loan %s has nothing due for the requested date", loanID),
		ErrAlreadySettled,
	)
}

func WrapCycleClosed(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeCycleClosed,
		fmt.Sprintf("Loan %s cycle is closed for collection", loanID),
		ErrCycleClosed,
	)
}

func WrapInvalidState(receiptID, from, attempted string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidState,
		fmt.Sprintf("Receipt %s cannot move from %s to %s", receiptID, from, attempted),
		ErrInvalidState,
	)
}

func WrapSelfApproval(receiptID string) *BusinessError {
	return NewBusinessError(
		ErrCodeForbidden,
		fmt.Sprintf("Receipt %s cancellation cannot be approved by its own requester", receiptID),
		ErrForbidden,
	)
}

func WrapInvalidReason(receiptID string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidReason,
		fmt.Sprintf("Cancellation of receipt %s requires a non-empty reason", receiptID),
		ErrInvalidReason,
	)
}

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrNotFound,
	)
}

func WrapReceiptNotFound(receiptID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Receipt with ID %s not found", receiptID),
		ErrNotFound,
	)
}

func WrapConflict(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeConflict,
		fmt.Sprintf("Another operation holds the lock for loan %s, resubmit after it completes", loanID),
		ErrConflict,
	)
}

func WrapSuspenseLimitExceeded(loanID, limit string) *BusinessError {
	return NewBusinessError(
		ErrCodeSuspenseLimitExceeded,
		fmt.Sprintf("Leftover would push loan %s suspense balance over the limit of %s", loanID, limit),
		ErrSuspenseLimitExceeded,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}
