package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/service"
	"github.com/microfin/collection-ledger/pkg/apperrors"
	"github.com/microfin/collection-ledger/pkg/response"
	"github.com/microfin/collection-ledger/pkg/utils"
)

type CollectionHandler struct {
	collections *service.CollectionService
	queries     *service.LedgerQueryService
	validator   *validator.Validate
	logger      *logrus.Logger
}

func NewCollectionHandler(
	collections *service.CollectionService,
	queries *service.LedgerQueryService,
	logger *logrus.Logger,
) *CollectionHandler {
	return &CollectionHandler{
		collections: collections,
		queries:     queries,
		validator:   validator.New(),
		logger:      logger,
	}
}

// GetDuePayments handles GET /due-payments?branch_id=&center_id=&date=
func (h *CollectionHandler) GetDuePayments(w http.ResponseWriter, r *http.Request) {
	branchID := r.URL.Query().Get("branch_id")
	if branchID == "" {
		response.BadRequest(w, "branch_id is required", nil)
		return
	}
	centerID := r.URL.Query().Get("center_id")

	date, err := utils.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		response.BadRequest(w, "date must be formatted as YYYY-MM-DD", err)
		return
	}

	list, err := h.queries.GetDuePayments(r.Context(), branchID, centerID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, list)
}

// Collect handles POST /loans/{loanId}/collect
func (h *CollectionHandler) Collect(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	var req domain.CollectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	date, err := utils.ParseDate(req.Date)
	if err != nil {
		response.BadRequest(w, "date must be formatted as YYYY-MM-DD", err)
		return
	}

	receipt, err := h.collections.Collect(r.Context(), loanID, req.Amount, date, req.ReceiptRef, req.CollectedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, receipt)
}

// RequestCancel handles POST /receipts/{receiptId}/request-cancel
func (h *CollectionHandler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := h.receiptID(w, r)
	if !ok {
		return
	}

	var req domain.RequestCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	receipt, err := h.collections.RequestCancellation(r.Context(), receiptID, req.Reason, req.RequestedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, receipt)
}

// ApproveCancel handles POST /receipts/{receiptId}/approve-cancel
func (h *CollectionHandler) ApproveCancel(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := h.receiptID(w, r)
	if !ok {
		return
	}

	var req domain.ResolveCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	receipt, err := h.collections.ApproveCancellation(r.Context(), receiptID, req.ApprovedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, receipt)
}

// RejectCancel handles POST /receipts/{receiptId}/reject-cancel
func (h *CollectionHandler) RejectCancel(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := h.receiptID(w, r)
	if !ok {
		return
	}

	var req domain.ResolveCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	receipt, err := h.collections.RejectCancellation(r.Context(), receiptID, req.ApprovedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, receipt)
}

// ListPending handles GET /receipts/pending
func (h *CollectionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.collections.ListPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, receipts)
}

// GetReceipt handles GET /receipts/{receiptId}
func (h *CollectionHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := h.receiptID(w, r)
	if !ok {
		return
	}

	receipt, err := h.queries.GetReceipt(r.Context(), receiptID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, receipt)
}

// GetHistory handles GET /loans/{loanId}/history
func (h *CollectionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	receipts, err := h.queries.GetHistory(r.Context(), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, &domain.HistoryResponse{LoanID: loanID, Receipts: receipts})
}

func (h *CollectionHandler) receiptID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["receiptId"])
	if err != nil {
		response.BadRequest(w, "receiptId must be a valid UUID", err)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps business error codes to HTTP statuses. Unknown errors
// become a 500 without leaking internals.
func (h *CollectionHandler) writeError(w http.ResponseWriter, err error) {
	var business *apperrors.BusinessError
	if !errors.As(err, &business) {
		h.logger.WithError(err).Error("unexpected error")
		response.InternalServerError(w, "internal error", nil)
		return
	}

	status := http.StatusInternalServerError
	switch business.Code {
	case apperrors.ErrCodeInvalidAmount, apperrors.ErrCodeInvalidReason:
		status = http.StatusBadRequest
	case apperrors.ErrCodeAlreadySettled, apperrors.ErrCodeCycleClosed,
		apperrors.ErrCodeInvalidState, apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeForbidden:
		status = http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeSuspenseLimitExceeded:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeDatabaseError, apperrors.ErrCodeCacheError:
		h.logger.WithError(business).Error("infrastructure error")
		response.InternalServerError(w, "internal error", nil)
		return
	}

	response.Error(w, status, business.Code, business.Message, business.Err)
}
