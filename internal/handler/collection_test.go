package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/microfin/collection-ledger/internal/config"
	"github.com/microfin/collection-ledger/internal/domain"
	"github.com/microfin/collection-ledger/internal/handler"
	"github.com/microfin/collection-ledger/internal/service"
	"github.com/microfin/collection-ledger/tests/mocks"
)

type testServer struct {
	router          *mux.Router
	loanRepo        *mocks.MockLoanRepository
	installmentRepo *mocks.MockInstallmentRepository
	receiptRepo     *mocks.MockReceiptRepository
}

func newTestServer() *testServer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := &testServer{
		loanRepo:        new(mocks.MockLoanRepository),
		installmentRepo: new(mocks.MockInstallmentRepository),
		receiptRepo:     new(mocks.MockReceiptRepository),
	}

	cfg := &config.Config{
		Business: config.BusinessConfig{MaxSuspenseBalance: "1000"},
	}

	collections := service.NewCollectionService(
		s.loanRepo,
		s.installmentRepo,
		s.receiptRepo,
		mocks.NopLocker{},
		mocks.NewMemoryIdempotencyStore(),
		mocks.NopPublisher{},
		cfg,
		logger,
	)
	due := service.NewDueAggregator(s.loanRepo, s.installmentRepo, logger)
	queries := service.NewLedgerQueryService(s.loanRepo, s.receiptRepo, due)

	h := handler.NewCollectionHandler(collections, queries, logger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/due-payments", h.GetDuePayments).Methods("GET")
	api.HandleFunc("/loans/{loanId}/collect", h.Collect).Methods("POST")
	api.HandleFunc("/loans/{loanId}/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/receipts/pending", h.ListPending).Methods("GET")
	api.HandleFunc("/receipts/{receiptId}", h.GetReceipt).Methods("GET")
	api.HandleFunc("/receipts/{receiptId}/request-cancel", h.RequestCancel).Methods("POST")
	api.HandleFunc("/receipts/{receiptId}/approve-cancel", h.ApproveCancel).Methods("POST")
	api.HandleFunc("/receipts/{receiptId}/reject-cancel", h.RejectCancel).Methods("POST")

	s.router = router
	return s
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(context.Background())
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

func TestGetDuePaymentsValidation(t *testing.T) {
	s := newTestServer()

	recorder := s.do(http.MethodGet, "/api/v1/due-payments", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = s.do(http.MethodGet, "/api/v1/due-payments?branch_id=BR01&date=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetDuePayments(t *testing.T) {
	s := newTestServer()

	s.loanRepo.On("ListByScope", mock.Anything, "BR01", "").Return([]*domain.LoanAccount{
		{
			LoanID:          "LN001",
			BranchID:        "BR01",
			SuspenseBalance: decimal.Zero,
			CycleStatus:     domain.CycleStatusOpen,
		},
	}, nil)
	s.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
		{
			ID:          uuid.New(),
			LoanID:      "LN001",
			DueDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			RentalDue:   decimal.NewFromInt(100),
			RentalPaid:  decimal.Zero,
			PenaltyDue:  decimal.Zero,
			PenaltyPaid: decimal.Zero,
		},
	}, nil)

	recorder := s.do(http.MethodGet, "/api/v1/due-payments?branch_id=BR01&date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "\"can_collect\":true")
}

func TestCollectEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s := newTestServer()

		s.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(&domain.LoanAccount{
			LoanID:          "LN001",
			BranchID:        "BR01",
			SuspenseBalance: decimal.Zero,
			CycleStatus:     domain.CycleStatusOpen,
		}, nil)
		s.installmentRepo.On("GetByLoanID", mock.Anything, "LN001").Return([]*domain.Installment{
			{
				ID:         uuid.New(),
				LoanID:     "LN001",
				DueDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				RentalDue:  decimal.NewFromInt(100),
				PenaltyDue: decimal.Zero,
			},
		}, nil)
		s.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

		recorder := s.do(http.MethodPost, "/api/v1/loans/LN001/collect", domain.CollectRequest{
			Amount:      decimal.NewFromInt(100),
			Date:        "2024-03-01",
			CollectedBy: "collector-1",
		})
		assert.Equal(t, http.StatusCreated, recorder.Code)
	})

	t.Run("Missing collector rejected", func(t *testing.T) {
		s := newTestServer()

		recorder := s.do(http.MethodPost, "/api/v1/loans/LN001/collect", map[string]interface{}{
			"amount": "100",
		})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("Unknown loan yields 404", func(t *testing.T) {
		s := newTestServer()
		s.loanRepo.On("GetByLoanID", mock.Anything, "LN404").Return(nil, sql.ErrNoRows)

		recorder := s.do(http.MethodPost, "/api/v1/loans/LN404/collect", domain.CollectRequest{
			Amount:      decimal.NewFromInt(100),
			CollectedBy: "collector-1",
		})
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestApproveCancelEndpoint(t *testing.T) {
	receiptID := uuid.New()

	t.Run("Self approval yields 403", func(t *testing.T) {
		s := newTestServer()
		s.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
			ID:                receiptID,
			LoanID:            "LN001",
			Status:            domain.ReceiptStatusCancellationPending,
			CancelRequestedBy: "collector-1",
		}, nil)

		recorder := s.do(http.MethodPost, "/api/v1/receipts/"+receiptID.String()+"/approve-cancel", domain.ResolveCancelRequest{
			ApprovedBy: "collector-1",
		})
		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "FORBIDDEN")
	})

	t.Run("Wrong state yields 409", func(t *testing.T) {
		s := newTestServer()
		s.receiptRepo.On("GetByID", mock.Anything, receiptID).Return(&domain.Receipt{
			ID:     receiptID,
			LoanID: "LN001",
			Status: domain.ReceiptStatusActive,
		}, nil)

		recorder := s.do(http.MethodPost, "/api/v1/receipts/"+receiptID.String()+"/approve-cancel", domain.ResolveCancelRequest{
			ApprovedBy: "supervisor-1",
		})
		assert.Equal(t, http.StatusConflict, recorder.Code)
	})

	t.Run("Malformed receipt id yields 400", func(t *testing.T) {
		s := newTestServer()

		recorder := s.do(http.MethodPost, "/api/v1/receipts/not-a-uuid/approve-cancel", domain.ResolveCancelRequest{
			ApprovedBy: "supervisor-1",
		})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestGetHistoryEndpoint(t *testing.T) {
	s := newTestServer()

	s.loanRepo.On("GetByLoanID", mock.Anything, "LN001").Return(&domain.LoanAccount{
		LoanID:      "LN001",
		CycleStatus: domain.CycleStatusOpen,
	}, nil)
	s.receiptRepo.On("ListByLoanID", mock.Anything, "LN001").Return([]*domain.Receipt{
		{ID: uuid.New(), LoanID: "LN001", Status: domain.ReceiptStatusActive},
	}, nil)

	recorder := s.do(http.MethodGet, "/api/v1/loans/LN001/history", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "LN001")
}
