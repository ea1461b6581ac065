package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/microfin/collection-ledger/internal/config"
	"github.com/microfin/collection-ledger/internal/handler"
	"github.com/microfin/collection-ledger/internal/repository"
	"github.com/microfin/collection-ledger/internal/service"
	"github.com/microfin/collection-ledger/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)

	// Initialize database
	db, err := initDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Initialize repositories
	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)

	// Initialize services
	locker := service.NewRedisLoanLocker(redisClient, cfg.GetLockTTL())
	idempotency := service.NewRedisIdempotencyStore(redisClient, cfg.GetIdempotencyTTL())
	events := service.NewRedisEventPublisher(redisClient, cfg.Business.EventChannel)

	dueAggregator := service.NewDueAggregator(loanRepo, installmentRepo, logger)
	collectionService := service.NewCollectionService(loanRepo, installmentRepo, receiptRepo, locker, idempotency, events, cfg, logger)
	queryService := service.NewLedgerQueryService(loanRepo, receiptRepo, dueAggregator)

	collectionHandler := handler.NewCollectionHandler(collectionService, queryService, logger)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(collectionHandler, healthHandler, logger)

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(collectionHandler *handler.CollectionHandler, healthHandler *handler.HealthHandler, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(logger))

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/due-payments", collectionHandler.GetDuePayments).Methods("GET")
	api.HandleFunc("/loans/{loanId}/collect", collectionHandler.Collect).Methods("POST")
	api.HandleFunc("/loans/{loanId}/history", collectionHandler.GetHistory).Methods("GET")
	api.HandleFunc("/receipts/pending", collectionHandler.ListPending).Methods("GET")
	api.HandleFunc("/receipts/{receiptId}", collectionHandler.GetReceipt).Methods("GET")
	api.HandleFunc("/receipts/{receiptId}/request-cancel", collectionHandler.RequestCancel).Methods("POST")
	api.HandleFunc("/receipts/{receiptId}/approve-cancel", collectionHandler.ApproveCancel).Methods("POST")
	api.HandleFunc("/receipts/{receiptId}/reject-cancel", collectionHandler.RejectCancel).Methods("POST")

	return router
}
