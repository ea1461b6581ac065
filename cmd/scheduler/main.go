package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/microfin/collection-ledger/internal/config"
	"github.com/microfin/collection-ledger/internal/repository"
)

func main() {
	logrus.Info("Starting collection ledger scheduler...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	loanRepo := repository.NewLoanRepository(db)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logrus.Fatalf("Invalid scheduler timezone: %v", err)
	}

	// Initialize cron scheduler
	c := cron.New(cron.WithSeconds(), cron.WithLocation(location))

	// Daily job closing the cycle on fully settled loans
	_, err = c.AddFunc(cfg.Scheduler.CycleCloseSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		closed, err := loanRepo.CloseSettledLoans(ctx, time.Now())
		if err != nil {
			logrus.WithError(err).Error("cycle close job failed")
			return
		}
		logrus.WithField("loans_closed", closed).Info("cycle close job finished")
	})
	if err != nil {
		logrus.Fatalf("Error scheduling cycle close job: %v", err)
	}

	// Start the scheduler
	c.Start()
	logrus.Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down scheduler...")
	c.Stop()
	logrus.Info("Scheduler stopped")
}
