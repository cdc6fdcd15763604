package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/savia-coop/cartera-engine/internal/alert"
	"github.com/savia-coop/cartera-engine/internal/config"
	"github.com/savia-coop/cartera-engine/internal/domain"
	"github.com/savia-coop/cartera-engine/internal/repository"
	"github.com/savia-coop/cartera-engine/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logrus.New()
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	log.Info("Starting cartera scheduler...")

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	notifier := alert.NewLogNotifier(log)

	// The scheduler skips redis on purpose: its reports must reflect the
	// store, not a cache populated by the API.
	loanService := service.NewLoanService(loanRepo, installmentRepo, paymentRepo, notifier, nil, cfg, log)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid scheduler timezone: %v", err)
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(location))
	setupCronJobs(c, cfg, loanService, paymentRepo, loanRepo, log)

	c.Start()
	log.Info("Scheduler started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	c.Stop()
	log.Info("Scheduler stopped")
}

func setupCronJobs(
	c *cron.Cron,
	cfg *config.Config,
	loanService *service.LoanService,
	paymentRepo repository.PaymentRepository,
	loanRepo repository.LoanRepository,
	log *logrus.Logger,
) {
	// Daily sweep of the overdue portfolio
	_, err := c.AddFunc(cfg.Scheduler.OverdueSpec, func() {
		logOverduePortfolio(loanService, log)
	})
	if err != nil {
		log.Errorf("Error scheduling overdue portfolio job: %v", err)
	}

	// Daily re-evaluation of interest-only alert conditions; catches loans
	// whose threshold was crossed while alert delivery was failing
	_, err = c.AddFunc(cfg.Scheduler.AlertSpec, func() {
		sweepInterestOnlyAlerts(cfg, paymentRepo, loanRepo, log)
	})
	if err != nil {
		log.Errorf("Error scheduling interest-only alert job: %v", err)
	}

	log.Info("Cron jobs scheduled successfully")
}

func logOverduePortfolio(loanService *service.LoanService, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rows, err := loanService.Vencida(ctx, time.Now())
	if err != nil {
		log.WithError(err).Error("overdue portfolio sweep failed")
		return
	}

	for _, row := range rows {
		log.WithFields(logrus.Fields{
			"period":       row.Period,
			"num_loans":    row.NumLoans,
			"amount_owing": row.AmountOwing,
		}).Warn("overdue portfolio period")
	}

	log.WithField("periods", len(rows)).Info("overdue portfolio sweep finished")
}

func sweepInterestOnlyAlerts(
	cfg *config.Config,
	paymentRepo repository.PaymentRepository,
	loanRepo repository.LoanRepository,
	log *logrus.Logger,
) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	loans, err := loanRepo.ListByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		log.WithError(err).Error("listing active loans for alert sweep")
		return
	}

	notifier := alert.NewLogNotifier(log)
	threshold := cfg.Business.InterestOnlyThreshold

	for _, loan := range loans {
		count, err := paymentRepo.CountInterestOnlyByLoan(ctx, loan.ID)
		if err != nil {
			log.WithError(err).WithField("loan", loan.Number).Error("counting interest-only payments")
			continue
		}

		if count >= threshold {
			_ = notifier.InterestOnlyStreak(ctx, alert.Signal{
				LoanID:            loan.ID,
				LoanNumber:        loan.Number,
				BorrowerID:        loan.BorrowerID,
				InterestOnlyCount: count,
			})
		}
	}

	log.WithField("loans", len(loans)).Info("interest-only alert sweep finished")
}
