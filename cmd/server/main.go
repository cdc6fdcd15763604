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
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/savia-coop/cartera-engine/internal/alert"
	"github.com/savia-coop/cartera-engine/internal/config"
	"github.com/savia-coop/cartera-engine/internal/handler"
	"github.com/savia-coop/cartera-engine/internal/repository"
	"github.com/savia-coop/cartera-engine/internal/service"
	"github.com/savia-coop/cartera-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := initLogger(cfg)

	// Initialize database
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Initialize repositories
	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// Initialize service
	notifier := alert.NewLogNotifier(log)
	loanService := service.NewLoanService(loanRepo, installmentRepo, paymentRepo, notifier, redisClient, cfg, log)
	loanHandler := handler.NewLoanHandler(loanService, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(loanHandler, healthHandler, log)

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

func initLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
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

func setupRoutes(loanHandler *handler.LoanHandler, healthHandler *handler.HealthHandler, log *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(log))

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/loans", loanHandler.CreateLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}", loanHandler.GetLoan).Methods("GET")
	api.HandleFunc("/loans/{loanId}/schedule", loanHandler.GetSchedule).Methods("GET")
	api.HandleFunc("/loans/{loanId}/approve", loanHandler.Approve).Methods("POST")
	api.HandleFunc("/loans/{loanId}/activate", loanHandler.Activate).Methods("POST")
	api.HandleFunc("/loans/{loanId}/cancel", loanHandler.Cancel).Methods("POST")
	api.HandleFunc("/loans/{loanId}/revert", loanHandler.RevertToDraft).Methods("POST")
	api.HandleFunc("/installments/{installmentId}/payments", loanHandler.RegisterPayment).Methods("POST")
	api.HandleFunc("/payments/{paymentId}", loanHandler.DeletePayment).Methods("DELETE")
	api.HandleFunc("/reports/vencida", loanHandler.Vencida).Methods("GET")

	return router
}
