package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/reviewpulse/platform/pkg/alerts"
	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/database"
	"github.com/reviewpulse/platform/pkg/common/kafka"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"github.com/reviewpulse/platform/pkg/jobs"
	"github.com/reviewpulse/platform/pkg/mailer"
	"github.com/reviewpulse/platform/pkg/provider"
	"github.com/reviewpulse/platform/pkg/reviews"
	"github.com/reviewpulse/platform/pkg/status"
	"github.com/reviewpulse/platform/pkg/syncer"
)

func main() {
	logger.Init("sync-service")
	cfg := config.Load()

	db, err := database.NewPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		JitterFrac:  0.25,
	}

	reviewRepo := reviews.NewRepository(db, policy)
	alertRepo := alerts.NewRepository(db, policy)
	jobRepo := jobs.NewRepository(db, policy)
	recorder := status.NewRecorder(db, database.NewRedis(cfg), cfg.StatusCacheTTL, policy)

	for name, migrate := range map[string]func() error{
		"reviews": reviewRepo.AutoMigrate,
		"alerts":  alertRepo.AutoMigrate,
		"jobs":    jobRepo.AutoMigrate,
		"status":  recorder.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("tables", name).Fatal("migration failed")
		}
	}

	rules, err := alerts.LoadRules(cfg.AlertRulesPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.AlertRulesPath).
			Warn("falling back to default alert rules")
	}

	events := kafka.NewProducer(cfg.KafkaBrokers, cfg.SyncEventsTopic)
	defer events.Close()

	notifyClient := mailer.NewClient(cfg, policy)
	tokens := provider.NewTokenManager(cfg, reviewRepo, policy)
	fetcher := provider.NewClient(cfg, policy)
	reconciler := reviews.NewReconciler(reviewRepo, cfg.ExistingLoadChunk)
	engine := alerts.NewEngine(rules, reviewRepo, alertRepo, cfg.BackfillScanLimit)
	dispatcher := alerts.NewDispatcher(alertRepo, notifyClient, notifyClient, cfg.NotifyBatchSize)

	service := syncer.NewService(cfg, reviewRepo, tokens, fetcher, reconciler, engine, dispatcher, recorder, events)
	processor := jobs.NewProcessor(jobRepo, service, cfg.JobDeferDelay)
	handler := syncer.NewHTTPHandler(service, processor, jobRepo, recorder, alertRepo, cfg.SyncSecret, cfg.MaxRequestBody, cfg.JobBatchSize)

	router := mux.NewRouter()
	router.Use(syncer.RequestID, syncer.Logging, syncer.Recovery)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Sync Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down sync service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("forced shutdown")
	}
}
