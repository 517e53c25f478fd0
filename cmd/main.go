package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"liblending/internal/config"
	"liblending/internal/handlers"
	"liblending/internal/jobs"
	"liblending/internal/notify"
	"liblending/internal/repositories"
	"liblending/internal/services"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	borrowRepo := repositories.NewBorrowRepository(db)
	waitlistRepo := repositories.NewWaitlistRepository(db)
	reviewRepo := repositories.NewReviewRepository(db)
	activityRepo := repositories.NewActivityLogRepository(db)

	var notifier notify.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		log.Printf("[WARN] SMTP_HOST not set, notifications will be written to the log")
		notifier = notify.NewLogNotifier()
	}

	lendingService := services.NewLendingService(
		db, userRepo, bookRepo, borrowRepo, waitlistRepo, reviewRepo, activityRepo,
		notifier, services.SystemClock(),
	)

	overdueJob, err := jobs.NewOverdueJob(lendingService, cfg.SweepSchedule)
	if err != nil {
		log.Fatalf("invalid sweep schedule %q: %v", cfg.SweepSchedule, err)
	}
	overdueJob.Start()

	router := gin.Default()
	handlers.RegisterRoutes(router, lendingService)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down gracefully")
	overdueJob.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
