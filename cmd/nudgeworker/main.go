package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/compasshq/compass-backend/internal/clients/redis"
	"github.com/compasshq/compass-backend/internal/db"
	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/platform/sendgrid"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/services"
	"github.com/compasshq/compass-backend/internal/utils"
)

// One-shot reminder batch for external cron (run, log counts, exit).
// The long-running server has its own in-process ticker; deployments pick
// one or the other via NUDGE_WORKER_ENABLED.
func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "production"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With("service", "NudgeWorker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := time.Duration(utils.GetEnvAsInt("NUDGE_WORKER_TIMEOUT_SECONDS", 300, log)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	userRepo := repos.NewUserRepo(thePG, log)
	planRepo := repos.NewPlanRepo(thePG, log)
	notifRepo := repos.NewNotificationRepo(thePG, log)
	settingsRepo := repos.NewCompanionSettingsRepo(thePG, log)
	adviceRepo := repos.NewGrowthAdviceRepo(thePG, log)
	aiLogRepo := repos.NewAICallLogRepo(thePG, log)

	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	mailer, err := sendgrid.NewFromEnv(log)
	if err != nil {
		log.Warn("Could not init SendGrid client, email delivery disabled", "error", err)
		mailer = nil
	}
	locker, err := redis.NewLocker(log)
	if err != nil {
		log.Error("Could not init redis locker", "error", err)
		os.Exit(1)
	}
	defer locker.Close()

	clock := services.NewRealClock()
	emailService := services.NewNudgeEmailService(log, userRepo, settingsRepo, planRepo, notifRepo, mailer)
	schedulerService := services.NewNudgeSchedulerService(log, planRepo, notifRepo, settingsRepo, locker)
	fillService := services.NewNudgeFillService(log, planRepo, notifRepo, adviceRepo, aiLogRepo, openaiClient, clock)

	batchSize := utils.GetEnvAsInt("NUDGE_BATCH_SIZE", 100, log)

	created, err := schedulerService.RunOnce(ctx)
	if err != nil {
		log.Error("Scheduler sweep failed", "error", err)
		os.Exit(1)
	}
	filled, err := fillService.FillPending(ctx, batchSize)
	if err != nil {
		log.Error("Nudge fill failed", "error", err)
		os.Exit(1)
	}
	sent, failed, err := emailService.SendPending(ctx, batchSize)
	if err != nil {
		log.Error("Nudge delivery failed", "error", err)
		os.Exit(1)
	}

	log.Info("Nudge batch complete",
		"created", created,
		"filled", filled,
		"sent", sent,
		"failed", failed,
	)
}
