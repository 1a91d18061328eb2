package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compasshq/compass-backend/internal/clients/redis"
	"github.com/compasshq/compass-backend/internal/db"
	"github.com/compasshq/compass-backend/internal/handlers"
	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/observability"
	"github.com/compasshq/compass-backend/internal/platform/sendgrid"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/server"
	"github.com/compasshq/compass-backend/internal/services"
	"github.com/compasshq/compass-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "compass",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if otelShutdown != nil {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutCtx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(thePG, log)
	planRepo := repos.NewPlanRepo(thePG, log)
	notifRepo := repos.NewNotificationRepo(thePG, log)
	settingsRepo := repos.NewCompanionSettingsRepo(thePG, log)
	adviceRepo := repos.NewGrowthAdviceRepo(thePG, log)
	aiLogRepo := repos.NewAICallLogRepo(thePG, log)

	// Clients
	log.Info("Setting up clients...")
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

	// Services
	log.Info("Setting up services...")
	clock := services.NewRealClock()
	emailService := services.NewNudgeEmailService(log, userRepo, settingsRepo, planRepo, notifRepo, mailer)
	pipelineService := services.NewPlanPipelineService(thePG, log, planRepo, aiLogRepo, openaiClient, emailService, clock)
	schedulerService := services.NewNudgeSchedulerService(log, planRepo, notifRepo, settingsRepo, locker)
	fillService := services.NewNudgeFillService(log, planRepo, notifRepo, adviceRepo, aiLogRepo, openaiClient, clock)

	if utils.GetEnvAsBool("NUDGE_WORKER_ENABLED", true, log) {
		schedulerService.StartWorker(ctx)
	}

	// Handlers
	log.Info("Setting up handlers...")
	batchSize := utils.GetEnvAsInt("NUDGE_BATCH_SIZE", 100, log)
	planHandler := handlers.NewPlanHandler(pipelineService, planRepo, userRepo)
	notificationHandler := handlers.NewNotificationHandler(notifRepo, settingsRepo)
	nudgeHandler := handlers.NewNudgeHandler(schedulerService, fillService, emailService, batchSize)

	// Router
	router := server.NewRouter(server.RouterConfig{
		PlanHandler:         planHandler,
		NotificationHandler: notificationHandler,
		NudgeHandler:        nudgeHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
