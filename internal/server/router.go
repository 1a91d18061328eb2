package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/compasshq/compass-backend/internal/handlers"
)

type RouterConfig struct {
	PlanHandler         *handlers.PlanHandler
	NotificationHandler *handlers.NotificationHandler
	NudgeHandler        *handlers.NudgeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("compass"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Plan pipeline
		api.POST("/plan/frame-assumptions", cfg.PlanHandler.FrameAssumptions)
		api.POST("/plan/draft-milestones", cfg.PlanHandler.DraftMilestones)
		api.POST("/plan/review-synthesize", cfg.PlanHandler.ReviewSynthesize)

		// Plans
		api.GET("/plans/:id", cfg.PlanHandler.GetPlan)
		api.POST("/plans/:id/milestones/:milestoneId/complete", cfg.PlanHandler.CompleteMilestone)
		api.GET("/users/:id/plans", cfg.PlanHandler.ListUserPlans)

		// Notifications
		api.GET("/users/:id/notifications", cfg.NotificationHandler.ListForUser)
		api.POST("/notifications/:id/read", cfg.NotificationHandler.MarkRead)
		api.POST("/notifications/:id/feedback", cfg.NotificationHandler.SubmitFeedback)
		api.GET("/users/:id/companion-settings", cfg.NotificationHandler.GetSettings)
		api.PUT("/users/:id/companion-settings", cfg.NotificationHandler.UpdateSettings)

		// Cron entrypoint
		api.GET("/generateNudges", cfg.NudgeHandler.GenerateNudges)
	}

	return router
}

func corsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
