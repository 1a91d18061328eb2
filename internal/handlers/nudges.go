package handlers

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compasshq/compass-backend/internal/services"
)

// NudgeHandler exposes the cron entrypoint that runs the full reminder
// batch: schedule, fill, deliver.
type NudgeHandler struct {
	scheduler services.NudgeSchedulerService
	fill      services.NudgeFillService
	email     *services.NudgeEmailService
	batchSize int
}

func NewNudgeHandler(scheduler services.NudgeSchedulerService, fill services.NudgeFillService, email *services.NudgeEmailService, batchSize int) *NudgeHandler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NudgeHandler{scheduler: scheduler, fill: fill, email: email, batchSize: batchSize}
}

// GET /api/generateNudges
//
// Guarded by CRON_SECRET when set: the caller must send
// "Authorization: Bearer <secret>". Unset means open (local dev).
func (h *NudgeHandler) GenerateNudges(c *gin.Context) {
	if secret := strings.TrimSpace(os.Getenv("CRON_SECRET")); secret != "" {
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if auth != "Bearer "+secret {
			RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("invalid cron secret"))
			return
		}
	}

	ctx := c.Request.Context()

	created, err := h.scheduler.RunOnce(ctx)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "schedule_failed", err)
		return
	}

	filled, err := h.fill.FillPending(ctx, h.batchSize)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "fill_failed", err)
		return
	}

	sent, failed, err := h.email.SendPending(ctx, h.batchSize)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "delivery_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"created": created,
		"filled":  filled,
		"sent":    sent,
		"failed":  failed,
	})
}
