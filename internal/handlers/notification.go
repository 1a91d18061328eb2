package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/types"
)

type NotificationHandler struct {
	notifRepo    repos.NotificationRepo
	settingsRepo repos.CompanionSettingsRepo
}

func NewNotificationHandler(notifRepo repos.NotificationRepo, settingsRepo repos.CompanionSettingsRepo) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo, settingsRepo: settingsRepo}
}

// GET /api/users/:id/notifications
func (h *NotificationHandler) ListForUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id"))
		return
	}
	notifications, err := h.notifRepo.GetByUserID(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"notifications": notifications})
}

// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notif, ok := h.loadNotification(c)
	if !ok {
		return
	}
	if err := h.notifRepo.UpdateFields(c.Request.Context(), nil, notif.ID, map[string]interface{}{
		"read": true,
	}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"read": true})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// POST /api/notifications/:id/feedback
func (h *NotificationHandler) SubmitFeedback(c *gin.Context) {
	notif, ok := h.loadNotification(c)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	feedback := strings.TrimSpace(req.Feedback)
	if feedback == "" {
		RespondError(c, http.StatusBadRequest, "empty_feedback", fmt.Errorf("feedback required"))
		return
	}
	if err := h.notifRepo.UpdateFields(c.Request.Context(), nil, notif.ID, map[string]interface{}{
		"feedback": feedback,
	}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"feedback": feedback})
}

// GET /api/users/:id/companion-settings
func (h *NotificationHandler) GetSettings(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id"))
		return
	}
	rows, err := h.settingsRepo.GetByUserIDs(c.Request.Context(), nil, []uuid.UUID{userID})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if len(rows) == 0 {
		RespondOK(c, gin.H{"settings": nil})
		return
	}
	RespondOK(c, gin.H{"settings": rows[0]})
}

type settingsRequest struct {
	EmailOptIn     bool   `json:"emailOptIn"`
	EmailAddress   string `json:"emailAddress"`
	NudgeFrequency string `json:"nudgeFrequency"`
}

// PUT /api/users/:id/companion-settings
func (h *NotificationHandler) UpdateSettings(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id"))
		return
	}
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	frequency := strings.TrimSpace(req.NudgeFrequency)
	if frequency == "" {
		frequency = types.NudgeFrequencyWeekly
	}
	if frequency != types.NudgeFrequencyDaily && frequency != types.NudgeFrequencyWeekly {
		RespondError(c, http.StatusBadRequest, "invalid_frequency",
			fmt.Errorf("nudgeFrequency must be %q or %q", types.NudgeFrequencyDaily, types.NudgeFrequencyWeekly))
		return
	}

	settings, err := h.settingsRepo.Upsert(c.Request.Context(), nil, &types.CompanionSettings{
		UserID:         userID,
		EmailOptIn:     req.EmailOptIn,
		EmailAddress:   strings.TrimSpace(req.EmailAddress),
		NudgeFrequency: frequency,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"settings": settings})
}

func (h *NotificationHandler) loadNotification(c *gin.Context) (*types.Notification, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_notification_id", fmt.Errorf("invalid notification id"))
		return nil, false
	}
	notif, err := h.notifRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return nil, false
	}
	if notif == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("notification not found"))
		return nil, false
	}
	return notif, true
}
