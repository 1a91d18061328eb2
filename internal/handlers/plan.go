package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/services"
	"github.com/compasshq/compass-backend/internal/types"
)

type PlanHandler struct {
	pipeline services.PlanPipelineService
	planRepo repos.PlanRepo
	userRepo repos.UserRepo
}

func NewPlanHandler(pipeline services.PlanPipelineService, planRepo repos.PlanRepo, userRepo repos.UserRepo) *PlanHandler {
	return &PlanHandler{pipeline: pipeline, planRepo: planRepo, userRepo: userRepo}
}

type frameAssumptionsRequest struct {
	UserID             string `json:"userId"`
	GoalDescription    string `json:"goalDescription"`
	TargetDate         string `json:"targetDate"`
	HasTimePressure    bool   `json:"hasTimePressure"`
	PersonalitySummary string `json:"personalitySummary"`
	PersonalityType    string `json:"personalityType"`
}

// POST /api/plan/frame-assumptions
func (h *PlanHandler) FrameAssumptions(c *gin.Context) {
	var req frameAssumptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id"))
		return
	}
	users, err := h.userRepo.GetByIDs(c.Request.Context(), nil, []uuid.UUID{userID})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if len(users) == 0 {
		RespondError(c, http.StatusNotFound, "user_not_found", fmt.Errorf("user %s not found", userID))
		return
	}

	plan, frame, assumptions, err := h.pipeline.FrameAndAssume(c.Request.Context(), services.PlanInput{
		UserID:             userID,
		GoalDescription:    req.GoalDescription,
		TargetDate:         req.TargetDate,
		HasTimePressure:    req.HasTimePressure,
		PersonalitySummary: req.PersonalitySummary,
		PersonalityType:    req.PersonalityType,
	})
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"plan": plan,
		"frame": gin.H{
			"goal_name":     frame.GoalName,
			"goal_frame":    frame.Frame,
			"date_realism":  frame.DateRealism,
			"warning":       frame.Warning,
			"used_fallback": frame.UsedFallback,
		},
		"assumptions": gin.H{
			"assumptions":   assumptions.Assumptions,
			"used_fallback": assumptions.UsedFallback,
		},
	})
}

type planIDRequest struct {
	PlanID string `json:"planId"`
}

// POST /api/plan/draft-milestones
func (h *PlanHandler) DraftMilestones(c *gin.Context) {
	planID, ok := h.bindPlanID(c)
	if !ok {
		return
	}

	plan, milestones, err := h.pipeline.DraftMilestones(c.Request.Context(), planID)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	RespondOK(c, gin.H{"plan": plan, "milestones": milestones})
}

type reviewSynthesizeRequest struct {
	PlanID    string `json:"planId"`
	UserEmail string `json:"userEmail"`
}

// POST /api/plan/review-synthesize
func (h *PlanHandler) ReviewSynthesize(c *gin.Context) {
	var req reviewSynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id"))
		return
	}

	plan, milestones, corrections, err := h.pipeline.ReviewAndSynthesize(c.Request.Context(), planID, req.UserEmail)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	RespondOK(c, gin.H{"plan": plan, "milestones": milestones, "corrections": corrections})
}

// GET /api/plans/:id
func (h *PlanHandler) GetPlan(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id"))
		return
	}
	plan, err := h.planRepo.GetByID(c.Request.Context(), nil, planID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if plan == nil {
		RespondError(c, http.StatusNotFound, "not_found", services.ErrPlanNotFound)
		return
	}
	RespondOK(c, gin.H{"plan": plan})
}

// GET /api/users/:id/plans
func (h *PlanHandler) ListUserPlans(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id"))
		return
	}
	plans, err := h.planRepo.GetByUserID(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	RespondOK(c, gin.H{"plans": plans})
}

// POST /api/plans/:id/milestones/:milestoneId/complete
func (h *PlanHandler) CompleteMilestone(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id"))
		return
	}
	milestoneID := c.Param("milestoneId")

	plan, err := h.planRepo.GetByID(c.Request.Context(), nil, planID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if plan == nil {
		RespondError(c, http.StatusNotFound, "not_found", services.ErrPlanNotFound)
		return
	}
	if plan.Status != types.PlanStatusFinalized {
		RespondError(c, http.StatusBadRequest, "wrong_status",
			fmt.Errorf("plan status is %q, expected %q", plan.Status, types.PlanStatusFinalized))
		return
	}

	var milestones []types.Milestone
	if err := json.Unmarshal(plan.FinalMilestones, &milestones); err != nil {
		RespondError(c, http.StatusInternalServerError, "corrupt_milestones", err)
		return
	}
	found := false
	for i := range milestones {
		if milestones[i].ID == milestoneID {
			milestones[i].Completed = true
			found = true
			break
		}
	}
	if !found {
		RespondError(c, http.StatusNotFound, "milestone_not_found", fmt.Errorf("milestone %s not found", milestoneID))
		return
	}

	finalJSON, _ := json.Marshal(milestones)
	if err := h.planRepo.UpdateFields(c.Request.Context(), nil, planID, map[string]interface{}{
		"final_milestones": datatypes.JSON(finalJSON),
	}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"milestones": milestones})
}

func (h *PlanHandler) bindPlanID(c *gin.Context) (uuid.UUID, bool) {
	var req planIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return uuid.Nil, false
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id"))
		return uuid.Nil, false
	}
	return planID, true
}

func respondPipelineError(c *gin.Context, err error) {
	var statusErr *services.StatusError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, services.ErrPlanNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &statusErr):
		RespondError(c, http.StatusBadRequest, "wrong_status", err)
	case errors.Is(err, services.ErrDraftFailed):
		RespondError(c, http.StatusInternalServerError, "generation_failed", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
