package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/types"
	"github.com/compasshq/compass-backend/internal/utils"
)

// PlanInput is the immutable user submission that starts a planning session.
type PlanInput struct {
	UserID             uuid.UUID
	GoalDescription    string
	TargetDate         string // YYYY-MM-DD
	HasTimePressure    bool
	PersonalitySummary string
	PersonalityType    string
}

// FrameResult carries the stage-1 output. UsedFallback tells the call site
// the model response was unusable and the documented defaults were
// substituted; the pipeline still proceeds, plan creation is never blocked
// by one malformed response.
type FrameResult struct {
	GoalName     string
	Frame        types.GoalFrame
	DateRealism  string
	Warning      string
	UsedFallback bool
}

type AssumptionsResult struct {
	Assumptions  types.Assumptions
	UsedFallback bool
}

type ReviewResult struct {
	Approved     bool
	Corrections  []string
	UsedFallback bool
}

// StatusError reports a stage invoked against a plan in the wrong state.
// Handlers map it to HTTP 400.
type StatusError struct {
	Expected string
	Actual   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("plan status is %q, expected %q", e.Actual, e.Expected)
}

var (
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidInput wraps rejected user submissions. Handlers map it to
	// HTTP 400; every other pipeline error is a server fault.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDraftFailed marks the one hard failure in the pipeline: no usable
	// milestone list from the assistant. The plan is moved to error status
	// before this is returned.
	ErrDraftFailed = errors.New("milestone draft generation failed")
)

type PlanPipelineService interface {
	FrameAndAssume(ctx context.Context, input PlanInput) (*types.Plan, FrameResult, AssumptionsResult, error)
	DraftMilestones(ctx context.Context, planID uuid.UUID) (*types.Plan, []types.Milestone, error)
	ReviewAndSynthesize(ctx context.Context, planID uuid.UUID, userEmail string) (*types.Plan, []types.Milestone, []string, error)
}

type planPipelineService struct {
	db  *gorm.DB
	log *logger.Logger

	planRepo  repos.PlanRepo
	aiLogRepo repos.AICallLogRepo

	ai    OpenAIClient
	email *NudgeEmailService

	milestoneAssistantID string
	draftPoller          RunPoller
	synthesisPoller      RunPoller
}

func NewPlanPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	planRepo repos.PlanRepo,
	aiLogRepo repos.AICallLogRepo,
	ai OpenAIClient,
	email *NudgeEmailService,
	clock Clock,
) PlanPipelineService {
	log := baseLog.With("service", "PlanPipelineService")
	interval := time.Duration(utils.GetEnvAsInt("PLAN_POLL_INTERVAL_MS", 1000, log)) * time.Millisecond
	draftBudget := time.Duration(utils.GetEnvAsInt("PLAN_DRAFT_POLL_BUDGET_SECONDS", 60, log)) * time.Second
	synthBudget := time.Duration(utils.GetEnvAsInt("PLAN_SYNTHESIS_POLL_BUDGET_SECONDS", 45, log)) * time.Second
	return &planPipelineService{
		db:                   db,
		log:                  log,
		planRepo:             planRepo,
		aiLogRepo:            aiLogRepo,
		ai:                   ai,
		email:                email,
		milestoneAssistantID: utils.GetEnv("OPENAI_MILESTONE_ASSISTANT_ID", "", log),
		draftPoller:          NewRunPoller(interval, draftBudget, clock),
		synthesisPoller:      NewRunPoller(interval, synthBudget, clock),
	}
}

// -------------------- Stage 1 + 2 --------------------

func (ps *planPipelineService) FrameAndAssume(ctx context.Context, input PlanInput) (*types.Plan, FrameResult, AssumptionsResult, error) {
	var frame FrameResult
	var assume AssumptionsResult

	if input.UserID == uuid.Nil {
		return nil, frame, assume, fmt.Errorf("%w: userId required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.GoalDescription) == "" {
		return nil, frame, assume, fmt.Errorf("%w: goalDescription required", ErrInvalidInput)
	}
	if _, ok := parseDay(input.TargetDate); !ok {
		return nil, frame, assume, fmt.Errorf("%w: targetDate must be YYYY-MM-DD", ErrInvalidInput)
	}

	frame = ps.runFrame(ctx, input)
	assume = ps.runAssumptions(ctx, input)

	frameJSON, _ := json.Marshal(frame.Frame)
	assumeJSON, _ := json.Marshal(assume.Assumptions)

	now := time.Now()
	plan := &types.Plan{
		ID:                 uuid.New(),
		UserID:             input.UserID,
		GoalDescription:    input.GoalDescription,
		GoalName:           frame.GoalName,
		TargetDate:         input.TargetDate,
		HasTimePressure:    input.HasTimePressure,
		PersonalitySummary: input.PersonalitySummary,
		PersonalityType:    input.PersonalityType,
		Status:             types.PlanStatusFramed,
		DateRealism:        frame.DateRealism,
		DateRealismWarning: frame.Warning,
		GoalFrame:          datatypes.JSON(frameJSON),
		Assumptions:        datatypes.JSON(assumeJSON),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := ps.planRepo.Create(ctx, nil, []*types.Plan{plan}); err != nil {
		return nil, frame, assume, fmt.Errorf("create plan: %w", err)
	}
	return plan, frame, assume, nil
}

func (ps *planPipelineService) runFrame(ctx context.Context, input PlanInput) FrameResult {
	fallback := FrameResult{
		GoalName: fallbackGoalName(input.GoalDescription),
		Frame: types.GoalFrame{
			SuccessCriteria: "You make steady, visible progress toward: " + input.GoalDescription,
			FailureCriteria: "Weeks pass without a concrete step taken toward the goal.",
			AntiPatterns:    []string{"waiting for the perfect moment to start", "planning instead of doing"},
		},
		DateRealism:  types.DateRealismReasonable,
		UsedFallback: true,
	}

	start := time.Now()
	obj, err := ps.ai.GenerateJSON(ctx,
		frameSystemPrompt,
		frameUserPrompt(input.GoalDescription, input.TargetDate, input.PersonalitySummary),
		"goal_frame",
		frameSchema(),
		0.2,
	)
	ps.logAICall(ctx, input.UserID, nil, "frame", "", start, err)
	if err != nil {
		ps.log.Warn("Goal framing failed, using fallback frame", "error", err)
		return fallback
	}

	res := FrameResult{
		GoalName: strOrEmpty(obj["goal_name"]),
		Frame: types.GoalFrame{
			SuccessCriteria: strOrEmpty(obj["success_criteria"]),
			FailureCriteria: strOrEmpty(obj["failure_criteria"]),
			AntiPatterns:    toStringSlice(obj["anti_patterns"]),
		},
		DateRealism: strOrEmpty(obj["date_realism"]),
		Warning:     strOrEmpty(obj["warning"]),
	}
	if res.GoalName == "" || res.Frame.SuccessCriteria == "" {
		ps.log.Warn("Goal framing returned incomplete object, using fallback frame")
		return fallback
	}
	switch res.DateRealism {
	case types.DateRealismTooShort, types.DateRealismReasonable, types.DateRealismGenerous:
	default:
		res.DateRealism = types.DateRealismReasonable
		res.Warning = ""
	}
	return res
}

func (ps *planPipelineService) runAssumptions(ctx context.Context, input PlanInput) AssumptionsResult {
	fallback := AssumptionsResult{
		Assumptions: types.Assumptions{
			Constraints:      []string{"limited weekly time; plan around existing commitments"},
			PersonalityRisks: []string{"losing momentum once novelty wears off"},
			NonGoals:         []string{"perfecting the plan before acting on it"},
		},
		UsedFallback: true,
	}

	start := time.Now()
	obj, err := ps.ai.GenerateJSON(ctx,
		assumptionsSystemPrompt,
		assumptionsUserPrompt(input.GoalDescription, input.TargetDate, input.HasTimePressure, input.PersonalitySummary, input.PersonalityType),
		"plan_assumptions",
		assumptionsSchema(),
		0.7,
	)
	ps.logAICall(ctx, input.UserID, nil, "assumptions", "", start, err)
	if err != nil {
		ps.log.Warn("Assumption inference failed, using fallback assumptions", "error", err)
		return fallback
	}

	res := AssumptionsResult{
		Assumptions: types.Assumptions{
			Constraints:      toStringSlice(obj["constraints"]),
			PersonalityRisks: toStringSlice(obj["personality_risks"]),
			NonGoals:         toStringSlice(obj["non_goals"]),
		},
	}
	if len(res.Assumptions.Constraints) == 0 && len(res.Assumptions.PersonalityRisks) == 0 {
		return fallback
	}
	return res
}

// -------------------- Stage 3 --------------------

func (ps *planPipelineService) DraftMilestones(ctx context.Context, planID uuid.UUID) (*types.Plan, []types.Milestone, error) {
	plan, err := ps.loadPlan(ctx, planID, types.PlanStatusFramed)
	if err != nil {
		return nil, nil, err
	}

	var frame types.GoalFrame
	var assumptions types.Assumptions
	_ = json.Unmarshal(plan.GoalFrame, &frame)
	_ = json.Unmarshal(plan.Assumptions, &assumptions)

	milestones, runErr := ps.runAssistant(ctx, plan, "draft", draftPayload(plan, frame, assumptions), ps.draftPoller)
	if runErr != nil || len(milestones) == 0 {
		if runErr == nil {
			runErr = fmt.Errorf("assistant returned no milestones")
		}
		ps.log.Error("Draft milestone generation failed", "plan_id", planID, "error", runErr)
		ps.markError(ctx, planID, "draft", runErr)
		return nil, nil, ErrDraftFailed
	}

	target, _ := parseDay(plan.TargetDate)
	milestones = NormalizeMilestones(milestones, time.Now(), target)

	draftJSON, _ := json.Marshal(milestones)
	updates := map[string]interface{}{
		"draft_milestones": datatypes.JSON(draftJSON),
		"status":           types.PlanStatusDrafted,
	}
	if err := ps.planRepo.UpdateFields(ctx, nil, planID, updates); err != nil {
		return nil, nil, fmt.Errorf("persist draft milestones: %w", err)
	}
	plan.DraftMilestones = datatypes.JSON(draftJSON)
	plan.Status = types.PlanStatusDrafted
	return plan, milestones, nil
}

// -------------------- Stage 4 + 5 --------------------

func (ps *planPipelineService) ReviewAndSynthesize(ctx context.Context, planID uuid.UUID, userEmail string) (*types.Plan, []types.Milestone, []string, error) {
	plan, err := ps.loadPlan(ctx, planID, types.PlanStatusDrafted)
	if err != nil {
		return nil, nil, nil, err
	}

	var draft []types.Milestone
	if err := json.Unmarshal(plan.DraftMilestones, &draft); err != nil || len(draft) == 0 {
		err = fmt.Errorf("plan has no draft milestones")
		ps.markError(ctx, planID, "review", err)
		return nil, nil, nil, err
	}
	var assumptions types.Assumptions
	_ = json.Unmarshal(plan.Assumptions, &assumptions)

	review := ps.runReview(ctx, plan, draft, assumptions.PersonalityRisks)

	final := draft
	if len(review.Corrections) > 0 {
		revised, synthErr := ps.runAssistant(ctx, plan, "synthesize",
			synthesisPayload(draft, review.Corrections, plan.PersonalityType, plan.TargetDate), ps.synthesisPoller)
		if synthErr != nil || len(revised) == 0 {
			// Corrections are best-effort; the draft stands.
			ps.log.Warn("Final synthesis failed, keeping draft milestones", "plan_id", planID, "error", synthErr)
		} else {
			final = revised
		}
	}

	target, _ := parseDay(plan.TargetDate)
	final = NormalizeMilestones(final, time.Now(), target)

	finalJSON, _ := json.Marshal(final)
	notesJSON, _ := json.Marshal(review.Corrections)
	updates := map[string]interface{}{
		"final_milestones": datatypes.JSON(finalJSON),
		"review_notes":     datatypes.JSON(notesJSON),
		"status":           types.PlanStatusFinalized,
	}
	if err := ps.planRepo.UpdateFields(ctx, nil, planID, updates); err != nil {
		return nil, nil, nil, fmt.Errorf("persist final milestones: %w", err)
	}
	plan.FinalMilestones = datatypes.JSON(finalJSON)
	plan.ReviewNotes = datatypes.JSON(notesJSON)
	plan.Status = types.PlanStatusFinalized

	if ps.email != nil && strings.TrimSpace(userEmail) != "" {
		if err := ps.email.SendPlanReady(ctx, userEmail, plan, final); err != nil {
			ps.log.Warn("Plan-ready email failed", "plan_id", planID, "error", err)
		}
	}

	return plan, final, review.Corrections, nil
}

func (ps *planPipelineService) runReview(ctx context.Context, plan *types.Plan, draft []types.Milestone, risks []string) ReviewResult {
	start := time.Now()
	obj, err := ps.ai.GenerateJSON(ctx,
		reviewSystemPrompt,
		reviewUserPrompt(draft, plan.PersonalityType, risks),
		"milestone_review",
		reviewSchema(),
		0.2,
	)
	ps.logAICall(ctx, plan.UserID, &plan.ID, "review", "", start, err)
	if err != nil {
		// Fail open: skipping review beats blocking finalization.
		ps.log.Warn("Quality review failed, approving draft unreviewed", "plan_id", plan.ID, "error", err)
		return ReviewResult{Approved: true, Corrections: []string{}, UsedFallback: true}
	}
	approved, _ := obj["approved"].(bool)
	return ReviewResult{
		Approved:    approved,
		Corrections: toStringSlice(obj["corrections"]),
	}
}

// -------------------- assistant thread/run --------------------

func (ps *planPipelineService) runAssistant(ctx context.Context, plan *types.Plan, callType string, payload string, poller RunPoller) ([]types.Milestone, error) {
	if strings.TrimSpace(ps.milestoneAssistantID) == "" {
		return nil, fmt.Errorf("missing OPENAI_MILESTONE_ASSISTANT_ID")
	}

	start := time.Now()
	milestones, runModel, err := ps.runAssistantOnce(ctx, payload, poller)
	ps.logAICall(ctx, plan.UserID, &plan.ID, callType, runModel, start, err)
	return milestones, err
}

func (ps *planPipelineService) runAssistantOnce(ctx context.Context, payload string, poller RunPoller) ([]types.Milestone, string, error) {
	threadID, err := ps.ai.CreateThread(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("create thread: %w", err)
	}
	if err := ps.ai.AddMessage(ctx, threadID, payload); err != nil {
		return nil, "", fmt.Errorf("post message: %w", err)
	}
	runID, err := ps.ai.StartRun(ctx, threadID, ps.milestoneAssistantID)
	if err != nil {
		return nil, "", fmt.Errorf("start run: %w", err)
	}

	var run *AssistantRun
	pollErr := poller.Poll(ctx, func(ctx context.Context) (bool, error) {
		r, err := ps.ai.GetRun(ctx, threadID, runID)
		if err != nil {
			return false, err
		}
		run = r
		return r.Terminal(), nil
	})
	runModel := ""
	if run != nil {
		runModel = run.Model
	}
	if pollErr != nil {
		return nil, runModel, fmt.Errorf("poll run: %w", pollErr)
	}
	if run == nil || run.Status != "completed" {
		status := "unknown"
		if run != nil {
			status = run.Status
		}
		return nil, runModel, fmt.Errorf("run ended with status %q", status)
	}

	text, err := ps.ai.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		return nil, runModel, fmt.Errorf("read assistant message: %w", err)
	}
	milestones, err := parseMilestoneList(text)
	return milestones, runModel, err
}

func parseMilestoneList(text string) ([]types.Milestone, error) {
	text = StripCodeFences(text)
	var wrapped struct {
		Milestones []types.Milestone `json:"milestones"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && len(wrapped.Milestones) > 0 {
		return wrapped.Milestones, nil
	}
	var bare []types.Milestone
	if err := json.Unmarshal([]byte(text), &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	return nil, fmt.Errorf("assistant message is not a milestone list")
}

// -------------------- helpers --------------------

func (ps *planPipelineService) loadPlan(ctx context.Context, planID uuid.UUID, expectedStatus string) (*types.Plan, error) {
	plan, err := ps.planRepo.GetByID(ctx, nil, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status != expectedStatus {
		return nil, &StatusError{Expected: expectedStatus, Actual: plan.Status}
	}
	return plan, nil
}

func (ps *planPipelineService) markError(ctx context.Context, planID uuid.UUID, stage string, cause error) {
	updates := map[string]interface{}{
		"status": types.PlanStatusError,
		"error":  fmt.Sprintf("%s: %v", stage, cause),
	}
	if err := ps.planRepo.UpdateFields(ctx, nil, planID, updates); err != nil {
		ps.log.Error("Failed to persist error status", "plan_id", planID, "error", err)
	}
}

func (ps *planPipelineService) logAICall(ctx context.Context, userID uuid.UUID, planID *uuid.UUID, callType string, model string, start time.Time, callErr error) {
	if ps.aiLogRepo == nil {
		return
	}
	if model == "" {
		model = ps.ai.Model()
	}
	entry := &types.AICallLog{
		CallType:   callType,
		Model:      model,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    callErr == nil,
	}
	if userID != uuid.Nil {
		entry.UserID = &userID
	}
	entry.PlanID = planID
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	if err := ps.aiLogRepo.Create(ctx, nil, []*types.AICallLog{entry}); err != nil {
		ps.log.Debug("AI call log insert failed", "error", err)
	}
}

func fallbackGoalName(goalDescription string) string {
	words := strings.Fields(strings.TrimSpace(goalDescription))
	if len(words) > 6 {
		words = words[:6]
	}
	if len(words) == 0 {
		return "Your goal"
	}
	return strings.Join(words, " ")
}

func strOrEmpty(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
