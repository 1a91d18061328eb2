package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/compasshq/compass-backend/internal/types"
)

func newTestPipeline(t *testing.T, planRepo *fakePlanRepo, ai *fakeOpenAIClient) *planPipelineService {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &planPipelineService{
		log:                  testLogger(t),
		planRepo:             planRepo,
		aiLogRepo:            &fakeAICallLogRepo{},
		ai:                   ai,
		milestoneAssistantID: "asst_test",
		draftPoller:          NewRunPoller(time.Second, time.Minute, clock),
		synthesisPoller:      NewRunPoller(time.Second, time.Minute, clock),
	}
}

func validInput() PlanInput {
	return PlanInput{
		UserID:             uuid.New(),
		GoalDescription:    "Run a marathon before my 30th birthday",
		TargetDate:         "2026-09-01",
		PersonalitySummary: "Driven but prone to overcommitting",
		PersonalityType:    "Type 3 - The Achiever",
	}
}

func structuredOutputs(frame, assumptions, review map[string]any) func(string) (map[string]any, error) {
	return func(schemaName string) (map[string]any, error) {
		switch schemaName {
		case "goal_frame":
			if frame == nil {
				return nil, fmt.Errorf("frame call failed")
			}
			return frame, nil
		case "plan_assumptions":
			if assumptions == nil {
				return nil, fmt.Errorf("assumptions call failed")
			}
			return assumptions, nil
		case "milestone_review":
			if review == nil {
				return nil, fmt.Errorf("review call failed")
			}
			return review, nil
		}
		return nil, fmt.Errorf("unexpected schema %q", schemaName)
	}
}

func goodFrame() map[string]any {
	return map[string]any{
		"goal_name":        "Marathon by 30",
		"success_criteria": "Cross a marathon finish line",
		"failure_criteria": "Training stops for a month",
		"anti_patterns":    []any{"racing too fast too early"},
		"date_realism":     "reasonable",
		"warning":          "",
	}
}

func goodAssumptions() map[string]any {
	return map[string]any{
		"constraints":       []any{"training limited to mornings"},
		"personality_risks": []any{"overtraining to prove a point"},
		"non_goals":         []any{"a specific finishing time"},
	}
}

func TestFrameAndAssume_ParsesStructuredOutput(t *testing.T) {
	planRepo := newFakePlanRepo()
	ai := &fakeOpenAIClient{generateJSON: structuredOutputs(goodFrame(), goodAssumptions(), nil)}
	ps := newTestPipeline(t, planRepo, ai)

	plan, frame, assumptions, err := ps.FrameAndAssume(context.Background(), validInput())
	if err != nil {
		t.Fatalf("FrameAndAssume: %v", err)
	}
	if frame.UsedFallback || assumptions.UsedFallback {
		t.Fatalf("fallback used on healthy responses")
	}
	if frame.GoalName != "Marathon by 30" {
		t.Fatalf("goal name not parsed: %q", frame.GoalName)
	}
	if frame.DateRealism != types.DateRealismReasonable {
		t.Fatalf("date realism not parsed: %q", frame.DateRealism)
	}
	if len(assumptions.Assumptions.PersonalityRisks) != 1 {
		t.Fatalf("risks not parsed: %+v", assumptions.Assumptions)
	}
	if plan.Status != types.PlanStatusFramed {
		t.Fatalf("expected framed plan, got %q", plan.Status)
	}
	if _, ok := planRepo.plans[plan.ID]; !ok {
		t.Fatalf("plan not persisted")
	}
}

func TestFrameAndAssume_FailsOpenOnModelErrors(t *testing.T) {
	planRepo := newFakePlanRepo()
	ai := &fakeOpenAIClient{generateJSON: structuredOutputs(nil, nil, nil)}
	ps := newTestPipeline(t, planRepo, ai)

	plan, frame, assumptions, err := ps.FrameAndAssume(context.Background(), validInput())
	if err != nil {
		t.Fatalf("plan creation must survive model failures: %v", err)
	}
	if !frame.UsedFallback || !assumptions.UsedFallback {
		t.Fatalf("expected fallback flags set")
	}
	if frame.GoalName == "" {
		t.Fatalf("fallback frame must still name the goal")
	}
	if plan.Status != types.PlanStatusFramed {
		t.Fatalf("expected framed plan, got %q", plan.Status)
	}
}

func TestFrameAndAssume_RejectsBadInput(t *testing.T) {
	ps := newTestPipeline(t, newFakePlanRepo(), &fakeOpenAIClient{})

	in := validInput()
	in.TargetDate = "next spring"
	if _, _, _, err := ps.FrameAndAssume(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unparseable target date, got %v", err)
	}

	in = validInput()
	in.GoalDescription = "  "
	if _, _, _, err := ps.FrameAndAssume(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty goal, got %v", err)
	}
}

func TestPipeline_CallLogRecordsModel(t *testing.T) {
	planRepo := newFakePlanRepo()
	ai := &fakeOpenAIClient{generateJSON: structuredOutputs(goodFrame(), goodAssumptions(), nil)}
	ps := newTestPipeline(t, planRepo, ai)

	if _, _, _, err := ps.FrameAndAssume(context.Background(), validInput()); err != nil {
		t.Fatalf("FrameAndAssume: %v", err)
	}
	logRepo := ps.aiLogRepo.(*fakeAICallLogRepo)
	if len(logRepo.entries) != 2 {
		t.Fatalf("expected 2 call log entries, got %d", len(logRepo.entries))
	}
	for _, e := range logRepo.entries {
		if e.Model != "test-model" {
			t.Fatalf("call %q logged model %q, want client default", e.CallType, e.Model)
		}
	}

	// Assistant runs report the model they executed on; that wins over
	// the client default.
	plan := framedPlan(planRepo)
	ai2 := &fakeOpenAIClient{runModel: "asst-model", latestMessage: assistantMilestoneJSON()}
	ps2 := newTestPipeline(t, planRepo, ai2)
	if _, _, err := ps2.DraftMilestones(context.Background(), plan.ID); err != nil {
		t.Fatalf("DraftMilestones: %v", err)
	}
	logRepo2 := ps2.aiLogRepo.(*fakeAICallLogRepo)
	if len(logRepo2.entries) != 1 {
		t.Fatalf("expected 1 call log entry, got %d", len(logRepo2.entries))
	}
	if logRepo2.entries[0].Model != "asst-model" {
		t.Fatalf("draft call logged model %q, want run model", logRepo2.entries[0].Model)
	}
}

func framedPlan(planRepo *fakePlanRepo) *types.Plan {
	frameJSON, _ := json.Marshal(types.GoalFrame{SuccessCriteria: "s", FailureCriteria: "f"})
	assumeJSON, _ := json.Marshal(types.Assumptions{PersonalityRisks: []string{"r"}})
	plan := &types.Plan{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		GoalDescription: "learn to paint",
		GoalName:        "Painting basics",
		TargetDate:      "2026-06-01",
		PersonalityType: "Type 9",
		Status:          types.PlanStatusFramed,
		GoalFrame:       datatypes.JSON(frameJSON),
		Assumptions:     datatypes.JSON(assumeJSON),
	}
	planRepo.plans[plan.ID] = plan
	return plan
}

func assistantMilestoneJSON() string {
	return "```json\n" + `{"milestones":[
		{"title":"Gather supplies","description":"buy paint","start_date":"2026-03-02","due_date":"2026-03-10"},
		{"title":"First three studies","start_date":"2026-03-11","due_date":"2026-04-01"}
	]}` + "\n```"
}

func TestDraftMilestones_HappyPath(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := framedPlan(planRepo)
	ai := &fakeOpenAIClient{latestMessage: assistantMilestoneJSON()}
	ps := newTestPipeline(t, planRepo, ai)

	got, milestones, err := ps.DraftMilestones(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("DraftMilestones: %v", err)
	}
	if got.Status != types.PlanStatusDrafted {
		t.Fatalf("expected drafted, got %q", got.Status)
	}
	if len(milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(milestones))
	}
	for i, m := range milestones {
		if m.ID == "" {
			t.Fatalf("milestone %d missing id", i)
		}
	}
	if ai.startedRuns != 1 {
		t.Fatalf("expected one assistant run, got %d", ai.startedRuns)
	}
}

func TestDraftMilestones_WrongStatus(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := framedPlan(planRepo)
	plan.Status = types.PlanStatusFinalized
	ps := newTestPipeline(t, planRepo, &fakeOpenAIClient{})

	_, _, err := ps.DraftMilestones(context.Background(), plan.ID)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Expected != types.PlanStatusFramed {
		t.Fatalf("unexpected expectation %q", statusErr.Expected)
	}
}

func TestDraftMilestones_PlanNotFound(t *testing.T) {
	ps := newTestPipeline(t, newFakePlanRepo(), &fakeOpenAIClient{})
	_, _, err := ps.DraftMilestones(context.Background(), uuid.New())
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestDraftMilestones_EmptyListMovesPlanToError(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := framedPlan(planRepo)
	ai := &fakeOpenAIClient{latestMessage: `{"milestones":[]}`}
	ps := newTestPipeline(t, planRepo, ai)

	_, _, err := ps.DraftMilestones(context.Background(), plan.ID)
	if !errors.Is(err, ErrDraftFailed) {
		t.Fatalf("expected ErrDraftFailed, got %v", err)
	}
	if plan.Status != types.PlanStatusError {
		t.Fatalf("expected plan moved to error, got %q", plan.Status)
	}
}

func TestDraftMilestones_RunFailureMovesPlanToError(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := framedPlan(planRepo)
	ai := &fakeOpenAIClient{runStatus: "failed"}
	ps := newTestPipeline(t, planRepo, ai)

	_, _, err := ps.DraftMilestones(context.Background(), plan.ID)
	if !errors.Is(err, ErrDraftFailed) {
		t.Fatalf("expected ErrDraftFailed, got %v", err)
	}
	if plan.Status != types.PlanStatusError {
		t.Fatalf("expected plan moved to error, got %q", plan.Status)
	}
}

func draftedPlan(planRepo *fakePlanRepo) *types.Plan {
	plan := framedPlan(planRepo)
	draft := []types.Milestone{
		{ID: "m1", Title: "Gather supplies", StartDate: "2026-03-02", DueDate: "2026-03-10"},
		{ID: "m2", Title: "First studies", StartDate: "2026-03-11", DueDate: "2026-04-01"},
	}
	raw, _ := json.Marshal(draft)
	plan.DraftMilestones = datatypes.JSON(raw)
	plan.Status = types.PlanStatusDrafted
	return plan
}

func TestReviewAndSynthesize_ApprovedKeepsDraft(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := draftedPlan(planRepo)
	review := map[string]any{"approved": true, "corrections": []any{}}
	ai := &fakeOpenAIClient{generateJSON: structuredOutputs(nil, nil, review)}
	ps := newTestPipeline(t, planRepo, ai)

	got, final, corrections, err := ps.ReviewAndSynthesize(context.Background(), plan.ID, "")
	if err != nil {
		t.Fatalf("ReviewAndSynthesize: %v", err)
	}
	if got.Status != types.PlanStatusFinalized {
		t.Fatalf("expected finalized, got %q", got.Status)
	}
	if len(corrections) != 0 {
		t.Fatalf("expected no corrections, got %v", corrections)
	}
	if len(final) != 2 || final[0].Title != "Gather supplies" {
		t.Fatalf("draft not carried into final: %+v", final)
	}
	if ai.startedRuns != 0 {
		t.Fatalf("synthesis must not run when approved, got %d runs", ai.startedRuns)
	}
}

func TestReviewAndSynthesize_ReviewFailureFailsOpen(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := draftedPlan(planRepo)
	ai := &fakeOpenAIClient{generateJSON: structuredOutputs(nil, nil, nil)}
	ps := newTestPipeline(t, planRepo, ai)

	got, final, _, err := ps.ReviewAndSynthesize(context.Background(), plan.ID, "")
	if err != nil {
		t.Fatalf("review failure must not block finalization: %v", err)
	}
	if got.Status != types.PlanStatusFinalized {
		t.Fatalf("expected finalized, got %q", got.Status)
	}
	if len(final) != 2 {
		t.Fatalf("expected draft kept, got %d milestones", len(final))
	}
}

func TestReviewAndSynthesize_CorrectionsTriggerSynthesis(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := draftedPlan(planRepo)
	review := map[string]any{"approved": false, "corrections": []any{"milestone 2 is too vague"}}
	revised := `{"milestones":[{"title":"Revised study plan","start_date":"2026-03-02","due_date":"2026-05-01"}]}`
	ai := &fakeOpenAIClient{
		generateJSON:  structuredOutputs(nil, nil, review),
		latestMessage: revised,
	}
	ps := newTestPipeline(t, planRepo, ai)

	got, final, corrections, err := ps.ReviewAndSynthesize(context.Background(), plan.ID, "")
	if err != nil {
		t.Fatalf("ReviewAndSynthesize: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %v", corrections)
	}
	if len(final) != 1 || final[0].Title != "Revised study plan" {
		t.Fatalf("synthesis output not used: %+v", final)
	}
	if ai.startedRuns != 1 {
		t.Fatalf("expected one synthesis run, got %d", ai.startedRuns)
	}
	if got.Status != types.PlanStatusFinalized {
		t.Fatalf("expected finalized, got %q", got.Status)
	}
}

func TestReviewAndSynthesize_SynthesisFailureKeepsDraft(t *testing.T) {
	planRepo := newFakePlanRepo()
	plan := draftedPlan(planRepo)
	review := map[string]any{"approved": false, "corrections": []any{"tighten dates"}}
	ai := &fakeOpenAIClient{
		generateJSON: structuredOutputs(nil, nil, review),
		runStatus:    "failed",
	}
	ps := newTestPipeline(t, planRepo, ai)

	got, final, _, err := ps.ReviewAndSynthesize(context.Background(), plan.ID, "")
	if err != nil {
		t.Fatalf("synthesis failure must not block finalization: %v", err)
	}
	if got.Status != types.PlanStatusFinalized {
		t.Fatalf("expected finalized, got %q", got.Status)
	}
	if len(final) != 2 {
		t.Fatalf("expected draft kept after synthesis failure, got %d", len(final))
	}
}

func TestParseMilestoneList(t *testing.T) {
	fenced := assistantMilestoneJSON()
	ms, err := parseMilestoneList(fenced)
	if err != nil {
		t.Fatalf("fenced wrapper: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(ms))
	}

	bare := `[{"title":"Only one","start_date":"2026-03-02","due_date":"2026-03-10"}]`
	ms, err = parseMilestoneList(bare)
	if err != nil {
		t.Fatalf("bare array: %v", err)
	}
	if len(ms) != 1 {
		t.Fatalf("expected 1 milestone, got %d", len(ms))
	}

	if _, err := parseMilestoneList("I could not produce milestones, sorry."); err == nil {
		t.Fatalf("expected error for prose response")
	}
}
