package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/types"
	"github.com/compasshq/compass-backend/internal/utils"
)

// NudgeFillService writes prompt text into reminders the scheduler created
// empty. Every notification leaves FillPending with a non-empty prompt: the
// assistant's text when the run succeeds, the deterministic fallback when it
// does not. Fill failures never surface as errors to the sweep.
type NudgeFillService interface {
	FillPending(ctx context.Context, limit int) (filled int, err error)
}

type nudgeFillService struct {
	log *logger.Logger

	planRepo   repos.PlanRepo
	notifRepo  repos.NotificationRepo
	adviceRepo repos.GrowthAdviceRepo
	aiLogRepo  repos.AICallLogRepo

	ai OpenAIClient

	nudgeAssistantID string
	adviceTopic      string
	poller           RunPoller
	now              func() time.Time
}

func NewNudgeFillService(
	baseLog *logger.Logger,
	planRepo repos.PlanRepo,
	notifRepo repos.NotificationRepo,
	adviceRepo repos.GrowthAdviceRepo,
	aiLogRepo repos.AICallLogRepo,
	ai OpenAIClient,
	clock Clock,
) NudgeFillService {
	log := baseLog.With("service", "NudgeFillService")
	interval := time.Duration(utils.GetEnvAsInt("PLAN_POLL_INTERVAL_MS", 1000, log)) * time.Millisecond
	budget := time.Duration(utils.GetEnvAsInt("NUDGE_POLL_BUDGET_SECONDS", 30, log)) * time.Second
	return &nudgeFillService{
		log:              log,
		planRepo:         planRepo,
		notifRepo:        notifRepo,
		adviceRepo:       adviceRepo,
		aiLogRepo:        aiLogRepo,
		ai:               ai,
		nudgeAssistantID: utils.GetEnv("OPENAI_NUDGE_ASSISTANT_ID", "", log),
		adviceTopic:      utils.GetEnv("GROWTH_ADVICE_TOPIC", "goal_pursuit", log),
		poller:           NewRunPoller(interval, budget, clock),
		now:              time.Now,
	}
}

func (nf *nudgeFillService) FillPending(ctx context.Context, limit int) (int, error) {
	pending, err := nf.notifRepo.ListUnfilled(ctx, nil, limit)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, notif := range pending {
		if err := nf.fillOne(ctx, notif); err != nil {
			nf.log.Warn("Nudge fill failed", "notification_id", notif.ID, "error", err)
			continue
		}
		filled++
	}
	return filled, nil
}

func (nf *nudgeFillService) fillOne(ctx context.Context, notif *types.Notification) error {
	plan, err := nf.planRepo.GetByID(ctx, nil, notif.PlanID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return fmt.Errorf("plan %s not found", notif.PlanID)
	}

	var milestones []types.Milestone
	_ = json.Unmarshal(plan.FinalMilestones, &milestones)
	milestone := findMilestone(milestones, notif.MilestoneID)
	if milestone == nil {
		return fmt.Errorf("milestone %s not in plan %s", notif.MilestoneID, notif.PlanID)
	}

	days := daysRemaining(milestone.DueDate, nf.now())
	prompt := nf.generatePrompt(ctx, plan, *milestone, notif, days)
	if strings.TrimSpace(prompt) == "" {
		prompt = FallbackNudge(*milestone, plan.GoalName, days)
	}

	return nf.notifRepo.UpdateFields(ctx, nil, notif.ID, map[string]interface{}{
		"prompt": prompt,
	})
}

func (nf *nudgeFillService) generatePrompt(ctx context.Context, plan *types.Plan, milestone types.Milestone, notif *types.Notification, days int) string {
	typeNum := ExtractPersonalityTypeNumber(plan.PersonalityType)

	advice := ""
	if nf.adviceRepo != nil && typeNum > 0 {
		row, err := nf.adviceRepo.GetByTopicAndType(ctx, nil, nf.adviceTopic, typeNum)
		if err != nil {
			nf.log.Debug("Growth advice lookup failed", "error", err)
		} else if row != nil {
			advice = row.Advice
		}
	}

	feedback, err := nf.notifRepo.FeedbackForMilestone(ctx, nil, notif.PlanID, notif.MilestoneID)
	if err != nil {
		nf.log.Debug("Feedback history lookup failed", "error", err)
		feedback = nil
	}

	start := time.Now()
	text, runModel, runErr := nf.runNudgeAssistant(ctx, nudgePayload(milestone, plan.GoalName, typeNum, advice, feedback, days))
	nf.logAICall(ctx, plan, runModel, start, runErr)
	if runErr != nil {
		nf.log.Warn("Nudge assistant failed, using fallback text", "plan_id", plan.ID, "error", runErr)
		return ""
	}
	return strings.TrimSpace(StripCodeFences(text))
}

func (nf *nudgeFillService) runNudgeAssistant(ctx context.Context, payload string) (string, string, error) {
	if strings.TrimSpace(nf.nudgeAssistantID) == "" {
		return "", "", fmt.Errorf("missing OPENAI_NUDGE_ASSISTANT_ID")
	}

	threadID, err := nf.ai.CreateThread(ctx)
	if err != nil {
		return "", "", fmt.Errorf("create thread: %w", err)
	}
	if err := nf.ai.AddMessage(ctx, threadID, payload); err != nil {
		return "", "", fmt.Errorf("post message: %w", err)
	}
	runID, err := nf.ai.StartRun(ctx, threadID, nf.nudgeAssistantID)
	if err != nil {
		return "", "", fmt.Errorf("start run: %w", err)
	}

	var run *AssistantRun
	pollErr := nf.poller.Poll(ctx, func(ctx context.Context) (bool, error) {
		r, err := nf.ai.GetRun(ctx, threadID, runID)
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
		return "", runModel, fmt.Errorf("poll run: %w", pollErr)
	}
	if run == nil || run.Status != "completed" {
		status := "unknown"
		if run != nil {
			status = run.Status
		}
		return "", runModel, fmt.Errorf("run ended with status %q", status)
	}

	text, err := nf.ai.LatestAssistantMessage(ctx, threadID)
	return text, runModel, err
}

func (nf *nudgeFillService) logAICall(ctx context.Context, plan *types.Plan, model string, start time.Time, callErr error) {
	if nf.aiLogRepo == nil {
		return
	}
	if model == "" {
		model = nf.ai.Model()
	}
	userID := plan.UserID
	planID := plan.ID
	entry := &types.AICallLog{
		UserID:     &userID,
		PlanID:     &planID,
		CallType:   "nudge",
		Model:      model,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    callErr == nil,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	if err := nf.aiLogRepo.Create(ctx, nil, []*types.AICallLog{entry}); err != nil {
		nf.log.Debug("AI call log insert failed", "error", err)
	}
}

var personalityTypeRe = regexp.MustCompile(`\b([1-9])\b`)

// ExtractPersonalityTypeNumber pulls the Enneagram type number out of a
// free-form label like "Type 4 - The Individualist". Returns 0 when no
// single digit 1-9 appears.
func ExtractPersonalityTypeNumber(label string) int {
	m := personalityTypeRe.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FallbackNudge is the deterministic reminder used when prompt generation
// fails. Every variant names the milestone and states the time left as
// "N days remaining", and the personality tips ride along when the
// milestone carries them, so the reminder is useful even with no model
// behind it.
func FallbackNudge(milestone types.Milestone, goalName string, days int) string {
	subject := goalName
	if strings.TrimSpace(subject) == "" {
		subject = "your goal"
	}

	var b strings.Builder
	switch {
	case days <= 0:
		fmt.Fprintf(&b, "%q has 0 days remaining: it is due today. One focused step on %s right now counts double.", milestone.Title, subject)
	case days == 1:
		fmt.Fprintf(&b, "%q has 1 day left. With so few days remaining, a small push on %s today keeps you on track.", milestone.Title, subject)
	default:
		fmt.Fprintf(&b, "%q has %d days remaining. Keep the momentum on %s going with one concrete step today.", milestone.Title, days, subject)
	}
	if tip := strings.TrimSpace(milestone.BlindSpotTip); tip != "" {
		fmt.Fprintf(&b, " Watch out: %s", tip)
	}
	if hook := strings.TrimSpace(milestone.StrengthHook); hook != "" {
		fmt.Fprintf(&b, " Lean on what works for you: %s", hook)
	}
	return b.String()
}

func findMilestone(milestones []types.Milestone, id string) *types.Milestone {
	for i := range milestones {
		if milestones[i].ID == id {
			return &milestones[i]
		}
	}
	return nil
}

func daysRemaining(dueDate string, now time.Time) int {
	due, ok := parseDay(dueDate)
	if !ok {
		return 0
	}
	d := int(due.Sub(truncateDay(now)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
