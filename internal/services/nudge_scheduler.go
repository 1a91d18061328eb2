package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/compasshq/compass-backend/internal/clients/redis"
	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/types"
	"github.com/compasshq/compass-backend/internal/utils"
)

const schedulerLockKey = "compass:nudge_scheduler"

// NudgeSchedulerService sweeps finalized plans and creates a pending
// milestone reminder for each plan whose current milestone has not been
// reminded within the user's frequency window. Prompts are left empty; the
// fill service writes them later.
type NudgeSchedulerService interface {
	RunOnce(ctx context.Context) (created int, err error)
	StartWorker(ctx context.Context)
}

type nudgeSchedulerService struct {
	log *logger.Logger

	planRepo     repos.PlanRepo
	notifRepo    repos.NotificationRepo
	settingsRepo repos.CompanionSettingsRepo

	locker   redis.Locker
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

func NewNudgeSchedulerService(
	baseLog *logger.Logger,
	planRepo repos.PlanRepo,
	notifRepo repos.NotificationRepo,
	settingsRepo repos.CompanionSettingsRepo,
	locker redis.Locker,
) NudgeSchedulerService {
	log := baseLog.With("service", "NudgeSchedulerService")
	intervalMin := utils.GetEnvAsInt("NUDGE_SCHEDULER_INTERVAL_MINUTES", 60, log)
	return &nudgeSchedulerService{
		log:          log,
		planRepo:     planRepo,
		notifRepo:    notifRepo,
		settingsRepo: settingsRepo,
		locker:       locker,
		interval:     time.Duration(intervalMin) * time.Minute,
		lockTTL:      5 * time.Minute,
		now:          time.Now,
	}
}

func (ns *nudgeSchedulerService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(ns.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				created, err := ns.RunOnce(ctx)
				if err != nil {
					ns.log.Warn("Scheduler sweep failed", "error", err)
					continue
				}
				if created > 0 {
					ns.log.Info("Scheduler sweep done", "reminders_created", created)
				}
			}
		}
	}()
}

func (ns *nudgeSchedulerService) RunOnce(ctx context.Context) (int, error) {
	release, ok, err := ns.locker.Acquire(ctx, schedulerLockKey, ns.lockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		ns.log.Debug("Scheduler lock held elsewhere, skipping sweep")
		return 0, nil
	}
	defer release()

	plans, err := ns.planRepo.ListByStatus(ctx, nil, types.PlanStatusFinalized)
	if err != nil {
		return 0, err
	}
	if len(plans) == 0 {
		return 0, nil
	}

	settingsByUser, err := ns.loadSettings(ctx, plans)
	if err != nil {
		// Frequency defaults still apply; the sweep proceeds.
		ns.log.Warn("Loading companion settings failed, defaulting to weekly", "error", err)
		settingsByUser = map[uuid.UUID]*types.CompanionSettings{}
	}

	now := ns.now()
	created := 0
	for _, plan := range plans {
		n, err := ns.sweepPlan(ctx, plan, settingsByUser[plan.UserID], now)
		if err != nil {
			// One broken plan must not starve the rest of the sweep.
			ns.log.Warn("Plan sweep failed", "plan_id", plan.ID, "error", err)
			continue
		}
		created += n
	}
	return created, nil
}

func (ns *nudgeSchedulerService) sweepPlan(ctx context.Context, plan *types.Plan, settings *types.CompanionSettings, now time.Time) (int, error) {
	var milestones []types.Milestone
	if err := json.Unmarshal(plan.FinalMilestones, &milestones); err != nil {
		return 0, err
	}

	current := CurrentMilestone(milestones, now)
	if current == nil {
		return 0, nil
	}

	lookback := 7 * 24 * time.Hour
	if settings != nil && settings.NudgeFrequency == types.NudgeFrequencyDaily {
		lookback = 24 * time.Hour
	}

	exists, err := ns.notifRepo.ExistsSince(ctx, nil, plan.UserID, plan.ID, current.ID, now.Add(-lookback))
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	notif := &types.Notification{
		ID:             uuid.New(),
		UserID:         plan.UserID,
		PlanID:         plan.ID,
		MilestoneID:    current.ID,
		Kind:           types.NotificationKindMilestoneReminder,
		Prompt:         "",
		DeliveryStatus: types.DeliveryStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := ns.notifRepo.Create(ctx, nil, []*types.Notification{notif}); err != nil {
		return 0, err
	}
	return 1, nil
}

func (ns *nudgeSchedulerService) loadSettings(ctx context.Context, plans []*types.Plan) (map[uuid.UUID]*types.CompanionSettings, error) {
	seen := map[uuid.UUID]bool{}
	userIDs := make([]uuid.UUID, 0, len(plans))
	for _, p := range plans {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			userIDs = append(userIDs, p.UserID)
		}
	}
	rows, err := ns.settingsRepo.GetByUserIDs(ctx, nil, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*types.CompanionSettings, len(rows))
	for _, s := range rows {
		out[s.UserID] = s
	}
	return out, nil
}

// CurrentMilestone returns the first incomplete milestone whose date window
// contains the given day, or nil. Dates are whole-day inclusive on both ends.
func CurrentMilestone(milestones []types.Milestone, now time.Time) *types.Milestone {
	today := truncateDay(now)
	for i := range milestones {
		m := &milestones[i]
		if m.Completed {
			continue
		}
		start, okS := parseDay(m.StartDate)
		due, okD := parseDay(m.DueDate)
		if !okS || !okD {
			continue
		}
		if !today.Before(start) && !today.After(due) {
			return m
		}
	}
	return nil
}
