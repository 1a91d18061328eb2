package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/types"
)

// ---- plan repo ----

type fakePlanRepo struct {
	plans   map[uuid.UUID]*types.Plan
	updates map[uuid.UUID][]map[string]interface{}
	listErr error
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{
		plans:   map[uuid.UUID]*types.Plan{},
		updates: map[uuid.UUID][]map[string]interface{}{},
	}
}

func (f *fakePlanRepo) Create(ctx context.Context, tx *gorm.DB, plans []*types.Plan) ([]*types.Plan, error) {
	for _, p := range plans {
		f.plans[p.ID] = p
	}
	return plans, nil
}

func (f *fakePlanRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Plan, error) {
	return f.plans[id], nil
}

func (f *fakePlanRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error) {
	var out []*types.Plan
	for _, p := range f.plans {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePlanRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Plan, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*types.Plan
	for _, p := range f.plans {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePlanRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.updates[id] = append(f.updates[id], updates)
	p, ok := f.plans[id]
	if !ok {
		return fmt.Errorf("plan %s not found", id)
	}
	if v, ok := updates["status"].(string); ok {
		p.Status = v
	}
	if v, ok := updates["error"].(string); ok {
		p.Error = v
	}
	if v, ok := updates["draft_milestones"].(datatypes.JSON); ok {
		p.DraftMilestones = v
	}
	if v, ok := updates["final_milestones"].(datatypes.JSON); ok {
		p.FinalMilestones = v
	}
	if v, ok := updates["review_notes"].(datatypes.JSON); ok {
		p.ReviewNotes = v
	}
	return nil
}

// ---- notification repo ----

type fakeNotificationRepo struct {
	notifications []*types.Notification
	sinceArgs     []time.Time
	updates       map[uuid.UUID][]map[string]interface{}
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{updates: map[uuid.UUID][]map[string]interface{}{}}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, tx *gorm.DB, notifications []*types.Notification) ([]*types.Notification, error) {
	f.notifications = append(f.notifications, notifications...)
	return notifications, nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Notification, error) {
	for _, n := range f.notifications {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, nil
}

func (f *fakeNotificationRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Notification, error) {
	var out []*types.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) ExistsSince(ctx context.Context, tx *gorm.DB, userID, planID uuid.UUID, milestoneID string, since time.Time) (bool, error) {
	f.sinceArgs = append(f.sinceArgs, since)
	for _, n := range f.notifications {
		if n.UserID != userID || n.PlanID != planID || n.MilestoneID != milestoneID {
			continue
		}
		if n.DeliveryStatus == types.DeliveryStatusFailed {
			continue
		}
		if !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotificationRepo) ListUnfilled(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error) {
	var out []*types.Notification
	for _, n := range f.notifications {
		if n.Kind == types.NotificationKindMilestoneReminder && n.Prompt == "" && n.DeliveryStatus == types.DeliveryStatusPending {
			out = append(out, n)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) ListUndelivered(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error) {
	var out []*types.Notification
	for _, n := range f.notifications {
		if n.Prompt != "" && n.DeliveryStatus == types.DeliveryStatusPending {
			out = append(out, n)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) FeedbackForMilestone(ctx context.Context, tx *gorm.DB, planID uuid.UUID, milestoneID string) ([]string, error) {
	var out []string
	for _, n := range f.notifications {
		if n.PlanID == planID && n.MilestoneID == milestoneID && n.Feedback != "" {
			out = append(out, n.Feedback)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.updates[id] = append(f.updates[id], updates)
	for _, n := range f.notifications {
		if n.ID != id {
			continue
		}
		if v, ok := updates["prompt"].(string); ok {
			n.Prompt = v
		}
		if v, ok := updates["delivery_status"].(string); ok {
			n.DeliveryStatus = v
		}
		if v, ok := updates["read"].(bool); ok {
			n.Read = v
		}
		if v, ok := updates["feedback"].(string); ok {
			n.Feedback = v
		}
		return nil
	}
	return fmt.Errorf("notification %s not found", id)
}

// ---- companion settings repo ----

type fakeSettingsRepo struct {
	byUser map[uuid.UUID]*types.CompanionSettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{byUser: map[uuid.UUID]*types.CompanionSettings{}}
}

func (f *fakeSettingsRepo) GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.CompanionSettings, error) {
	var out []*types.CompanionSettings
	for _, id := range userIDs {
		if s, ok := f.byUser[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSettingsRepo) Upsert(ctx context.Context, tx *gorm.DB, settings *types.CompanionSettings) (*types.CompanionSettings, error) {
	f.byUser[settings.UserID] = settings
	return settings, nil
}

// ---- growth advice repo ----

type fakeGrowthAdviceRepo struct {
	rows map[string]*types.GrowthAdvice // key: topic/type
}

func newFakeGrowthAdviceRepo() *fakeGrowthAdviceRepo {
	return &fakeGrowthAdviceRepo{rows: map[string]*types.GrowthAdvice{}}
}

func (f *fakeGrowthAdviceRepo) GetByTopicAndType(ctx context.Context, tx *gorm.DB, topic string, personalityType int) (*types.GrowthAdvice, error) {
	return f.rows[fmt.Sprintf("%s/%d", topic, personalityType)], nil
}

// ---- ai call log repo ----

type fakeAICallLogRepo struct {
	entries []*types.AICallLog
}

func (f *fakeAICallLogRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.AICallLog) error {
	f.entries = append(f.entries, entries...)
	return nil
}

// ---- user repo ----

type fakeUserRepo struct {
	users map[uuid.UUID]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*types.User{}}
}

func (f *fakeUserRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	var out []*types.User
	for _, id := range userIDs {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// ---- locker ----

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.acquired++
	return func() { f.released++ }, true, nil
}

func (f *fakeLocker) Close() error { return nil }

// ---- openai client ----

type fakeOpenAIClient struct {
	generateJSON func(schemaName string) (map[string]any, error)

	threadErr     error
	runStatus     string
	runModel      string
	runErr        error
	latestMessage string
	latestErr     error

	startedRuns int
}

func (f *fakeOpenAIClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any, temperature float64) (map[string]any, error) {
	if f.generateJSON == nil {
		return nil, fmt.Errorf("no structured output configured")
	}
	return f.generateJSON(schemaName)
}

func (f *fakeOpenAIClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	return f.latestMessage, f.latestErr
}

func (f *fakeOpenAIClient) Model() string {
	return "test-model"
}

func (f *fakeOpenAIClient) CreateThread(ctx context.Context) (string, error) {
	if f.threadErr != nil {
		return "", f.threadErr
	}
	return "thread_1", nil
}

func (f *fakeOpenAIClient) AddMessage(ctx context.Context, threadID, content string) error {
	return nil
}

func (f *fakeOpenAIClient) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	f.startedRuns++
	return "run_1", nil
}

func (f *fakeOpenAIClient) GetRun(ctx context.Context, threadID, runID string) (*AssistantRun, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	status := f.runStatus
	if status == "" {
		status = "completed"
	}
	return &AssistantRun{ID: runID, Status: status, Model: f.runModel}, nil
}

func (f *fakeOpenAIClient) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	return f.latestMessage, f.latestErr
}
