package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/types"
)

type NotificationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, notifications []*types.Notification) ([]*types.Notification, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Notification, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Notification, error)

	// ExistsSince reports whether a non-failed notification for the tuple
	// exists within the lookback window. Failed deliveries are excluded on
	// purpose so the next scheduler pass retries them.
	ExistsSince(ctx context.Context, tx *gorm.DB, userID, planID uuid.UUID, milestoneID string, since time.Time) (bool, error)

	// ListUnfilled returns reminder notifications whose prompt is still empty.
	ListUnfilled(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error)

	// ListUndelivered returns filled notifications still pending delivery.
	ListUndelivered(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error)

	// FeedbackForMilestone returns prior non-empty feedback texts on the same
	// (plan, milestone), oldest first.
	FeedbackForMilestone(ctx context.Context, tx *gorm.DB, planID uuid.UUID, milestoneID string) ([]string, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type notificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationRepo(db *gorm.DB, baseLog *logger.Logger) NotificationRepo {
	return &notificationRepo{db: db, log: baseLog.With("repo", "NotificationRepo")}
}

func (nr *notificationRepo) Create(ctx context.Context, tx *gorm.DB, notifications []*types.Notification) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	if len(notifications) == 0 {
		return []*types.Notification{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (nr *notificationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var n types.Notification
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&n).Error
	if err != nil {
		return nil, err
	}
	if n.ID == uuid.Nil {
		return nil, nil
	}
	return &n, nil
}

func (nr *notificationRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	var results []*types.Notification
	if userID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (nr *notificationRepo) ExistsSince(ctx context.Context, tx *gorm.DB, userID, planID uuid.UUID, milestoneID string, since time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Notification{}).
		Where("user_id = ? AND plan_id = ? AND milestone_id = ?", userID, planID, milestoneID).
		Where("created_at >= ?", since).
		Where("delivery_status <> ?", types.DeliveryStatusFailed).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (nr *notificationRepo) ListUnfilled(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*types.Notification
	if err := transaction.WithContext(ctx).
		Where("kind = ?", types.NotificationKindMilestoneReminder).
		Where("prompt = ''").
		Where("delivery_status = ?", types.DeliveryStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (nr *notificationRepo) ListUndelivered(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*types.Notification
	if err := transaction.WithContext(ctx).
		Where("kind = ?", types.NotificationKindMilestoneReminder).
		Where("prompt <> ''").
		Where("delivery_status = ?", types.DeliveryStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (nr *notificationRepo) FeedbackForMilestone(ctx context.Context, tx *gorm.DB, planID uuid.UUID, milestoneID string) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	var rows []*types.Notification
	if err := transaction.WithContext(ctx).
		Where("plan_id = ? AND milestone_id = ?", planID, milestoneID).
		Where("feedback <> ''").
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, n := range rows {
		if n != nil && n.Feedback != "" {
			out = append(out, n.Feedback)
		}
	}
	return out, nil
}

func (nr *notificationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = nr.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Notification{}).
		Where("id = ?", id).
		Updates(updates).Error
}
