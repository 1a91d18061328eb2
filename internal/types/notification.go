package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationKindMilestoneReminder = "milestone_reminder"

	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
)

// Notification is one nudge for one (user, plan, milestone) tuple. Prompt
// starts empty and is filled asynchronously; empty prompt means "pending AI
// generation", never valid content.
type Notification struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID      uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`
	MilestoneID string    `gorm:"column:milestone_id;not null;index" json:"milestone_id"`

	Kind           string `gorm:"column:kind;not null;index" json:"kind"` // milestone_reminder
	Prompt         string `gorm:"column:prompt" json:"prompt"`
	Feedback       string `gorm:"column:feedback" json:"feedback,omitempty"`
	DeliveryStatus string `gorm:"column:delivery_status;not null;index" json:"delivery_status"` // pending|sent|failed
	Read           bool   `gorm:"column:read;not null;default:false" json:"read"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notification"
}
