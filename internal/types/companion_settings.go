package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	NudgeFrequencyDaily  = "daily"
	NudgeFrequencyWeekly = "weekly"
)

// CompanionSettings is the per-user delivery preference row. One row per
// user; absence means emails are off.
type CompanionSettings struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	EmailOptIn     bool      `gorm:"column:email_opt_in;not null;default:false" json:"email_opt_in"`
	EmailAddress   string    `gorm:"column:email_address" json:"email_address"` // overrides User.Email when set
	NudgeFrequency string    `gorm:"column:nudge_frequency;not null;default:'weekly'" json:"nudge_frequency"` // daily|weekly
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CompanionSettings) TableName() string {
	return "companion_settings"
}
