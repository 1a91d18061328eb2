package types

import (
	"time"

	"github.com/google/uuid"
)

// GrowthAdvice is curated coaching copy keyed by goal topic and Enneagram
// type number. The nudge fill step folds a matching row into the prompt.
type GrowthAdvice struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Topic           string    `gorm:"column:topic;not null;index:idx_growth_advice_topic_type" json:"topic"`
	PersonalityType int       `gorm:"column:personality_type;not null;index:idx_growth_advice_topic_type" json:"personality_type"` // 1-9
	Advice          string    `gorm:"column:advice;not null" json:"advice"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (GrowthAdvice) TableName() string {
	return "growth_advice"
}
