package types

import (
	"time"

	"github.com/google/uuid"
)

// AICallLog records every outbound LLM call (pipeline stage or nudge fill),
// written best-effort; a failed insert never fails the calling stage.
type AICallLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	PlanID     *uuid.UUID `gorm:"type:uuid;index" json:"plan_id,omitempty"`
	CallType   string     `gorm:"column:call_type;not null;index" json:"call_type"` // frame|assumptions|draft|review|synthesize|nudge
	Model      string     `gorm:"column:model" json:"model"`
	DurationMS int64      `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Success    bool       `gorm:"column:success;not null" json:"success"`
	Error      string     `gorm:"column:error" json:"error"`
	CreatedAt  time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (AICallLog) TableName() string {
	return "ai_call_log"
}
