package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email              string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	FirstName          string    `gorm:"column:first_name" json:"first_name"`
	LastName           string    `gorm:"column:last_name" json:"last_name"`
	PersonalitySummary string    `gorm:"column:personality_summary" json:"personality_summary"`
	PersonalityType    string    `gorm:"column:personality_type" json:"personality_type"` // e.g. "Type 4" or "4w5"
	CreatedAt          time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}
