package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan status lifecycle. Strictly forward: framed -> drafted -> finalized,
// or -> error from any state. Stage handlers reject anything else.
const (
	PlanStatusFramed    = "framed"
	PlanStatusDrafted   = "drafted"
	PlanStatusFinalized = "finalized"
	PlanStatusError     = "error"
)

const (
	DateRealismTooShort   = "too_short"
	DateRealismReasonable = "reasonable"
	DateRealismGenerous   = "generous"
)

// GoalFrame is the stage-1 output. Immutable once written.
type GoalFrame struct {
	SuccessCriteria string   `json:"success_criteria"`
	FailureCriteria string   `json:"failure_criteria"`
	AntiPatterns    []string `json:"anti_patterns"`
}

// Assumptions is the stage-2 output. Immutable once written.
type Assumptions struct {
	Constraints      []string `json:"constraints"`
	PersonalityRisks []string `json:"personality_risks"`
	NonGoals         []string `json:"non_goals"`
}

// Milestone is a dated sub-goal. Stage 3 produces the draft list; stage 5
// may replace the list wholesale, never edit in place.
type Milestone struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	StartDate         string `json:"start_date"` // YYYY-MM-DD
	DueDate           string `json:"due_date"`   // YYYY-MM-DD
	Completed         bool   `json:"completed"`
	BlindSpotTip      string `json:"blind_spot_tip,omitempty"`
	StrengthHook      string `json:"strength_hook,omitempty"`
	MeasurableOutcome string `json:"measurable_outcome,omitempty"`
}

// Plan is one goal-planning session. The input fields (goal description,
// target date, personality snapshot) are written once at creation; each
// pipeline stage appends its own JSONB output and advances Status.
type Plan struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	GoalDescription    string `gorm:"column:goal_description;not null" json:"goal_description"`
	GoalName           string `gorm:"column:goal_name" json:"goal_name"`
	TargetDate         string `gorm:"column:target_date;not null" json:"target_date"` // YYYY-MM-DD
	HasTimePressure    bool   `gorm:"column:has_time_pressure;not null;default:false" json:"has_time_pressure"`
	PersonalitySummary string `gorm:"column:personality_summary" json:"personality_summary"`
	PersonalityType    string `gorm:"column:personality_type" json:"personality_type"`

	Status string `gorm:"column:status;not null;index" json:"status"` // framed|drafted|finalized|error
	Error  string `gorm:"column:error" json:"error,omitempty"`

	DateRealism        string `gorm:"column:date_realism" json:"date_realism"` // too_short|reasonable|generous
	DateRealismWarning string `gorm:"column:date_realism_warning" json:"date_realism_warning,omitempty"`

	GoalFrame       datatypes.JSON `gorm:"type:jsonb;column:goal_frame" json:"goal_frame"`
	Assumptions     datatypes.JSON `gorm:"type:jsonb;column:assumptions" json:"assumptions"`
	DraftMilestones datatypes.JSON `gorm:"type:jsonb;column:draft_milestones" json:"draft_milestones"`
	FinalMilestones datatypes.JSON `gorm:"type:jsonb;column:final_milestones" json:"final_milestones"`
	ReviewNotes     datatypes.JSON `gorm:"type:jsonb;column:review_notes" json:"review_notes"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Plan) TableName() string {
	return "plan"
}
