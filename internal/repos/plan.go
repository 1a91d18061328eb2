package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/types"
)

type PlanRepo interface {
	Create(ctx context.Context, tx *gorm.DB, plans []*types.Plan) ([]*types.Plan, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Plan, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Plan, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{db: db, log: baseLog.With("repo", "PlanRepo")}
}

func (pr *planRepo) Create(ctx context.Context, tx *gorm.DB, plans []*types.Plan) ([]*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if len(plans) == 0 {
		return []*types.Plan{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (pr *planRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var plan types.Plan
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}

func (pr *planRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Plan
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

func (pr *planRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Plan
	if err := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *planRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
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
		Model(&types.Plan{}).
		Where("id = ?", id).
		Updates(updates).Error
}
