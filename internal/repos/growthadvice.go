package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/types"
)

type GrowthAdviceRepo interface {
	GetByTopicAndType(ctx context.Context, tx *gorm.DB, topic string, personalityType int) (*types.GrowthAdvice, error)
}

type growthAdviceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrowthAdviceRepo(db *gorm.DB, baseLog *logger.Logger) GrowthAdviceRepo {
	return &growthAdviceRepo{db: db, log: baseLog.With("repo", "GrowthAdviceRepo")}
}

func (gr *growthAdviceRepo) GetByTopicAndType(ctx context.Context, tx *gorm.DB, topic string, personalityType int) (*types.GrowthAdvice, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	var row types.GrowthAdvice
	err := transaction.WithContext(ctx).
		Where("topic = ? AND personality_type = ?", topic, personalityType).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Advice == "" {
		return nil, nil
	}
	return &row, nil
}
