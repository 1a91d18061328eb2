package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/types"
)

type AICallLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entries []*types.AICallLog) error
}

type aiCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAICallLogRepo(db *gorm.DB, baseLog *logger.Logger) AICallLogRepo {
	return &aiCallLogRepo{db: db, log: baseLog.With("repo", "AICallLogRepo")}
}

func (ar *aiCallLogRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.AICallLog) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if len(entries) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&entries).Error
}
