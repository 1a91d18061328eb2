package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/types"
)

type CompanionSettingsRepo interface {
	GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.CompanionSettings, error)
	Upsert(ctx context.Context, tx *gorm.DB, settings *types.CompanionSettings) (*types.CompanionSettings, error)
}

type companionSettingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompanionSettingsRepo(db *gorm.DB, baseLog *logger.Logger) CompanionSettingsRepo {
	return &companionSettingsRepo{db: db, log: baseLog.With("repo", "CompanionSettingsRepo")}
}

func (cr *companionSettingsRepo) GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.CompanionSettings, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var results []*types.CompanionSettings
	if len(userIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *companionSettingsRepo) Upsert(ctx context.Context, tx *gorm.DB, settings *types.CompanionSettings) (*types.CompanionSettings, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if settings == nil {
		return nil, nil
	}
	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}
	settings.UpdatedAt = time.Now()
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email_opt_in", "email_address", "nudge_frequency", "updated_at",
			}),
		}).
		Create(settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}
