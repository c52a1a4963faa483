package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type PlatformActionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, a *types.PlatformAction) (*types.PlatformAction, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PlatformAction, error)
	ListByPlatform(ctx context.Context, tx *gorm.DB, platformID uuid.UUID) ([]*types.PlatformAction, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type platformActionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlatformActionRepo(db *gorm.DB, baseLog *logger.Logger) PlatformActionRepo {
	return &platformActionRepo{
		db:  db,
		log: baseLog.With("repo", "PlatformActionRepo"),
	}
}

func (r *platformActionRepo) Create(ctx context.Context, tx *gorm.DB, a *types.PlatformAction) (*types.PlatformAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *platformActionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PlatformAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var a types.PlatformAction
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *platformActionRepo) ListByPlatform(ctx context.Context, tx *gorm.DB, platformID uuid.UUID) ([]*types.PlatformAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PlatformAction
	if platformID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("platform_id = ?", platformID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *platformActionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
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
		Model(&types.PlatformAction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *platformActionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.PlatformAction{}).Error
}
