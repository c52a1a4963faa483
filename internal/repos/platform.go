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

type PlatformRepo interface {
	Create(ctx context.Context, tx *gorm.DB, p *types.Platform) (*types.Platform, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Platform, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Platform, error)
	List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Platform, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type platformRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlatformRepo(db *gorm.DB, baseLog *logger.Logger) PlatformRepo {
	return &platformRepo{
		db:  db,
		log: baseLog.With("repo", "PlatformRepo"),
	}
}

func (r *platformRepo) Create(ctx context.Context, tx *gorm.DB, p *types.Platform) (*types.Platform, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *platformRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Platform, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var p types.Platform
	err := transaction.WithContext(ctx).Preload("Actions").Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *platformRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Platform, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil, nil
	}
	var p types.Platform
	err := transaction.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *platformRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Platform, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Platform
	q := transaction.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *platformRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Platform{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *platformRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Platform{}).Error
}
