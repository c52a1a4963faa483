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

type CoreAIRepo interface {
	Create(ctx context.Context, tx *gorm.DB, ai *types.CoreAI) (*types.CoreAI, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CoreAI, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.CoreAI, error)
	List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.CoreAI, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type coreAIRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCoreAIRepo(db *gorm.DB, baseLog *logger.Logger) CoreAIRepo {
	return &coreAIRepo{
		db:  db,
		log: baseLog.With("repo", "CoreAIRepo"),
	}
}

func (r *coreAIRepo) Create(ctx context.Context, tx *gorm.DB, ai *types.CoreAI) (*types.CoreAI, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(ai).Error; err != nil {
		return nil, err
	}
	return ai, nil
}

func (r *coreAIRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CoreAI, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var ai types.CoreAI
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&ai).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ai, nil
}

func (r *coreAIRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.CoreAI, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil, nil
	}
	var ai types.CoreAI
	err := transaction.WithContext(ctx).Where("name = ?", name).First(&ai).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ai, nil
}

func (r *coreAIRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.CoreAI, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CoreAI
	q := transaction.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *coreAIRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.CoreAI{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *coreAIRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.CoreAI{}).Error
}
