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

type BotRepo interface {
	Create(ctx context.Context, tx *gorm.DB, b *types.Bot) (*types.Bot, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Bot, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Bot, error)
	List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Bot, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CountByCoreAI(ctx context.Context, tx *gorm.DB, coreAIID uuid.UUID, activeOnly bool) (int64, error)
	CountByPlatform(ctx context.Context, tx *gorm.DB, platformID uuid.UUID, activeOnly bool) (int64, error)
}

type botRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBotRepo(db *gorm.DB, baseLog *logger.Logger) BotRepo {
	return &botRepo{
		db:  db,
		log: baseLog.With("repo", "BotRepo"),
	}
}

func (r *botRepo) Create(ctx context.Context, tx *gorm.DB, b *types.Bot) (*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

func (r *botRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var b types.Bot
	err := transaction.WithContext(ctx).
		Preload("CoreAI").
		Preload("Platform").
		Where("id = ?", id).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *botRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil, nil
	}
	var b types.Bot
	err := transaction.WithContext(ctx).
		Preload("CoreAI").
		Preload("Platform").
		Where("name = ?", name).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *botRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Bot
	q := transaction.WithContext(ctx).
		Preload("CoreAI").
		Preload("Platform").
		Order("created_at ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *botRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Bot{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *botRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Bot{}).Error
}

func (r *botRepo) CountByCoreAI(ctx context.Context, tx *gorm.DB, coreAIID uuid.UUID, activeOnly bool) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	q := transaction.WithContext(ctx).Model(&types.Bot{}).Where("core_ai_id = ?", coreAIID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *botRepo) CountByPlatform(ctx context.Context, tx *gorm.DB, platformID uuid.UUID, activeOnly bool) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	q := transaction.WithContext(ctx).Model(&types.Bot{}).Where("platform_id = ?", platformID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
