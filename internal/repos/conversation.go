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

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, c *types.Conversation) (*types.Conversation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error)
	GetByExternalID(ctx context.Context, tx *gorm.DB, conversationID string) (*types.Conversation, error)
	List(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Conversation, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	AdvanceHistory(ctx context.Context, tx *gorm.DB, id uuid.UUID, history string, addedMessages int) error
	CountByBot(ctx context.Context, tx *gorm.DB, botID uuid.UUID) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, c *types.Conversation) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var c types.Conversation
	err := transaction.WithContext(ctx).Preload("Bot").Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, conversationID string) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == "" {
		return nil, nil
	}
	var c types.Conversation
	err := transaction.WithContext(ctx).Preload("Bot").Where("conversation_id = ?", conversationID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) List(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Conversation
	q := transaction.WithContext(ctx).Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// AdvanceHistory moves the processed-history marker forward. The length guard
// keeps a late writer from rewinding history that a newer arrival already
// advanced past.
func (r *conversationRepo) AdvanceHistory(ctx context.Context, tx *gorm.DB, id uuid.UUID, history string, addedMessages int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ? AND length(history) <= ?", id, len(history)).
		Updates(map[string]interface{}{
			"history":       history,
			"message_count": gorm.Expr("message_count + ?", addedMessages),
			"updated_at":    now,
		}).Error
}

func (r *conversationRepo) CountByBot(ctx context.Context, tx *gorm.DB, botID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("bot_id = ?", botID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
