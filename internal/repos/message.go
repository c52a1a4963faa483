package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error)
	ListByConversation(ctx context.Context, tx *gorm.DB, conversationRef uuid.UUID, limit int) ([]*types.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(msgs) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) ListByConversation(ctx context.Context, tx *gorm.DB, conversationRef uuid.UUID, limit int) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Message
	if conversationRef == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("conversation_ref = ?", conversationRef).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
