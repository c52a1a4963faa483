package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/types"
)

// In-memory repo fakes backed by maps. Only the methods the services under
// test actually call have real behavior; the rest satisfy the interfaces.

type fakeCoreAIRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.CoreAI
	err  error
}

func newFakeCoreAIRepo() *fakeCoreAIRepo {
	return &fakeCoreAIRepo{rows: map[uuid.UUID]*types.CoreAI{}}
}

func (r *fakeCoreAIRepo) Create(ctx context.Context, tx *gorm.DB, ai *types.CoreAI) (*types.CoreAI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ai.ID == uuid.Nil {
		ai.ID = uuid.New()
	}
	r.rows[ai.ID] = ai
	return ai, nil
}

func (r *fakeCoreAIRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CoreAI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[id], nil
}

func (r *fakeCoreAIRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.CoreAI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ai := range r.rows {
		if ai.Name == name {
			return ai, nil
		}
	}
	return nil, nil
}

func (r *fakeCoreAIRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.CoreAI, error) {
	return nil, nil
}

func (r *fakeCoreAIRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakeCoreAIRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type fakePlatformRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Platform
	err  error
}

func newFakePlatformRepo() *fakePlatformRepo {
	return &fakePlatformRepo{rows: map[uuid.UUID]*types.Platform{}}
}

func (r *fakePlatformRepo) Create(ctx context.Context, tx *gorm.DB, p *types.Platform) (*types.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.rows[p.ID] = p
	return p, nil
}

func (r *fakePlatformRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[id], nil
}

func (r *fakePlatformRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakePlatformRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Platform, error) {
	return nil, nil
}

func (r *fakePlatformRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakePlatformRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type fakeBotRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Bot
	err  error
}

func newFakeBotRepo() *fakeBotRepo {
	return &fakeBotRepo{rows: map[uuid.UUID]*types.Bot{}}
}

func (r *fakeBotRepo) Create(ctx context.Context, tx *gorm.DB, b *types.Bot) (*types.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.rows[b.ID] = b
	return b, nil
}

func (r *fakeBotRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[id], nil
}

func (r *fakeBotRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.rows {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, nil
}

func (r *fakeBotRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Bot, error) {
	return nil, nil
}

func (r *fakeBotRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakeBotRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *fakeBotRepo) CountByCoreAI(ctx context.Context, tx *gorm.DB, coreAIID uuid.UUID, activeOnly bool) (int64, error) {
	return 0, nil
}

func (r *fakeBotRepo) CountByPlatform(ctx context.Context, tx *gorm.DB, platformID uuid.UUID, activeOnly bool) (int64, error) {
	return 0, nil
}

type fakeConversationRepo struct {
	mu       sync.Mutex
	byExtID  map[string]*types.Conversation
	advanced map[uuid.UUID]string
	err      error
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		byExtID:  map[string]*types.Conversation{},
		advanced: map[uuid.UUID]string{},
	}
}

func (r *fakeConversationRepo) Create(ctx context.Context, tx *gorm.DB, c *types.Conversation) (*types.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.byExtID[c.ConversationID] = c
	return c, nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byExtID {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeConversationRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, conversationID string) (*types.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.byExtID[conversationID], nil
}

func (r *fakeConversationRepo) List(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Conversation, error) {
	return nil, nil
}

func (r *fakeConversationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakeConversationRepo) AdvanceHistory(ctx context.Context, tx *gorm.DB, id uuid.UUID, history string, addedMessages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced[id] = history
	return nil
}

func (r *fakeConversationRepo) CountByBot(ctx context.Context, tx *gorm.DB, botID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeMessageRepo struct {
	mu      sync.Mutex
	created []*types.Message
	err     error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (r *fakeMessageRepo) Create(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.created = append(r.created, msgs...)
	return msgs, nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, tx *gorm.DB, conversationRef uuid.UUID, limit int) ([]*types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Message
	for _, m := range r.created {
		if m.ConversationRef == conversationRef {
			out = append(out, m)
		}
	}
	return out, nil
}
