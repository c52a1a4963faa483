package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
)

const configCacheTTL = 300 * time.Second

const (
	DefaultAIEndpoint      = "http://localhost:8000"
	DefaultPlatformBaseURL = "http://localhost:8000"
	DefaultAITimeoutSecs   = 30
	DefaultRatePerMinute   = 60
)

// BotConfig, AIConfig and PlatformConfig are immutable snapshots handed to the
// pipeline; the DB rows they come from may change underneath without affecting
// in-flight jobs.
type BotConfig struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Language   string    `json:"language"`
	IsActive   bool      `json:"is_active"`
	CoreAIID   uuid.UUID `json:"core_ai_id"`
	PlatformID uuid.UUID `json:"platform_id"`
	IsDefault  bool      `json:"is_default,omitempty"`
}

type AIConfig struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	APIEndpoint    string    `json:"api_endpoint"`
	AuthRequired   bool      `json:"auth_required"`
	AuthToken      string    `json:"auth_token,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	IsDefault      bool      `json:"is_default,omitempty"`
}

type PlatformConfig struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	BaseURL            string    `json:"base_url"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	AuthRequired       bool      `json:"auth_required"`
	AuthToken          string    `json:"auth_token,omitempty"`
	IsDefault          bool      `json:"is_default,omitempty"`
}

func DefaultBotConfig() BotConfig {
	return BotConfig{Name: "default", Language: "vi", IsActive: true, IsDefault: true}
}

func DefaultAIConfig() AIConfig {
	return AIConfig{
		Name:           "default",
		APIEndpoint:    DefaultAIEndpoint,
		TimeoutSeconds: DefaultAITimeoutSecs,
		IsDefault:      true,
	}
}

func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		Name:               "default",
		BaseURL:            DefaultPlatformBaseURL,
		RateLimitPerMinute: DefaultRatePerMinute,
		IsDefault:          true,
	}
}

// ConfigStore is a read-through cache over the config entities. Lookups never
// fail: a missing or inactive row (or an unreachable database) yields the
// typed default.
type ConfigStore interface {
	GetBot(ctx context.Context, convID string, botID uuid.UUID) BotConfig
	GetCoreAI(ctx context.Context, id uuid.UUID) AIConfig
	GetPlatform(ctx context.Context, id uuid.UUID) PlatformConfig
	ClearCache()
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

type configStore struct {
	log       *logger.Logger
	bots      repos.BotRepo
	coreAIs   repos.CoreAIRepo
	platforms repos.PlatformRepo
	convs     repos.ConversationRepo

	mu       sync.RWMutex
	cache    map[string]cacheEntry
	flight   singleflight.Group
	degraded bool
}

func NewConfigStore(baseLog *logger.Logger, bots repos.BotRepo, coreAIs repos.CoreAIRepo, platforms repos.PlatformRepo, convs repos.ConversationRepo) ConfigStore {
	return &configStore{
		log:       baseLog.With("service", "ConfigStore"),
		bots:      bots,
		coreAIs:   coreAIs,
		platforms: platforms,
		convs:     convs,
		cache:     map[string]cacheEntry{},
	}
}

func (s *configStore) cached(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (s *configStore) store(key string, value any) {
	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(configCacheTTL)}
	s.mu.Unlock()
}

func (s *configStore) ClearCache() {
	s.mu.Lock()
	s.cache = map[string]cacheEntry{}
	s.mu.Unlock()
	s.log.Info("Config cache cleared")
}

// GetBot resolves the bot for a conversation. An explicit botID wins; failing
// that, the conversation row's bot reference is used. Missing either way
// yields the default bot config.
func (s *configStore) GetBot(ctx context.Context, convID string, botID uuid.UUID) BotConfig {
	key := "bot:" + convID + ":" + botID.String()
	if v, ok := s.cached(key); ok {
		return v.(BotConfig)
	}
	v, _, _ := s.flight.Do(key, func() (any, error) {
		cfg := s.loadBot(ctx, convID, botID)
		s.store(key, cfg)
		return cfg, nil
	})
	return v.(BotConfig)
}

func (s *configStore) loadBot(ctx context.Context, convID string, botID uuid.UUID) BotConfig {
	id := botID
	if id == uuid.Nil && convID != "" {
		conv, err := s.convs.GetByExternalID(ctx, nil, convID)
		if err != nil {
			s.dbFailed(err)
			return DefaultBotConfig()
		}
		if conv != nil {
			id = conv.BotID
		}
	}
	if id == uuid.Nil {
		return DefaultBotConfig()
	}
	bot, err := s.bots.GetByID(ctx, nil, id)
	if err != nil {
		s.dbFailed(err)
		return DefaultBotConfig()
	}
	s.dbRecovered()
	if bot == nil || !bot.IsActive {
		return DefaultBotConfig()
	}
	return BotConfig{
		ID:         bot.ID,
		Name:       bot.Name,
		Language:   bot.Language,
		IsActive:   bot.IsActive,
		CoreAIID:   bot.CoreAIID,
		PlatformID: bot.PlatformID,
	}
}

func (s *configStore) GetCoreAI(ctx context.Context, id uuid.UUID) AIConfig {
	if id == uuid.Nil {
		return DefaultAIConfig()
	}
	key := "core_ai:" + id.String()
	if v, ok := s.cached(key); ok {
		return v.(AIConfig)
	}
	v, _, _ := s.flight.Do(key, func() (any, error) {
		cfg := s.loadCoreAI(ctx, id)
		s.store(key, cfg)
		return cfg, nil
	})
	return v.(AIConfig)
}

func (s *configStore) loadCoreAI(ctx context.Context, id uuid.UUID) AIConfig {
	ai, err := s.coreAIs.GetByID(ctx, nil, id)
	if err != nil {
		s.dbFailed(err)
		return DefaultAIConfig()
	}
	s.dbRecovered()
	if ai == nil || !ai.IsActive {
		return DefaultAIConfig()
	}
	timeout := ai.TimeoutSeconds
	if timeout < 1 {
		timeout = DefaultAITimeoutSecs
	}
	return AIConfig{
		ID:             ai.ID,
		Name:           ai.Name,
		APIEndpoint:    ai.APIEndpoint,
		AuthRequired:   ai.AuthRequired,
		AuthToken:      ai.AuthToken,
		TimeoutSeconds: timeout,
	}
}

func (s *configStore) GetPlatform(ctx context.Context, id uuid.UUID) PlatformConfig {
	if id == uuid.Nil {
		return DefaultPlatformConfig()
	}
	key := "platform:" + id.String()
	if v, ok := s.cached(key); ok {
		return v.(PlatformConfig)
	}
	v, _, _ := s.flight.Do(key, func() (any, error) {
		cfg := s.loadPlatform(ctx, id)
		s.store(key, cfg)
		return cfg, nil
	})
	return v.(PlatformConfig)
}

func (s *configStore) loadPlatform(ctx context.Context, id uuid.UUID) PlatformConfig {
	p, err := s.platforms.GetByID(ctx, nil, id)
	if err != nil {
		s.dbFailed(err)
		return DefaultPlatformConfig()
	}
	s.dbRecovered()
	if p == nil || !p.IsActive {
		return DefaultPlatformConfig()
	}
	rate := p.RateLimitPerMinute
	if rate < 1 {
		rate = DefaultRatePerMinute
	}
	return PlatformConfig{
		ID:                 p.ID,
		Name:               p.Name,
		BaseURL:            p.BaseURL,
		RateLimitPerMinute: rate,
		AuthRequired:       p.AuthRequired,
		AuthToken:          p.AuthToken,
	}
}

func (s *configStore) dbFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		s.degraded = true
		s.log.Warn("Config read failed, serving defaults", "error", err)
	}
}

func (s *configStore) dbRecovered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
}
