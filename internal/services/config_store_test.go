package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vietbot/chatbridge-backend/internal/types"
)

func newTestConfigStore(t *testing.T) (ConfigStore, *fakeBotRepo, *fakeCoreAIRepo, *fakePlatformRepo, *fakeConversationRepo) {
	t.Helper()
	bots := newFakeBotRepo()
	coreAIs := newFakeCoreAIRepo()
	platforms := newFakePlatformRepo()
	convs := newFakeConversationRepo()
	store := NewConfigStore(testLogger(t), bots, coreAIs, platforms, convs)
	return store, bots, coreAIs, platforms, convs
}

func TestGetCoreAIDefaults(t *testing.T) {
	ctx := context.Background()
	store, _, coreAIs, _, _ := newTestConfigStore(t)

	// Nil id, missing row and inactive row all yield the typed default.
	cfg := store.GetCoreAI(ctx, uuid.Nil)
	if !cfg.IsDefault || cfg.APIEndpoint != DefaultAIEndpoint || cfg.TimeoutSeconds != DefaultAITimeoutSecs {
		t.Fatalf("nil id should yield default: %+v", cfg)
	}

	if cfg := store.GetCoreAI(ctx, uuid.New()); !cfg.IsDefault {
		t.Fatalf("missing row should yield default: %+v", cfg)
	}

	inactive, _ := coreAIs.Create(ctx, nil, &types.CoreAI{Name: "off", APIEndpoint: "http://ai.example", IsActive: false})
	if cfg := store.GetCoreAI(ctx, inactive.ID); !cfg.IsDefault {
		t.Fatalf("inactive row should yield default: %+v", cfg)
	}
}

func TestGetCoreAIActiveRow(t *testing.T) {
	ctx := context.Background()
	store, _, coreAIs, _, _ := newTestConfigStore(t)

	row, _ := coreAIs.Create(ctx, nil, &types.CoreAI{
		Name:           "prod-ai",
		APIEndpoint:    "http://ai.example/{session_id}",
		TimeoutSeconds: 45,
		AuthRequired:   true,
		AuthToken:      "tok",
		IsActive:       true,
	})
	cfg := store.GetCoreAI(ctx, row.ID)
	if cfg.IsDefault {
		t.Fatalf("active row should not be default")
	}
	if cfg.APIEndpoint != "http://ai.example/{session_id}" || cfg.TimeoutSeconds != 45 || !cfg.AuthRequired {
		t.Fatalf("snapshot wrong: %+v", cfg)
	}
}

func TestGetCoreAIDatabaseFailure(t *testing.T) {
	ctx := context.Background()
	store, _, coreAIs, _, _ := newTestConfigStore(t)

	coreAIs.err = errors.New("connection refused")
	cfg := store.GetCoreAI(ctx, uuid.New())
	if !cfg.IsDefault {
		t.Fatalf("db failure should yield default: %+v", cfg)
	}
}

func TestGetPlatformDefaultsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _, _, platforms, _ := newTestConfigStore(t)

	if cfg := store.GetPlatform(ctx, uuid.Nil); !cfg.IsDefault || cfg.RateLimitPerMinute != DefaultRatePerMinute {
		t.Fatalf("nil id should yield default: %+v", cfg)
	}

	row, _ := platforms.Create(ctx, nil, &types.Platform{
		Name:               "shop",
		BaseURL:            "http://platform.example",
		RateLimitPerMinute: 10,
		IsActive:           true,
	})
	cfg := store.GetPlatform(ctx, row.ID)
	if cfg.IsDefault || cfg.BaseURL != "http://platform.example" || cfg.RateLimitPerMinute != 10 {
		t.Fatalf("snapshot wrong: %+v", cfg)
	}
}

func TestGetBotResolvesThroughConversation(t *testing.T) {
	ctx := context.Background()
	store, bots, _, _, convs := newTestConfigStore(t)

	bot, _ := bots.Create(ctx, nil, &types.Bot{Name: "vi-bot", Language: "vi", IsActive: true, CoreAIID: uuid.New(), PlatformID: uuid.New()})
	convs.Create(ctx, nil, &types.Conversation{ConversationID: "ext-1", BotID: bot.ID})

	// No explicit bot id: resolved via the conversation row.
	cfg := store.GetBot(ctx, "ext-1", uuid.Nil)
	if cfg.IsDefault || cfg.ID != bot.ID {
		t.Fatalf("conversation-resolved bot wrong: %+v", cfg)
	}

	// Explicit bot id wins over the conversation reference.
	other, _ := bots.Create(ctx, nil, &types.Bot{Name: "other", IsActive: true})
	cfg = store.GetBot(ctx, "ext-1", other.ID)
	if cfg.ID != other.ID {
		t.Fatalf("explicit bot id should win: %+v", cfg)
	}

	// Unknown conversation yields the default bot.
	if cfg := store.GetBot(ctx, "unknown", uuid.Nil); !cfg.IsDefault {
		t.Fatalf("unknown conversation should yield default: %+v", cfg)
	}
}

func TestClearCacheDropsStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _, coreAIs, _, _ := newTestConfigStore(t)

	row, _ := coreAIs.Create(ctx, nil, &types.CoreAI{Name: "a", APIEndpoint: "http://one", TimeoutSeconds: 30, IsActive: true})
	first := store.GetCoreAI(ctx, row.ID)
	if first.APIEndpoint != "http://one" {
		t.Fatalf("unexpected first read: %+v", first)
	}

	coreAIs.rows[row.ID].APIEndpoint = "http://two"

	// Cached snapshot still served until invalidation.
	if cached := store.GetCoreAI(ctx, row.ID); cached.APIEndpoint != "http://one" {
		t.Fatalf("expected cached endpoint, got %+v", cached)
	}
	store.ClearCache()
	if fresh := store.GetCoreAI(ctx, row.ID); fresh.APIEndpoint != "http://two" {
		t.Fatalf("expected fresh endpoint after cache clear, got %+v", fresh)
	}
}
