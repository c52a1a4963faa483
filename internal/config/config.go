package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/utils"
)

// Config carries the process-wide settings. Values come from the environment,
// with an optional YAML overlay file (CHATBRIDGE_CONFIG_PATH) applied on top of
// the defaults before the environment is consulted. Unknown YAML keys are ignored.
type Config struct {
	Env  string `yaml:"env"`
	Addr string `yaml:"addr"`

	AdminAccessToken    string `yaml:"admin_access_token"`
	PlatformAccessToken string `yaml:"platform_access_token"`

	ConversationStateTTL    int `yaml:"conversation_state_ttl"`
	ProcessingLockTTL       int `yaml:"processing_lock_ttl"`
	MaxConversationAgeHours int `yaml:"max_conversation_age_hours"`
	AIProcessingTimeout     int `yaml:"ai_processing_timeout"`

	DBPoolSize    int `yaml:"db_pool_size"`
	DBMaxOverflow int `yaml:"db_max_overflow"`

	WorkerConcurrency int `yaml:"worker_concurrency"`
}

func defaults() *Config {
	return &Config{
		Env:                     "development",
		Addr:                    ":8080",
		ConversationStateTTL:    86400,
		ProcessingLockTTL:       30,
		MaxConversationAgeHours: 24,
		AIProcessingTimeout:     30,
		DBPoolSize:              5,
		DBMaxOverflow:           10,
		WorkerConcurrency:       4,
	}
}

func Load(log *logger.Logger) (*Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("CHATBRIDGE_CONFIG_PATH"))
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if log != nil {
			log.Info("Loaded config overlay", "path", path)
		}
	}

	cfg.Env = utils.GetEnv("APP_ENV", cfg.Env, log)
	cfg.Addr = utils.GetEnv("HTTP_ADDR", cfg.Addr, log)
	cfg.AdminAccessToken = utils.GetEnv("ADMIN_ACCESS_TOKEN", cfg.AdminAccessToken, log)
	cfg.PlatformAccessToken = utils.GetEnv("PLATFORM_ACCESS_TOKEN", cfg.PlatformAccessToken, log)
	cfg.ConversationStateTTL = utils.GetEnvAsInt("CONVERSATION_STATE_TTL", cfg.ConversationStateTTL, log)
	cfg.ProcessingLockTTL = utils.GetEnvAsInt("PROCESSING_LOCK_TTL", cfg.ProcessingLockTTL, log)
	cfg.MaxConversationAgeHours = utils.GetEnvAsInt("MAX_CONVERSATION_AGE_HOURS", cfg.MaxConversationAgeHours, log)
	cfg.AIProcessingTimeout = utils.GetEnvAsInt("AI_PROCESSING_TIMEOUT", cfg.AIProcessingTimeout, log)
	cfg.DBPoolSize = utils.GetEnvAsInt("DB_POOL_SIZE", cfg.DBPoolSize, log)
	cfg.DBMaxOverflow = utils.GetEnvAsInt("DB_MAX_OVERFLOW", cfg.DBMaxOverflow, log)
	cfg.WorkerConcurrency = utils.GetEnvAsInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency, log)

	return cfg, nil
}
