package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/config"
	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/types"
	"github.com/vietbot/chatbridge-backend/internal/utils"
)

type DatabaseService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewDatabaseService opens Postgres from the usual env vars. When DB_DRIVER=sqlite
// (local development, tests) it opens a file or in-memory SQLite database instead.
func NewDatabaseService(cfg *config.Config, log *logger.Logger) (*DatabaseService, error) {
	serviceLog := log.With("service", "DatabaseService")

	driver := utils.GetEnv("DB_DRIVER", "postgres", log)

	var gdb *gorm.DB
	var err error
	switch driver {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "file::memory:?cache=shared", log)
		gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
	default:
		host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "chatbridge", log)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

		serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
		}
	}

	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.SetMaxIdleConns(cfg.DBPoolSize)
		sqlDB.SetMaxOpenConns(cfg.DBPoolSize + cfg.DBMaxOverflow)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return &DatabaseService{db: gdb, log: serviceLog}, nil
}

func (s *DatabaseService) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	return s.db.AutoMigrate(
		&types.CoreAI{},
		&types.Platform{},
		&types.PlatformAction{},
		&types.Bot{},
		&types.Conversation{},
		&types.Message{},
	)
}

func (s *DatabaseService) DB() *gorm.DB {
	return s.db
}
