// Package database provides database connection management for ggcsub.
// It supports SQLite, PostgreSQL, and MySQL through GORM.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// New creates a new database connection based on the provided configuration.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger(cfg.LogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	// SQLite allows concurrent readers but a single writer; keep the pool
	// small to avoid lock contention.
	maxOpen := cfg.MaxOpenConns
	maxIdle := cfg.MaxIdleConns
	if cfg.Driver == "sqlite" {
		maxOpen = 6
		maxIdle = 3
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("database connected",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", maxOpen),
	)

	return &DB{DB: db, cfg: cfg, logger: log}, nil
}

// Migrate runs schema auto-migration for all models.
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(
		&models.Meeting{},
		&models.Caption{},
		&models.SttTask{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	db.logger.Debug("database migrations completed")
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func getDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

func gormLogger(level string) gormlogger.Interface {
	var l gormlogger.LogLevel
	switch level {
	case "silent":
		l = gormlogger.Silent
	case "error":
		l = gormlogger.Error
	case "info":
		l = gormlogger.Info
	default:
		l = gormlogger.Warn
	}
	return gormlogger.Default.LogMode(l)
}

// OpenInMemory opens a throwaway SQLite database for tests.
func OpenInMemory(log *slog.Logger) (*DB, error) {
	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		LogLevel:        "silent",
	}
	db, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	return db, nil
}
