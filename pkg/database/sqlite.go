package database

import (
	"fmt"
	"strings"

	"memtex-backend/pkg/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open picks the driver from DATABASE_URL: "sqlite:" or "file:" URLs open
// SQLite, anything else Postgres.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite:"):
		return NewSQLiteConnection(strings.TrimPrefix(cfg.DatabaseURL, "sqlite:"))
	case strings.HasPrefix(cfg.DatabaseURL, "file:"):
		return NewSQLiteConnection(cfg.DatabaseURL)
	default:
		return NewPostgresConnection(cfg)
	}
}

// NewSQLiteConnection opens a SQLite database. Used for local runs and tests.
func NewSQLiteConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
