// Package db opens the relational database and Redis connections that back
// the TCC store mirrors.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keyvex/internal/logging"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM database instance
type Database struct {
	DB      *gorm.DB
	Dialect string
}

// Config holds database configuration. URL wins over SQLitePath.
type Config struct {
	URL          string
	SQLitePath   string
	MaxIdleConns int
	MaxOpenConns int
	LogQueries   bool
}

// NewDatabase opens postgres when a URL is configured and a local sqlite file
// otherwise.
func NewDatabase(config *Config) (*Database, error) {
	if config == nil {
		return nil, fmt.Errorf("database config is required")
	}

	logMode := logger.Warn
	if config.LogQueries {
		logMode = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		dialector gorm.Dialector
		dialect   string
	)
	switch {
	case config.URL != "":
		dialector = postgres.Open(config.URL)
		dialect = "postgres"
	case config.SQLitePath != "":
		if config.SQLitePath != ":memory:" && !strings.HasPrefix(config.SQLitePath, "file:") {
			if err := os.MkdirAll(filepath.Dir(config.SQLitePath), 0750); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(config.SQLitePath)
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("no database configured")
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dialect == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(orDefault(config.MaxIdleConns, 10))
		sqlDB.SetMaxOpenConns(orDefault(config.MaxOpenConns, 50))
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	logging.L().Info("database connected", zap.String("dialect", dialect))
	return &Database{DB: db, Dialect: dialect}, nil
}

// Close closes the underlying connection pool
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
