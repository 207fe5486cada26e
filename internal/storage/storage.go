// Package storage provides the progression.Store backends: a relational
// one on gorm (postgres or sqlite) and a single-file JSON ledger.
package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yp-alpha/progression/internal/progression"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// Backend is a progression.Store that owns resources.
type Backend interface {
	progression.Store
	Close() error
}

// Options select and tune a backend.
type Options struct {
	Driver string
	DSN    string // connection string, sqlite path, or ledger directory
	Logger *slog.Logger

	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to the configured backend and migrates its schema.
func Open(opts Options) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	switch strings.ToLower(opts.Driver) {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return OpenFileStore(opts.DSN, log)
	case DriverSQLite, DriverPostgres:
		db, err := OpenDB(opts)
		if err != nil {
			return nil, err
		}
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
		return NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// OpenDB opens a gorm connection for the postgres or sqlite driver.
func OpenDB(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	driver := strings.ToLower(opts.Driver)
	switch driver {
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		dialector = postgres.Open(opts.DSN)
	case DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("driver %q is not a SQL driver", opts.Driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection turns lock errors
		// into queueing.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}
	return db, nil
}
