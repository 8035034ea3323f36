// Package database opens the gorm connection selected by a DSN and prepares
// the ledger schema.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/vipledger/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	mysqlScheme       = "mysql://"
	defaultSQLiteFile = "vipledger.db"
)

// Connection is an open database handle.
type Connection struct {
	DB     *gorm.DB
	Driver string
}

// Close releases the underlying pool.
func (connection *Connection) Close() error {
	sqlDB, err := connection.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open connects to dsn. postgres:// and postgresql:// select PostgreSQL,
// mysql:// selects MySQL (the remainder is a go-sql-driver DSN), sqlite://
// or a bare path selects SQLite.
func Open(ctx context.Context, dsn string) (*Connection, error) {
	driver, target, err := ResolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true}

	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(target), config)
	case DriverMySQL:
		db, err = gorm.Open(mysql.Open(target), config)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(target), config)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Connection{DB: db, Driver: driver}, nil
}

// Migrate creates or updates every ledger table.
func Migrate(ctx context.Context, connection *Connection) error {
	if err := connection.DB.WithContext(ctx).AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ResolveDriver maps dsn to a driver name and the connection string that
// driver expects.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, trimmed, nil
	}
	if strings.HasPrefix(trimmed, mysqlScheme) {
		target := strings.TrimPrefix(trimmed, mysqlScheme)
		if target == "" {
			return "", "", fmt.Errorf("mysql dsn is empty")
		}
		return DriverMySQL, target, nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
