// Package db stores the history of scan runs in PostgreSQL. It handles
// connection setup, schema migrations and the run history table.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// DSN renders the lib/pq key=value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Connect establishes a connection to PostgreSQL.
// Returned errors never carry the DSN.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN())
	if err != nil {
		return nil, &errors.DatabaseError{
			Code:      errors.CodeDatabaseConnection,
			Message:   "Failed to connect to database",
			Operation: "connect",
			Cause:     err,
		}
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "ping", err)
	}

	logging.Info("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// ConnectAndMigrate connects and applies pending migrations.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if _, err := NewMigrator(db.DB, nil).Up(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sanitizeDBError maps driver errors onto DatabaseErrors whose message never
// carries SQL or credentials. The driver error is kept as the cause.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	dbErr := &errors.DatabaseError{
		Code:      errors.CodeDatabaseQuery,
		Message:   fmt.Sprintf("Database operation failed: %s", operation),
		Operation: operation,
		Cause:     err,
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		dbErr.Code = errors.CodeNotFound
		dbErr.Message = "Resource not found"
		return dbErr
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "57014": // query_canceled
			dbErr.Code = errors.CodeCanceled
			dbErr.Message = "Database operation was canceled"
		case "57P01", "08000", "08003", "08006":
			dbErr.Code = errors.CodeDatabaseConnection
			dbErr.Message = "Database connection error"
		case "23502", "23514":
			dbErr.Code = errors.CodeValidation
			dbErr.Message = "Data validation failed"
		}
	}
	return dbErr
}
