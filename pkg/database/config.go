package database

import (
	"errors"
	"fmt"
	"time"
)

// Supported driver names as registered by the imported SQLite packages
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	Driver          string        `json:"driver"`
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	WriteRetryDelay time.Duration `json:"write_retry_delay"`
}

// DefaultConfig returns production-ready database configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverCGO,
		DatabasePath:    "./yacs.db",
		MaxConnections:  10, // SQLite recommended limit for concurrent access
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteRetryDelay: 5 * time.Second,
	}
}

// Validate ensures the configuration is valid
// TECHNICAL DISCOVERY: Configuration validation prevents runtime failures
// from invalid database settings
func (c *Config) Validate() error {
	if c.Driver != DriverCGO && c.Driver != DriverPureGo {
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// DSN builds the driver-specific connection string
// FUNCTIONAL DISCOVERY: foreign_keys is per-connection in SQLite, so it has to ride on the
// DSN to reach every pooled connection
func (c *Config) DSN() string {
	switch c.Driver {
	case DriverPureGo:
		return "file:" + c.DatabasePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	default:
		return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
}
