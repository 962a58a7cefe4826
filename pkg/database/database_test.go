package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, driver string) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Driver = driver
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverCGO, cfg.Driver)
	assert.Equal(t, "./yacs.db", cfg.DatabasePath)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
	assert.Equal(t, 5*time.Second, cfg.WriteRetryDelay)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "postgres" }},
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"negative retry delay", func(c *Config) { c.WriteRetryDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_DSNPerDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", cfg.DSN())

	cfg.Driver = DriverPureGo
	assert.Contains(t, cfg.DSN(), "file:/tmp/x.db?")
	assert.Contains(t, cfg.DSN(), "_pragma=foreign_keys(1)")
}

func TestMigrations_ApplyEmbeddedSchema(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)

			mm := NewMigrationManager(db)
			require.NoError(t, mm.ApplyMigrations())

			validator := NewSchemaValidator(db)
			assert.NoError(t, validator.ValidateTablesExist())
			assert.NoError(t, validator.ValidateTableStructure())
			assert.NoError(t, validator.ValidateIndexes())
			assert.NoError(t, validator.ValidateConstraints())
			assert.NoError(t, validator.Validate())

			var name string
			require.NoError(t, db.QueryRow("SELECT NAME FROM CHANNEL WHERE ID = 1").Scan(&name))
			assert.Equal(t, "Default Channel", name)
		})
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t, DriverCGO)
	mm := NewMigrationManager(db)

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ApplyMigrations())

	var channels int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM CHANNEL").Scan(&channels))
	assert.Equal(t, 1, channels, "seed row must not be inserted twice")

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestMigrations_OrderAndFailureRollback(t *testing.T) {
	db := openTestDB(t, DriverCGO)
	source := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("INSERT INTO t (v) VALUES ('second');")},
		"m/001_first.sql":  {Data: []byte("CREATE TABLE t (v TEXT);")},
		"m/003_broken.sql": {Data: []byte("INSERT INTO missing_table VALUES (1);")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	mm := NewMigrationManagerFS(db, source, "m")
	err := mm.ApplyMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "003")

	var v string
	require.NoError(t, db.QueryRow("SELECT v FROM t").Scan(&v))
	assert.Equal(t, "second", v)

	var recorded int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = '003'").Scan(&recorded))
	assert.Zero(t, recorded)
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t, DriverCGO)
	validator := NewSchemaValidator(db)

	assert.Error(t, validator.ValidateTablesExist())
	assert.Error(t, validator.ValidateIndexes())
	assert.Error(t, validator.Validate())
}
