// Package history provides SQLite-backed persistence for historical
// metrics, session snapshots, and cron run records.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register pure-Go SQLite driver
)

// =============================================================================
// DATABASE CLIENT INTERFACE
// =============================================================================

// DatabaseClient defines the contract for database connection management.
type DatabaseClient interface {
	// DB returns the underlying sql.DB instance.
	DB() *sql.DB
	// Path returns the on-disk location of the database file ("" if in-memory).
	Path() string
	// Close releases database resources.
	Close() error
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error
}

// ClientConfig holds configuration options for the SQLite connection.
type ClientConfig struct {
	BusyTimeout time.Duration // How long a blocked statement waits on a lock (0 = driver default)
	CacheKB     int           // Page cache size in KiB (0 = driver default)
	Timeout     time.Duration // Connect/ping timeout (0 = no timeout)
}

// =============================================================================
// SQLITE CLIENT IMPLEMENTATION
// =============================================================================

// SQLiteClient manages the physical connection to a SQLite database file.
type SQLiteClient struct {
	db     *sql.DB
	path   string
	config ClientConfig
}

// SQLiteOption configures the SQLite client.
type SQLiteOption func(*SQLiteClient)

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(c *SQLiteClient) {
		c.config.BusyTimeout = d
	}
}

// WithCacheKB sets the SQLite page cache size in KiB.
func WithCacheKB(kb int) SQLiteOption {
	return func(c *SQLiteClient) {
		c.config.CacheKB = kb
	}
}

// WithConnectTimeout sets the connect/ping timeout.
func WithConnectTimeout(d time.Duration) SQLiteOption {
	return func(c *SQLiteClient) {
		c.config.Timeout = d
	}
}

// DefaultPath returns the default database location, ~/.clawlens-history.db.
// Falls back to a relative path if the home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawlens-history.db"
	}
	return filepath.Join(home, ".clawlens-history.db")
}

// NewSQLiteClient opens (creating if absent) a SQLite database.
// Path examples:
//   - ":memory:" for an in-memory database (tests)
//   - "/path/to/file.db" for a file-based database
//
// WAL journaling and incremental auto-vacuum are enabled on every open;
// both settings are idempotent, so reopening an existing file is safe.
func NewSQLiteClient(path string, opts ...SQLiteOption) (*SQLiteClient, error) {
	client := &SQLiteClient{
		path: path,
		config: ClientConfig{
			BusyTimeout: 5 * time.Second,
		},
	}

	// Apply options
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if path == "" {
		client.path = DefaultPath()
	}

	db, err := sql.Open("sqlite", client.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite supports one writer at a time; serial access avoids
	// SQLITE_BUSY churn between our own connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections don't expire

	// Verify connectivity
	ctx := context.Background()
	if client.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.config.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if client.config.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d", client.config.BusyTimeout.Milliseconds()))
	}
	if client.config.CacheKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", client.config.CacheKB))
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	client.db = db
	return client, nil
}

// DB returns the underlying sql.DB instance.
func (c *SQLiteClient) DB() *sql.DB {
	return c.db
}

// Path returns the database file location ("" for :memory:).
func (c *SQLiteClient) Path() string {
	if c.path == ":memory:" {
		return ""
	}
	return c.path
}

// Close releases database resources.
func (c *SQLiteClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies database connectivity.
func (c *SQLiteClient) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// =============================================================================
// FACTORY FUNCTIONS
// =============================================================================

// NewInMemoryClient creates a new in-memory SQLite database.
func NewInMemoryClient(opts ...SQLiteOption) (*SQLiteClient, error) {
	return NewSQLiteClient(":memory:", opts...)
}

// NewFileClient creates a new file-based SQLite database.
func NewFileClient(path string, opts ...SQLiteOption) (*SQLiteClient, error) {
	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	return NewSQLiteClient(path, opts...)
}
