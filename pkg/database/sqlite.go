// Package database owns the embedded SQLite store: the process-wide
// connection, the journal-mode policy for local versus network-share paths,
// the maintenance flag and the schema migrations.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrMaintenanceMode is returned by every acquisition while the maintenance
// sentinel file exists. Callers must surface it, never retry.
var ErrMaintenanceMode = errors.New("registry is in maintenance mode")

// ErrNotConfigured is returned when Acquire is called before SetPath.
var ErrNotConfigured = errors.New("database path not configured")

// Busy timeouts. Network shares hold locks far longer than local disks.
const (
	localBusyTimeout   = 5 * time.Second
	networkBusyTimeout = 60 * time.Second
)

// RegistryDirName is the preferred registry directory under the data folder.
const RegistryDirName = ".registry"

// LegacyRegistryDirName is the pre-dot layout still found on old installs.
const LegacyRegistryDirName = "registry"

// DBFileName is the registry database file name.
const DBFileName = "registry.db"

// MaintenanceFlagName is the sentinel file that blocks all writes.
const MaintenanceFlagName = ".maintenance"

// DB wraps sql.DB with the registry's transaction and lifecycle helpers.
type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

var (
	mu     sync.Mutex
	cached *DB
	dbPath string
)

// SetPath points the singleton at a database file. A path change closes any
// cached handle so the next Acquire reopens against the new file.
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	if path == dbPath {
		return
	}
	if cached != nil {
		_ = cached.DB.Close()
		cached = nil
	}
	dbPath = path
}

// Path returns the currently configured database path.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return dbPath
}

// DefaultPath resolves the registry database file under a data folder.
// The dotted layout is preferred; the legacy layout is honored when it
// already holds a database and the preferred one does not.
func DefaultPath(dataFolder string) string {
	preferred := filepath.Join(dataFolder, RegistryDirName, DBFileName)
	legacy := filepath.Join(dataFolder, LegacyRegistryDirName, DBFileName)
	if _, err := os.Stat(preferred); err == nil {
		return preferred
	}
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	return preferred
}

// IsNetworkPath reports whether path is a UNC network-share path.
func IsNetworkPath(path string) bool {
	return strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//")
}

// Acquire returns the memoized connection, opening or transparently
// reopening it as needed. It fails with ErrMaintenanceMode while the
// maintenance flag exists.
func Acquire(logger *zap.Logger) (*DB, error) {
	mu.Lock()
	defer mu.Unlock()

	if dbPath == "" {
		return nil, ErrNotConfigured
	}
	if maintenanceFlagExists(dbPath) {
		return nil, ErrMaintenanceMode
	}
	if cached != nil {
		if err := cached.DB.Ping(); err == nil {
			return cached, nil
		}
		// Stale handle; reopen below.
		_ = cached.DB.Close()
		cached = nil
	}

	db, err := open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	cached = db
	return cached, nil
}

// Close releases the cached connection. Safe to call repeatedly.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		_ = cached.DB.Close()
		cached = nil
	}
}

func open(path string, logger *zap.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	network := IsNetworkPath(path)
	busy := localBusyTimeout
	journal := "WAL"
	if network {
		// WAL needs shared memory; on SMB shares it risks exclusive-lock
		// corruption, so force rollback journaling and clean up stale
		// sidecars left behind by a previous local open.
		busy = networkBusyTimeout
		journal = "DELETE"
		removeStaleSidecars(path, logger)
	}

	// _txlock=immediate makes every Begin take the write lock up front,
	// which is what the batched write path depends on.
	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, journal, busy.Milliseconds())

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The handle is shared across goroutines in serialized-access mode.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("path", path),
		zap.String("journal_mode", journal),
		zap.Bool("network_share", network))

	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

func removeStaleSidecars(path string, logger *zap.Logger) {
	for _, suffix := range []string{"-wal", "-shm"} {
		sidecar := path + suffix
		if _, err := os.Stat(sidecar); err == nil {
			if err := os.Remove(sidecar); err != nil {
				logger.Warn("Failed to remove stale sidecar file",
					zap.String("file", sidecar), zap.Error(err))
			} else {
				logger.Info("Removed stale sidecar file", zap.String("file", sidecar))
			}
		}
	}
}

// WithImmediateTx runs fn inside a BEGIN IMMEDIATE transaction so a batch
// takes the write lock up front and either fully applies or fully rolls
// back.
func (db *DB) WithImmediateTx(fn func(*sql.Tx) error) error {
	conn, err := db.DB.Begin()
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = conn.Rollback()
			panic(p)
		}
	}()

	if err := fn(conn); err != nil {
		if rbErr := conn.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := conn.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MaintenanceFlagPath returns the sentinel file path for a database path.
func MaintenanceFlagPath(path string) string {
	return filepath.Join(filepath.Dir(path), MaintenanceFlagName)
}

func maintenanceFlagExists(path string) bool {
	_, err := os.Stat(MaintenanceFlagPath(path))
	return err == nil
}

// InMaintenance reports whether the configured database is flagged for
// maintenance.
func InMaintenance() bool {
	mu.Lock()
	defer mu.Unlock()
	if dbPath == "" {
		return false
	}
	return maintenanceFlagExists(dbPath)
}

// EnableMaintenance creates the sentinel file and closes the cached handle
// so an operator can compact or replace the database without racing writers.
func EnableMaintenance() error {
	mu.Lock()
	defer mu.Unlock()
	if dbPath == "" {
		return ErrNotConfigured
	}
	if cached != nil {
		_ = cached.DB.Close()
		cached = nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	f, err := os.OpenFile(MaintenanceFlagPath(dbPath), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create maintenance flag: %w", err)
	}
	return f.Close()
}

// DisableMaintenance removes the sentinel file.
func DisableMaintenance() error {
	mu.Lock()
	defer mu.Unlock()
	if dbPath == "" {
		return ErrNotConfigured
	}
	err := os.Remove(MaintenanceFlagPath(dbPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove maintenance flag: %w", err)
	}
	return nil
}
