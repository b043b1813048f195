package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), RegistryDirName, DBFileName)
	SetPath(path)
	t.Cleanup(func() {
		Close()
		SetPath("")
	})
	return path
}

func TestIsNetworkPath(t *testing.T) {
	assert.True(t, IsNetworkPath(`\\fileserver\share\registry.db`))
	assert.True(t, IsNetworkPath("//fileserver/share/registry.db"))
	assert.False(t, IsNetworkPath("/home/user/data/registry.db"))
	assert.False(t, IsNetworkPath(`C:\data\registry.db`))
}

func TestDefaultPath(t *testing.T) {
	t.Run("prefers dotted layout when nothing exists", func(t *testing.T) {
		dir := t.TempDir()
		assert.Equal(t, filepath.Join(dir, RegistryDirName, DBFileName), DefaultPath(dir))
	})

	t.Run("honors legacy layout with an existing database", func(t *testing.T) {
		dir := t.TempDir()
		legacy := filepath.Join(dir, LegacyRegistryDirName, DBFileName)
		require.NoError(t, os.MkdirAll(filepath.Dir(legacy), 0755))
		require.NoError(t, os.WriteFile(legacy, []byte{}, 0644))

		assert.Equal(t, legacy, DefaultPath(dir))
	})
}

func TestAcquire_OpensAndMigrates(t *testing.T) {
	testDB(t)
	logger := zap.NewNop()

	db, err := Acquire(logger)
	require.NoError(t, err)

	// All three tables exist.
	for _, table := range []string{"tasks", "ignored_snapshots", "events"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	// Second acquisition returns the memoized handle.
	again, err := Acquire(logger)
	require.NoError(t, err)
	assert.Same(t, db, again)
}

func TestAcquire_ReopensClosedHandle(t *testing.T) {
	testDB(t)
	logger := zap.NewNop()

	db, err := Acquire(logger)
	require.NoError(t, err)
	require.NoError(t, db.DB.Close())

	reopened, err := Acquire(logger)
	require.NoError(t, err)
	require.NoError(t, reopened.Ping())
}

func TestMigrate_Idempotent(t *testing.T) {
	testDB(t)
	logger := zap.NewNop()

	db, err := Acquire(logger)
	require.NoError(t, err)

	require.NoError(t, Migrate(db, logger))
	require.NoError(t, Migrate(db, logger))
}

func TestMigrate_AddsColumnsAndBackfills(t *testing.T) {
	path := testDB(t)
	logger := zap.NewNop()

	// Simulate a database from before business_id and the ignore flag.
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	legacy, err := open(path, logger)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			file_type INTEGER NOT NULL,
			project_id TEXT NOT NULL,
			interface_id TEXT NOT NULL,
			source_file TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			department TEXT,
			interface_time TEXT,
			role TEXT,
			responsible_person TEXT,
			completed_at TEXT,
			confirmed_by TEXT,
			confirmed_at TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			display_status TEXT,
			first_seen_at TEXT,
			last_seen_at TEXT
		)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		INSERT INTO tasks (id, file_type, project_id, interface_id, source_file, row_index, status)
		VALUES ('abc', 1, '1818', 'IF-001', 'scan.xlsx', 3, 'open')`)
	require.NoError(t, err)
	require.NoError(t, legacy.DB.Close())

	db, err := Acquire(logger)
	require.NoError(t, err)

	var businessID string
	var ignored int
	err = db.QueryRow("SELECT business_id, ignored FROM tasks WHERE id='abc'").Scan(&businessID, &ignored)
	require.NoError(t, err)
	assert.Equal(t, "1|1818|IF-001", businessID)
	assert.Equal(t, 0, ignored)
}

func TestMaintenanceMode(t *testing.T) {
	path := testDB(t)
	logger := zap.NewNop()

	_, err := Acquire(logger)
	require.NoError(t, err)

	require.NoError(t, EnableMaintenance())
	assert.True(t, InMaintenance())
	assert.FileExists(t, MaintenanceFlagPath(path))

	_, err = Acquire(logger)
	assert.ErrorIs(t, err, ErrMaintenanceMode)

	require.NoError(t, DisableMaintenance())
	assert.False(t, InMaintenance())
	_, err = Acquire(logger)
	require.NoError(t, err)
}

func TestAcquire_Unconfigured(t *testing.T) {
	Close()
	SetPath("")

	_, err := Acquire(zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
