package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant []string
	}{
		{
			name: "file with wal",
			cfg:  Config{Path: "/data/ble.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/data/ble.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
		{
			name:    "file without wal",
			cfg:     Config{Path: "/data/ble.db", BusyTimeout: 1},
			want:    []string{"_busy_timeout=1000"},
			notWant: []string{"_journal_mode"},
		},
		{
			name:    "memory ignores wal",
			cfg:     Config{Path: MemoryPath, WALMode: true},
			want:    []string{"file::memory:?", "_busy_timeout=0"},
			notWant: []string{"_journal_mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.dsn()
			for _, s := range tt.want {
				if !strings.Contains(dsn, s) {
					t.Errorf("dsn %q missing %q", dsn, s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(dsn, s) {
					t.Errorf("dsn %q should not contain %q", dsn, s)
				}
			}
		})
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ble_devices", "nested", "devices.db")

	db, err := Open(context.Background(), Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); !errors.Is(err, ErrNoPath) {
		t.Errorf("Open() error = %v, want ErrNoPath", err)
	}
}

func TestOpen_MemorySchemaSurvives(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("insert on a later statement: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	db.Close() //nolint:errcheck // force failure
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on closed db should fail")
	}
}

func TestClose_ZeroAndNil(t *testing.T) {
	var zero DB
	if err := zero.Close(); err != nil {
		t.Errorf("zero Close() = %v", err)
	}
	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}
