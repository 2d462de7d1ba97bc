package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/database"
	"github.com/nerrad567/ble-scanner/migrations"
)

// storage is the device store selected by storage.backend together with
// its health probe and cleanup.
type storage struct {
	Store       device.Store
	HealthCheck func(ctx context.Context) error
	Close       func() error
}

// openStorage opens the configured backend. The sqlite backend is migrated
// before use.
func openStorage(ctx context.Context, cfg config.StorageConfig) (*storage, error) {
	switch cfg.Backend {
	case config.StorageSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.SQLite.Path,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return &storage{
			Store:       device.NewSQLiteStore(db.DB),
			HealthCheck: db.HealthCheck,
			Close:       db.Close,
		}, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := device.NewRedisStore(client, cfg.Redis.Key)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return &storage{
			Store:       store,
			HealthCheck: store.Ping,
			Close:       client.Close,
		}, nil

	case "", config.StorageFile:
		store := device.NewFileStore(cfg.Path)
		return &storage{
			Store:       store,
			HealthCheck: fileStoreCheck(store.Path()),
			Close:       func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// fileStoreCheck reports whether the device file's directory is usable.
func fileStoreCheck(path string) func(context.Context) error {
	return func(context.Context) error {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("device directory %s: %w", dir, err)
		}
		return nil
	}
}
