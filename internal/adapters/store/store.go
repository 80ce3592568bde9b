// Package store provides the key-value backends used to persist history
// series.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/splusd-labs/splusd-tracker/internal/config"
	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// Open builds the backend selected by cfg.Driver.
func Open(cfg config.StoreConfig) (domain.KeyValueStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverLevelDB:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return NewLevelDB(cfg.Path)
	case config.DriverBolt:
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
		return NewBolt(cfg.Path)
	case config.DriverFile:
		return NewFile(cfg.Path)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
