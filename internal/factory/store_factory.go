package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
)

// StoreFactory creates key-value stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates the persistence backend named by storage.type
func (f *StoreFactory) CreateStore(ctx context.Context) (core.Store, error) {
	storageCfg := f.cfg.GetStorage()
	logger := f.logger.Named("store")

	switch storageCfg.Type {
	case "memory":
		return store.NewMemoryStore(logger), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(storageCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storageCfg.SQLitePath, logger)
	case "mysql":
		return store.NewMySQLStore(storageCfg.MySQLDSN, logger)
	case "postgres":
		return store.NewPostgresStore(ctx, storageCfg.PostgresDSN, logger)
	case "redis":
		return store.NewRedisStore(ctx, store.RedisOptions{
			Address:  storageCfg.Redis.Address,
			Password: storageCfg.Redis.Password,
			DB:       storageCfg.Redis.DB,
			Prefix:   storageCfg.Redis.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageCfg.Type)
	}
}
