package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/config"
)

// Open builds the collection store selected by cfg.Storage.Driver. The
// returned close func releases whatever connection the backend holds.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger logrus.FieldLogger) (CollectionStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Driver {
	case "", "file":
		store, err := NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("dir", cfg.Storage.Dir).Info("using file collection store")
		return store, noop, nil

	case "memory":
		logger.Warn("using in-memory collection store, data will not survive a restart")
		return NewMemoryStore(), noop, nil

	case "postgres":
		db, err := InitDB(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.WithField("host", cfg.Database.Host).Info("using postgres collection store")
		return store, db.Close, nil

	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("storage driver redis requires a reachable redis server")
		}
		logger.Info("using redis collection store")
		return NewRedisStore(rdb), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
