package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/config"
)

// InitRedis connects to redis. It returns nil when no host is configured or
// the server does not answer; callers treat redis as optional.
func InitRedis(cfg config.RedisConfig, logger logrus.FieldLogger) *redis.Client {
	if cfg.Host == "" {
		logger.Info("redis host not configured, continuing without redis")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Warn("redis connection failed, continuing without redis")
		rdb.Close()
		return nil
	}

	logger.Info("redis connection established")
	return rdb
}

const redisCollectionPrefix = "collection:"

// RedisStore keeps each collection snapshot under one string key; SET is
// atomic, so readers see whole snapshots only.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, redisCollectionPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, storageErr("load", name, err)
	}
	return decodeSnapshot(name, data)
}

func (s *RedisStore) Save(ctx context.Context, name string, records []json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := encodeSnapshot(name, records)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, redisCollectionPrefix+name, data, 0).Err(); err != nil {
		return storageErr("save", name, err)
	}
	return nil
}
