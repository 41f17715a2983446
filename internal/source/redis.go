package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string `json:"addr" env:"ADDR"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB" validate:"gte=0"`
	Prefix   string `json:"prefix" env:"PREFIX"`
}

// RedisStorage reads sources stored as plain string values under
// Prefix+key.
type RedisStorage struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisStorage(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, prefix: cfg.Prefix, logger: logger}, nil
}

func (s *RedisStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return data, nil
}

func (s *RedisStorage) List(ctx context.Context) ([]Info, error) {
	sources := []Info{}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan error: %w", err)
		}
		for _, k := range keys {
			size, err := s.client.StrLen(ctx, k).Result()
			if err != nil {
				s.logger.Warn("Error getting source size", zap.String("key", k), zap.Error(err))
				continue
			}
			sources = append(sources, Info{Name: strings.TrimPrefix(k, s.prefix), Size: size})
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	slices.SortFunc(sources, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return sources, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) String() string {
	return "redis:" + s.client.Options().Addr + "/" + s.prefix
}
