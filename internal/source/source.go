package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNotExist       = errors.New("source does not exist")
	ErrInvalidKey     = errors.New("invalid source key")
	ErrUnknownBackend = errors.New("unknown source backend")
)

// Info describes one stored source.
type Info struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Storage holds the raw GeoJSON documents tiles are cut from.
type Storage interface {
	// Read returns the document stored under key, or an error wrapping
	// ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]Info, error)
	Close() error
	String() string
}

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Backend string
	Dir     string
	Redis   RedisConfig
	SQLite  SQLiteConfig
}

// Open creates the storage selected by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Storage, error) {
	switch cfg.Backend {
	case BackendFile, "":
		logger.Info("Using file source", zap.String("dir", cfg.Dir))
		return NewFileStorage(cfg.Dir, logger)
	case BackendRedis:
		logger.Info("Using redis source", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
		return NewRedisStorage(ctx, cfg.Redis, logger)
	case BackendSQLite:
		logger.Info("Using sqlite source", zap.String("path", cfg.SQLite.Path))
		return NewSQLiteStorage(ctx, cfg.SQLite.Path, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}

// ValidateKey rejects keys that could escape the source root or that no
// backend can store.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidKey)
	case strings.Contains(key, `\`):
		return fmt.Errorf("%w: contains backslash", ErrInvalidKey)
	case !filepath.IsLocal(filepath.FromSlash(key)):
		return fmt.Errorf("%w: %q is not a local path", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: bad segment in %q", ErrInvalidKey, key)
		}
	}
	return nil
}
