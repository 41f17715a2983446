package source

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteConfig struct {
	Path string `json:"path" env:"PATH"`
}

// SQLiteStorage reads sources from the sources table.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

func NewSQLiteStorage(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStorage{db: db, path: path, logger: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite source: %w", err)
	}

	logger.Info("sqlite source initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStorage) runMigrations() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db, "migrations")
}

func (s *SQLiteStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sources WHERE name = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("sqlite read error: %w", err)
	}
	return data, nil
}

func (s *SQLiteStorage) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, length(data) FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list error: %w", err)
	}
	defer rows.Close()

	sources := []Info{}
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Name, &info.Size); err != nil {
			return nil, fmt.Errorf("sqlite list error: %w", err)
		}
		sources = append(sources, info)
	}
	return sources, rows.Err()
}

// Put stores or replaces a source document.
func (s *SQLiteStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	query := `INSERT INTO sources (name, data)
	VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET data = excluded.data`

	if _, err := s.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("sqlite put error: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) String() string {
	return "sqlite:" + s.path
}
