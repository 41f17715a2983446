package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
)

var extensions = map[string]bool{
	".json":    true,
	".geojson": true,
}

// FileStorage serves sources from a directory tree. Keys are paths relative
// to the root, using forward slashes.
type FileStorage struct {
	root   string
	logger *zap.Logger
}

func NewFileStorage(root string, logger *zap.Logger) (*FileStorage, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", root)
	}
	return &FileStorage{root: root, logger: logger}, nil
}

func (s *FileStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.getFilePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("failed to read source %s: %w", key, err)
	}
	return data, nil
}

// List walks the tree for GeoJSON documents. Unreadable entries are logged
// and skipped.
func (s *FileStorage) List(ctx context.Context) ([]Info, error) {
	sources := []Info{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("Error walking source directory", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		sources = append(sources, Info{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}

	slices.SortFunc(sources, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return sources, nil
}

func (s *FileStorage) Close() error {
	return nil
}

func (s *FileStorage) String() string {
	return "file:" + s.root
}

func (s *FileStorage) getFilePath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
