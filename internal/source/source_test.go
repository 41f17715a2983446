package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const point = `{"type":"Point","coordinates":[1,2]}`

func TestValidateKey(t *testing.T) {
	valid := []string{"a.json", "dir/b.geojson", "deep/er/c.json", "name with spaces.json"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	invalid := []string{"", "../etc/passwd", "a/../../b", "/abs.json", `dir\file.json`, "a//b", "./a", "nul\x00.json"}
	for _, key := range invalid {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, "%q", key)
	}
}

func writeFile(t *testing.T, root, name, data string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestFileStorage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.json", point)
	writeFile(t, root, "nested/b.geojson", point+" ")
	writeFile(t, root, "notes.txt", "ignored")

	s, err := NewFileStorage(root, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	data, err := s.Read(ctx, "nested/b.geojson")
	require.NoError(t, err)
	assert.Equal(t, point+" ", string(data))

	_, err = s.Read(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = s.Read(ctx, "../outside.json")
	assert.ErrorIs(t, err, ErrInvalidKey)

	list, err := s.List(ctx)
	require.NoError(t, err)
	want := []Info{
		{Name: "a.json", Size: int64(len(point))},
		{Name: "nested/b.geojson", Size: int64(len(point) + 1)},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStorageEmptyList(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestNewFileStorageRejectsMissingDir(t *testing.T) {
	_, err := NewFileStorage(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	assert.Error(t, err)
}

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(ctx, filepath.Join(t.TempDir(), "sources.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "b.json", []byte(point)))
	require.NoError(t, s.Put(ctx, "a.json", []byte("{}")))
	require.NoError(t, s.Put(ctx, "a.json", []byte(point)))

	data, err := s.Read(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, point, string(data))

	_, err = s.Read(ctx, "c.json")
	assert.ErrorIs(t, err, ErrNotExist)

	list, err := s.List(ctx)
	require.NoError(t, err)
	want := []Info{
		{Name: "a.json", Size: int64(len(point))},
		{Name: "b.json", Size: int64(len(point))},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("TILESERVER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TILESERVER_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "tileserver-test:" + t.Name() + ":"
	s, err := NewRedisStorage(ctx, RedisConfig{Addr: addr, Prefix: prefix}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.client.Set(ctx, prefix+"a.json", point, 0).Err())
	t.Cleanup(func() { s.client.Del(context.Background(), prefix+"a.json") })

	data, err := s.Read(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, point, string(data))

	_, err = s.Read(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotExist)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Info{{Name: "a.json", Size: int64(len(point))}}, list)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "s3"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpenFileBackend(t *testing.T) {
	root := t.TempDir()
	s, err := Open(context.Background(), Config{Backend: BackendFile, Dir: root}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "file:"+root, s.String())
}

func TestImportIntoSQLite(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.json", point)
	writeFile(t, root, "nested/b.geojson", point)
	writeFile(t, root, "notes.txt", "ignored")

	from, err := NewFileStorage(root, zap.NewNop())
	require.NoError(t, err)
	to, err := NewSQLiteStorage(ctx, filepath.Join(t.TempDir(), "sources.db"), zap.NewNop())
	require.NoError(t, err)
	defer to.Close()

	n, err := Import(ctx, from, to, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := to.Read(ctx, "nested/b.geojson")
	require.NoError(t, err)
	assert.Equal(t, point, string(data))

	list, err := to.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
