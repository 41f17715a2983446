package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/munim110/vector-tile-server/internal/apierror"
	"github.com/munim110/vector-tile-server/internal/cache"
	"github.com/munim110/vector-tile-server/internal/loader"
	"github.com/munim110/vector-tile-server/internal/metrics"
	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/tileindex"
	"github.com/munim110/vector-tile-server/internal/tileservice"
)

const points = `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":1,"geometry":{"type":"Point","coordinates":[10,10]},"properties":{"name":"a"}},
	{"type":"Feature","id":2,"geometry":{"type":"Point","coordinates":[12,14]},"properties":{"name":"b"}}
]}`

type testServer struct {
	handler http.Handler
	cache   *cache.Cache[*tileindex.Index]
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, format tileindex.Format) *testServer {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "points.json"), []byte(points), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte(`{"type":`), 0o644))

	log := zap.NewNop()
	storage, err := source.NewFileStorage(root, log)
	require.NoError(t, err)

	m := metrics.New()
	cfg := tileindex.DefaultConfig()
	ld := loader.New(storage, cfg, 0, m, log)
	c, err := cache.New[*tileindex.Index](ld, cache.Options{Capacity: 4}, log)
	require.NoError(t, err)

	svc := tileservice.New(c, format, m, log)
	h := New(log, svc, storage, c.Snapshot, m, cfg)
	return &testServer{handler: h.Handler(), cache: c, metrics: m}
}

func (s *testServer) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestTileLayer(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	rec := s.do(http.MethodGet, "/tile/1/1/0?file=points.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var body struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FeatureCollection", body.Type)
	assert.Len(t, body.Features, 2)

	// Same tile addressed by path, with a conditional request.
	etag := rec.Header().Get("ETag")
	rec = s.do(http.MethodGet, "/tile/points.json/1/1/0.geojson", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestTileHead(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	rec := s.do(http.MethodHead, "/tile/points.json/0/0/0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestTileProtobuf(t *testing.T) {
	s := newTestServer(t, tileindex.FormatProtobuf)

	rec := s.do(http.MethodGet, "/tile/points.json/0/0/0.pbf", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/protobuf", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestTileStatuses(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	empty := s.do(http.MethodGet, "/tile/points.json/1/0/1", nil)
	assert.Equal(t, http.StatusNoContent, empty.Code)
	assert.Equal(t, "*", empty.Header().Get("Access-Control-Allow-Origin"))

	missing := s.do(http.MethodGet, "/tile/missing.json/0/0/0", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Contains(t, missing.Header().Get("Message"), "not found")

	broken := s.do(http.MethodGet, "/tile/broken.json/0/0/0", nil)
	assert.Equal(t, http.StatusNotFound, broken.Code)
	assert.Contains(t, broken.Header().Get("Message"), "invalid geojson")

	assert.Equal(t, 0, s.cache.Len(), "failures are not cached")
}

func TestTileInvalidRequest(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	for _, target := range []string{
		"/tile/points.json/x/0/0",
		"/tile/points.json/2/4/0",
		"/tile/1/1/0",
		"/tile/..%2Fsecret.json/0/0/0",
	} {
		rec := s.do(http.MethodGet, target, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var msg apierror.ErrorMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg), target)
		assert.Equal(t, http.StatusBadRequest, msg.Status)
		assert.NotEmpty(t, msg.Message)
	}
	assert.Equal(t, uint64(0), s.cache.Snapshot().Loads)
}

func TestTileConcurrentRequestsLoadOnce(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.do(http.MethodGet, "/tile/points.json/0/0/0", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1), s.cache.Snapshot().Loads)
	assert.Equal(t, uint64(20), s.metrics.ServedTiles())
}

func TestList(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	rec := s.do(http.MethodGet, "/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []source.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []source.Info{
		{Name: "broken.json", Size: int64(len(`{"type":`))},
		{Name: "points.json", Size: int64(len(points))},
	}, list)
}

type failingStorage struct{ source.Storage }

func (failingStorage) List(context.Context) ([]source.Info, error) {
	return nil, errors.New("backend down")
}
func (failingStorage) String() string { return "failing" }

func TestListFailureReturnsEmptyArray(t *testing.T) {
	m := metrics.New()
	h := New(zap.NewNop(), nil, failingStorage{}, func() cache.Stats { return cache.Stats{} }, m, tileindex.DefaultConfig())

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/list", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)
	s.do(http.MethodGet, "/tile/points.json/0/0/0", nil)

	rec := s.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "points.json")
	assert.Contains(t, body, "Last access time")
	assert.Contains(t, body, "1 / 4")
	assert.Contains(t, body, "indexMaxZoom")
}

func TestFallbackRoutes(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	for _, tt := range []struct{ method, target string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/nothing/here"},
		{http.MethodOptions, "/tile/points.json/0/0/0"},
		{http.MethodPost, "/list"},
	} {
		rec := s.do(tt.method, tt.target, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, tt.target)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), tt.target)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t, tileindex.FormatGeoJSON)

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	s.do(http.MethodGet, "/tile/points.json/0/0/0", nil)
	rec = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tileserver_tiles_served_total{outcome="layer"} 1`)
	assert.Contains(t, rec.Body.String(), `tileserver_http_requests_total{code="200",route="tile"}`)
}
