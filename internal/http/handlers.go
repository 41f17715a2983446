package http

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/munim110/vector-tile-server/internal/apierror"
	"github.com/munim110/vector-tile-server/internal/cache"
	"github.com/munim110/vector-tile-server/internal/metrics"
	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/telemetry"
	"github.com/munim110/vector-tile-server/internal/tileindex"
	"github.com/munim110/vector-tile-server/internal/tileservice"
)

//go:embed templates/*.html
var templates embed.FS

var dashboardTemplate = template.Must(template.ParseFS(templates, "templates/dashboard.html"))

type Handlers struct {
	logger     *zap.Logger
	service    *tileservice.Service
	storage    source.Storage
	stats      func() cache.Stats
	metrics    *metrics.Metrics
	tileConfig tileindex.Config
}

func New(logger *zap.Logger, service *tileservice.Service, storage source.Storage, stats func() cache.Stats, m *metrics.Metrics, tileConfig tileindex.Config) *Handlers {
	return &Handlers{
		logger:     logger,
		service:    service,
		storage:    storage,
		stats:      stats,
		metrics:    m,
		tileConfig: tileConfig,
	}
}

// Handler returns the full middleware chain around the router.
func (h *Handlers) Handler() http.Handler {
	traced := telemetry.Middleware(http.HandlerFunc(h.dispatch), func(r *http.Request) string {
		return routeFrom(r.Context()).kind.String()
	})
	return h.classifyMiddleware(h.CORSMiddleware(h.RequestLoggingMiddleware(traced)))
}

func (h *Handlers) classifyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withRoute(r.Context(), classify(r))))
	})
}

func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	rt := routeFrom(r.Context())

	switch rt.kind {
	case routeTile:
		h.HandleTile(w, r, rt)
	case routeList:
		h.HandleList(w, r)
	case routeDashboard:
		h.HandleDashboard(w, r)
	case routeMetrics:
		h.metrics.Handler().ServeHTTP(w, r)
	case routeHealthz:
		h.HandleHealthz(w, r)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		rt := routeFrom(r.Context())
		h.metrics.ObserveRequest(rt.kind.String(), wrapped.statusCode, duration)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", rt.kind.String()),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// CORSMiddleware opens every response to any origin. Preflight requests
// are answered by the router's default 204.
func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag, Message")

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request, rt route) {
	if rt.err != nil {
		h.metrics.ObserveTile(tileservice.KindInvalid.String())
		writeError(w, rt.err)
		return
	}

	out := h.service.GetTile(r.Context(), rt.tile)

	switch out.Kind {
	case tileservice.KindLayer:
		etag := `"` + out.ETag + `"`
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))

		// HEAD request doesn't send body
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(out.Body)

	case tileservice.KindEmpty:
		w.WriteHeader(http.StatusNoContent)

	case tileservice.KindNotFound, tileservice.KindLoadError:
		w.Header().Set("Message", headerSafe(out.Err.Error()))
		w.WriteHeader(http.StatusNotFound)

	case tileservice.KindInvalid:
		writeError(w, out.Err)
	}
}

func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	sources, err := h.storage.List(r.Context())
	if err != nil {
		h.logger.Warn("Failed to list sources", zap.String("storage", h.storage.String()), zap.Error(err))
		sources = []source.Info{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sources)
}

type dashboardEntry struct {
	Rank       int
	Key        string
	LoadedAt   string
	LastAccess string
}

type dashboardData struct {
	CachedCount int
	Capacity    int
	Entries     []dashboardEntry
	Pending     int
	MemoryMB    string
	TileConfig  string
	TileFormat  string
	ServedTiles uint64
	UptimeHours string
	Hits        uint64
	Misses      uint64
	Coalesced   uint64
	Evictions   uint64
}

func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	stats := h.stats()

	tileConfig, err := json.MarshalIndent(h.tileConfig, "", "    ")
	if err != nil {
		h.logger.Error("Failed to encode tile config", zap.Error(err))
	}

	data := dashboardData{
		CachedCount: len(stats.Entries),
		Capacity:    stats.Capacity,
		Pending:     stats.Pending,
		MemoryMB:    strconv.FormatFloat(h.metrics.HeapMB(), 'f', 2, 64),
		TileConfig:  string(tileConfig),
		TileFormat:  string(h.service.Format()),
		ServedTiles: h.metrics.ServedTiles(),
		UptimeHours: strconv.FormatFloat(h.metrics.Uptime().Hours(), 'f', 2, 64),
		Hits:        stats.Hits,
		Misses:      stats.Misses,
		Coalesced:   stats.Coalesced,
		Evictions:   stats.Evictions,
	}
	for i, e := range stats.Entries {
		data.Entries = append(data.Entries, dashboardEntry{
			Rank:       i + 1,
			Key:        e.Key,
			LoadedAt:   e.LoadedAt.Format(time.RFC3339),
			LastAccess: e.LastAccess.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render dashboard", zap.Error(err))
	}
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.StatusOf(err))
	w.Write(apierror.EncodeError(err))
}

// headerSafe strips characters that cannot appear in a header value.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
