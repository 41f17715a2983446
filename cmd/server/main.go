package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/munim110/vector-tile-server/internal/cache"
	"github.com/munim110/vector-tile-server/internal/config"
	httphandlers "github.com/munim110/vector-tile-server/internal/http"
	"github.com/munim110/vector-tile-server/internal/loader"
	"github.com/munim110/vector-tile-server/internal/logger"
	"github.com/munim110/vector-tile-server/internal/metrics"
	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/telemetry"
	"github.com/munim110/vector-tile-server/internal/tileindex"
	"github.com/munim110/vector-tile-server/internal/tileservice"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	log.Info("Starting vector tile server",
		zap.String("protocol", cfg.Protocol),
		zap.String("source_backend", cfg.SourceBackend),
		zap.Int("ncache", cfg.NCache),
		zap.String("tile_format", cfg.TileFormat),
	)

	storage, err := source.Open(ctx, cfg.SourceConfig(), log)
	if err != nil {
		log.Fatal("Failed to open source storage", zap.Error(err))
	}
	defer storage.Close()

	if cfg.ImportDir != "" {
		if err := importSources(ctx, cfg.ImportDir, storage, log); err != nil {
			log.Fatal("Failed to import sources", zap.Error(err))
		}
	}

	m := metrics.New()
	ld := loader.New(storage, cfg.TileConfig, time.Duration(cfg.LoadTimeout), m, log)

	objects, err := cache.New[*tileindex.Index](ld, cache.Options{
		Capacity: cfg.NCache,
		TTL:      time.Duration(cfg.CacheTTL),
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	if err := m.RegisterCache(objects.Snapshot); err != nil {
		log.Fatal("Failed to register cache metrics", zap.Error(err))
	}

	service := tileservice.New(objects, cfg.Format(), m, log)
	handlers := httphandlers.New(log, service, storage, objects.Snapshot, m, cfg.TileConfig)

	if cfg.CacheTTL > 0 {
		go sweepExpired(ctx, objects, time.Duration(cfg.CacheTTL), log)
	}
	if len(cfg.Preload) > 0 {
		go preloadSources(ctx, cfg, storage, objects, log)
	}

	listener, err := listen(cfg)
	if err != nil {
		log.Fatal("Failed to listen", zap.Error(err))
	}

	server := &http.Server{
		Handler:           handlers.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("addr", listener.Addr().String()))
	if cfg.Protocol == "tcp" {
		log.Info("Dashboard available", zap.String("url", fmt.Sprintf("http://127.0.0.1:%d/dashboard", cfg.Port)))
	}

	<-ctx.Done()

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Failed to flush traces", zap.Error(err))
	}

	log.Info("Server stopped")
}

// importSources copies the GeoJSON files under dir into storage, which must
// accept writes.
func importSources(ctx context.Context, dir string, storage source.Storage, log *zap.Logger) error {
	to, ok := storage.(source.Writer)
	if !ok {
		return fmt.Errorf("%s does not accept imports", storage)
	}
	from, err := source.NewFileStorage(dir, log)
	if err != nil {
		return err
	}
	defer from.Close()

	start := time.Now()
	n, err := source.Import(ctx, from, to, log)
	if err != nil {
		return err
	}
	log.Info("Imported sources",
		zap.String("dir", dir),
		zap.String("storage", storage.String()),
		zap.Int("sources", n),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// listen opens the configured transport. A stale unix socket left by a
// previous run is removed first; any other file at the path is an error.
func listen(cfg *config.Config) (net.Listener, error) {
	if cfg.Protocol == "socket" {
		if err := removeStaleSocket(cfg.UnixSocket); err != nil {
			return nil, err
		}
		return net.Listen("unix", cfg.UnixSocket)
	}
	return net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket path %s: %w", path, err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove %s: not a unix socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

func sweepExpired(ctx context.Context, objects *cache.Cache[*tileindex.Index], ttl time.Duration, log *zap.Logger) {
	interval := max(ttl/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := objects.Sweep(); n > 0 {
				log.Info("Expired cached sources", zap.Int("removed", n))
			}
		}
	}
}

// preloadKeys returns the valid keys to preload, at most the cache capacity.
// "*" stands for every listed source.
func preloadKeys(ctx context.Context, cfg *config.Config, storage source.Storage, log *zap.Logger) []string {
	candidates := cfg.Preload
	if cfg.PreloadAll() {
		sources, err := storage.List(ctx)
		if err != nil {
			log.Warn("Preload listing failed", zap.Error(err))
			return nil
		}
		candidates = make([]string, 0, len(sources))
		for _, s := range sources {
			candidates = append(candidates, s.Name)
		}
	}

	keys := make([]string, 0, min(len(candidates), cfg.NCache))
	for _, key := range candidates {
		if len(keys) == cfg.NCache {
			break
		}
		if err := source.ValidateKey(key); err != nil {
			log.Warn("Skipping preload of invalid key", zap.String("key", key), zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// preloadSources resolves the preload keys through the cache so the first
// tile requests find them indexed.
func preloadSources(ctx context.Context, cfg *config.Config, storage source.Storage, objects *cache.Cache[*tileindex.Index], log *zap.Logger) {
	keys := preloadKeys(ctx, cfg, storage, log)
	if len(keys) == 0 {
		return
	}

	log.Info("Starting preload", zap.Int("sources", len(keys)), zap.Int("workers", cfg.PreloadWorkers))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.PreloadWorkers)
	for _, key := range keys {
		g.Go(func() error {
			if _, err := objects.Resolve(gctx, key); err != nil {
				log.Warn("Preload failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	log.Info("Preload completed",
		zap.Int("resident", objects.Len()),
		zap.Duration("duration", time.Since(start)),
	)
}
