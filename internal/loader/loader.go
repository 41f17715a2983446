package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/munim110/vector-tile-server/internal/apierror"
	"github.com/munim110/vector-tile-server/internal/metrics"
	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/telemetry"
	"github.com/munim110/vector-tile-server/internal/tileindex"
)

// Loader reads a source, parses it and builds its tile index. It holds no
// state between loads; committing the result is the cache's job.
type Loader struct {
	storage source.Storage
	cfg     tileindex.Config
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

func New(storage source.Storage, cfg tileindex.Config, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Loader {
	return &Loader{
		storage: storage,
		cfg:     cfg,
		timeout: timeout,
		metrics: m,
		logger:  logger,
		tracer:  telemetry.Tracer(),
	}
}

type result struct {
	index *tileindex.Index
	err   error
}

// Load builds the index for key. Errors wrap one of apierror.ErrNotFound,
// ErrParse, ErrIndex or ErrLoadTimeout, except for unexpected storage
// failures which are returned as they are. A panic during the load is
// returned as an error and never reaches the caller's goroutine.
func (l *Loader) Load(ctx context.Context, key string) (*tileindex.Index, error) {
	ctx, span := l.tracer.Start(ctx, "source.load", trace.WithAttributes(
		attribute.String("source.key", key),
		attribute.String("source.storage", l.storage.String()),
	))
	defer span.End()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("load %s panicked: %v", key, r)}
			}
		}()
		idx, err := l.load(ctx, span, key)
		done <- result{idx, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w: %s after %s", apierror.ErrLoadTimeout, key, l.timeout)
	}
	elapsed := time.Since(start)

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		l.metrics.ObserveLoad(resultLabel(res.err), elapsed)
		l.logger.Warn("Failed to load source",
			zap.String("key", key),
			zap.Duration("duration", elapsed),
			zap.Error(res.err),
		)
		return nil, res.err
	}

	span.SetStatus(codes.Ok, "")
	l.metrics.ObserveLoad("ok", elapsed)
	l.logger.Info("Indexed source",
		zap.String("key", key),
		zap.Int("features", res.index.FeatureCount()),
		zap.Duration("duration", elapsed),
	)
	return res.index, nil
}

func (l *Loader) load(ctx context.Context, span trace.Span, key string) (*tileindex.Index, error) {
	data, err := l.storage.Read(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrNotExist), errors.Is(err, source.ErrInvalidKey):
			return nil, fmt.Errorf("%w: %w", apierror.ErrNotFound, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", apierror.ErrLoadTimeout, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.bytes", len(data)))

	fc, err := tileindex.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apierror.ErrParse, key, err)
	}

	idx, err := tileindex.New(fc, l.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apierror.ErrIndex, key, err)
	}
	span.SetAttributes(attribute.Int("source.features", idx.FeatureCount()))
	return idx, nil
}

func resultLabel(err error) string {
	switch apierror.Kind(err) {
	case apierror.ErrNotFound:
		return "not_found"
	case apierror.ErrParse:
		return "parse_error"
	case apierror.ErrIndex:
		return "index_error"
	case apierror.ErrLoadTimeout:
		return "timeout"
	}
	return "error"
}
