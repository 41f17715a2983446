package tileservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"

	"github.com/munim110/vector-tile-server/internal/apierror"
	"github.com/munim110/vector-tile-server/internal/metrics"
	"github.com/munim110/vector-tile-server/internal/source"
	"github.com/munim110/vector-tile-server/internal/tileindex"
)

// Kind classifies the result of a tile request. Each kind maps to a
// distinct response status and they must never be merged.
type Kind int

const (
	KindLayer Kind = iota
	KindEmpty
	KindNotFound
	KindLoadError
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindLayer:
		return "layer"
	case KindEmpty:
		return "empty"
	case KindNotFound:
		return "not_found"
	case KindLoadError:
		return "load_error"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

type Request struct {
	Key     string
	Z, X, Y int
}

// Outcome is the classified result of GetTile. Body, ContentType and ETag
// are set for KindLayer only; Err is set for the failure kinds.
type Outcome struct {
	Kind        Kind
	Body        []byte
	ContentType string
	ETag        string
	Err         error
}

// Resolver hands out indexed sources, loading them on demand.
type Resolver interface {
	Resolve(ctx context.Context, key string) (*tileindex.Index, error)
}

type Service struct {
	resolver Resolver
	format   tileindex.Format
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(resolver Resolver, format tileindex.Format, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		resolver: resolver,
		format:   format,
		metrics:  m,
		logger:   logger,
	}
}

func (s *Service) Format() tileindex.Format {
	return s.format
}

// GetTile resolves the source for req and cuts the requested tile from it.
// Invalid requests are rejected before the cache is consulted.
func (s *Service) GetTile(ctx context.Context, req Request) Outcome {
	out := s.getTile(ctx, req)
	s.metrics.ObserveTile(out.Kind.String())
	return out
}

func (s *Service) getTile(ctx context.Context, req Request) Outcome {
	if err := Validate(req); err != nil {
		return Outcome{Kind: KindInvalid, Err: err}
	}

	idx, err := s.resolver.Resolve(ctx, req.Key)
	if err != nil {
		if errors.Is(err, apierror.ErrNotFound) {
			return Outcome{Kind: KindNotFound, Err: err}
		}
		return Outcome{Kind: KindLoadError, Err: err}
	}

	layer := idx.GetTile(req.Z, req.X, req.Y)
	if layer == nil {
		return Outcome{Kind: KindEmpty}
	}

	body, err := tileindex.Encode(layer, s.format, idx.Config().Extent)
	if err != nil {
		s.logger.Error("Failed to encode tile",
			zap.String("key", req.Key),
			zap.Int("z", req.Z),
			zap.Int("x", req.X),
			zap.Int("y", req.Y),
			zap.Error(err),
		)
		return Outcome{Kind: KindLoadError, Err: err}
	}

	return Outcome{
		Kind:        KindLayer,
		Body:        body,
		ContentType: s.format.ContentType(),
		ETag:        generateETag(body),
	}
}

// Validate checks the key and that z/x/y address a tile in the pyramid.
func Validate(req Request) error {
	if err := source.ValidateKey(req.Key); err != nil {
		return apierror.Invalid("%v", err)
	}
	if req.Z < 0 || req.Z > tileindex.MaxZoom {
		return apierror.Invalid("zoom %d not in [0,%d]", req.Z, tileindex.MaxZoom)
	}
	n := 1 << uint(req.Z)
	if req.X < 0 || req.X >= n || req.Y < 0 || req.Y >= n {
		return apierror.Invalid("tile %d/%d/%d out of range", req.Z, req.X, req.Y)
	}
	return nil
}

func generateETag(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])[:16]
}
