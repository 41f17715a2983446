package tileindex

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

// Web mercator cannot represent the poles.
const maxLatitude = 85.05112878

// Layer is the slice of a source that falls into one tile. Its geometries
// are private copies and may be modified by the encoder.
type Layer struct {
	Tile     maptile.Tile
	Features *geojson.FeatureCollection
}

// Index is a source parsed and bucketed into a grid of tiles at
// Config.IndexMaxZoom. It is immutable once built, so GetTile may be called
// concurrently.
type Index struct {
	cfg      Config
	features []*geojson.Feature
	bounds   []orb.Bound
	grid     map[maptile.Tile][]int
	gridZoom maptile.Zoom
}

// New builds an index over fc. Features without geometry are skipped.
func New(fc *geojson.FeatureCollection, cfg Config) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx, err = nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, r)
		}
	}()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	idx = &Index{
		cfg:      cfg,
		grid:     make(map[maptile.Tile][]int),
		gridZoom: maptile.Zoom(cfg.gridZoom()),
	}

	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if err = checkBound(b); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		id := len(idx.features)
		idx.features = append(idx.features, f)
		idx.bounds = append(idx.bounds, b)

		forEachTile(b, idx.gridZoom, func(t maptile.Tile) {
			idx.grid[t] = append(idx.grid[t], id)
		})
	}

	return idx, nil
}

func checkBound(b orb.Bound) error {
	for _, v := range []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
		}
	}
	if b.Min.Y() < -90 || b.Max.Y() > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidGeometry)
	}
	return nil
}

// forEachTile calls fn for every tile at zoom z that b touches.
func forEachTile(b orb.Bound, z maptile.Zoom, fn func(maptile.Tile)) {
	minT := tileAt(orb.Point{b.Min.X(), b.Max.Y()}, z)
	maxT := tileAt(orb.Point{b.Max.X(), b.Min.Y()}, z)
	for x := minT.X; x <= maxT.X; x++ {
		for y := minT.Y; y <= maxT.Y; y++ {
			fn(maptile.New(x, y, z))
		}
	}
}

// tileAt is maptile.At with the point clamped to the projectable world.
func tileAt(p orb.Point, z maptile.Zoom) maptile.Tile {
	lon := math.Max(-180, math.Min(180, p.X()))
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, p.Y()))
	t := maptile.At(orb.Point{lon, lat}, z)

	last := uint32(1)<<uint32(z) - 1
	t.X = min(t.X, last)
	t.Y = min(t.Y, last)
	return t
}

// Config returns the slicing parameters the index was built with.
func (idx *Index) Config() Config {
	return idx.cfg
}

// FeatureCount returns the number of indexed features.
func (idx *Index) FeatureCount() int {
	return len(idx.features)
}

// GetTile slices the features intersecting tile z/x/y, including the
// configured buffer. It returns nil when the zoom is outside the configured
// range or nothing falls into the tile.
func (idx *Index) GetTile(z, x, y int) *Layer {
	if z < idx.cfg.MinZoom || z > idx.cfg.MaxZoom || x < 0 || y < 0 {
		return nil
	}
	if n := 1 << uint(z); x >= n || y >= n {
		return nil
	}

	tile := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	tb := tile.Bound(idx.cfg.bufferFraction())

	var simplifier *simplify.DouglasPeuckerSimplifier
	if z < idx.cfg.MaxZoom && idx.cfg.Tolerance > 0 {
		threshold := idx.cfg.Tolerance / float64(idx.cfg.Extent) * 360 / float64(uint64(1)<<uint(z))
		simplifier = simplify.DouglasPeucker(threshold)
	}

	fc := geojson.NewFeatureCollection()
	for _, id := range idx.candidates(tb, maptile.Zoom(z)) {
		if !idx.bounds[id].Intersects(tb) {
			continue
		}
		f := idx.features[id]

		g := clip.Geometry(tb, orb.Clone(f.Geometry))
		if simplifier != nil && !isEmpty(g) {
			g = simplifier.Simplify(g)
		}
		if isEmpty(g) {
			continue
		}

		sliced := geojson.NewFeature(g)
		sliced.ID = f.ID
		sliced.Properties = f.Properties
		fc.Append(sliced)
	}

	if len(fc.Features) == 0 {
		return nil
	}
	return &Layer{Tile: tile, Features: fc}
}

// candidates returns the ids of features that may intersect tb, in index
// order. Below the grid zoom every feature is a candidate.
func (idx *Index) candidates(tb orb.Bound, z maptile.Zoom) []int {
	if z < idx.gridZoom {
		ids := make([]int, len(idx.features))
		for i := range ids {
			ids[i] = i
		}
		return ids
	}

	seen := make(map[int]struct{})
	var ids []int
	forEachTile(tb, idx.gridZoom, func(t maptile.Tile) {
		for _, id := range idx.grid[t] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	})
	slices.Sort(ids)
	return ids
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) < 2
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) < 4
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) < 4
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	}
	return false
}
