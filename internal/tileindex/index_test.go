package tileindex

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointCollection(points ...orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range points {
		f := geojson.NewFeature(p)
		f.ID = i
		f.Properties["n"] = i
		fc.Append(f)
	}
	return fc
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		features int
	}{
		{
			name:     "feature collection",
			input:    `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}},{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{}}]}`,
			features: 2,
		},
		{
			name:     "single feature",
			input:    `{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"name":"road"}}`,
			features: 1,
		},
		{
			name:     "bare geometry",
			input:    `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`,
			features: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Len(t, fc.Features, tt.features)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		`{"type":`,
		`[1,2,3]`,
		`{"features":[]}`,
		``,
	} {
		_, err := Parse([]byte(input))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", input)
	}
}

func TestParseRejectsNullGeometryMember(t *testing.T) {
	for _, input := range []string{
		`{"type":"GeometryCollection","geometries":[null]}`,
		`{"type":"Feature","geometry":{"type":"GeometryCollection","geometries":[null]},"properties":{}}`,
	} {
		_, err := Parse([]byte(input))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", input)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.MinZoom = -1 },
		func(c *Config) { c.MaxZoom = 25 },
		func(c *Config) { c.MinZoom = 6; c.MaxZoom = 5 },
		func(c *Config) { c.IndexMaxZoom = 30 },
		func(c *Config) { c.Extent = 0 },
		func(c *Config) { c.Buffer = -1 },
		func(c *Config) { c.Tolerance = -0.5 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "case %d", i)
	}
}

func TestNewRejectsInvalidGeometry(t *testing.T) {
	fc := pointCollection(orb.Point{0, 95})
	_, err := New(fc, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestNewSkipsEmptyFeatures(t *testing.T) {
	fc := pointCollection(orb.Point{10, 10})
	fc.Append(&geojson.Feature{Type: "Feature", Properties: geojson.Properties{}})

	idx, err := New(fc, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.FeatureCount())
}

func TestGetTileWholeWorld(t *testing.T) {
	idx, err := New(pointCollection(orb.Point{10, 10}, orb.Point{-120, -40}), DefaultConfig())
	require.NoError(t, err)

	layer := idx.GetTile(0, 0, 0)
	require.NotNil(t, layer)
	assert.Equal(t, maptile.New(0, 0, 0), layer.Tile)
	assert.Len(t, layer.Features.Features, 2)
}

func TestGetTileSelectsQuadrant(t *testing.T) {
	idx, err := New(pointCollection(orb.Point{10, 10}), DefaultConfig())
	require.NoError(t, err)

	// North-east quadrant at z1 is x=1, y=0.
	layer := idx.GetTile(1, 1, 0)
	require.NotNil(t, layer)
	require.Len(t, layer.Features.Features, 1)

	f := layer.Features.Features[0]
	assert.Equal(t, orb.Point{10, 10}, f.Geometry)
	assert.Equal(t, 0, f.ID)
	assert.Equal(t, 0, f.Properties["n"])

	assert.Nil(t, idx.GetTile(1, 0, 1))
}

func TestGetTileOutsideRange(t *testing.T) {
	idx, err := New(pointCollection(orb.Point{10, 10}), DefaultConfig())
	require.NoError(t, err)

	assert.Nil(t, idx.GetTile(15, 0, 0), "above maxZoom")
	assert.Nil(t, idx.GetTile(1, 2, 0), "x out of range")
	assert.Nil(t, idx.GetTile(1, 0, -1), "negative y")
}

func TestGetTileUsesGrid(t *testing.T) {
	target := orb.Point{10, 10}
	idx, err := New(pointCollection(target, orb.Point{-70, 40}, orb.Point{100, -30}), DefaultConfig())
	require.NoError(t, err)

	tile := maptile.At(target, 10)
	layer := idx.GetTile(10, int(tile.X), int(tile.Y))
	require.NotNil(t, layer)
	require.Len(t, layer.Features.Features, 1)
	assert.Equal(t, target, layer.Features.Features[0].Geometry)
}

func TestGetTileClipsToBufferedBound(t *testing.T) {
	square := orb.Polygon{{{-20, -20}, {20, -20}, {20, 20}, {-20, 20}, {-20, -20}}}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square))

	cfg := DefaultConfig()
	idx, err := New(fc, cfg)
	require.NoError(t, err)

	tile := maptile.New(1, 1, 2)
	layer := idx.GetTile(2, 1, 1)
	require.NotNil(t, layer)
	require.Len(t, layer.Features.Features, 1)

	got := layer.Features.Features[0].Geometry.Bound()
	limit := tile.Bound(cfg.bufferFraction())
	assert.True(t, limit.Contains(got.Min), "min %v outside %v", got.Min, limit)
	assert.True(t, limit.Contains(got.Max), "max %v outside %v", got.Max, limit)

	// The source feature is untouched.
	assert.Equal(t, square.Bound(), fc.Features[0].Geometry.Bound())
}
