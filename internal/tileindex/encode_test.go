package tileindex

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"geojson":  FormatGeoJSON,
		".json":    FormatGeoJSON,
		"protobuf": FormatProtobuf,
		"PBF":      FormatProtobuf,
		".mvt":     FormatProtobuf,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("png")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/geo+json", FormatGeoJSON.ContentType())
	assert.Equal(t, "application/protobuf", FormatProtobuf.ContentType())
}

func tileFor(t *testing.T) *Layer {
	t.Helper()
	idx, err := New(pointCollection(orb.Point{10, 10}, orb.Point{20, 30}), DefaultConfig())
	require.NoError(t, err)
	layer := idx.GetTile(0, 0, 0)
	require.NotNil(t, layer)
	return layer
}

func TestEncodeGeoJSON(t *testing.T) {
	data, err := Encode(tileFor(t), FormatGeoJSON, 4096)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestEncodeProtobuf(t *testing.T) {
	data, err := Encode(tileFor(t), FormatProtobuf, 4096)
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerName, layers[0].Name)
	assert.Equal(t, uint32(4096), layers[0].Extent)
	assert.Len(t, layers[0].Features, 2)
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	_, err := Encode(tileFor(t), Format("svg"), 4096)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
