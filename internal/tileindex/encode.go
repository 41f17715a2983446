package tileindex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb/encoding/mvt"
)

// LayerName is the name of the single layer in protobuf tiles.
const LayerName = "geojsonLayer"

type Format string

const (
	FormatGeoJSON  Format = "geojson"
	FormatProtobuf Format = "protobuf"
)

var ErrUnknownFormat = errors.New("unknown tile format")

// ParseFormat accepts the format names and the path extensions clients use
// for them.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "protobuf", "pbf", "mvt":
		return FormatProtobuf, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	if f == FormatProtobuf {
		return "application/protobuf"
	}
	return "application/geo+json"
}

// Encode serializes a tile layer. GeoJSON output keeps lon/lat coordinates;
// protobuf output is a Mapbox vector tile with coordinates projected into
// the tile extent. The layer's features are modified by protobuf encoding.
func Encode(layer *Layer, format Format, extent int) ([]byte, error) {
	if layer == nil {
		return nil, errors.New("encode: nil layer")
	}

	switch format {
	case FormatGeoJSON:
		return layer.Features.MarshalJSON()
	case FormatProtobuf:
		l := mvt.NewLayer(LayerName, layer.Features)
		l.Extent = uint32(extent)
		layers := mvt.Layers{l}
		layers.ProjectToTile(layer.Tile)
		return mvt.Marshal(layers)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
