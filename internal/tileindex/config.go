package tileindex

import (
	"errors"
	"fmt"
)

// MaxZoom is the deepest zoom level a tile may be requested at.
const MaxZoom = 24

var ErrInvalidConfig = errors.New("invalid tile config")

// Config holds the slicing parameters. Names and defaults follow geojson-vt.
type Config struct {
	MinZoom      int     `json:"minZoom" env:"MIN_ZOOM" validate:"gte=0,lte=24"`
	MaxZoom      int     `json:"maxZoom" env:"MAX_ZOOM" validate:"gte=0,lte=24,gtefield=MinZoom"`
	IndexMaxZoom int     `json:"indexMaxZoom" env:"INDEX_MAX_ZOOM" validate:"gte=0,lte=24"`
	Buffer       float64 `json:"buffer" env:"BUFFER" validate:"gte=0"`
	Extent       int     `json:"extent" env:"EXTENT" validate:"gt=0"`
	Tolerance    float64 `json:"tolerance" env:"TOLERANCE" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		MinZoom:      0,
		MaxZoom:      14,
		IndexMaxZoom: 5,
		Buffer:       64,
		Extent:       4096,
		Tolerance:    3,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinZoom < 0 || c.MinZoom > MaxZoom:
		return fmt.Errorf("%w: minZoom %d not in [0,%d]", ErrInvalidConfig, c.MinZoom, MaxZoom)
	case c.MaxZoom < c.MinZoom || c.MaxZoom > MaxZoom:
		return fmt.Errorf("%w: maxZoom %d not in [%d,%d]", ErrInvalidConfig, c.MaxZoom, c.MinZoom, MaxZoom)
	case c.IndexMaxZoom < 0 || c.IndexMaxZoom > MaxZoom:
		return fmt.Errorf("%w: indexMaxZoom %d not in [0,%d]", ErrInvalidConfig, c.IndexMaxZoom, MaxZoom)
	case c.Extent <= 0:
		return fmt.Errorf("%w: extent must be positive", ErrInvalidConfig)
	case c.Buffer < 0:
		return fmt.Errorf("%w: buffer must not be negative", ErrInvalidConfig)
	case c.Tolerance < 0:
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidConfig)
	}
	return nil
}

// gridZoom is the zoom of the spatial grid built at index time.
func (c Config) gridZoom() int {
	return min(c.IndexMaxZoom, c.MaxZoom)
}

// bufferFraction is the tile buffer in tile units.
func (c Config) bufferFraction() float64 {
	return c.Buffer / float64(c.Extent)
}
