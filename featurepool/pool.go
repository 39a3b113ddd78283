// Package featurepool provides the feature storage the angle check reads from
// and commits repaired geometries to.
package featurepool

import (
	"context"
	"errors"
	"maps"

	"github.com/bsaid97/go-spike-fixer/geometry"
)

var (
	ErrNotFound     = errors.New("feature not found")
	ErrUnknownLayer = errors.New("unknown layer")
)

// Feature is one record of a layer.
type Feature struct {
	ID         int64
	Geometry   *geometry.Geometry
	Properties map[string]interface{}
}

// Clone copies the geometry and the top level of the properties.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	return &Feature{
		ID:         f.ID,
		Geometry:   f.Geometry.Clone(),
		Properties: maps.Clone(f.Properties),
	}
}

// Pool is the storage of one layer. Get hands out a copy the caller owns
// until it passes it back through Update.
type Pool interface {
	LayerID() string
	IDs(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, id int64) (*Feature, bool)
	Update(ctx context.Context, f *Feature) error
}
