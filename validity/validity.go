// Package validity runs the GEOS validity test over feature pools and can
// rebuild invalid geometries.
package validity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/twpayne/go-geos"
)

// ErrUnsupported is returned by Repair when GEOS produced a geometry the
// feature model cannot hold, such as a collection of mixed kinds.
var ErrUnsupported = errors.New("unsupported repaired geometry")

// Issue is one invalid feature.
type Issue struct {
	LayerID   string `json:"layer"`
	FeatureID int64  `json:"feature"`
	Reason    string `json:"reason"`
	Repaired  bool   `json:"repaired,omitempty"`
}

// Check reports every feature whose geometry GEOS finds invalid, ordered by
// layer name then feature order. Features that cannot be read are skipped.
func Check(ctx context.Context, pools map[string]featurepool.Pool, logger logging.Logger) ([]Issue, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	layers := make([]string, 0, len(pools))
	for layerID := range pools {
		layers = append(layers, layerID)
	}
	sort.Strings(layers)

	issues := []Issue{}
	for _, layerID := range layers {
		pool := pools[layerID]
		ids, err := pool.IDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list features of %s: %w", layerID, err)
		}
		checked := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			feature, ok := pool.Get(ctx, id)
			if !ok || feature.Geometry == nil {
				continue
			}
			reason, err := Reason(feature.Geometry)
			if err != nil {
				logger.Warn(ctx, "could not build GEOS geometry",
					logging.String("layer", layerID), logging.Int64("feature", id), logging.Err(err))
				continue
			}
			checked++
			if reason != "" {
				issues = append(issues, Issue{LayerID: layerID, FeatureID: id, Reason: reason})
			}
		}
		logger.Debug(ctx, "validity checked", logging.String("layer", layerID), logging.Int("features", checked))
	}
	return issues, nil
}

// RepairAll rebuilds every invalid feature with Repair and commits it back to
// its pool. It returns the issues found, with Repaired set on those that were
// committed. A feature that cannot be repaired is logged and left as it was.
func RepairAll(ctx context.Context, pools map[string]featurepool.Pool, logger logging.Logger) ([]Issue, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	issues, err := Check(ctx, pools, logger)
	if err != nil {
		return nil, err
	}
	for i := range issues {
		issue := &issues[i]
		log := logger.With(logging.String("layer", issue.LayerID), logging.Int64("feature", issue.FeatureID))
		pool := pools[issue.LayerID]
		feature, ok := pool.Get(ctx, issue.FeatureID)
		if !ok {
			continue
		}
		repaired, err := Repair(feature.Geometry)
		if err != nil {
			log.Warn(ctx, "geometry left invalid", logging.Err(err))
			continue
		}
		feature.Geometry = repaired
		if err := pool.Update(ctx, feature); err != nil {
			log.Warn(ctx, "failed to persist repaired geometry", logging.Err(err))
			continue
		}
		issue.Repaired = true
		log.Debug(ctx, "geometry repaired", logging.String("reason", issue.Reason))
	}
	return issues, nil
}

// Reason returns the GEOS invalidity reason of g, or "" when g is valid.
func Reason(g *geometry.Geometry) (string, error) {
	shape, err := toGEOS(g)
	if err != nil {
		return "", err
	}
	defer shape.Destroy()

	if shape.IsValid() {
		return "", nil
	}
	return shape.IsValidReason(), nil
}

// Repair rebuilds an invalid geometry with GEOS MakeValid, discarding parts
// that collapse to a lower dimension. Valid geometries come back unchanged.
func Repair(g *geometry.Geometry) (*geometry.Geometry, error) {
	shape, err := toGEOS(g)
	if err != nil {
		return nil, err
	}
	defer shape.Destroy()

	if shape.IsValid() {
		return g.Clone(), nil
	}
	fixed := shape.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
	if fixed == nil {
		return nil, fmt.Errorf("make valid: %w", ErrUnsupported)
	}
	defer fixed.Destroy()

	repaired, err := featurepool.DecodeGeoJSONGeometry(json.RawMessage(fixed.ToGeoJSON(-1)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if repaired == nil || repaired.Kind.Class() != g.Kind.Class() {
		return nil, fmt.Errorf("%w: %s became %s", ErrUnsupported, g.Kind, kindOf(repaired))
	}
	return repaired, nil
}

func toGEOS(g *geometry.Geometry) (*geos.Geom, error) {
	raw, err := featurepool.EncodeGeoJSONGeometry(g, -1)
	if err != nil {
		return nil, err
	}
	shape, err := geos.NewGeomFromGeoJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	return shape, nil
}

func kindOf(g *geometry.Geometry) string {
	if g == nil {
		return "empty"
	}
	return g.Kind.String()
}
