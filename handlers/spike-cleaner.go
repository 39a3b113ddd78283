package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/utils"
)

// DefaultLayer names a collection that arrives without a layer name.
const DefaultLayer = "features"

// CleanOptions configures a one-shot scan of a single GeoJSON layer.
type CleanOptions struct {
	Layer     string
	MinAngle  float64
	Tolerance float64
	Workers   int
	Kinds     []geometry.Class
	Method    Method
	// Precision is the number of decimals written back; negative keeps full
	// precision.
	Precision int
	Logger    logging.Logger
	Observer  Observer
	Progress  utils.Counter
}

// CleaningResult is the repaired collection with the outcome of every defect.
type CleaningResult struct {
	FeatureCollection json.RawMessage `json:"featureCollection"`
	Defects           []*Defect       `json:"defects"`
	Changes           Changes         `json:"changes"`
}

func (o CleanOptions) layer() string {
	if o.Layer == "" {
		return DefaultLayer
	}
	return o.Layer
}

func (o CleanOptions) newCheck(pool featurepool.Pool) *AngleCheck {
	return NewAngleCheck(&CheckContext{
		Tolerance: o.Tolerance,
		Pools:     map[string]featurepool.Pool{pool.LayerID(): pool},
		Logger:    o.Logger,
		Observer:  o.Observer,
	}, AngleCheckConfig{
		MinAngle:        o.MinAngle,
		CompatibleKinds: o.Kinds,
		Workers:         o.Workers,
	})
}

// FindSpikes scans a FeatureCollection without touching it.
func FindSpikes(ctx context.Context, geometryPayload []byte, opts CleanOptions) ([]*Defect, error) {
	pool, err := featurepool.ReadGeoJSON(opts.layer(), geometryPayload)
	if err != nil {
		return nil, err
	}
	defects := opts.newCheck(pool).CollectErrors(ctx, nil, opts.Progress)
	if defects == nil {
		defects = []*Defect{}
	}
	return defects, nil
}

// CleanSpikes scans a FeatureCollection and resolves every defect with
// opts.Method, returning the repaired collection.
func CleanSpikes(ctx context.Context, geometryPayload []byte, opts CleanOptions) (*CleaningResult, []*featurepool.Feature, error) {
	pool, err := featurepool.ReadGeoJSON(opts.layer(), geometryPayload)
	if err != nil {
		return nil, nil, err
	}
	check := opts.newCheck(pool)
	defects := check.CollectErrors(ctx, nil, opts.Progress)
	if defects == nil {
		defects = []*Defect{}
	}
	changes := check.FixAll(ctx, defects, opts.Method)

	features := pool.Features()
	collection, err := featurepool.WriteGeoJSON(features, opts.Precision)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode repaired features: %w", err)
	}
	return &CleaningResult{
		FeatureCollection: collection,
		Defects:           defects,
		Changes:           changes,
	}, features, nil
}

// CleanSpikesWithShapefile runs CleanSpikes and bundles the repaired GeoJSON,
// the defect report and a shapefile of the repaired layer into a zip.
func CleanSpikesWithShapefile(ctx context.Context, geometryPayload []byte, opts CleanOptions) ([]byte, error) {
	result, features, err := CleanSpikes(ctx, geometryPayload, opts)
	if err != nil {
		return nil, err
	}
	report, err := json.Marshal(struct {
		Defects []*Defect `json:"defects"`
		Changes Changes   `json:"changes"`
	}{result.Defects, result.Changes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defect report: %w", err)
	}
	export, err := ExportFeatures(features, opts.Precision)
	if err != nil {
		return nil, err
	}
	zipData, err := utils.GenerateShapefileZip(opts.layer(), result.FeatureCollection, report, export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate shapefile zip: %w", err)
	}
	return zipData, nil
}

// ExportFeatures encodes features for the shapefile writer.
func ExportFeatures(features []*featurepool.Feature, precision int) ([]utils.ExportFeature, error) {
	encoded, err := featurepool.EncodeFeatures(features, precision)
	if err != nil {
		return nil, err
	}
	export := make([]utils.ExportFeature, len(encoded))
	for i, f := range encoded {
		export[i] = utils.ExportFeature{Geometry: f.Geometry, Properties: f.Properties}
	}
	return export, nil
}
