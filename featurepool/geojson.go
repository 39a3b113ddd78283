package featurepool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/utils"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSONFeature keeps the geometry raw until it is decoded by go-geom.
type GeoJSONFeature struct {
	Type       string                 `json:"type"`
	ID         json.RawMessage        `json:"id,omitempty"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// ReadGeoJSON loads a FeatureCollection into a memory pool. Integer ids are
// kept when every feature has a distinct one; otherwise features are numbered
// by position.
func ReadGeoJSON(layer string, data []byte) (*MemoryPool, error) {
	var fc GeoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	ids, useIDs := featureIDs(fc.Features)
	features := make([]*Feature, 0, len(fc.Features))
	for i, raw := range fc.Features {
		g, err := DecodeGeoJSONGeometry(raw.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		id := int64(i)
		if useIDs {
			id = ids[i]
		}
		features = append(features, &Feature{ID: id, Geometry: g, Properties: raw.Properties})
	}
	return NewMemoryPool(layer, features), nil
}

func featureIDs(features []GeoJSONFeature) ([]int64, bool) {
	ids := make([]int64, len(features))
	seen := make(map[int64]bool, len(features))
	for i, f := range features {
		id, ok := parseFeatureID(f.ID)
		if !ok || seen[id] {
			return nil, false
		}
		seen[id] = true
		ids[i] = id
	}
	return ids, true
}

func parseFeatureID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		id, err := n.Int64()
		return id, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

// DecodeGeoJSONGeometry decodes one GeoJSON geometry object. A null geometry
// decodes to nil.
func DecodeGeoJSONGeometry(raw json.RawMessage) (*geometry.Geometry, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var t geom.T
	if err := geojson.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return geometry.FromGeom(t)
}

// EncodeGeoJSONGeometry encodes g, rounding coordinates to precision decimals
// when precision is not negative.
func EncodeGeoJSONGeometry(g *geometry.Geometry, precision int) (json.RawMessage, error) {
	if g == nil {
		return json.RawMessage("null"), nil
	}
	if precision >= 0 {
		g = utils.TruncateGeometry(g, precision)
	}
	t, err := g.ToGeom()
	if err != nil {
		return nil, err
	}
	data, err := geojson.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return data, nil
}

// EncodeFeatures converts features to their GeoJSON form.
func EncodeFeatures(features []*Feature, precision int) ([]GeoJSONFeature, error) {
	out := make([]GeoJSONFeature, 0, len(features))
	for _, f := range features {
		g, err := EncodeGeoJSONGeometry(f.Geometry, precision)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", f.ID, err)
		}
		props := f.Properties
		if props == nil {
			props = map[string]interface{}{}
		}
		out = append(out, GeoJSONFeature{
			Type:       "Feature",
			ID:         json.RawMessage(strconv.FormatInt(f.ID, 10)),
			Geometry:   g,
			Properties: props,
		})
	}
	return out, nil
}

// WriteGeoJSON renders features as a FeatureCollection.
func WriteGeoJSON(features []*Feature, precision int) ([]byte, error) {
	encoded, err := EncodeFeatures(features, precision)
	if err != nil {
		return nil, err
	}
	return json.Marshal(GeoJSONFeatureCollection{Type: "FeatureCollection", Features: encoded})
}
