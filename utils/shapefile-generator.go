package utils

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
)

// ExportFeature is a feature already encoded to GeoJSON, ready to be written
// to a shapefile.
type ExportFeature struct {
	Geometry   json.RawMessage
	Properties map[string]interface{}
}

// GeometryFromGeoJSON represents a simplified geometry structure for conversion
type GeometryFromGeoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// GenerateShapefileZip bundles the repaired GeoJSON, the change log and a
// shapefile rendering of the features under baseName.
func GenerateShapefileZip(baseName string, jsonData []byte, changesJSON []byte, features []ExportFeature) ([]byte, error) {
	var zipBuffer bytes.Buffer
	zipWriter := zip.NewWriter(&zipBuffer)

	entries := []struct {
		name string
		data []byte
	}{
		{baseName + ".json", jsonData},
		{baseName + "_changes.json", changesJSON},
	}
	for _, entry := range entries {
		if entry.data == nil {
			continue
		}
		w, err := zipWriter.Create(entry.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s in zip: %w", entry.name, err)
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to zip: %w", entry.name, err)
		}
	}

	if err := addShapefileToZip(zipWriter, baseName, features); err != nil {
		return nil, fmt.Errorf("failed to add shapefile to zip: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return zipBuffer.Bytes(), nil
}

// addShapefileToZip creates shapefile components and adds them to the zip
func addShapefileToZip(zipWriter *zip.Writer, baseName string, features []ExportFeature) error {
	tempDir, err := os.MkdirTemp("", "shapefile_")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	shapefilePath := filepath.Join(tempDir, baseName+".shp")
	if err := WriteShapefile(shapefilePath, features); err != nil {
		return err
	}

	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		filePath := strings.TrimSuffix(shapefilePath, ".shp") + ext
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			continue
		}

		fileContent, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read shapefile component %s: %w", ext, err)
		}

		zipFile, err := zipWriter.Create(baseName + ext)
		if err != nil {
			return fmt.Errorf("failed to create %s file in zip: %w", ext, err)
		}
		if _, err := zipFile.Write(fileContent); err != nil {
			return fmt.Errorf("failed to write %s data to zip: %w", ext, err)
		}
	}
	return nil
}

// WriteShapefile writes features to shapefilePath. The shape type follows the
// first feature with a geometry; features of another dimension are skipped.
func WriteShapefile(shapefilePath string, features []ExportFeature) error {
	geoms := make([]*GeometryFromGeoJSON, len(features))
	shapeType := shp.NULL
	for i, f := range features {
		if len(f.Geometry) == 0 || string(f.Geometry) == "null" {
			continue
		}
		var g GeometryFromGeoJSON
		if err := json.Unmarshal(f.Geometry, &g); err != nil {
			return fmt.Errorf("failed to unmarshal geometry of feature %d: %w", i, err)
		}
		geoms[i] = &g
		if shapeType == shp.NULL {
			st, err := shapeTypeFor(g.Type)
			if err != nil {
				return err
			}
			shapeType = st
		}
	}
	if shapeType == shp.NULL {
		return fmt.Errorf("no features to write to shapefile")
	}

	shape, err := shp.Create(shapefilePath, shapeType)
	if err != nil {
		return fmt.Errorf("failed to create shapefile: %w", err)
	}
	if err := writeShapes(shape, geoms, features, shapeType); err != nil {
		shape.Close()
		return err
	}
	shape.Close()
	return fixDBFName(shapefilePath)
}

func writeShapes(shape *shp.Writer, geoms []*GeometryFromGeoJSON, features []ExportFeature, shapeType shp.ShapeType) error {
	fields := createFieldsFromProperties(features)
	if err := shape.SetFields(fields); err != nil {
		return fmt.Errorf("failed to set shapefile fields: %w", err)
	}

	row := 0
	for i, g := range geoms {
		if g == nil {
			continue
		}
		if st, _ := shapeTypeFor(g.Type); st != shapeType {
			continue
		}
		s, err := shapeFromGeoJSON(g)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		shape.Write(s)
		writeAttributes(shape, features[i].Properties, fields, row)
		row++
	}
	return nil
}

// fixDBFName moves the attribute table go-shp writes as "<base>dbf" to
// "<base>.dbf". It must run after the writer is closed.
func fixDBFName(shapefilePath string) error {
	base := strings.TrimSuffix(shapefilePath, filepath.Ext(shapefilePath))
	if _, err := os.Stat(base + ".dbf"); err == nil {
		return nil
	}
	if _, err := os.Stat(base + "dbf"); err != nil {
		return fmt.Errorf("attribute table for %s not written: %w", shapefilePath, err)
	}
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("failed to rename attribute table: %w", err)
	}
	return nil
}

func shapeTypeFor(geoJSONType string) (shp.ShapeType, error) {
	switch geoJSONType {
	case "Point":
		return shp.POINT, nil
	case "MultiPoint":
		return shp.MULTIPOINT, nil
	case "LineString", "MultiLineString":
		return shp.POLYLINE, nil
	case "Polygon", "MultiPolygon":
		return shp.POLYGON, nil
	}
	return shp.NULL, fmt.Errorf("unsupported geometry type: %s", geoJSONType)
}

func shapeFromGeoJSON(g *GeometryFromGeoJSON) (shp.Shape, error) {
	switch g.Type {
	case "Point":
		var coords []float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil || len(coords) < 2 {
			return nil, fmt.Errorf("invalid point coordinates")
		}
		return &shp.Point{X: coords[0], Y: coords[1]}, nil
	case "MultiPoint":
		var coords [][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal multipoint coordinates: %w", err)
		}
		points := toPoints(coords)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(points), NumPoints: int32(len(points)), Points: points}, nil
	case "LineString":
		var coords [][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal linestring coordinates: %w", err)
		}
		return shp.NewPolyLine([][]shp.Point{toPoints(coords)}), nil
	case "MultiLineString", "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s coordinates: %w", g.Type, err)
		}
		parts := make([][]shp.Point, 0, len(coords))
		for _, ring := range coords {
			parts = append(parts, toPoints(ring))
		}
		return asShapeOf(g.Type, parts), nil
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal multipolygon coordinates: %w", err)
		}
		var parts [][]shp.Point
		for _, poly := range coords {
			for _, ring := range poly {
				parts = append(parts, toPoints(ring))
			}
		}
		return asShapeOf(g.Type, parts), nil
	}
	return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
}

func asShapeOf(geoJSONType string, parts [][]shp.Point) shp.Shape {
	line := shp.NewPolyLine(parts)
	if geoJSONType == "MultiLineString" {
		return line
	}
	poly := shp.Polygon(*line)
	return &poly
}

func toPoints(coords [][]float64) []shp.Point {
	points := make([]shp.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) >= 2 {
			points = append(points, shp.Point{X: c[0], Y: c[1]})
		}
	}
	return points
}

// createFieldsFromProperties derives DBF fields from the union of property
// keys, sorted by name.
func createFieldsFromProperties(features []ExportFeature) []shp.Field {
	samples := map[string]interface{}{}
	for _, f := range features {
		for key, value := range f.Properties {
			if _, seen := samples[key]; !seen || samples[key] == nil {
				samples[key] = value
			}
		}
	}
	keys := make([]string, 0, len(samples))
	for key := range samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := []shp.Field{}
	for _, key := range keys {
		// DBF field names are limited to 10 characters
		fieldName := key
		if len(fieldName) > 10 {
			fieldName = fieldName[:10]
		}

		switch v := samples[key].(type) {
		case string:
			length := len(v)
			if length < 50 {
				length = 50
			}
			if length > 254 {
				length = 254
			}
			fields = append(fields, shp.StringField(fieldName, uint8(length)))
		case float64:
			fields = append(fields, shp.FloatField(fieldName, 15, 5))
		case int, int32, int64:
			fields = append(fields, shp.NumberField(fieldName, 15))
		case bool:
			fields = append(fields, shp.StringField(fieldName, 5))
		default:
			fields = append(fields, shp.StringField(fieldName, 100))
		}
	}

	if len(fields) == 0 {
		fields = append(fields, shp.NumberField("ID", 10))
	}
	return fields
}

func fieldName(field shp.Field) string {
	return strings.TrimRight(string(field.Name[:]), "\x00")
}

// writeAttributes writes feature properties as DBF attributes
func writeAttributes(shape *shp.Writer, properties map[string]interface{}, fields []shp.Field, row int) {
	for i, field := range fields {
		name := fieldName(field)

		if name == "ID" && len(properties) == 0 {
			shape.WriteAttribute(row, i, row+1)
			continue
		}

		var value interface{}
		found := false
		for propKey, propValue := range properties {
			if strings.EqualFold(propKey, name) ||
				(len(propKey) > 10 && strings.EqualFold(propKey[:10], name)) {
				value = propValue
				found = true
				break
			}
		}

		switch field.Fieldtype {
		case 'N':
			shape.WriteAttribute(row, i, numberValue(value, found))
		case 'F':
			shape.WriteAttribute(row, i, floatValue(value, found))
		default:
			if !found || value == nil {
				shape.WriteAttribute(row, i, "")
			} else {
				shape.WriteAttribute(row, i, fmt.Sprintf("%v", value))
			}
		}
	}
}

func numberValue(value interface{}, found bool) int {
	if !found {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return 0
}

func floatValue(value interface{}, found bool) float64 {
	if !found {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return 0
}
