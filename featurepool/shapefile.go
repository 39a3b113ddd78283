package featurepool

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// ReadShapefile loads a shapefile into a memory pool. Records are numbered by
// position. Every part of a polygon record becomes a ring of one polygon,
// exterior first as stored.
func ReadShapefile(layer, path string) (*MemoryPool, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer reader.Close()

	fields := reader.Fields()
	var features []*Feature
	for reader.Next() {
		n, shape := reader.Shape()
		g, err := geometryFromShape(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		props := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			props[fieldName(field)] = attributeValue(field, reader.ReadAttribute(n, i))
		}
		features = append(features, &Feature{ID: int64(n), Geometry: g, Properties: props})
	}
	return NewMemoryPool(layer, features), nil
}

func fieldName(field shp.Field) string {
	return strings.TrimRight(string(field.Name[:]), "\x00")
}

func attributeValue(field shp.Field, raw string) interface{} {
	raw = strings.TrimSpace(raw)
	switch field.Fieldtype {
	case 'N':
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
		fallthrough
	case 'F':
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

func geometryFromShape(shape shp.Shape) (*geometry.Geometry, error) {
	switch s := shape.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return &geometry.Geometry{Kind: geometry.KindPoint, Layout: geom.XY,
			Parts: [][]geometry.Ring{{{geom.Coord{s.X, s.Y}}}}}, nil
	case *shp.PointZ:
		return &geometry.Geometry{Kind: geometry.KindPoint, Layout: geom.XYZ,
			Parts: [][]geometry.Ring{{{geom.Coord{s.X, s.Y, s.Z}}}}}, nil
	case *shp.MultiPoint:
		g := &geometry.Geometry{Kind: geometry.KindMultiPoint, Layout: geom.XY}
		for _, p := range s.Points {
			g.Parts = append(g.Parts, []geometry.Ring{{geom.Coord{p.X, p.Y}}})
		}
		return g, nil
	case *shp.PolyLine:
		return lineGeometry(splitParts(s.Parts, s.Points, nil), geom.XY), nil
	case *shp.PolyLineZ:
		return lineGeometry(splitParts(s.Parts, s.Points, s.ZArray), geom.XYZ), nil
	case *shp.Polygon:
		return polygonGeometry(splitParts(s.Parts, s.Points, nil), geom.XY), nil
	case *shp.PolygonZ:
		return polygonGeometry(splitParts(s.Parts, s.Points, s.ZArray), geom.XYZ), nil
	}
	return nil, fmt.Errorf("unsupported shape %T", shape)
}

func splitParts(parts []int32, points []shp.Point, z []float64) []geometry.Ring {
	rings := make([]geometry.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		ring := make(geometry.Ring, 0, end-start)
		for k := start; k < end; k++ {
			c := geom.Coord{points[k].X, points[k].Y}
			if z != nil {
				c = append(c, z[k])
			}
			ring = append(ring, c)
		}
		rings = append(rings, ring)
	}
	return rings
}

func lineGeometry(rings []geometry.Ring, layout geom.Layout) *geometry.Geometry {
	if len(rings) == 1 {
		return &geometry.Geometry{Kind: geometry.KindLineString, Layout: layout, Parts: [][]geometry.Ring{rings}}
	}
	g := &geometry.Geometry{Kind: geometry.KindMultiLineString, Layout: layout}
	for _, r := range rings {
		g.Parts = append(g.Parts, []geometry.Ring{r})
	}
	return g
}

func polygonGeometry(rings []geometry.Ring, layout geom.Layout) *geometry.Geometry {
	return &geometry.Geometry{Kind: geometry.KindPolygon, Layout: layout, Parts: [][]geometry.Ring{rings}}
}
