// Package geometry holds the vertex-addressable geometry model used by the
// angle check, together with the angle and ring topology primitives.
package geometry

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// Kind is the geometry type of a feature.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindLineString
	KindPolygon
	KindMultiPoint
	KindMultiLineString
	KindMultiPolygon
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	KindPoint:           "Point",
	KindLineString:      "LineString",
	KindPolygon:         "Polygon",
	KindMultiPoint:      "MultiPoint",
	KindMultiLineString: "MultiLineString",
	KindMultiPolygon:    "MultiPolygon",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Class groups kinds by dimension, the way layers filter compatible features.
type Class int

const (
	ClassUnknown Class = iota
	ClassPoint
	ClassLine
	ClassPolygon
)

func (c Class) String() string {
	switch c {
	case ClassPoint:
		return "point"
	case ClassLine:
		return "line"
	case ClassPolygon:
		return "polygon"
	}
	return "unknown"
}

// ParseClass accepts the lower case names produced by Class.String.
func ParseClass(s string) (Class, error) {
	switch s {
	case "point":
		return ClassPoint, nil
	case "line":
		return ClassLine, nil
	case "polygon":
		return ClassPolygon, nil
	}
	return ClassUnknown, fmt.Errorf("unknown geometry class %q", s)
}

func (k Kind) Class() Class {
	switch k {
	case KindPoint, KindMultiPoint:
		return ClassPoint
	case KindLineString, KindMultiLineString:
		return ClassLine
	case KindPolygon, KindMultiPolygon:
		return ClassPolygon
	}
	return ClassUnknown
}

// Ring is one ordered vertex sequence. Polygon rings repeat their first vertex
// at the end.
type Ring []geom.Coord

// Geometry is an ordered collection of parts, each an ordered collection of
// rings. Points are parts with a single one-vertex ring, line strings are
// parts with a single ring.
type Geometry struct {
	Kind   Kind
	Layout geom.Layout
	Parts  [][]Ring
}

func (g *Geometry) PartCount() int {
	if g == nil {
		return 0
	}
	return len(g.Parts)
}

func (g *Geometry) RingCount(part int) int {
	if part < 0 || part >= g.PartCount() {
		return 0
	}
	return len(g.Parts[part])
}

// VertexCount returns the number of stored vertices of a ring, closing
// duplicate included.
func (g *Geometry) VertexCount(part, ring int) int {
	if ring < 0 || ring >= g.RingCount(part) {
		return 0
	}
	return len(g.Parts[part][ring])
}

func (g *Geometry) IsEmpty() bool {
	for _, part := range g.Parts {
		for _, ring := range part {
			if len(ring) > 0 {
				return false
			}
		}
	}
	return true
}

// VertexAt returns the stored coordinate, or nil when id does not address a
// vertex.
func (g *Geometry) VertexAt(id VertexID) geom.Coord {
	if !id.IsValid(g) {
		return nil
	}
	return g.Parts[id.Part][id.Ring][id.Vertex]
}

// DeleteVertex removes the addressed vertex. Closed rings keep their closing
// duplicate in sync when the first or last vertex goes. A polygon ring left
// with three stored vertices or fewer is dropped (the whole part when it is
// the exterior ring) and a line left with a single vertex is cleared.
// It returns false when id does not address a vertex.
func (g *Geometry) DeleteVertex(id VertexID) bool {
	if !id.IsValid(g) {
		return false
	}
	ring := g.Parts[id.Part][id.Ring]
	n := len(ring)
	closed := n > 1 && coordsEqual(ring[0], ring[n-1])

	ring = append(ring[:id.Vertex:id.Vertex], ring[id.Vertex+1:]...)
	if closed && len(ring) > 0 {
		switch id.Vertex {
		case 0:
			ring[len(ring)-1] = cloneCoord(ring[0])
		case n - 1:
			ring[0] = cloneCoord(ring[len(ring)-1])
		}
	}
	g.Parts[id.Part][id.Ring] = ring

	switch g.Kind.Class() {
	case ClassPolygon:
		if len(ring) <= 3 {
			if id.Ring == 0 {
				g.Parts[id.Part] = nil
			} else {
				rings := g.Parts[id.Part]
				g.Parts[id.Part] = append(rings[:id.Ring:id.Ring], rings[id.Ring+1:]...)
			}
		}
	case ClassLine:
		if len(ring) == 1 {
			g.Parts[id.Part][id.Ring] = nil
		}
	case ClassPoint:
		g.Parts[id.Part][id.Ring] = nil
	}
	return true
}

// Clone returns a deep copy; mutating the copy never touches g.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	c := &Geometry{Kind: g.Kind, Layout: g.Layout, Parts: make([][]Ring, len(g.Parts))}
	for i, part := range g.Parts {
		if part == nil {
			continue
		}
		c.Parts[i] = make([]Ring, len(part))
		for j, ring := range part {
			c.Parts[i][j] = cloneRing(ring)
		}
	}
	return c
}

func cloneRing(r []geom.Coord) Ring {
	if r == nil {
		return nil
	}
	out := make(Ring, len(r))
	for i, c := range r {
		out[i] = cloneCoord(c)
	}
	return out
}

func cloneCoord(c geom.Coord) geom.Coord {
	return append(geom.Coord(nil), c...)
}

// FromGeom converts a go-geom geometry, copying every coordinate.
func FromGeom(t geom.T) (*Geometry, error) {
	if t == nil {
		return nil, fmt.Errorf("geometry is nil")
	}
	g := &Geometry{Layout: t.Layout()}
	switch v := t.(type) {
	case *geom.Point:
		g.Kind = KindPoint
		if v.Empty() {
			g.Parts = [][]Ring{{nil}}
		} else {
			g.Parts = [][]Ring{{Ring{cloneCoord(v.Coords())}}}
		}
	case *geom.LineString:
		g.Kind = KindLineString
		g.Parts = [][]Ring{{cloneRing(v.Coords())}}
	case *geom.Polygon:
		g.Kind = KindPolygon
		g.Parts = [][]Ring{polygonRings(v.Coords())}
	case *geom.MultiPoint:
		g.Kind = KindMultiPoint
		for _, c := range v.Coords() {
			g.Parts = append(g.Parts, []Ring{{cloneCoord(c)}})
		}
	case *geom.MultiLineString:
		g.Kind = KindMultiLineString
		for _, line := range v.Coords() {
			g.Parts = append(g.Parts, []Ring{cloneRing(line)})
		}
	case *geom.MultiPolygon:
		g.Kind = KindMultiPolygon
		for _, poly := range v.Coords() {
			g.Parts = append(g.Parts, polygonRings(poly))
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", t)
	}
	return g, nil
}

func polygonRings(rings [][]geom.Coord) []Ring {
	out := make([]Ring, len(rings))
	for i, r := range rings {
		out[i] = cloneRing(r)
	}
	return out
}

// ToGeom converts back to go-geom. Parts emptied by vertex deletion are
// dropped from multi geometries.
func (g *Geometry) ToGeom() (geom.T, error) {
	layout := g.Layout
	if layout == geom.NoLayout {
		layout = geom.XY
	}
	switch g.Kind {
	case KindPoint:
		if g.IsEmpty() {
			return geom.NewPointEmpty(layout), nil
		}
		return geom.NewPoint(layout).SetCoords(g.Parts[0][0][0])
	case KindLineString:
		var coords []geom.Coord
		if g.RingCount(0) > 0 {
			coords = g.Parts[0][0]
		}
		return geom.NewLineString(layout).SetCoords(coords)
	case KindPolygon:
		var rings [][]geom.Coord
		if g.PartCount() > 0 {
			rings = toCoordRings(g.Parts[0])
		}
		return geom.NewPolygon(layout).SetCoords(rings)
	case KindMultiPoint:
		var coords []geom.Coord
		for _, part := range g.Parts {
			if len(part) > 0 && len(part[0]) > 0 {
				coords = append(coords, part[0][0])
			}
		}
		return geom.NewMultiPoint(layout).SetCoords(coords)
	case KindMultiLineString:
		var lines [][]geom.Coord
		for _, part := range g.Parts {
			if len(part) > 0 && len(part[0]) > 0 {
				lines = append(lines, part[0])
			}
		}
		return geom.NewMultiLineString(layout).SetCoords(lines)
	case KindMultiPolygon:
		var polys [][][]geom.Coord
		for _, part := range g.Parts {
			if len(part) > 0 {
				polys = append(polys, toCoordRings(part))
			}
		}
		return geom.NewMultiPolygon(layout).SetCoords(polys)
	}
	return nil, fmt.Errorf("unsupported geometry kind %s", g.Kind)
}

func toCoordRings(rings []Ring) [][]geom.Coord {
	out := make([][]geom.Coord, len(rings))
	for i, r := range rings {
		out[i] = r
	}
	return out
}
