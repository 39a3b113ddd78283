package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/twpayne/go-geom"
)

// AngleStatus tells the caller whether VertexAngle produced a usable value.
type AngleStatus int

const (
	// AngleValid means the returned angle is in [0, 180].
	AngleValid AngleStatus = iota
	// AngleDegenerate means one of the adjacent edges has zero length.
	AngleDegenerate
	// AngleUndefined means the input contained non-finite ordinates.
	AngleUndefined
)

func (s AngleStatus) String() string {
	switch s {
	case AngleValid:
		return "valid"
	case AngleDegenerate:
		return "degenerate"
	case AngleUndefined:
		return "undefined"
	}
	return "unknown"
}

// VertexAngle returns the planar angle in degrees at p2 between the edges to
// p1 and p3. Only X and Y take part.
func VertexAngle(p1, p2, p3 geom.Coord) (float64, AngleStatus) {
	if !finite2D(p1) || !finite2D(p2) || !finite2D(p3) {
		return 0, AngleUndefined
	}
	v21 := planar(p1).Sub(planar(p2))
	v23 := planar(p3).Sub(planar(p2))
	if v21.Norm() == 0 || v23.Norm() == 0 {
		return 0, AngleDegenerate
	}
	dot := v21.Normalize().Dot(v23.Normalize())
	// normalization drift can push |dot| just past 1
	dot = math.Max(-1, math.Min(1, dot))
	angle := s1.Angle(math.Acos(dot)).Degrees()
	if math.IsNaN(angle) {
		return 0, AngleUndefined
	}
	return angle, AngleValid
}

func planar(c geom.Coord) r2.Point {
	return r2.Point{X: c.X(), Y: c.Y()}
}

func finite2D(c geom.Coord) bool {
	if len(c) < 2 {
		return false
	}
	for _, v := range c[:2] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SqrDistance2D is the squared planar distance between a and b.
func SqrDistance2D(a, b geom.Coord) float64 {
	d := planar(b).Sub(planar(a))
	return d.Dot(d)
}
