package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
)

// closureEpsilon is the per-ordinate slack when comparing a ring's first and
// last vertex.
const closureEpsilon = 1e-8

// PolyLineSize returns the number of distinct vertices of a ring and whether
// it is closed. The closing duplicate of a closed ring is not counted. A ring
// that does not exist, or has no vertices, has size 0.
func PolyLineSize(g *Geometry, part, ring int) (int, bool) {
	n := g.VertexCount(part, ring)
	if n == 0 {
		return 0, true
	}
	r := g.Parts[part][ring]
	if coordsEqual(r[0], r[n-1]) {
		return n - 1, true
	}
	return n, false
}

// Neighbors returns the indices before and after i in a ring of n vertices.
func Neighbors(i, n int) (prev, next int) {
	return (i - 1 + n) % n, (i + 1) % n
}

// CheckRange returns the half-open range [first, last) of vertex indices whose
// angle is defined. Open rings exclude both endpoints.
func CheckRange(n int, closed bool) (first, last int) {
	if closed {
		return 0, n
	}
	return 1, n - 1
}

// CanDeleteVertex reports whether removing one vertex of the ring still leaves
// a valid ring of its kind: three distinct vertices plus closure for closed
// rings, two vertices for open ones.
func CanDeleteVertex(g *Geometry, part, ring int) bool {
	n := g.VertexCount(part, ring)
	if n == 0 {
		return false
	}
	r := g.Parts[part][ring]
	if coordsEqual(r[0], r[n-1]) {
		return n > 4
	}
	return n > 2
}

func coordsEqual(a, b geom.Coord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > closureEpsilon {
			return false
		}
	}
	return true
}
