package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func square() *Geometry {
	return &Geometry{
		Kind:   KindPolygon,
		Layout: geom.XY,
		Parts: [][]Ring{{{
			{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0},
		}}},
	}
}

func TestPolyLineSize(t *testing.T) {
	n, closed := PolyLineSize(square(), 0, 0)
	assert.Equal(t, 4, n)
	assert.True(t, closed)

	line := &Geometry{Kind: KindLineString, Layout: geom.XY, Parts: [][]Ring{{{{0, 0}, {1, 0}, {2, 1}}}}}
	n, closed = PolyLineSize(line, 0, 0)
	assert.Equal(t, 3, n)
	assert.False(t, closed)

	loop := &Geometry{Kind: KindLineString, Layout: geom.XY, Parts: [][]Ring{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}}
	n, closed = PolyLineSize(loop, 0, 0)
	assert.Equal(t, 3, n)
	assert.True(t, closed)

	n, _ = PolyLineSize(square(), 1, 0)
	assert.Equal(t, 0, n, "missing part")
	n, _ = PolyLineSize(square(), 0, 3)
	assert.Equal(t, 0, n, "missing ring")
}

func TestNeighbors(t *testing.T) {
	prev, next := Neighbors(0, 4)
	assert.Equal(t, 3, prev)
	assert.Equal(t, 1, next)

	prev, next = Neighbors(3, 4)
	assert.Equal(t, 2, prev)
	assert.Equal(t, 0, next)
}

func TestCheckRange(t *testing.T) {
	first, last := CheckRange(5, true)
	assert.Equal(t, 0, first)
	assert.Equal(t, 5, last)

	first, last = CheckRange(5, false)
	assert.Equal(t, 1, first)
	assert.Equal(t, 4, last)
}

func TestCanDeleteVertex(t *testing.T) {
	assert.True(t, CanDeleteVertex(square(), 0, 0))

	triangle := &Geometry{Kind: KindPolygon, Layout: geom.XY, Parts: [][]Ring{{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}}}
	assert.False(t, CanDeleteVertex(triangle, 0, 0))

	line := &Geometry{Kind: KindLineString, Layout: geom.XY, Parts: [][]Ring{{{{0, 0}, {1, 0}, {2, 1}}}}}
	assert.True(t, CanDeleteVertex(line, 0, 0))

	segment := &Geometry{Kind: KindLineString, Layout: geom.XY, Parts: [][]Ring{{{{0, 0}, {1, 0}}}}}
	assert.False(t, CanDeleteVertex(segment, 0, 0))

	assert.False(t, CanDeleteVertex(square(), 0, 1))
}

func TestVertexID_IsValid(t *testing.T) {
	g := square()
	assert.True(t, VertexID{0, 0, 0}.IsValid(g))
	assert.True(t, VertexID{0, 0, 4}.IsValid(g), "closing vertex is addressable")
	assert.False(t, VertexID{0, 0, 5}.IsValid(g))
	assert.False(t, VertexID{0, 1, 0}.IsValid(g))
	assert.False(t, VertexID{1, 0, 0}.IsValid(g))
	assert.False(t, VertexID{0, 0, -1}.IsValid(g))
}
