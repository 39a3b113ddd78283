package geometry

import "fmt"

// VertexID addresses one stored vertex of a geometry. It is only meaningful
// against the geometry shape it was taken from; edits shift indices.
type VertexID struct {
	Part   int `json:"part"`
	Ring   int `json:"ring"`
	Vertex int `json:"vertex"`
}

// IsValid reports whether v still addresses an existing vertex of g.
func (v VertexID) IsValid(g *Geometry) bool {
	return v.Part >= 0 && v.Ring >= 0 && v.Vertex >= 0 &&
		v.Vertex < g.VertexCount(v.Part, v.Ring)
}

func (v VertexID) PartEqual(o VertexID) bool {
	return v.Part == o.Part
}

func (v VertexID) RingEqual(o VertexID) bool {
	return v.Part == o.Part && v.Ring == o.Ring
}

func (v VertexID) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.Part, v.Ring, v.Vertex)
}
