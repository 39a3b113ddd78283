package handlers

import (
	"fmt"

	"github.com/bsaid97/go-spike-fixer/geometry"
)

// ChangeWhat is the level of the geometry an edit touched.
type ChangeWhat int

const (
	ChangeFeature ChangeWhat = iota
	ChangePart
	ChangeRing
	ChangeNode
)

func (w ChangeWhat) String() string {
	switch w {
	case ChangeFeature:
		return "feature"
	case ChangePart:
		return "part"
	case ChangeRing:
		return "ring"
	case ChangeNode:
		return "node"
	}
	return fmt.Sprintf("ChangeWhat(%d)", int(w))
}

func (w ChangeWhat) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// ChangeType is the kind of edit.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeRemoved
	ChangeChanged
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeChanged:
		return "changed"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

func (t ChangeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Change is one atomic geometry edit.
type Change struct {
	What   ChangeWhat        `json:"what"`
	Type   ChangeType        `json:"type"`
	Vertex geometry.VertexID `json:"vertex"`
}

// Changes accumulates edits by layer, then feature, in application order.
type Changes map[string]map[int64][]Change

func (c Changes) Append(layerID string, featureID int64, change Change) {
	byFeature, ok := c[layerID]
	if !ok {
		byFeature = make(map[int64][]Change)
		c[layerID] = byFeature
	}
	byFeature[featureID] = append(byFeature[featureID], change)
}

// For returns the edits recorded for one feature.
func (c Changes) For(layerID string, featureID int64) []Change {
	return c[layerID][featureID]
}

// Count returns the total number of recorded edits.
func (c Changes) Count() int {
	n := 0
	for _, byFeature := range c {
		for _, changes := range byFeature {
			n += len(changes)
		}
	}
	return n
}
