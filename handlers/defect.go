package handlers

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
)

// Status is the lifecycle state of a Defect. Every state but StatusPending is
// terminal.
type Status int

const (
	StatusPending Status = iota
	StatusFixed
	StatusFixFailed
	StatusObsolete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFixed:
		return "fixed"
	case StatusFixFailed:
		return "fix-failed"
	case StatusObsolete:
		return "obsolete"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defect is one vertex whose angle was found below the threshold.
// The identifying fields never change after creation; only the status moves,
// once, from pending to a terminal state.
type Defect struct {
	ID        string
	CheckID   string
	LayerID   string
	FeatureID int64
	Vertex    geometry.VertexID
	Location  geom.Coord
	Angle     float64

	mu      sync.Mutex
	status  Status
	message string
	method  Method
}

func newDefect(checkID, layerID string, featureID int64, vertex geometry.VertexID, location geom.Coord, angle float64) *Defect {
	return &Defect{
		ID:        uuid.NewString(),
		CheckID:   checkID,
		LayerID:   layerID,
		FeatureID: featureID,
		Vertex:    vertex,
		Location:  cloneCoord(location),
		Angle:     angle,
		method:    -1,
	}
}

func (d *Defect) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// ResolutionMessage is the reason given when the fix failed.
func (d *Defect) ResolutionMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// FixMethod returns the method a fixed defect was resolved with.
func (d *Defect) FixMethod() (Method, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.method, d.status == StatusFixed
}

func (d *Defect) SetObsolete() bool {
	return d.transition(StatusObsolete, "", -1)
}

func (d *Defect) SetFixed(method Method) bool {
	return d.transition(StatusFixed, "", method)
}

func (d *Defect) SetFixFailed(reason string) bool {
	return d.transition(StatusFixFailed, reason, -1)
}

func (d *Defect) transition(to Status, message string, method Method) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusPending {
		return false
	}
	d.status = to
	d.message = message
	d.method = method
	return true
}

// adopt copies the terminal state of other.
func (d *Defect) adopt(other *Defect) {
	other.mu.Lock()
	status, message, method := other.status, other.message, other.method
	other.mu.Unlock()
	if status != StatusPending {
		d.transition(status, message, method)
	}
}

// IsEqual reports whether both defects point at the same vertex of the same
// feature with the same angle.
func (d *Defect) IsEqual(other *Defect) bool {
	return d.CloseMatch(other) && d.Angle == other.Angle
}

// CloseMatch ignores the measured angle.
func (d *Defect) CloseMatch(other *Defect) bool {
	return d.CheckID == other.CheckID &&
		d.LayerID == other.LayerID &&
		d.FeatureID == other.FeatureID &&
		d.Vertex == other.Vertex
}

// Rebase returns a fresh pending defect whose vertex reference accounts for
// the edits already recorded in changes for the same feature. It reports
// false when one of those edits invalidates the defect. d is left untouched.
func (d *Defect) Rebase(changes Changes) (*Defect, bool) {
	if d.Status() == StatusObsolete {
		return nil, false
	}
	vidx := d.Vertex
	for _, change := range changes.For(d.LayerID, d.FeatureID) {
		delta := -1
		if change.Type == ChangeAdded {
			delta = 1
		}
		switch change.What {
		case ChangeFeature:
			if change.Type == ChangeRemoved || change.Type == ChangeChanged {
				return nil, false
			}
		case ChangePart:
			if vidx.Part == change.Vertex.Part {
				return nil, false
			}
			if vidx.Part > change.Vertex.Part {
				vidx.Part += delta
			}
		case ChangeRing:
			if vidx.PartEqual(change.Vertex) {
				if vidx.Ring == change.Vertex.Ring {
					return nil, false
				}
				if vidx.Ring > change.Vertex.Ring {
					vidx.Ring += delta
				}
			}
		case ChangeNode:
			if vidx.RingEqual(change.Vertex) {
				if vidx.Vertex == change.Vertex.Vertex {
					return nil, false
				}
				if vidx.Vertex > change.Vertex.Vertex {
					vidx.Vertex += delta
				}
			}
		}
	}
	rebased := newDefect(d.CheckID, d.LayerID, d.FeatureID, vidx, d.Location, d.Angle)
	rebased.ID = d.ID
	return rebased, true
}

func cloneCoord(c geom.Coord) geom.Coord {
	return append(geom.Coord(nil), c...)
}

type defectJSON struct {
	ID                string            `json:"id"`
	Check             string            `json:"check"`
	Layer             string            `json:"layer"`
	Feature           int64             `json:"feature"`
	Vertex            geometry.VertexID `json:"vertex"`
	Location          []float64         `json:"location"`
	Angle             float64           `json:"angle"`
	Status            Status            `json:"status"`
	ResolutionMessage string            `json:"resolutionMessage,omitempty"`
	FixMethod         string            `json:"fixMethod,omitempty"`
}

func (d *Defect) MarshalJSON() ([]byte, error) {
	out := defectJSON{
		ID:                d.ID,
		Check:             d.CheckID,
		Layer:             d.LayerID,
		Feature:           d.FeatureID,
		Vertex:            d.Vertex,
		Location:          d.Location,
		Angle:             d.Angle,
		Status:            d.Status(),
		ResolutionMessage: d.ResolutionMessage(),
	}
	if m, ok := d.FixMethod(); ok {
		out.FixMethod = m.String()
	}
	return json.Marshal(out)
}
