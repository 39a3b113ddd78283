package handlers

import (
	"context"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
)

// Resolution messages for a fix-failed defect.
const (
	ReasonDegenerate    = "Resulting geometry is degenerate"
	ReasonDeleteFailed  = "Failed to delete vertex"
	ReasonUpdateFailed  = "Failed to update feature"
	ReasonUnknownMethod = "Unknown method"
)

// FixError re-checks d against the current feature and applies method.
// The outcome is recorded on d: obsolete when the defect no longer holds,
// fixed, or fix-failed with a reason. Applied edits are appended to changes.
// Callers must not fix two defects of the same feature concurrently.
func (c *AngleCheck) FixError(ctx context.Context, d *Defect, method Method, changes Changes) {
	if d.Status() != StatusPending {
		return
	}
	log := c.logger.With(
		logging.String("defect", d.ID),
		logging.String("layer", d.LayerID),
		logging.Int64("feature", d.FeatureID),
		logging.String("vertex", d.Vertex.String()))

	pool, ok := c.ctx.Pools[d.LayerID]
	if !ok {
		d.SetObsolete()
		log.Debug(ctx, "layer gone, defect obsolete")
		return
	}
	feature, ok := pool.Get(ctx, d.FeatureID)
	if !ok || feature.Geometry == nil {
		d.SetObsolete()
		log.Debug(ctx, "feature gone, defect obsolete")
		return
	}
	g := feature.Geometry
	vidx := d.Vertex

	// Check if point still exists
	if !vidx.IsValid(g) {
		d.SetObsolete()
		log.Debug(ctx, "vertex gone, defect obsolete")
		return
	}

	// Check if error still applies
	n, closed := geometry.PolyLineSize(g, vidx.Part, vidx.Ring)
	first, last := geometry.CheckRange(n, closed)
	if n < 3 || vidx.Vertex < first || vidx.Vertex >= last {
		d.SetObsolete()
		log.Debug(ctx, "vertex no longer has an angle, defect obsolete")
		return
	}
	prev, next := geometry.Neighbors(vidx.Vertex, n)
	p1 := cloneCoord(g.VertexAt(geometry.VertexID{Part: vidx.Part, Ring: vidx.Ring, Vertex: prev}))
	p2 := g.VertexAt(vidx)
	p3 := cloneCoord(g.VertexAt(geometry.VertexID{Part: vidx.Part, Ring: vidx.Ring, Vertex: next}))

	angle, status := geometry.VertexAngle(p1, p2, p3)
	if status != geometry.AngleValid {
		d.SetObsolete()
		log.Debug(ctx, "angle no longer defined, defect obsolete", logging.String("angle", status.String()))
		return
	}
	if angle >= c.minAngle {
		d.SetObsolete()
		log.Debug(ctx, "angle healed, defect obsolete", logging.Float("angle", angle))
		return
	}

	switch method {
	case MethodNoChange:
		d.SetFixed(method)

	case MethodDeleteNode:
		if !geometry.CanDeleteVertex(g, vidx.Part, vidx.Ring) {
			d.SetFixFailed(ReasonDegenerate)
			break
		}
		if !g.DeleteVertex(vidx) {
			d.SetFixFailed(ReasonDeleteFailed)
			break
		}
		applied := []Change{{What: ChangeNode, Type: ChangeRemoved, Vertex: vidx}}

		// Removing a spike can leave its two neighbours on top of each other;
		// drop the duplicate once.
		if geometry.SqrDistance2D(p1, p3) < c.ctx.Tolerance &&
			geometry.CanDeleteVertex(g, vidx.Part, vidx.Ring) {
			merged := geometry.VertexID{Part: vidx.Part, Ring: vidx.Ring, Vertex: vidx.Vertex}
			if next == 0 {
				merged.Vertex = 0
			}
			if g.DeleteVertex(merged) {
				applied = append(applied, Change{What: ChangeNode, Type: ChangeRemoved, Vertex: merged})
			}
		}

		if err := pool.Update(ctx, feature); err != nil {
			log.Warn(ctx, "failed to persist repaired feature", logging.Err(err))
			d.SetFixFailed(ReasonUpdateFailed)
			break
		}
		for _, change := range applied {
			changes.Append(d.LayerID, d.FeatureID, change)
		}
		d.SetFixed(method)

	default:
		d.SetFixFailed(ReasonUnknownMethod)
	}

	log.Debug(ctx, "defect resolved",
		logging.String("method", method.String()),
		logging.String("status", d.Status().String()))
}

// FixAll resolves defects in order with one method. Each pending defect is
// first rebased onto the edits already made to its feature, so vertex
// references stay correct after earlier deletions in the same ring.
func (c *AngleCheck) FixAll(ctx context.Context, defects []*Defect, method Method) Changes {
	changes := Changes{}
	for _, d := range defects {
		if d.Status() != StatusPending {
			continue
		}
		if rebased, ok := d.Rebase(changes); ok {
			c.FixError(ctx, rebased, method, changes)
			d.adopt(rebased)
		} else {
			d.SetObsolete()
		}
		if c.ctx.Observer != nil {
			c.ctx.Observer.ObserveFix(d.Status().String(), method.String())
		}
	}
	return changes
}
