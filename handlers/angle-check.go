package handlers

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/utils"
)

const (
	AngleCheckID          = "AngleCheck"
	AngleCheckDescription = "Minimal angle"
)

// CheckContext is what the check shares with its caller: the layers it works
// on and the coincidence tolerance.
type CheckContext struct {
	// Tolerance is a squared distance under which two points coincide.
	Tolerance float64
	Pools     map[string]featurepool.Pool
	Logger    logging.Logger
	Observer  Observer
}

// Observer is told about finished scans and resolved defects.
type Observer interface {
	ObserveScan(defects int, elapsed time.Duration)
	ObserveFix(status, method string)
}

// AngleCheckConfig configures an AngleCheck.
type AngleCheckConfig struct {
	MinAngle        float64
	CompatibleKinds []geometry.Class
	Workers         int
}

// AngleCheck finds and repairs vertices whose angle is below MinAngle.
type AngleCheck struct {
	ctx      *CheckContext
	minAngle float64
	classes  map[geometry.Class]bool
	workers  int
	logger   logging.Logger
}

func NewAngleCheck(cc *CheckContext, cfg AngleCheckConfig) *AngleCheck {
	kinds := cfg.CompatibleKinds
	if len(kinds) == 0 {
		kinds = []geometry.Class{geometry.ClassLine, geometry.ClassPolygon}
	}
	classes := make(map[geometry.Class]bool, len(kinds))
	for _, k := range kinds {
		classes[k] = true
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := cc.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	return &AngleCheck{
		ctx:      cc,
		minAngle: cfg.MinAngle,
		classes:  classes,
		workers:  workers,
		logger:   logger.With(logging.String("check", AngleCheckID)),
	}
}

func (c *AngleCheck) ID() string                  { return AngleCheckID }
func (c *AngleCheck) Description() string         { return AngleCheckDescription }
func (c *AngleCheck) MinAngle() float64           { return c.minAngle }
func (c *AngleCheck) ResolutionMethods() []string { return ResolutionMethods() }

// scanJob is one feature to scan; Index keeps the output order stable.
type scanJob struct {
	LayerID   string
	FeatureID int64
	Index     int
}

type scanResult struct {
	Index   int
	Defects []*Defect
}

// CollectErrors scans the features named in ids, or every feature of every
// layer when ids is empty, and returns one Defect per vertex whose angle is
// below the threshold. Output follows layer name, then feature order within a
// layer, then part, ring and vertex order. progress, when set, is incremented
// once per feature.
func (c *AngleCheck) CollectErrors(ctx context.Context, ids map[string][]int64, progress utils.Counter) []*Defect {
	start := time.Now()
	jobs := c.scanJobs(ctx, ids)

	scan := func(job any) any {
		j := job.(scanJob)
		defects := c.scanFeature(ctx, j.LayerID, j.FeatureID)
		if len(defects) == 0 {
			return nil
		}
		return scanResult{Index: j.Index, Defects: defects}
	}
	results := utils.NewParallelProcessor(c.workers).ProcessBatch(jobs, scan, progress)

	sort.Slice(results, func(a, b int) bool {
		return results[a].(scanResult).Index < results[b].(scanResult).Index
	})
	var defects []*Defect
	for _, r := range results {
		defects = append(defects, r.(scanResult).Defects...)
	}

	if c.ctx.Observer != nil {
		c.ctx.Observer.ObserveScan(len(defects), time.Since(start))
	}
	c.logger.Info(ctx, "scan complete",
		logging.Int("features", len(jobs)),
		logging.Int("defects", len(defects)),
		logging.Any("elapsed", time.Since(start)))
	return defects
}

func (c *AngleCheck) scanJobs(ctx context.Context, ids map[string][]int64) []any {
	if len(ids) == 0 {
		ids = make(map[string][]int64, len(c.ctx.Pools))
		for layerID, pool := range c.ctx.Pools {
			layerIDs, err := pool.IDs(ctx)
			if err != nil {
				c.logger.Warn(ctx, "failed to list layer features",
					logging.String("layer", layerID), logging.Err(err))
				continue
			}
			ids[layerID] = layerIDs
		}
	}

	layers := make([]string, 0, len(ids))
	for layerID := range ids {
		layers = append(layers, layerID)
	}
	sort.Strings(layers)

	var jobs []any
	for _, layerID := range layers {
		seen := make(map[int64]bool, len(ids[layerID]))
		for _, fid := range ids[layerID] {
			// a feature listed twice would report every defect twice
			if seen[fid] {
				continue
			}
			seen[fid] = true
			jobs = append(jobs, scanJob{LayerID: layerID, FeatureID: fid, Index: len(jobs)})
		}
	}
	return jobs
}

func (c *AngleCheck) scanFeature(ctx context.Context, layerID string, featureID int64) []*Defect {
	if ctx.Err() != nil {
		return nil
	}
	pool, ok := c.ctx.Pools[layerID]
	if !ok {
		c.logger.Debug(ctx, "unknown layer", logging.String("layer", layerID))
		return nil
	}
	feature, ok := pool.Get(ctx, featureID)
	if !ok {
		c.logger.Debug(ctx, "feature not found",
			logging.String("layer", layerID), logging.Int64("feature", featureID))
		return nil
	}
	if feature.Geometry == nil || !c.classes[feature.Geometry.Kind.Class()] {
		c.logger.Debug(ctx, "feature skipped, incompatible geometry",
			logging.String("layer", layerID), logging.Int64("feature", featureID))
		return nil
	}
	return c.collectGeometryErrors(layerID, featureID, feature.Geometry)
}

// collectGeometryErrors walks every part, ring and checkable vertex of g.
func (c *AngleCheck) collectGeometryErrors(layerID string, featureID int64, g *geometry.Geometry) []*Defect {
	var defects []*Defect
	for iPart := 0; iPart < g.PartCount(); iPart++ {
		for iRing := 0; iRing < g.RingCount(iPart); iRing++ {
			nVerts, closed := geometry.PolyLineSize(g, iPart, iRing)
			// Less than three points, no angles to check
			if nVerts < 3 {
				continue
			}
			first, last := geometry.CheckRange(nVerts, closed)
			for iVert := first; iVert < last; iVert++ {
				prev, next := geometry.Neighbors(iVert, nVerts)
				p1 := g.VertexAt(geometry.VertexID{Part: iPart, Ring: iRing, Vertex: prev})
				p2 := g.VertexAt(geometry.VertexID{Part: iPart, Ring: iRing, Vertex: iVert})
				p3 := g.VertexAt(geometry.VertexID{Part: iPart, Ring: iRing, Vertex: next})

				angle, status := geometry.VertexAngle(p1, p2, p3)
				if status != geometry.AngleValid {
					continue
				}
				if angle < c.minAngle {
					vidx := geometry.VertexID{Part: iPart, Ring: iRing, Vertex: iVert}
					defects = append(defects, newDefect(AngleCheckID, layerID, featureID, vidx, p2, angle))
				}
			}
		}
	}
	return defects
}
