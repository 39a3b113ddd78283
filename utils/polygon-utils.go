package utils

import (
	"math"

	"github.com/bsaid97/go-spike-fixer/geometry"
)

// TruncateGeometry returns a copy of g with every ordinate rounded to
// precision decimals.
func TruncateGeometry(g *geometry.Geometry, precision int) *geometry.Geometry {
	if g == nil {
		return nil
	}
	truncated := g.Clone()
	for _, part := range truncated.Parts {
		for _, ring := range part {
			for _, coord := range ring {
				for k := range coord {
					coord[k] = roundFloat(coord[k], uint(precision))
				}
			}
		}
	}
	return truncated
}

func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
