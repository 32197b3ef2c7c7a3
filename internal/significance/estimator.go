// Package significance scores tiles by their geometric error relative to the
// viewer's distance.
package significance

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

const DefaultRefineThreshold = 0.01

// Score returns geometricError / distance between the viewpoint and the
// node's region center in the shared frame. A viewpoint at the center scores
// +Inf.
func Score(n *tiles.Node, viewpoint, originOffset r3.Vector) float64 {
	center := n.Region.Center().Sub(originOffset)
	d := center.Distance(viewpoint)
	if d == 0 {
		return math.Inf(1)
	}
	s := n.GeometricError / d
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return s
}

// Estimator binds Score to a refinement threshold.
type Estimator struct {
	Threshold float64
}

func New(threshold float64) Estimator {
	if threshold < 0 || math.IsNaN(threshold) {
		threshold = DefaultRefineThreshold
	}
	return Estimator{Threshold: threshold}
}

func (e Estimator) Score(n *tiles.Node, viewpoint, originOffset r3.Vector) float64 {
	return Score(n, viewpoint, originOffset)
}

// Refines reports whether a node with this score should have its children
// considered.
func (e Estimator) Refines(score float64) bool {
	return score > e.Threshold
}
