// Package traverse walks a tileset breadth-first and collects scored load
// candidates.
package traverse

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/significance"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

// Membership reports tiles that should not be offered again: resident or
// already in flight.
type Membership interface {
	Pending(id string) bool
}

type Candidate struct {
	Node  *tiles.Node
	Score float64
}

type Stats struct {
	Visited int
	Refined int
	Emitted int
}

// CollectCandidates visits nodes breadth-first from the root. Every visited
// node that is not pending is emitted; children are enqueued only when the
// node's score refines. Output keeps visitation order.
func CollectCandidates(ts *tiles.Tileset, viewpoint r3.Vector, skip Membership, est significance.Estimator) ([]Candidate, Stats, error) {
	var st Stats
	if ts == nil || ts.Len() == 0 {
		return nil, st, nil
	}

	visited := make([]bool, ts.Len())
	queue := []int{0}
	var out []Candidate

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		if visited[idx] {
			return nil, st, fmt.Errorf("%w: node %q reached twice", tiles.ErrCyclicHierarchy, ts.Node(idx).ID)
		}
		visited[idx] = true
		st.Visited++

		n := ts.Node(idx)
		score := est.Score(n, viewpoint, ts.OriginOffset)

		if skip == nil || !skip.Pending(n.ID) {
			out = append(out, Candidate{Node: n, Score: score})
			st.Emitted++
		}
		if est.Refines(score) && !n.IsLeaf() {
			st.Refined++
			queue = append(queue, n.Children...)
		}
	}
	return out, st, nil
}
