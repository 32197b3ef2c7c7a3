package tiles

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

var (
	ErrCyclicHierarchy = errors.New("cyclic tile hierarchy")
	ErrDuplicateID     = errors.New("duplicate tile id")
	ErrInvalidError    = errors.New("invalid geometric error")
	ErrTooManyNodes    = errors.New("tile hierarchy exceeds node limit")
	ErrEmptyHierarchy  = errors.New("tile hierarchy has no root")
)

// DefaultMaxNodes bounds Build when no explicit limit is given.
const DefaultMaxNodes = 1_000_000

// Node is one arena slot. Children and Parent are arena indices.
type Node struct {
	ID             string
	Index          int
	Parent         int
	Depth          int
	Region         Region
	GeometricError float64
	ContentRef     string
	Children       []int
}

func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// NodeSpec is the nested form a tileset arrives in before it is flattened.
type NodeSpec struct {
	ID             string
	Region         Region
	GeometricError float64
	ContentRef     string
	Children       []*NodeSpec
}

// Tileset is an immutable arena of nodes rooted at index 0.
type Tileset struct {
	Table        string
	CRS          string
	PointCount   int64
	OriginOffset r3.Vector

	nodes []Node
	byID  map[string]int
}

type BuildOptions struct {
	Table      string
	CRS        string
	PointCount int64
	MaxNodes   int
}

// Build flattens root into an arena breadth-first. It rejects any spec that
// reuses a node, repeats an id, or nests a node under itself.
func Build(root *NodeSpec, origin r3.Vector, opts BuildOptions) (*Tileset, error) {
	if root == nil {
		return nil, ErrEmptyHierarchy
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}

	ts := &Tileset{
		Table:        opts.Table,
		CRS:          opts.CRS,
		PointCount:   opts.PointCount,
		OriginOffset: origin,
		byID:         make(map[string]int),
	}
	seen := make(map[*NodeSpec]int)

	type item struct {
		spec   *NodeSpec
		parent int
	}
	queue := []item{{spec: root, parent: -1}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		if it.spec == nil {
			return nil, fmt.Errorf("nil child under %q", ts.nodes[it.parent].ID)
		}
		if prev, ok := seen[it.spec]; ok {
			if ts.isAncestor(prev, it.parent) {
				return nil, fmt.Errorf("%w: %q is nested under itself", ErrCyclicHierarchy, it.spec.ID)
			}
			return nil, fmt.Errorf("%w: node %q has more than one parent", ErrDuplicateID, it.spec.ID)
		}
		if err := validateSpec(it.spec); err != nil {
			return nil, err
		}
		if prev, ok := ts.byID[it.spec.ID]; ok {
			if ts.isAncestor(prev, it.parent) {
				return nil, fmt.Errorf("%w: id %q repeats on its own ancestor path", ErrCyclicHierarchy, it.spec.ID)
			}
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, it.spec.ID)
		}
		if len(ts.nodes) >= maxNodes {
			return nil, fmt.Errorf("%w (%d)", ErrTooManyNodes, maxNodes)
		}

		idx := len(ts.nodes)
		depth := 0
		if it.parent >= 0 {
			depth = ts.nodes[it.parent].Depth + 1
			ts.nodes[it.parent].Children = append(ts.nodes[it.parent].Children, idx)
		}
		ts.nodes = append(ts.nodes, Node{
			ID:             it.spec.ID,
			Index:          idx,
			Parent:         it.parent,
			Depth:          depth,
			Region:         it.spec.Region,
			GeometricError: it.spec.GeometricError,
			ContentRef:     it.spec.ContentRef,
		})
		ts.byID[it.spec.ID] = idx
		seen[it.spec] = idx

		for _, c := range it.spec.Children {
			queue = append(queue, item{spec: c, parent: idx})
		}
	}
	return ts, nil
}

func validateSpec(s *NodeSpec) error {
	if s.ID == "" {
		return errors.New("tile id must not be empty")
	}
	if math.IsNaN(s.GeometricError) || math.IsInf(s.GeometricError, 0) || s.GeometricError < 0 {
		return fmt.Errorf("%w: tile %q has %v", ErrInvalidError, s.ID, s.GeometricError)
	}
	if err := s.Region.Validate(); err != nil {
		return fmt.Errorf("tile %q: %w", s.ID, err)
	}
	return nil
}

// reports whether anc is idx or one of its ancestors
func (t *Tileset) isAncestor(anc, idx int) bool {
	for i := idx; i >= 0; i = t.nodes[i].Parent {
		if i == anc {
			return true
		}
	}
	return false
}

func (t *Tileset) Root() *Node { return &t.nodes[0] }

func (t *Tileset) Len() int { return len(t.nodes) }

// Node returns the node at arena index i. Callers must not mutate it.
func (t *Tileset) Node(i int) *Node { return &t.nodes[i] }

func (t *Tileset) Lookup(id string) (*Node, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.nodes[i], true
}
