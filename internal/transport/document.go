package transport

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

// Document is the wire form of a tileset, shared by every driver.
type Document struct {
	Table        string    `json:"table" yaml:"table"`
	CRS          string    `json:"crs" yaml:"crs"`
	PointCount   *int64    `json:"point_count,omitempty" yaml:"point_count,omitempty"`
	OriginOffset []float64 `json:"origin_offset" yaml:"origin_offset"`
	Root         *NodeDoc  `json:"root" yaml:"root"`
}

type NodeDoc struct {
	ID             string     `json:"id" yaml:"id"`
	Region         []float64  `json:"region" yaml:"region"`
	GeometricError float64    `json:"geometric_error" yaml:"geometric_error"`
	Content        string     `json:"content,omitempty" yaml:"content,omitempty"`
	Children       []*NodeDoc `json:"children,omitempty" yaml:"children,omitempty"`
}

// UnknownPointCount marks a document that did not report a point count.
const UnknownPointCount = -1

// Tileset converts the document into an arena. Node identity is preserved so
// a document that reuses a node is rejected by tiles.Build.
func (d *Document) Tileset(q Query, maxNodes int) (*tiles.Tileset, error) {
	if d.Root == nil {
		return nil, tiles.ErrEmptyHierarchy
	}
	var origin r3.Vector
	if len(d.OriginOffset) > 0 {
		v, err := tiles.VectorFromSlice(d.OriginOffset)
		if err != nil {
			return nil, fmt.Errorf("origin_offset: %w", err)
		}
		origin = v
	}
	if maxNodes <= 0 {
		maxNodes = tiles.DefaultMaxNodes
	}

	memo := make(map[*NodeDoc]*tiles.NodeSpec)
	rootSpec, err := specFor(d.Root)
	if err != nil {
		return nil, err
	}
	memo[d.Root] = rootSpec

	queue := []*NodeDoc{d.Root}
	for len(queue) > 0 {
		doc := queue[0]
		queue = queue[1:]
		parent := memo[doc]
		for _, c := range doc.Children {
			if c == nil {
				return nil, fmt.Errorf("tile %q has a null child", doc.ID)
			}
			if s, ok := memo[c]; ok {
				parent.Children = append(parent.Children, s)
				continue
			}
			if len(memo) >= maxNodes {
				return nil, fmt.Errorf("%w (%d)", tiles.ErrTooManyNodes, maxNodes)
			}
			s, err := specFor(c)
			if err != nil {
				return nil, err
			}
			memo[c] = s
			parent.Children = append(parent.Children, s)
			queue = append(queue, c)
		}
	}

	table, crs := d.Table, d.CRS
	if table == "" {
		table = q.Table
	}
	if crs == "" {
		crs = q.OutputCRS
	}
	pc := int64(UnknownPointCount)
	if d.PointCount != nil {
		pc = *d.PointCount
	}
	return tiles.Build(rootSpec, origin, tiles.BuildOptions{
		Table:      table,
		CRS:        crs,
		PointCount: pc,
		MaxNodes:   maxNodes,
	})
}

func specFor(n *NodeDoc) (*tiles.NodeSpec, error) {
	if n.ID == "" {
		return nil, errors.New("tile without id")
	}
	r, err := tiles.RegionFromSlice(n.Region)
	if err != nil {
		return nil, fmt.Errorf("tile %q: %w", n.ID, err)
	}
	ref := n.Content
	if ref == "" {
		ref = n.ID
	}
	return &tiles.NodeSpec{
		ID:             n.ID,
		Region:         r,
		GeometricError: n.GeometricError,
		ContentRef:     ref,
	}, nil
}
