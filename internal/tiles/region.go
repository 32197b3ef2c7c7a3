// Package tiles models the tile hierarchy of a streamed point cloud and the
// set of tiles already resident in the viewer.
package tiles

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

var ErrInvalidRegion = errors.New("invalid bounding region")

// Region is an axis-aligned extent in the fixed order
// [west, south, east, north, bottom, top].
type Region [6]float64

const (
	West = iota
	South
	East
	North
	Bottom
	Top
)

func (r Region) Center() r3.Vector {
	return r3.Vector{
		X: (r[West] + r[East]) / 2,
		Y: (r[South] + r[North]) / 2,
		Z: (r[Bottom] + r[Top]) / 2,
	}
}

func (r Region) Validate() error {
	for i, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidRegion, i)
		}
	}
	switch {
	case r[West] > r[East]:
		return fmt.Errorf("%w: west %.3f > east %.3f", ErrInvalidRegion, r[West], r[East])
	case r[South] > r[North]:
		return fmt.Errorf("%w: south %.3f > north %.3f", ErrInvalidRegion, r[South], r[North])
	case r[Bottom] > r[Top]:
		return fmt.Errorf("%w: bottom %.3f > top %.3f", ErrInvalidRegion, r[Bottom], r[Top])
	}
	return nil
}

// RegionFromSlice copies a decoded six-value array into a Region.
func RegionFromSlice(v []float64) (Region, error) {
	var r Region
	if len(v) != len(r) {
		return r, fmt.Errorf("%w: expected 6 values [west,south,east,north,bottom,top], got %d", ErrInvalidRegion, len(v))
	}
	copy(r[:], v)
	return r, nil
}

// VectorFromSlice decodes an [x,y,z] triple.
func VectorFromSlice(v []float64) (r3.Vector, error) {
	if len(v) != 3 {
		return r3.Vector{}, fmt.Errorf("expected 3 values [x,y,z], got %d", len(v))
	}
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return r3.Vector{}, fmt.Errorf("component %d is not finite", i)
		}
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}
