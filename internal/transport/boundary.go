package transport

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var ErrInvalidBoundary = errors.New("invalid query boundary")

// Polygon is a closed outer ring of [x, y] positions in the query's output
// CRS.
type Polygon orb.Ring

func (p Polygon) Validate() error {
	if len(p) < 4 {
		return fmt.Errorf("%w: ring needs at least 4 positions, got %d", ErrInvalidBoundary, len(p))
	}
	for i, pt := range p {
		if math.IsNaN(pt.X()) || math.IsInf(pt.X(), 0) || math.IsNaN(pt.Y()) || math.IsInf(pt.Y(), 0) {
			return fmt.Errorf("%w: position %d is not finite", ErrInvalidBoundary, i)
		}
	}
	if !orb.Ring(p).Closed() {
		return fmt.Errorf("%w: ring is not closed", ErrInvalidBoundary)
	}
	return nil
}

// GeoJSON encodes the ring as a GeoJSON Polygon geometry.
func (p Polygon) GeoJSON() string {
	b, err := geojson.NewGeometry(orb.Polygon{orb.Ring(p)}).MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// ParsePolygon reads a GeoJSON Polygon geometry (outer ring only) or the
// compact form "x y, x y, ...". An empty string is no boundary.
func ParsePolygon(raw string) (Polygon, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var p Polygon
	if strings.HasPrefix(raw, "{") {
		g, err := geojson.UnmarshalGeometry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: parse geojson: %w", ErrInvalidBoundary, err)
		}
		poly, ok := g.Coordinates.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf(`%w: unsupported GeoJSON "type": %q (must be Polygon)`, ErrInvalidBoundary, g.Type)
		}
		if len(poly) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one ring, got %d", ErrInvalidBoundary, len(poly))
		}
		p = Polygon(poly[0])
	} else {
		for i, pair := range strings.Split(raw, ",") {
			f := strings.Fields(pair)
			if len(f) != 2 {
				return nil, fmt.Errorf("%w: position %d: expected \"x y\", got %q", ErrInvalidBoundary, i, strings.TrimSpace(pair))
			}
			x, err := strconv.ParseFloat(f[0], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: position %d x: %w", ErrInvalidBoundary, i, err)
			}
			y, err := strconv.ParseFloat(f[1], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: position %d y: %w", ErrInvalidBoundary, i, err)
			}
			p = append(p, orb.Point{x, y})
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
