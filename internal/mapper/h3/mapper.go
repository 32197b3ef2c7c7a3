// Package h3mapper places tiles on the H3 grid so load events can be keyed
// and partitioned by area.
package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"strings"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

var ErrUnsupportedCRS = errors.New("unsupported crs for h3 mapping")

const webMercatorRadius = 6378137.0

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Resolution() int { return m.res }

// CellForRegion returns the cell containing the region's center. Only
// geographic (EPSG:4326) and web mercator (EPSG:3857) regions can be mapped.
func (m *Mapper) CellForRegion(r tiles.Region, crs string) (string, error) {
	c := r.Center()
	ll, err := toLatLng(c.X, c.Y, crs)
	if err != nil {
		return "", err
	}
	cell, err := h3.LatLngToCell(ll, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

func toLatLng(x, y float64, crs string) (h3.LatLng, error) {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "EPSG:4326", "CRS:84", "WGS84":
		if x < -180 || x > 180 || y < -90 || y > 90 {
			return h3.LatLng{}, fmt.Errorf("coordinate (%g,%g) outside lon/lat range", x, y)
		}
		return h3.LatLng{Lat: y, Lng: x}, nil
	case "EPSG:3857", "EPSG:900913":
		lng := x / webMercatorRadius * 180 / math.Pi
		lat := (2*math.Atan(math.Exp(y/webMercatorRadius)) - math.Pi/2) * 180 / math.Pi
		if math.IsNaN(lat) || lng < -180 || lng > 180 {
			return h3.LatLng{}, fmt.Errorf("coordinate (%g,%g) outside web mercator extent", x, y)
		}
		return h3.LatLng{Lat: lat, Lng: lng}, nil
	default:
		return h3.LatLng{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, crs)
	}
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
