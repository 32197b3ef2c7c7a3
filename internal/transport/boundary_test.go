package transport

import (
	"errors"
	"math"
	"net/url"
	"testing"
)

var turkuRing = Polygon{
	{2488624, 8505802},
	{2488741, 8505971},
	{2489471, 8505522},
	{2489248, 8505339},
	{2488624, 8505802},
}

func TestParsePolygon_GeoJSONAndCompact(t *testing.T) {
	fromJSON, err := ParsePolygon(`{"type":"Polygon","coordinates":[[[2488624,8505802],[2488741,8505971],[2489471,8505522],[2489248,8505339],[2488624,8505802]]]}`)
	if err != nil {
		t.Fatalf("geojson: %v", err)
	}
	compact, err := ParsePolygon("2488624 8505802, 2488741 8505971, 2489471 8505522, 2489248 8505339, 2488624 8505802")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(fromJSON) != 5 || len(compact) != 5 {
		t.Fatalf("lens=%d,%d", len(fromJSON), len(compact))
	}
	for i := range turkuRing {
		if fromJSON[i] != turkuRing[i] || compact[i] != turkuRing[i] {
			t.Fatalf("position %d: json=%v compact=%v want %v", i, fromJSON[i], compact[i], turkuRing[i])
		}
	}

	if p, err := ParsePolygon("  "); err != nil || p != nil {
		t.Fatalf("empty: p=%v err=%v", p, err)
	}
}

func TestParsePolygon_Rejects(t *testing.T) {
	bad := []string{
		`{"type":"LineString","coordinates":[[0,0],[1,1]]}`,
		`{"type":"Polygon","coordinates":[]}`,
		`{"type":"Polygon"`,
		"0 0, 1 0, 1 1",
		"0 0, 1 0, 1 1, 0 1",
		"0 0, 1 x, 1 1, 0 0",
		"0 0 0, 1 0, 1 1, 0 0",
	}
	for _, raw := range bad {
		if _, err := ParsePolygon(raw); !errors.Is(err, ErrInvalidBoundary) {
			t.Fatalf("%q: err=%v want ErrInvalidBoundary", raw, err)
		}
	}
}

func TestPolygon_ValidateNonFinite(t *testing.T) {
	p := Polygon{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 0}}
	if err := p.Validate(); !errors.Is(err, ErrInvalidBoundary) {
		t.Fatalf("err=%v", err)
	}
}

func TestQuery_BoundaryEncodedAndValidated(t *testing.T) {
	q := Query{Table: "turku", OutputCRS: "EPSG:3857", Boundary: turkuRing}
	if err := q.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	enc := q.Values().Encode()
	v, err := url.ParseQuery(enc)
	if err != nil {
		t.Fatalf("parse %s: %v", enc, err)
	}
	back, err := ParsePolygon(v.Get("boundary"))
	if err != nil {
		t.Fatalf("boundary %q: %v", v.Get("boundary"), err)
	}
	if len(back) != len(turkuRing) || back[2] != turkuRing[2] {
		t.Fatalf("boundary=%v", back)
	}

	q.Boundary = Polygon{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	if err := q.Validate(); !errors.Is(err, ErrInvalidBoundary) {
		t.Fatalf("open ring: err=%v", err)
	}
	q.Boundary = nil
	if q.Values().Has("boundary") {
		t.Fatal("nil boundary encoded")
	}
}
