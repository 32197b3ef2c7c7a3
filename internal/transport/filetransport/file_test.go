package filetransport

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

const tilesetYAML = `
table: turku
crs: EPSG:3857
point_count: 42
origin_offset: [100, 200, 0]
root:
  id: r
  region: [0, 0, 10, 10, 0, 5]
  geometric_error: 10
  content: r.bin
  children:
    - id: a
      region: [0, 0, 5, 5, 0, 5]
      geometric_error: 1
      content: a.bin
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(transport.Options{Logger: slog.New(slog.DiscardHandler), Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

var q = transport.Query{Table: "turku", OutputCRS: "EPSG:3857"}

func TestFetchTileset_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "turku", "tileset.yaml"), tilesetYAML)
	s := newStore(t, dir)

	ts, err := s.FetchTileset(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchTileset: %v", err)
	}
	if ts.Len() != 2 || ts.PointCount != 42 || ts.OriginOffset != (r3.Vector{X: 100, Y: 200}) {
		t.Fatalf("len=%d points=%d origin=%v", ts.Len(), ts.PointCount, ts.OriginOffset)
	}
}

func TestFetchTileset_JSONAndMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "turku", "tileset.json"),
		`{"root":{"id":"r","region":[0,0,1,1,0,1],"geometric_error":1}}`)
	s := newStore(t, dir)

	ts, err := s.FetchTileset(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchTileset: %v", err)
	}
	if ts.Table != "turku" || ts.CRS != "EPSG:3857" || ts.PointCount != transport.UnknownPointCount {
		t.Fatalf("table=%q crs=%q points=%d", ts.Table, ts.CRS, ts.PointCount)
	}

	_, err = s.FetchTileset(context.Background(), transport.Query{Table: "nope", OutputCRS: "EPSG:3857"})
	if !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestFetchTileset_RejectsCycleViaDuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "turku", "tileset.yaml"), `
root:
  id: r
  region: [0, 0, 1, 1, 0, 1]
  geometric_error: 1
  children:
    - id: r
      region: [0, 0, 1, 1, 0, 1]
      geometric_error: 1
`)
	s := newStore(t, dir)
	_, err := s.FetchTileset(context.Background(), q)
	if !errors.Is(err, tiles.ErrCyclicHierarchy) {
		t.Fatalf("err=%v want ErrCyclicHierarchy", err)
	}
}

func TestFetchTileContent_WithOffsetSidecar(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "turku", "tileset.yaml"), tilesetYAML)
	writeFile(t, filepath.Join(dir, "turku", "content", "a.bin"), "geom")
	writeFile(t, filepath.Join(dir, "turku", "content", "a.bin.offset.yaml"), "offset: [101, 202, 3]\n")
	writeFile(t, filepath.Join(dir, "turku", "content", "r.bin"), "root")
	s := newStore(t, dir)

	if _, err := s.FetchTileset(context.Background(), q); err != nil {
		t.Fatalf("FetchTileset: %v", err)
	}

	raw, err := s.FetchTileContent(context.Background(), "a.bin")
	if err != nil {
		t.Fatalf("FetchTileContent: %v", err)
	}
	if string(raw.Geometry) != "geom" || raw.Offset != (r3.Vector{X: 101, Y: 202, Z: 3}) {
		t.Fatalf("raw=%q offset=%v", raw.Geometry, raw.Offset)
	}

	raw, err = s.FetchTileContent(context.Background(), "r.bin")
	if err != nil || raw.Offset != (r3.Vector{}) {
		t.Fatalf("no sidecar: offset=%v err=%v", raw.Offset, err)
	}
}

func TestFetchTileContent_MissingAndEscaping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "turku", "tileset.yaml"), tilesetYAML)
	s := newStore(t, dir)
	if _, err := s.FetchTileset(context.Background(), q); err != nil {
		t.Fatalf("FetchTileset: %v", err)
	}

	for _, ref := range []string{"missing.bin", "../tileset.yaml", "/etc/passwd"} {
		if _, err := s.FetchTileContent(context.Background(), ref); !errors.Is(err, transport.ErrNotFound) {
			t.Fatalf("ref %q: err=%v want ErrNotFound", ref, err)
		}
	}
}

func TestRegisteredAsFile(t *testing.T) {
	tr, err := transport.New("file", transport.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	if _, ok := tr.(*Store); !ok {
		t.Fatalf("driver=%T", tr)
	}
}
