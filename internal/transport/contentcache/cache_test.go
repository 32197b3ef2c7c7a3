package contentcache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/cache/redisstore"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

type countingTransport struct {
	calls atomic.Int32
	fail  bool
}

func (t *countingTransport) FetchTileset(context.Context, transport.Query) (*tiles.Tileset, error) {
	return tiles.Build(&tiles.NodeSpec{ID: "r", Region: tiles.Region{0, 0, 1, 1, 0, 1}, GeometricError: 1, ContentRef: "r"},
		r3.Vector{}, tiles.BuildOptions{Table: "turku", CRS: "EPSG:3857"})
}

func (t *countingTransport) FetchTileContent(_ context.Context, ref string) (transport.RawContent, error) {
	t.calls.Add(1)
	if t.fail {
		return transport.RawContent{}, transport.ErrNotFound
	}
	return transport.RawContent{Geometry: []byte("geom:" + ref), Offset: r3.Vector{X: 1.5, Y: -2, Z: 3}}, nil
}

var discard = slog.New(slog.DiscardHandler)

func openTileset(t *testing.T, c *Cache) {
	t.Helper()
	if _, err := c.FetchTileset(context.Background(), transport.Query{Table: "turku", OutputCRS: "EPSG:3857"}); err != nil {
		t.Fatalf("FetchTileset: %v", err)
	}
}

func TestLRU_ServesRepeatFetches(t *testing.T) {
	next := &countingTransport{}
	c, err := New(discard, next, nil, Config{Size: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	openTileset(t, c)

	for range 3 {
		rc, err := c.FetchTileContent(context.Background(), "a")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if string(rc.Geometry) != "geom:a" || rc.Offset.X != 1.5 {
			t.Fatalf("rc=%+v", rc)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("upstream calls=%d want 1", n)
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	next := &countingTransport{fail: true}
	c, _ := New(discard, next, nil, Config{Size: 8})
	openTileset(t, c)

	for range 2 {
		if _, err := c.FetchTileContent(context.Background(), "a"); !errors.Is(err, transport.ErrNotFound) {
			t.Fatalf("err=%v", err)
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("upstream calls=%d want 2", n)
	}
}

func newRedis(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRemoteTier_SharedBetweenInstances(t *testing.T) {
	rc, mr := newRedis(t)

	first := &countingTransport{}
	a, _ := New(discard, first, rc, Config{Size: 4, TTL: time.Minute})
	openTileset(t, a)
	if _, err := a.FetchTileContent(context.Background(), "x"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("redis keys=%v", mr.Keys())
	}

	second := &countingTransport{}
	b, _ := New(discard, second, rc, Config{Size: 4, TTL: time.Minute})
	openTileset(t, b)
	got, err := b.FetchTileContent(context.Background(), "x")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if second.calls.Load() != 0 {
		t.Fatalf("second instance went upstream")
	}
	if string(got.Geometry) != "geom:x" || got.Offset != (r3.Vector{X: 1.5, Y: -2, Z: 3}) {
		t.Fatalf("decoded=%+v", got)
	}
}

func TestRemoteTier_CorruptEntryFallsThrough(t *testing.T) {
	rc, mr := newRedis(t)
	next := &countingTransport{}
	c, _ := New(discard, next, rc, Config{TTL: time.Minute})
	openTileset(t, c)

	key := c.key("x")
	if err := mr.Set(key, "garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.FetchTileContent(context.Background(), "x"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if next.calls.Load() != 1 {
		t.Fatalf("expected upstream fetch after corrupt entry")
	}
}

func TestRemoteTier_DownDegradesToUpstream(t *testing.T) {
	rc, mr := newRedis(t)
	next := &countingTransport{}
	c, _ := New(discard, next, rc, Config{TTL: time.Minute, OpTimeout: 50 * time.Millisecond})
	openTileset(t, c)

	mr.Close()
	if _, err := c.FetchTileContent(context.Background(), "x"); err != nil {
		t.Fatalf("fetch with redis down: %v", err)
	}
	if next.calls.Load() != 1 {
		t.Fatalf("upstream calls=%d want 1", next.calls.Load())
	}
}

func TestEncodeDecode(t *testing.T) {
	in := transport.RawContent{Geometry: []byte{1, 2, 3}, Offset: r3.Vector{X: 1e9, Y: -0.25, Z: 7}}
	out, err := decode(encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Geometry) != string(in.Geometry) || out.Offset != in.Offset {
		t.Fatalf("out=%+v", out)
	}
	if _, err := decode([]byte("TSC1")); err == nil {
		t.Fatal("short entry should fail")
	}
}
