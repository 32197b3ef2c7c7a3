// Package contentcache puts a read-through cache in front of a transport's
// tile content: an in-process LRU tier and an optional remote tier shared
// between controller instances.
package contentcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/tilestream/internal/cache/keys"
	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

// Remote is the shared tier, satisfied by *redisstore.Client.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Config struct {
	// Size is the LRU capacity in tiles. Zero or less disables the tier.
	Size      int
	TTL       time.Duration
	OpTimeout time.Duration
}

type Cache struct {
	logger *slog.Logger
	next   transport.Transport
	local  *lru.Cache[string, transport.RawContent]
	remote Remote
	cfg    Config

	mu    sync.RWMutex
	table string
	crs   string
	scope string
}

// New wraps next. remote may be nil.
func New(logger *slog.Logger, next transport.Transport, remote Remote, cfg Config) (*Cache, error) {
	if next == nil {
		return nil, errors.New("contentcache: transport is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	c := &Cache{logger: logger, next: next, remote: remote, cfg: cfg}
	if cfg.Size > 0 {
		l, err := lru.New[string, transport.RawContent](cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("contentcache: %w", err)
		}
		c.local = l
	}
	return c, nil
}

func (c *Cache) FetchTileset(ctx context.Context, q transport.Query) (*tiles.Tileset, error) {
	ts, err := c.next.FetchTileset(ctx, q)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.table, c.crs, c.scope = ts.Table, ts.CRS, q.Values().Encode()
	c.mu.Unlock()
	return ts, nil
}

func (c *Cache) FetchTileContent(ctx context.Context, ref string) (transport.RawContent, error) {
	key := c.key(ref)

	if c.local != nil {
		if rc, ok := c.local.Get(key); ok {
			observability.IncContentCache("lru", "hit")
			return rc, nil
		}
		observability.IncContentCache("lru", "miss")
	}

	if rc, ok := c.getRemote(ctx, key); ok {
		if c.local != nil {
			c.local.Add(key, rc)
		}
		return rc, nil
	}

	rc, err := c.next.FetchTileContent(ctx, ref)
	if err != nil {
		return transport.RawContent{}, err
	}
	if c.local != nil {
		c.local.Add(key, rc)
	}
	c.setRemote(ctx, key, rc)
	return rc, nil
}

// Close closes the wrapped transport when it holds resources.
func (c *Cache) Close() error {
	if cl, ok := c.next.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

func (c *Cache) key(ref string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return keys.Content(c.table, c.crs, c.scope, ref)
}

// remote failures degrade to a miss; the upstream fetch still decides the
// outcome of the load
func (c *Cache) getRemote(ctx context.Context, key string) (transport.RawContent, bool) {
	if c.remote == nil {
		return transport.RawContent{}, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	b, found, err := c.remote.Get(opCtx, key)
	if err != nil {
		observability.IncContentCache("redis", "error")
		c.logger.WarnContext(ctx, "content cache get failed", "key", key, "err", err)
		return transport.RawContent{}, false
	}
	if !found {
		observability.IncContentCache("redis", "miss")
		return transport.RawContent{}, false
	}
	rc, err := decode(b)
	if err != nil {
		observability.IncContentCache("redis", "error")
		c.logger.WarnContext(ctx, "content cache entry unreadable", "key", key, "err", err)
		return transport.RawContent{}, false
	}
	observability.IncContentCache("redis", "hit")
	return rc, true
}

func (c *Cache) setRemote(ctx context.Context, key string, rc transport.RawContent) {
	if c.remote == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OpTimeout)
	defer cancel()
	if err := c.remote.Set(opCtx, key, encode(rc), c.cfg.TTL); err != nil {
		c.logger.WarnContext(ctx, "content cache set failed", "key", key, "err", err)
	}
}

var magic = [4]byte{'T', 'S', 'C', '1'}

const headerLen = 4 + 3*8

// entry layout: magic, offset x/y/z as little-endian float64 bits, geometry
func encode(rc transport.RawContent) []byte {
	out := make([]byte, headerLen+len(rc.Geometry))
	copy(out, magic[:])
	binary.LittleEndian.PutUint64(out[4:], math.Float64bits(rc.Offset.X))
	binary.LittleEndian.PutUint64(out[12:], math.Float64bits(rc.Offset.Y))
	binary.LittleEndian.PutUint64(out[20:], math.Float64bits(rc.Offset.Z))
	copy(out[headerLen:], rc.Geometry)
	return out
}

func decode(b []byte) (transport.RawContent, error) {
	if len(b) < headerLen || [4]byte(b[:4]) != magic {
		return transport.RawContent{}, errors.New("bad cache entry header")
	}
	off := r3.Vector{
		X: math.Float64frombits(binary.LittleEndian.Uint64(b[4:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(b[12:])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(b[20:])),
	}
	geom := make([]byte, len(b)-headerLen)
	copy(geom, b[headerLen:])
	return transport.RawContent{Geometry: geom, Offset: off}, nil
}
