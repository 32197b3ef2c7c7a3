// Package httptransport fetches tilesets and tile content from the tile
// server's HTTP API.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/tilestream/internal/core/httpclient"
	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

const (
	// OffsetHeader carries the content's embedded offset as "x,y,z".
	OffsetHeader = "X-Tile-Offset"

	maxTilesetBytes = 64 << 20
	maxContentBytes = 256 << 20
)

var errNoTileset = errors.New("tile content requested before the tileset was fetched")

func init() {
	transport.Register("http", func(opts transport.Options) (transport.Transport, error) {
		return New(opts)
	})
}

type Client struct {
	logger   *slog.Logger
	hc       *http.Client
	base     *url.URL
	apiKey   string
	maxNodes int
	dec      *zstd.Decoder
	now      func() time.Time

	mu    sync.RWMutex
	query transport.Query
	ready bool
}

func New(opts transport.Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("http transport: base url is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpclient.NewOutbound(httpclient.Options{})
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:   logger,
		hc:       hc,
		base:     u,
		apiKey:   opts.APIKey,
		maxNodes: opts.MaxNodes,
		dec:      dec,
		now:      time.Now,
	}, nil
}

func (c *Client) Close() error {
	c.dec.Close()
	return nil
}

// FetchTileset requests the tileset document for q, validates it against
// the tileset schema and builds the arena. Content requests made afterwards
// carry the same table and filters.
func (c *Client) FetchTileset(ctx context.Context, q transport.Query) (*tiles.Tileset, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	u := c.endpoint("v1", "tables", q.Table, "tileset")
	u.RawQuery = q.Values().Encode()

	body, _, err := c.get(ctx, "tileset", u, "application/json", maxTilesetBytes)
	if err != nil {
		return nil, err
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode tileset: %w", err)
	}
	if err := tilesetSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("tileset schema: %w", err)
	}
	var doc transport.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode tileset: %w", err)
	}
	ts, err := doc.Tileset(q, c.maxNodes)
	if err != nil {
		return nil, fmt.Errorf("build tileset: %w", err)
	}

	c.mu.Lock()
	c.query, c.ready = q, true
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "tileset fetched", "table", ts.Table, "nodes", ts.Len(), "bytes", len(body))
	return ts, nil
}

func (c *Client) FetchTileContent(ctx context.Context, ref string) (transport.RawContent, error) {
	c.mu.RLock()
	q, ready := c.query, c.ready
	c.mu.RUnlock()
	if !ready {
		return transport.RawContent{}, errNoTileset
	}

	u := c.endpoint("v1", "tables", q.Table, "content", ref)
	u.RawQuery = q.Values().Encode()

	body, hdr, err := c.get(ctx, "content", u, "application/octet-stream", maxContentBytes)
	if err != nil {
		return transport.RawContent{}, err
	}
	off, err := parseOffset(hdr.Get(OffsetHeader))
	if err != nil {
		return transport.RawContent{}, fmt.Errorf("content %q: %w", ref, err)
	}
	return transport.RawContent{Geometry: body, Offset: off}, nil
}

func (c *Client) endpoint(segs ...string) *url.URL {
	u := *c.base
	escaped := make([]string, 0, len(segs))
	for _, s := range segs {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.Path = c.base.Path + "/" + strings.Join(segs, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	return &u
}

func (c *Client) get(ctx context.Context, upstream string, u *url.URL, accept string, limit int64) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", "zstd")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := c.now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())

	if err := statusError(resp); err != nil {
		return nil, nil, err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, nil, fmt.Errorf("%s body exceeds %d bytes", upstream, limit)
	}

	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "zstd":
		b, err = c.dec.DecodeAll(b, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decode: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
	return b, resp.Header, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(bytes.ToValidUTF8(b, nil)))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", transport.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", transport.ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, msg)
	}
}

// parseOffset reads "x,y,z". A missing header means the content is already
// in tileset coordinates.
func parseOffset(s string) (r3.Vector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return r3.Vector{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vector{}, fmt.Errorf("%s %q: want x,y,z", OffsetHeader, s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vector{}, fmt.Errorf("%s %q: %w", OffsetHeader, s, err)
		}
		vals[i] = f
	}
	return tiles.VectorFromSlice(vals)
}
