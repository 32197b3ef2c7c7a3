// Package filetransport serves tilesets from a directory tree:
//
//	<dir>/<table>/tileset.yaml (or .yml, .json)
//	<dir>/<table>/content/<ref>
//	<dir>/<table>/content/<ref>.offset.yaml   optional, "offset: [x, y, z]"
//
// Point filters cannot be applied to pre-built files and are ignored.
package filetransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

const offsetSuffix = ".offset.yaml"

var tilesetNames = []string{"tileset.yaml", "tileset.yml", "tileset.json"}

func init() {
	transport.Register("file", func(opts transport.Options) (transport.Transport, error) {
		return New(opts)
	})
}

type Store struct {
	logger   *slog.Logger
	dir      string
	maxNodes int

	mu    sync.RWMutex
	table string
}

func New(opts transport.Options) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("file transport: directory is required")
	}
	st, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("file transport: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("file transport: %s is not a directory", opts.Dir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, dir: opts.Dir, maxNodes: opts.MaxNodes}, nil
}

func (s *Store) FetchTileset(ctx context.Context, q transport.Query) (*tiles.Tileset, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	if !filepath.IsLocal(q.Table) {
		return nil, fmt.Errorf("table %q: %w", q.Table, transport.ErrNotFound)
	}
	if len(q.Filters.Classes) > 0 || len(q.Filters.SourceFiles) > 0 || q.Filters.MaxDensity > 0 || q.MaxPoints > 0 || q.Boundary != nil {
		s.logger.DebugContext(ctx, "file transport ignores point filters", "table", q.Table)
	}

	var doc transport.Document
	path, err := s.readTileset(q.Table, &doc)
	if err != nil {
		return nil, err
	}
	ts, err := doc.Tileset(q, s.maxNodes)
	if err != nil {
		return nil, fmt.Errorf("build tileset from %s: %w", path, err)
	}

	s.mu.Lock()
	s.table = q.Table
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "tileset loaded", "path", path, "nodes", ts.Len())
	return ts, nil
}

func (s *Store) readTileset(table string, doc *transport.Document) (string, error) {
	for _, name := range tilesetNames {
		path := filepath.Join(s.dir, table, name)
		b, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return path, fmt.Errorf("read %s: %w", path, err)
		}
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(b, doc)
		} else {
			err = yaml.Unmarshal(b, doc)
		}
		if err != nil {
			return path, fmt.Errorf("decode %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("tileset for table %q: %w", table, transport.ErrNotFound)
}

func (s *Store) FetchTileContent(ctx context.Context, ref string) (transport.RawContent, error) {
	if err := ctx.Err(); err != nil {
		return transport.RawContent{}, err
	}
	s.mu.RLock()
	table := s.table
	s.mu.RUnlock()
	if table == "" {
		return transport.RawContent{}, errors.New("tile content requested before the tileset was loaded")
	}
	if !filepath.IsLocal(ref) {
		return transport.RawContent{}, fmt.Errorf("content %q escapes the tileset directory: %w", ref, transport.ErrNotFound)
	}

	path := filepath.Join(s.dir, table, "content", ref)
	geom, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return transport.RawContent{}, fmt.Errorf("content %q: %w", ref, transport.ErrNotFound)
	}
	if err != nil {
		return transport.RawContent{}, fmt.Errorf("read %s: %w", path, err)
	}

	off, err := readOffset(path + offsetSuffix)
	if err != nil {
		return transport.RawContent{}, err
	}
	return transport.RawContent{Geometry: geom, Offset: off}, nil
}

func readOffset(path string) (r3.Vector, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r3.Vector{}, nil
	}
	if err != nil {
		return r3.Vector{}, fmt.Errorf("read %s: %w", path, err)
	}
	var side struct {
		Offset []float64 `yaml:"offset"`
	}
	if err := yaml.Unmarshal(b, &side); err != nil {
		return r3.Vector{}, fmt.Errorf("decode %s: %w", path, err)
	}
	v, err := tiles.VectorFromSlice(side.Offset)
	if err != nil {
		return r3.Vector{}, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
