// Package render defines the sink loaded tiles are handed to.
package render

import (
	"log/slog"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

// LoadedTile is a fetched tile whose offset has been moved into the
// tileset's shared frame.
type LoadedTile struct {
	ID          string
	ContentRef  string
	Depth       int
	Region      tiles.Region
	Geometry    []byte
	LocalOffset r3.Vector
}

type Renderer interface {
	AddTile(t LoadedTile)
}

type Func func(t LoadedTile)

func (f Func) AddTile(t LoadedTile) { f(t) }

// Multi hands each tile to every sink in order.
type Multi []Renderer

func (m Multi) AddTile(t LoadedTile) {
	for _, r := range m {
		if r != nil {
			r.AddTile(t)
		}
	}
}

type logSink struct {
	logger *slog.Logger
}

func NewLogSink(l *slog.Logger) Renderer {
	return &logSink{logger: l}
}

func (s *logSink) AddTile(t LoadedTile) {
	s.logger.Debug("tile added",
		"tile_id", t.ID,
		"depth", t.Depth,
		"bytes", len(t.Geometry),
		"offset_x", t.LocalOffset.X,
		"offset_y", t.LocalOffset.Y,
		"offset_z", t.LocalOffset.Z)
}

// Recorder keeps every tile it receives. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	tiles []LoadedTile
}

func (r *Recorder) AddTile(t LoadedTile) {
	r.mu.Lock()
	r.tiles = append(r.tiles, t)
	r.mu.Unlock()
}

func (r *Recorder) Tiles() []LoadedTile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LoadedTile, len(r.tiles))
	copy(out, r.tiles)
	return out
}
