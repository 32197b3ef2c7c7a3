// Package fetch loads tile content concurrently and records which tiles
// became resident.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/render"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

// TileError is a content failure for a single tile.
type TileError struct {
	ID  string
	Ref string
	Err error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s (%s): %v", e.ID, e.Ref, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }

type Result struct {
	Node     *tiles.Node
	Tile     render.LoadedTile
	Err      error
	Duration time.Duration
}

type Config struct {
	// MaxConcurrent caps simultaneous loads per dispatch. Zero means one
	// worker per tile.
	MaxConcurrent int
	// Timeout bounds each tile fetch. Zero disables it.
	Timeout time.Duration
}

type Executor struct {
	logger   *slog.Logger
	fetcher  transport.ContentFetcher
	renderer render.Renderer
	resident *tiles.ResidentSet
	origin   r3.Vector
	cfg      Config
	now      func() time.Time
}

func New(logger *slog.Logger, f transport.ContentFetcher, r render.Renderer, rs *tiles.ResidentSet, origin r3.Vector, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = render.Multi(nil)
	}
	return &Executor{
		logger:   logger,
		fetcher:  f,
		renderer: r,
		resident: rs,
		origin:   origin,
		cfg:      cfg,
		now:      time.Now,
	}
}

// LoadTile fetches one tile, moves its offset into the shared frame, marks it
// resident and hands it to the renderer. On failure the tile's in-flight mark
// is cleared and the resident set is left as it was.
func (e *Executor) LoadTile(ctx context.Context, n *tiles.Node) (render.LoadedTile, error) {
	start := e.now()
	lt, err := e.fetch(ctx, n)
	dur := time.Since(start)
	if err != nil {
		e.resident.Release(n.ID)
		observability.ObserveTileLoad(loadOutcome(err), dur.Seconds())
		return render.LoadedTile{}, &TileError{ID: n.ID, Ref: n.ContentRef, Err: err}
	}

	e.resident.MarkResident(n.ID)
	observability.ObserveTileLoad("ok", dur.Seconds())
	e.renderer.AddTile(lt)
	return lt, nil
}

func (e *Executor) fetch(ctx context.Context, n *tiles.Node) (render.LoadedTile, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	raw, err := e.fetcher.FetchTileContent(ctx, n.ContentRef)
	if err != nil {
		return render.LoadedTile{}, err
	}
	return render.LoadedTile{
		ID:          n.ID,
		ContentRef:  n.ContentRef,
		Depth:       n.Depth,
		Region:      n.Region,
		Geometry:    raw.Geometry,
		LocalOffset: raw.Offset.Sub(e.origin),
	}, nil
}

// Dispatch starts loading nodes, taking them in the given order, and returns
// a channel closed once every load has finished. onDone is called from the
// worker goroutines as each load completes, so it must be safe for
// concurrent use.
func (e *Executor) Dispatch(ctx context.Context, nodes []*tiles.Node, onDone func(Result)) <-chan struct{} {
	done := make(chan struct{})
	if len(nodes) == 0 {
		close(done)
		return done
	}

	workerN := e.cfg.MaxConcurrent
	if workerN <= 0 || workerN > len(nodes) {
		workerN = len(nodes)
	}

	jobs := make(chan *tiles.Node, len(nodes))
	for _, n := range nodes {
		jobs <- n
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for n := range jobs {
				start := e.now()
				lt, err := e.LoadTile(ctx, n)
				res := Result{Node: n, Tile: lt, Err: err, Duration: time.Since(start)}
				if err != nil {
					e.logger.WarnContext(ctx, "tile load failed", "tile_id", n.ID, "ref", n.ContentRef, "err", err)
				} else {
					e.logger.DebugContext(ctx, "tile loaded", "tile_id", n.ID, "bytes", len(lt.Geometry), "dur", res.Duration.String())
				}
				if onDone != nil {
					onDone(res)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func loadOutcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, transport.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
