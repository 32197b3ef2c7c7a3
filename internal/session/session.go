// Package session opens a streaming session over one tileset and exposes
// the evaluation trigger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/fetch"
	"github.com/mohammed-shakir/tilestream/internal/logger"
	"github.com/mohammed-shakir/tilestream/internal/render"
	"github.com/mohammed-shakir/tilestream/internal/scheduler"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
	"github.com/mohammed-shakir/tilestream/internal/viewpoint"
)

var (
	ErrTilesetFetch = errors.New("tileset fetch failed")
	ErrEmptyTileset = errors.New("tileset contains no points")
	ErrClosed       = errors.New("session closed")
)

type Config struct {
	Query            transport.Query
	RefineThreshold  float64
	Budget           int
	Concurrency      int
	TileFetchTimeout time.Duration
	// AutoEvaluate starts a round on this interval. Zero disables it.
	AutoEvaluate     time.Duration
	InitialViewpoint r3.Vector
}

type Deps struct {
	Logger    *slog.Logger
	Transport transport.Transport
	Renderer  render.Renderer
}

type Session struct {
	logger   *slog.Logger
	cfg      Config
	tileset  *tiles.Tileset
	resident *tiles.ResidentSet
	view     *viewpoint.Holder
	sched    *scheduler.Scheduler

	// loads run under ctx, not under the trigger's context
	ctx    context.Context
	cancel context.CancelFunc
	// wg counts the ticker and every round whose loads are still running.
	// mu orders wg.Add against Close.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open fetches the tileset and prepares an empty resident set. Any failure
// to retrieve or validate the tileset is returned wrapped in
// ErrTilesetFetch and no session is created.
func Open(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if deps.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	ctx = logger.WithTable(logger.WithComponent(ctx, "session"), cfg.Query.Table)

	start := time.Now()
	ts, err := deps.Transport.FetchTileset(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: table %q: %w", ErrTilesetFetch, cfg.Query.Table, err)
	}
	if ts == nil || ts.Len() == 0 {
		return nil, fmt.Errorf("%w: table %q: %w", ErrTilesetFetch, cfg.Query.Table, tiles.ErrEmptyHierarchy)
	}
	if ts.PointCount == 0 {
		return nil, fmt.Errorf("%w: table %q", ErrEmptyTileset, cfg.Query.Table)
	}

	rs := tiles.NewResidentSet()
	holder := viewpoint.NewHolder(cfg.InitialViewpoint)

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Budget
	}
	exec := fetch.New(l, deps.Transport, deps.Renderer, rs, ts.OriginOffset, fetch.Config{
		MaxConcurrent: concurrency,
		Timeout:       cfg.TileFetchTimeout,
	})
	sched, err := scheduler.New(l, ts, rs, holder, exec, scheduler.Config{
		Budget:          cfg.Budget,
		RefineThreshold: cfg.RefineThreshold,
	})
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		logger:   l,
		cfg:      cfg,
		tileset:  ts,
		resident: rs,
		view:     holder,
		sched:    sched,
		ctx:      sctx,
		cancel:   cancel,
	}
	observability.SetResidentTiles(0)
	observability.SetInFlightTiles(0)

	l.InfoContext(ctx, "session open",
		"crs", ts.CRS,
		"nodes", ts.Len(),
		"points", ts.PointCount,
		"origin", fmt.Sprintf("%.3f,%.3f,%.3f", ts.OriginOffset.X, ts.OriginOffset.Y, ts.OriginOffset.Z),
		"budget", sched.Budget(),
		"dur", time.Since(start).String())

	if cfg.AutoEvaluate > 0 {
		s.wg.Add(1)
		go s.autoEvaluate(cfg.AutoEvaluate)
	}
	return s, nil
}

// EvaluateAndLoad runs one evaluation round. It returns once the round's
// loads are dispatched; the Round reports their completion.
func (s *Session) EvaluateAndLoad() (*scheduler.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	r, err := s.sched.EvaluateAndLoad(s.ctx)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-r.Done()
	}()
	return r, nil
}

// Trigger starts a round and returns its id.
func (s *Session) Trigger(_ context.Context) (uint64, error) {
	r, err := s.EvaluateAndLoad()
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

func (s *Session) SetViewpoint(v r3.Vector) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.view.Set(v)
}

func (s *Session) Tileset() *tiles.Tileset { return s.tileset }

func (s *Session) Resident() *tiles.ResidentSet { return s.resident }

func (s *Session) Readiness() (bool, int) {
	if s.closed.Load() {
		return false, 0
	}
	return true, s.tileset.Len()
}

type Status struct {
	Table             string            `json:"table"`
	CRS               string            `json:"crs"`
	Nodes             int               `json:"nodes"`
	PointCount        int64             `json:"point_count"`
	Resident          int               `json:"resident"`
	InFlight          int               `json:"in_flight"`
	Budget            int               `json:"budget"`
	Viewpoint         [3]float64        `json:"viewpoint"`
	ViewpointRevision uint64            `json:"viewpoint_revision"`
	LastRound         *scheduler.Report `json:"last_round,omitempty"`
}

func (s *Session) Status() Status {
	vp := s.view.CurrentPosition()
	st := Status{
		Table:             s.tileset.Table,
		CRS:               s.tileset.CRS,
		Nodes:             s.tileset.Len(),
		PointCount:        s.tileset.PointCount,
		Resident:          s.resident.Len(),
		InFlight:          s.resident.InFlight(),
		Budget:            s.sched.Budget(),
		Viewpoint:         [3]float64{vp.X, vp.Y, vp.Z},
		ViewpointRevision: s.view.Revision(),
	}
	if r := s.sched.LastRound(); r != nil {
		rep := r.Report()
		st.LastRound = &rep
	}
	return st
}

// Close stops the ticker, cancels loads still in flight and waits until
// every dispatched load has returned, so no tile reaches the renderer after
// Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.logger.InfoContext(s.ctx, "session closed", "resident", s.resident.Len())
	return nil
}

// a tick is skipped while the previous round still has loads running
func (s *Session) autoEvaluate(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if r := s.sched.LastRound(); r != nil {
				select {
				case <-r.Done():
				default:
					s.logger.DebugContext(s.ctx, "auto evaluate skipped, round still loading", "round", r.ID)
					continue
				}
			}
			if _, err := s.EvaluateAndLoad(); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.WarnContext(s.ctx, "auto evaluate failed", "err", err)
			}
		}
	}
}
