// Package scheduler runs evaluation rounds: it ranks candidate tiles, picks
// the top of the list under a budget and dispatches their loads.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/fetch"
	"github.com/mohammed-shakir/tilestream/internal/logger"
	"github.com/mohammed-shakir/tilestream/internal/significance"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/traverse"
	"github.com/mohammed-shakir/tilestream/internal/viewpoint"
)

const DefaultBudget = 10

// SelectForLoad orders candidates by score, highest first, and keeps at most
// budget of them. Equal scores keep their traversal order.
func SelectForLoad(cands []traverse.Candidate, budget int) []traverse.Candidate {
	if budget <= 0 || len(cands) == 0 {
		return nil
	}
	out := make([]traverse.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > budget {
		out = out[:budget]
	}
	return out
}

// Dispatcher starts loads for nodes in order and closes the returned channel
// when all of them finished.
type Dispatcher interface {
	Dispatch(ctx context.Context, nodes []*tiles.Node, onDone func(fetch.Result)) <-chan struct{}
}

type Config struct {
	Budget          int
	RefineThreshold float64
}

type Scheduler struct {
	logger    *slog.Logger
	tileset   *tiles.Tileset
	resident  *tiles.ResidentSet
	view      viewpoint.Provider
	exec      Dispatcher
	est       significance.Estimator
	budget    int
	seq       atomic.Uint64
	lastRound atomic.Pointer[Round]
}

func New(l *slog.Logger, ts *tiles.Tileset, rs *tiles.ResidentSet, vp viewpoint.Provider, exec Dispatcher, cfg Config) (*Scheduler, error) {
	if ts == nil || rs == nil || vp == nil || exec == nil {
		return nil, errors.New("scheduler: tileset, resident set, viewpoint and dispatcher are required")
	}
	if l == nil {
		l = slog.Default()
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Scheduler{
		logger:   l,
		tileset:  ts,
		resident: rs,
		view:     vp,
		exec:     exec,
		est:      significance.New(cfg.RefineThreshold),
		budget:   budget,
	}, nil
}

func (s *Scheduler) Budget() int { return s.budget }

// LastRound returns the most recently started round, or nil.
func (s *Scheduler) LastRound() *Round { return s.lastRound.Load() }

// EvaluateAndLoad samples the viewpoint once, ranks the tiles that are
// neither resident nor in flight, and dispatches up to budget loads. It
// returns as soon as the loads are started; ctx governs the loads
// themselves.
func (s *Scheduler) EvaluateAndLoad(ctx context.Context) (*Round, error) {
	start := time.Now()
	id := s.seq.Add(1)
	ctx = logger.WithRoundID(ctx, strconv.FormatUint(id, 10))

	vp := s.view.CurrentPosition()
	cands, st, err := traverse.CollectCandidates(s.tileset, vp, s.resident, s.est)
	if err != nil {
		return nil, fmt.Errorf("round %d traverse: %w", id, err)
	}
	selected := SelectForLoad(cands, s.budget)

	// re-check at dispatch time: another round may have claimed a tile
	// between traversal and now
	dispatch := make([]*tiles.Node, 0, len(selected))
	skipped := 0
	for _, c := range selected {
		if !s.resident.TryAcquire(c.Node.ID) {
			skipped++
			continue
		}
		dispatch = append(dispatch, c.Node)
	}

	r := newRound(id, vp, len(cands), selected, dispatch, skipped, start)
	s.lastRound.Store(r)
	observability.SetInFlightTiles(s.resident.InFlight())
	observability.ObserveRoundSelection(st.Visited, len(cands), len(dispatch))

	s.logger.InfoContext(ctx, "round dispatched",
		"viewpoint", formatVec(vp),
		"visited", st.Visited,
		"refined", st.Refined,
		"candidates", len(cands),
		"selected", len(selected),
		"dispatched", len(dispatch),
		"skipped", skipped,
		"budget", s.budget)

	done := s.exec.Dispatch(ctx, dispatch, func(res fetch.Result) {
		r.record(res)
		observability.SetResidentTiles(s.resident.Len())
		observability.SetInFlightTiles(s.resident.InFlight())
	})

	go func() {
		<-done
		r.finish()
		rep := r.Report()
		observability.ObserveRound(rep.Duration.Seconds(), len(rep.Failed))
		s.logger.InfoContext(ctx, "round complete",
			"loaded", len(rep.Loaded),
			"failed", len(rep.Failed),
			"resident", s.resident.Len(),
			"dur", rep.Duration.String())
	}()
	return r, nil
}

func formatVec(v r3.Vector) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f", v.X, v.Y, v.Z)
}
