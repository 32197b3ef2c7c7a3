package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/fetch"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/traverse"
)

// Round is the handle for one evaluation round. Its loads complete
// independently; Wait joins them.
type Round struct {
	ID         uint64
	Viewpoint  r3.Vector
	Candidates int
	Selected   []traverse.Candidate
	Dispatched []*tiles.Node
	Skipped    int

	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	loaded   []string
	failed   []Failure
	finished time.Time
}

type Failure struct {
	ID    string `json:"id"`
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

type Report struct {
	RoundID    uint64        `json:"round_id"`
	Viewpoint  [3]float64    `json:"viewpoint"`
	Candidates int           `json:"candidates"`
	Selected   []string      `json:"selected"`
	Dispatched int           `json:"dispatched"`
	Skipped    int           `json:"skipped"`
	Loaded     []string      `json:"loaded"`
	Failed     []Failure     `json:"failed"`
	Complete   bool          `json:"complete"`
	Duration   time.Duration `json:"duration_ns"`
}

func newRound(id uint64, vp r3.Vector, ncand int, sel []traverse.Candidate, dispatch []*tiles.Node, skipped int, start time.Time) *Round {
	return &Round{
		ID:         id,
		Viewpoint:  vp,
		Candidates: ncand,
		Selected:   sel,
		Dispatched: dispatch,
		Skipped:    skipped,
		started:    start,
		done:       make(chan struct{}),
	}
}

func (r *Round) record(res fetch.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Err != nil {
		r.failed = append(r.failed, Failure{ID: res.Node.ID, Ref: res.Node.ContentRef, Error: res.Err.Error()})
		return
	}
	r.loaded = append(r.loaded, res.Node.ID)
}

func (r *Round) finish() {
	r.mu.Lock()
	r.finished = time.Now()
	r.mu.Unlock()
	close(r.done)
}

// Done is closed once every dispatched load has completed or failed.
func (r *Round) Done() <-chan struct{} { return r.done }

func (r *Round) Wait(ctx context.Context) (Report, error) {
	select {
	case <-r.done:
		return r.Report(), nil
	case <-ctx.Done():
		return r.Report(), fmt.Errorf("wait round %d: %w", r.ID, ctx.Err())
	}
}

// Report snapshots the round. Before Done it reflects loads finished so far.
func (r *Round) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	sel := make([]string, 0, len(r.Selected))
	for _, c := range r.Selected {
		sel = append(sel, c.Node.ID)
	}
	rep := Report{
		RoundID:    r.ID,
		Viewpoint:  [3]float64{r.Viewpoint.X, r.Viewpoint.Y, r.Viewpoint.Z},
		Candidates: r.Candidates,
		Selected:   sel,
		Dispatched: len(r.Dispatched),
		Skipped:    r.Skipped,
		Loaded:     append([]string(nil), r.loaded...),
		Failed:     append([]Failure(nil), r.failed...),
		Complete:   !r.finished.IsZero(),
	}
	if rep.Complete {
		rep.Duration = r.finished.Sub(r.started)
	} else {
		rep.Duration = time.Since(r.started)
	}
	return rep
}
