package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/scheduler"
	"github.com/mohammed-shakir/tilestream/internal/session"
	"github.com/mohammed-shakir/tilestream/internal/viewpoint"
)

const maxBody = 4 << 10

// Controller is the session surface exposed over HTTP.
type Controller interface {
	EvaluateAndLoad() (*scheduler.Round, error)
	SetViewpoint(v r3.Vector) (uint64, error)
	Status() session.Status
}

type evaluateResponse struct {
	RoundID    uint64   `json:"round_id"`
	Candidates int      `json:"candidates"`
	Selected   []string `json:"selected"`
	Dispatched int      `json:"dispatched"`
	Skipped    int      `json:"skipped"`
}

// starts a round; with wait=true it blocks until the round's loads finish
// and returns the full report
func HandleEvaluate(logger *slog.Logger, c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wait, err := parseWait(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		round, err := c.EvaluateAndLoad()
		if err != nil {
			writeControllerError(w, err)
			logger.ErrorContext(r.Context(), "evaluate failed", "err", err)
			return
		}

		if !wait {
			rep := round.Report()
			writeJSON(w, http.StatusAccepted, evaluateResponse{
				RoundID:    rep.RoundID,
				Candidates: rep.Candidates,
				Selected:   rep.Selected,
				Dispatched: rep.Dispatched,
				Skipped:    rep.Skipped,
			})
			return
		}

		rep, err := round.Wait(r.Context())
		if err != nil {
			// client went away; the round keeps loading
			logger.WarnContext(r.Context(), "evaluate wait aborted", "round", round.ID, "err", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func HandleViewpoint(logger *slog.Logger, c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := ParseViewpointRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rev, err := c.SetViewpoint(v)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		logger.DebugContext(r.Context(), "viewpoint set", "revision", rev)
		writeJSON(w, http.StatusOK, map[string]any{
			"revision": rev,
			"position": [3]float64{v.X, v.Y, v.Z},
		})
	}
}

func HandleStatus(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Status())
	}
}

// ParseViewpointRequest accepts ?position=x,y,z or a JSON body
// {"position":[x,y,z]}. The query parameter wins when both are present.
func ParseViewpointRequest(r *http.Request) (r3.Vector, error) {
	if raw := strings.TrimSpace(r.URL.Query().Get("position")); raw != "" {
		v, err := viewpoint.Parse(raw)
		if err != nil {
			return r3.Vector{}, fmt.Errorf("invalid position: %w", err)
		}
		return v, nil
	}
	if r.Body == nil {
		return r3.Vector{}, errors.New("missing position")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return r3.Vector{}, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBody {
		return r3.Vector{}, errors.New("body too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return r3.Vector{}, errors.New("missing position")
	}

	var req struct {
		Position []float64 `json:"position"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return r3.Vector{}, fmt.Errorf("parse json: %w", err)
	}
	if len(req.Position) != 3 {
		return r3.Vector{}, fmt.Errorf("position must have 3 components, got %d", len(req.Position))
	}
	parts := make([]string, 3)
	for i, f := range req.Position {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	v, err := viewpoint.Parse(strings.Join(parts, ","))
	if err != nil {
		return r3.Vector{}, fmt.Errorf("invalid position: %w", err)
	}
	return v, nil
}

func parseWait(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("wait"))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid wait: %q", raw)
	}
	return b, nil
}

func writeControllerError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrClosed) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
