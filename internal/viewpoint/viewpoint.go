// Package viewpoint supplies the camera position sampled by each evaluation
// round.
package viewpoint

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
)

type Provider interface {
	CurrentPosition() r3.Vector
}

type Func func() r3.Vector

func (f Func) CurrentPosition() r3.Vector { return f() }

// Holder is a Provider whose position is pushed by an external source.
type Holder struct {
	mu  sync.RWMutex
	pos r3.Vector
	rev uint64
}

func NewHolder(initial r3.Vector) *Holder {
	return &Holder{pos: initial}
}

func (h *Holder) CurrentPosition() r3.Vector {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pos
}

// Set replaces the position and returns the new revision.
func (h *Holder) Set(v r3.Vector) (uint64, error) {
	if !finite(v) {
		return 0, errors.New("viewpoint must be finite")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = v
	h.rev++
	return h.rev, nil
}

func (h *Holder) Revision() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rev
}

func finite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Parse reads "x,y,z".
func Parse(s string) (r3.Vector, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return r3.Vector{}, fmt.Errorf("expected 3 comma-separated values x,y,z, got %q", s)
	}
	var c [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vector{}, fmt.Errorf("component %d: %w", i, err)
		}
		c[i] = f
	}
	v := r3.Vector{X: c[0], Y: c[1], Z: c[2]}
	if !finite(v) {
		return r3.Vector{}, errors.New("viewpoint must be finite")
	}
	return v, nil
}
