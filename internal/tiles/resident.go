package tiles

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const numShards = 32

type state uint8

const (
	inFlight state = iota + 1
	resident
)

// ResidentSet tracks tiles fetched this session and tiles whose fetch has
// been dispatched but not finished. Both live under the same shard lock so a
// check and a mark are a single atomic step.
type ResidentSet struct {
	shards [numShards]residentShard
}

type residentShard struct {
	mu sync.RWMutex
	m  map[string]state
}

func NewResidentSet() *ResidentSet {
	s := &ResidentSet{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]state)
	}
	return s
}

func (s *ResidentSet) pick(id string) *residentShard {
	h := xxhash.Sum64String(id)
	return &s.shards[h&(numShards-1)]
}

// Contains reports whether id has been fetched successfully.
func (s *ResidentSet) Contains(id string) bool {
	sh := s.pick(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.m[id] == resident
}

// Pending reports whether id is resident or currently being fetched.
func (s *ResidentSet) Pending(id string) bool {
	sh := s.pick(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.m[id]
	return ok
}

// TryAcquire marks id in flight unless it is already resident or in flight.
func (s *ResidentSet) TryAcquire(id string) bool {
	sh := s.pick(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.m[id]; ok {
		return false
	}
	sh.m[id] = inFlight
	return true
}

// MarkResident records a successful fetch. Repeated calls are no-ops.
func (s *ResidentSet) MarkResident(id string) {
	sh := s.pick(id)
	sh.mu.Lock()
	sh.m[id] = resident
	sh.mu.Unlock()
}

// Release clears an in-flight mark after a failed fetch. Resident ids are
// left untouched.
func (s *ResidentSet) Release(id string) {
	sh := s.pick(id)
	sh.mu.Lock()
	if sh.m[id] == inFlight {
		delete(sh.m, id)
	}
	sh.mu.Unlock()
}

func (s *ResidentSet) Len() int {
	return s.count(resident)
}

func (s *ResidentSet) InFlight() int {
	return s.count(inFlight)
}

func (s *ResidentSet) count(want state) int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, st := range sh.m {
			if st == want {
				total++
			}
		}
		sh.mu.RUnlock()
	}
	return total
}

// IDs returns the resident ids in lexical order.
func (s *ResidentSet) IDs() []string {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, st := range sh.m {
			if st == resident {
				out = append(out, id)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}
