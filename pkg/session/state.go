package session

import (
	"sort"
	"sync"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
)

// State holds the diffs measured by a session, by feature. A feature
// measured by several experiments has one diff per experiment.
type State struct {
	mu    sync.Mutex
	diffs map[fuzzer.FeatureID][]bitdiff.Diff
}

// NewState returns an empty state.
func NewState() *State {
	return &State{diffs: make(map[fuzzer.FeatureID][]bitdiff.Diff)}
}

// Add records a diff for id.
func (s *State) Add(id fuzzer.FeatureID, d bitdiff.Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffs[id] = append(s.diffs[id], d.Clone())
}

// Diffs returns copies of the diffs recorded for id.
func (s *State) Diffs(id fuzzer.FeatureID) []bitdiff.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.diffs[id]
	out := make([]bitdiff.Diff, len(src))
	for i, d := range src {
		out[i] = d.Clone()
	}
	return out
}

// IDs returns every recorded feature in sorted order.
func (s *State) IDs() []fuzzer.FeatureID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fuzzer.FeatureID, 0, len(s.diffs))
	for id := range s.diffs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Len returns the number of recorded features.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diffs)
}
