package monitor

import (
	"sort"
	"sync"
)

// stats is a fixed-size ring of recent raw level samples, written by the
// sampling loop and read by calibration queries.
type stats struct {
	mu      sync.Mutex
	samples []float64
	next    int
	filled  bool
}

func newStats(capacity int) *stats {
	return &stats{samples: make([]float64, capacity)}
}

func (s *stats) add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[s.next] = v
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.filled = true
	}
}

// snapshot returns a copy of the recorded samples, oldest ordering not
// preserved.
func (s *stats) snapshot() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	if s.filled {
		n = len(s.samples)
	}
	out := make([]float64, n)
	copy(out, s.samples[:n])
	return out
}

// LevelStats summarizes the recent raw capture levels.
type LevelStats struct {
	// Samples is how many readings the summary covers.
	Samples int

	Min  float64
	Mean float64
	Max  float64
}

// Stats summarizes the level samples observed since the monitor started,
// over a sliding window of the most recent readings.
func (m *Monitor) Stats() LevelStats {
	samples := m.stats.snapshot()
	if len(samples) == 0 {
		return LevelStats{}
	}
	st := LevelStats{Samples: len(samples), Min: samples[0], Max: samples[0]}
	var sum float64
	for _, v := range samples {
		sum += v
		st.Min = min(st.Min, v)
		st.Max = max(st.Max, v)
	}
	st.Mean = sum / float64(len(samples))
	return st
}

// SuggestThreshold derives a silence threshold from recently observed levels.
// The 20th percentile approximates the ambient noise floor; it is doubled and
// padded so steady room tone lands below the suggestion. With no samples yet,
// the current threshold is returned unchanged.
func (m *Monitor) SuggestThreshold() float64 {
	samples := m.stats.snapshot()
	if len(samples) == 0 {
		return m.Threshold()
	}
	sort.Float64s(samples)
	floor := samples[len(samples)*20/100]
	return min(max(floor*2+0.002, 0.005), 1)
}
