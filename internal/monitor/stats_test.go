package monitor

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"
)

func TestStats_RingWraps(t *testing.T) {
	t.Parallel()
	s := newStats(4)
	for _, v := range []float64{1, 2, 3, 4, 5, 6} {
		s.add(v)
	}
	got := s.snapshot()
	if len(got) != 4 {
		t.Fatalf("snapshot length = %d, want 4", len(got))
	}
	sort.Float64s(got)
	want := []float64{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStats_SnapshotBeforeFull(t *testing.T) {
	t.Parallel()
	s := newStats(8)
	s.add(0.5)
	s.add(0.7)
	if got := s.snapshot(); len(got) != 2 {
		t.Errorf("snapshot length = %d, want 2", len(got))
	}
}

func TestMonitor_Stats(t *testing.T) {
	t.Parallel()
	m := New(&fakeSource{}, 0.5, time.Second)
	for _, v := range []float64{0.1, 0.3, 0.2} {
		m.stats.add(v)
	}

	got := m.Stats()
	if got.Samples != 3 {
		t.Errorf("Samples = %d, want 3", got.Samples)
	}
	if got.Min != 0.1 || got.Max != 0.3 {
		t.Errorf("Min/Max = %v/%v, want 0.1/0.3", got.Min, got.Max)
	}
	if math.Abs(got.Mean-0.2) > 1e-9 {
		t.Errorf("Mean = %v, want 0.2", got.Mean)
	}
}

func TestMonitor_StatsEmpty(t *testing.T) {
	t.Parallel()
	m := New(&fakeSource{}, 0.5, time.Second)
	if got := m.Stats(); got != (LevelStats{}) {
		t.Errorf("Stats on idle monitor = %+v, want zero value", got)
	}
}

func TestSuggestThreshold_NoSamplesKeepsCurrent(t *testing.T) {
	t.Parallel()
	m := New(&fakeSource{}, 0.37, time.Second)
	if got := m.SuggestThreshold(); got != 0.37 {
		t.Errorf("SuggestThreshold = %v, want current threshold 0.37", got)
	}
}

func TestSuggestThreshold_FromAmbientFloor(t *testing.T) {
	t.Parallel()
	m := New(&fakeSource{}, 0.5, time.Second)
	for range 100 {
		m.stats.add(0.02)
	}
	// Floor 0.02 doubled plus margin.
	if got := m.SuggestThreshold(); math.Abs(got-0.042) > 1e-9 {
		t.Errorf("SuggestThreshold = %v, want 0.042", got)
	}
}

func TestSuggestThreshold_ClampsToUsableRange(t *testing.T) {
	t.Parallel()

	quiet := New(&fakeSource{}, 0.5, time.Second)
	for range 50 {
		quiet.stats.add(0)
	}
	if got := quiet.SuggestThreshold(); got != 0.005 {
		t.Errorf("dead-quiet suggestion = %v, want lower clamp 0.005", got)
	}

	loud := New(&fakeSource{}, 0.5, time.Second)
	for range 50 {
		loud.stats.add(0.9)
	}
	if got := loud.SuggestThreshold(); got != 1 {
		t.Errorf("saturated suggestion = %v, want upper clamp 1", got)
	}
}

func TestMonitor_StatsCollectedWhileRunning(t *testing.T) {
	t.Parallel()
	src := &fakeSource{level: 0.02}
	m := fastMonitor(t, src, 0.5)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := m.Stats(); st.Samples >= 5 {
			if math.Abs(st.Mean-0.02) > 1e-9 {
				t.Errorf("Mean = %v, want 0.02", st.Mean)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("monitor collected no samples")
}
