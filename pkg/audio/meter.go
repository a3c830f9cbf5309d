package audio

import (
	"math"
	"sync/atomic"
)

// LevelMeter tracks the capture level of the most recent audio frame.
//
// The frame pump calls [LevelMeter.Observe] on every captured frame; the
// level monitor polls [LevelMeter.Level] on its own clock. Once the capture
// stream ends, the pump calls [LevelMeter.Fail] and every subsequent Level
// call reports the terminal error.
//
// The zero value is ready to use. Safe for concurrent use.
type LevelMeter struct {
	bits atomic.Uint64
	err  atomic.Pointer[error]
}

// Observe records the RMS level of frame as the current level.
func (m *LevelMeter) Observe(frame AudioFrame) {
	m.bits.Store(math.Float64bits(RMS16(frame.Data)))
}

// Fail marks the meter as dead. A nil err is recorded as [ErrUnavailable].
// The first call wins; later calls are no-ops.
func (m *LevelMeter) Fail(err error) {
	if err == nil {
		err = ErrUnavailable
	}
	m.err.CompareAndSwap(nil, &err)
}

// Reset clears a recorded failure and zeroes the level. The engine calls it
// when the capture stream is reopened so the meter can serve the new stream.
func (m *LevelMeter) Reset() {
	m.bits.Store(0)
	m.err.Store(nil)
}

// Level returns the most recent normalized RMS level in [0, 1], or the
// terminal error once the capture stream has failed.
func (m *LevelMeter) Level() (float64, error) {
	if p := m.err.Load(); p != nil {
		return 0, *p
	}
	return math.Float64frombits(m.bits.Load()), nil
}
