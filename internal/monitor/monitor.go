// Package monitor implements the audio level monitor. It samples the capture
// level on a fixed clock, applies exponential smoothing, and raises silence
// and speech-transition events that drive utterance segmentation.
//
// Level samples and state transitions travel on separate channels: the level
// stream is lossy (a slow consumer just misses samples), while transitions
// ride a buffered channel sized so they are never displaced by level traffic.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// DefaultSamplePeriod is the interval between level samples.
	DefaultSamplePeriod = 100 * time.Millisecond

	// DefaultSmoothingAlpha is the weight of the previous smoothed value in
	// the exponential smoothing update.
	DefaultSmoothingAlpha = 0.7

	// MinSilenceFloor is the lowest accepted silence duration. Shorter values
	// would flush on natural mid-sentence pauses.
	MinSilenceFloor = 500 * time.Millisecond

	// SilenceCooldown is the minimum spacing between consecutive
	// SilenceDetected events.
	SilenceCooldown = time.Second

	eventBuffer = 16
	levelBuffer = 8
	statsWindow = 256
)

// EventKind identifies a monitor state transition.
type EventKind int

const (
	// SilenceDetected fires once when the smoothed level has stayed below
	// the threshold for the configured silence duration.
	SilenceDetected EventKind = iota

	// SpeechResumed fires on the first sample at or above the threshold
	// after a detected silence.
	SpeechResumed

	// MonitorFailed fires when the level source reports a device failure.
	// The monitor stops after emitting it.
	MonitorFailed
)

// String returns the stable name used in logs.
func (k EventKind) String() string {
	switch k {
	case SilenceDetected:
		return "silence_detected"
	case SpeechResumed:
		return "speech_resumed"
	case MonitorFailed:
		return "monitor_failed"
	default:
		return "unknown"
	}
}

// Event is a state transition raised by the monitor.
type Event struct {
	Kind EventKind

	// Level is the smoothed level at the time of the event.
	Level float64

	// Err is the failure for MonitorFailed events, a *types.EngineError
	// with kind AudioUnavailable. Nil otherwise.
	Err error
}

// Source supplies instantaneous capture level samples.
// [audio.LevelMeter] is the production implementation.
type Source interface {
	// Level returns the current normalized level in [0, 1]. It returns an
	// error once the underlying device has failed; the monitor stops then.
	Level() (float64, error)
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithSamplePeriod sets the sampling interval. Non-positive values keep the
// default.
func WithSamplePeriod(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.period = d
		}
	}
}

// WithSmoothingAlpha sets the exponential smoothing weight. Values outside
// [0, 1) keep the default.
func WithSmoothingAlpha(a float64) Option {
	return func(m *Monitor) {
		if a >= 0 && a < 1 {
			m.alpha = a
		}
	}
}

// Monitor watches a level [Source] and publishes level samples and
// silence/speech transitions. Safe for concurrent use.
type Monitor struct {
	source Source
	period time.Duration
	alpha  float64

	mu         sync.Mutex
	threshold  float64
	minSilence time.Duration
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	events chan Event
	levels chan float64

	stats *stats
}

// New creates a monitor for the given source. The threshold is clamped to
// [0, 1] and the silence duration is raised to [MinSilenceFloor].
func New(source Source, threshold float64, minSilence time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		source: source,
		period: DefaultSamplePeriod,
		alpha:  DefaultSmoothingAlpha,
		events: make(chan Event, eventBuffer),
		levels: make(chan float64, levelBuffer),
		stats:  newStats(statsWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.threshold = clamp01(threshold)
	m.minSilence = max(minSilence, MinSilenceFloor)
	return m
}

// Events returns the state transition stream. The channel is never closed;
// consumers select on it alongside their own lifetime signal.
func (m *Monitor) Events() <-chan Event { return m.events }

// Levels returns the smoothed level stream, one value per sample. The stream
// is lossy: values a consumer does not pick up in time are dropped.
func (m *Monitor) Levels() <-chan float64 { return m.levels }

// SetThreshold updates the silence cutoff, clamped to [0, 1].
func (m *Monitor) SetThreshold(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = clamp01(t)
}

// Threshold returns the effective silence cutoff.
func (m *Monitor) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetSilenceDuration updates how long the level must stay below the
// threshold before silence is declared, raised to [MinSilenceFloor].
func (m *Monitor) SetSilenceDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minSilence = max(d, MinSilenceFloor)
}

// SilenceDuration returns the effective silence duration.
func (m *Monitor) SilenceDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minSilence
}

// Start begins sampling in a background goroutine. It fails if the monitor
// is already running or the source is already dead; in the latter case the
// error is a *types.EngineError with kind AudioUnavailable.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("monitor: already started")
	}
	if _, err := m.source.Level(); err != nil {
		m.mu.Unlock()
		return types.NewEngineError(types.AudioUnavailable, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.running = true
	m.mu.Unlock()

	go m.run(runCtx, done)
	return nil
}

// Stop halts sampling and waits for the sampling goroutine to exit.
// Stopping a monitor that is not running is a no-op. The monitor can be
// started again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	var (
		smoothed float64
		lastLoud = time.Now()
		lastFire time.Time
		silenced bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := m.source.Level()
		if err != nil {
			slog.Error("monitor: level source failed", "error", err)
			m.emit(Event{Kind: MonitorFailed, Err: types.NewEngineError(types.AudioUnavailable, err)})
			return
		}
		now := time.Now()

		m.stats.add(raw)
		smoothed = smooth(smoothed, raw, m.alpha)

		select {
		case m.levels <- smoothed:
		default:
		}

		m.mu.Lock()
		threshold, minSilence := m.threshold, m.minSilence
		m.mu.Unlock()

		if smoothed >= threshold {
			lastLoud = now
			if silenced {
				silenced = false
				slog.Debug("monitor: speech resumed", "level", smoothed)
				m.emit(Event{Kind: SpeechResumed, Level: smoothed})
			}
			continue
		}

		if !silenced && now.Sub(lastLoud) >= minSilence && now.Sub(lastFire) >= SilenceCooldown {
			silenced = true
			lastFire = now
			slog.Debug("monitor: silence detected", "level", smoothed, "quiet_for", now.Sub(lastLoud))
			m.emit(Event{Kind: SilenceDetected, Level: smoothed})
		}
	}
}

// emit delivers a state transition without ever blocking the sampling loop.
// The buffer makes drops a consumer bug, not an expected mode; dropping is
// still preferred over stalling the clock.
func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("monitor: event dropped, consumer not keeping up", "kind", ev.Kind)
	}
}

// smooth applies one exponential smoothing step.
func smooth(prev, raw, alpha float64) float64 {
	return prev*alpha + raw*(1-alpha)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
