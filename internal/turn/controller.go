// Package turn implements the conversation state machine at the heart of the
// engine. The controller owns the capture device, the level monitor, one
// recognition session at a time, and the segmenter, and walks each flushed
// utterance through translation and speech rendering before flipping the
// active side.
//
// A single engine loop goroutine serializes turns and failure handling. A
// frame pump feeds captured audio into the level meter and the live
// recognition session, a per-session router forwards transcripts into the
// segmenter, and a monitor pump applies silence events as they happen, so
// speech continuing while a turn is in flight still segments. Turns run
// strictly one at a time; utterances queued behind a running turn are spoken
// before the side flips.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tandemvoice/tandem/internal/conversation"
	"github.com/tandemvoice/tandem/internal/monitor"
	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/segment"
	"github.com/tandemvoice/tandem/internal/status"
	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// DefaultFlipDelay is the breath the engine takes between finishing a
	// turn and listening on the other side.
	DefaultFlipDelay = 500 * time.Millisecond

	// DefaultRecoveryDelay is the wait before a restart attempt after a
	// recoverable fatal failure.
	DefaultRecoveryDelay = 5 * time.Second
)

// Translator produces the target-language text for one utterance.
// [translate.Coordinator] is the production implementation.
type Translator interface {
	Translate(ctx context.Context, utt types.Utterance) (types.Translation, error)
}

// Speaker renders translated text as audible speech.
// [render.Renderer] is the production implementation.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) error
	Stop()
	Pause()
	Resume()
	Speaking() bool
}

// SilenceMonitor is the slice of [monitor.Monitor] the controller drives.
type SilenceMonitor interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan monitor.Event
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	// Platform supplies the capture/playback device. Opened on Start and on
	// every recovery attempt.
	Platform audio.Platform

	// Meter is the level source the Monitor polls. The controller feeds it
	// from the capture stream and resets it across device reopens.
	Meter *audio.LevelMeter

	// Monitor raises silence and speech transitions from Meter.
	Monitor SilenceMonitor

	// Recognizer supplies recognition sessions, one per listening stint.
	Recognizer stt.Provider

	// Translator turns utterances into target-language text.
	Translator Translator

	// Speaker renders translations.
	Speaker Speaker

	// Transcript, if non-nil, receives both texts of every turn.
	Transcript *conversation.Log

	// Feed, if non-nil, receives state changes and turn milestones.
	Feed *status.Feed
}

// Option configures a Controller.
type Option func(*Controller)

// WithStartSide sets the side that speaks first. Defaults to side A.
func WithStartSide(s types.Side) Option {
	return func(c *Controller) { c.startSide = s }
}

// WithFlipDelay sets the wait between a finished turn and the side flip.
// Non-positive values keep the default.
func WithFlipDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.flipDelay = d
		}
	}
}

// WithRecoveryDelay sets the wait before restart attempts in the error
// state. Non-positive values keep the default.
func WithRecoveryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.recoveryDelay = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSegmenterOptions passes options through to the internal segmenter.
func WithSegmenterOptions(opts ...segment.Option) Option {
	return func(c *Controller) { c.segOpts = opts }
}

// WithTurnSink registers a callback invoked on the engine loop after every
// completed turn with the translation and the time spent speaking it (zero
// when rendering was skipped). The callback must not block.
func WithTurnSink(fn func(tr types.Translation, spoke time.Duration)) Option {
	return func(c *Controller) { c.turnSink = fn }
}

// fatalEvent is a pipeline failure delivered to the engine loop.
type fatalEvent struct {
	err         *types.EngineError
	recoverable bool
}

// Controller is the turn-taking engine. Create one with [New], then Start
// it; Pause, Resume, and Stop may be called from any goroutine.
type Controller struct {
	platform   audio.Platform
	meter      *audio.LevelMeter
	monitor    SilenceMonitor
	recognizer stt.Provider
	translator Translator
	speaker    Speaker
	transcript *conversation.Log
	feed       *status.Feed
	metrics    *observe.Metrics

	pair          types.LanguagePair
	startSide     types.Side
	flipDelay     time.Duration
	recoveryDelay time.Duration
	turnSink      func(types.Translation, time.Duration)
	segOpts       []segment.Option

	segmenter  *segment.Segmenter
	utterances <-chan types.Utterance
	recoverCh  chan struct{}
	fatalCh    chan fatalEvent

	mu         sync.Mutex
	state      State
	side       types.Side
	device     audio.Device
	session    stt.SessionHandle
	routerDone chan struct{}
	cancel     context.CancelFunc
	runCtx     context.Context
	running    bool

	pumpWG sync.WaitGroup // frame pump and session routers
	loopWG sync.WaitGroup // engine loop
}

// The controller is the segmenter's source of side and language state.
var _ segment.SideSource = (*Controller)(nil)

// New creates a controller for the given language pair. All Deps fields
// except Transcript and Feed are required.
func New(deps Deps, pair types.LanguagePair, opts ...Option) (*Controller, error) {
	switch {
	case deps.Platform == nil:
		return nil, errors.New("turn: audio platform is required")
	case deps.Meter == nil:
		return nil, errors.New("turn: level meter is required")
	case deps.Monitor == nil:
		return nil, errors.New("turn: silence monitor is required")
	case deps.Recognizer == nil:
		return nil, errors.New("turn: recognizer is required")
	case deps.Translator == nil:
		return nil, errors.New("turn: translator is required")
	case deps.Speaker == nil:
		return nil, errors.New("turn: speaker is required")
	}
	if strings.TrimSpace(pair.A) == "" || strings.TrimSpace(pair.B) == "" {
		return nil, fmt.Errorf("turn: language pair %q is incomplete", pair)
	}

	c := &Controller{
		platform:      deps.Platform,
		meter:         deps.Meter,
		monitor:       deps.Monitor,
		recognizer:    deps.Recognizer,
		translator:    deps.Translator,
		speaker:       deps.Speaker,
		transcript:    deps.Transcript,
		feed:          deps.Feed,
		pair:          pair,
		startSide:     types.SideA,
		flipDelay:     DefaultFlipDelay,
		recoveryDelay: DefaultRecoveryDelay,
		state:         StateIdle,
		recoverCh:     make(chan struct{}, 1),
		fatalCh:       make(chan fatalEvent, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.side = c.startSide
	c.segmenter = segment.New(c, c.segOpts...)
	c.utterances = c.segmenter.Utterances()
	return c, nil
}

// ActiveSide implements [segment.SideSource].
func (c *Controller) ActiveSide() types.Side {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.side
}

// Languages implements [segment.SideSource].
func (c *Controller) Languages() types.LanguagePair { return c.pair }

// State returns the current engine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Device returns the open capture/playback device, or nil while the pipeline
// is down. The speaker's playback path looks it up per call because the
// controller reopens devices across recoveries.
func (c *Controller) Device() audio.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Start opens the audio device, starts monitoring and recognition on the
// starting side, and launches the engine loop. The controller runs until
// Stop is called or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("turn: controller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.side = c.startSide
	c.cancel = cancel
	c.runCtx = runCtx
	c.mu.Unlock()

	if err := c.startPipeline(runCtx); err != nil {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.runCtx = nil
		c.mu.Unlock()
		return err
	}

	c.setState(StateListening)
	c.publishf(status.SeverityActive, "listening on side %s (%s)", c.ActiveSide(), c.pair.For(c.ActiveSide()))
	slog.Info("turn: started", "side", c.ActiveSide(), "pair", c.pair)

	c.loopWG.Add(2)
	go func() {
		defer c.loopWG.Done()
		c.loop(runCtx)
	}()
	go func() {
		defer c.loopWG.Done()
		c.monitorPump(runCtx)
	}()
	return nil
}

// Stop moves the engine to Idle from any state: the run context is
// cancelled, speech is cut off, the pipeline is torn down, and queued
// utterances are discarded. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.runCtx = nil
	c.mu.Unlock()

	cancel()
	c.speaker.Stop()
	// Wait for the loop before tearing the pipeline down: an error-state
	// recovery attempt may still be opening devices, and those handles must
	// exist before they can be reaped.
	c.loopWG.Wait()
	c.stopPipeline()
	c.drainQueue()

	c.setState(StateIdle)
	c.publish(status.SeverityInfo, "stopped")
	slog.Info("turn: stopped")
}

// Pause suspends the engine: monitoring and recognition stop (a later Resume
// starts recognition fresh rather than unmuting), and speech in progress
// holds at the next chunk boundary. No-op unless the engine is listening,
// processing, or speaking.
func (c *Controller) Pause() {
	c.mu.Lock()
	active := c.running &&
		(c.state == StateListening || c.state == StateProcessing || c.state == StateSpeaking)
	c.mu.Unlock()
	if !active {
		return
	}

	c.monitor.Stop()
	c.closeSession()
	c.speaker.Pause()
	c.setState(StatePaused)
	c.publish(status.SeverityInfo, "paused")
	slog.Info("turn: paused")
}

// Resume restarts a paused engine: recognition begins fresh on the active
// side (interim speech from before the pause is gone) and held speech
// continues. No-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.running || c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	ctx := c.runCtx
	c.mu.Unlock()

	// Pause waited the old router out, so nothing can repopulate the interim
	// buffer after this clear.
	c.segmenter.SetInterim("")

	if err := c.monitor.Start(ctx); err != nil {
		c.sendFatal(asEngineError(err, types.AudioUnavailable), true)
		return
	}
	if err := c.openSession(ctx); err != nil {
		c.monitor.Stop()
		c.sendFatal(types.NewEngineError(types.RecognitionError, err), true)
		return
	}

	c.speaker.Resume()
	if c.speaker.Speaking() {
		c.setState(StateSpeaking)
		c.publish(status.SeverityActive, "resumed, finishing speech")
	} else {
		c.setState(StateListening)
		c.publishf(status.SeverityActive, "resumed, listening on side %s", c.ActiveSide())
	}
	slog.Info("turn: resumed", "side", c.ActiveSide())
}

// ─── pipeline assembly ────────────────────────────────────────────────────────

// startPipeline opens the device and starts monitoring, recognition, the
// frame pump, and the session router. On failure everything already started
// is rolled back.
func (c *Controller) startPipeline(ctx context.Context) error {
	dev, err := c.platform.Open(ctx)
	if err != nil {
		return types.NewEngineError(types.AudioUnavailable,
			fmt.Errorf("turn: open audio device: %w", err))
	}
	c.meter.Reset()
	if err := c.monitor.Start(ctx); err != nil {
		dev.Close()
		return err
	}

	c.mu.Lock()
	c.device = dev
	c.mu.Unlock()

	if err := c.openSession(ctx); err != nil {
		c.monitor.Stop()
		dev.Close()
		c.mu.Lock()
		c.device = nil
		c.mu.Unlock()
		return types.NewEngineError(types.RecognitionError, err)
	}

	c.pumpWG.Add(1)
	go func() {
		defer c.pumpWG.Done()
		c.pump(dev)
	}()
	return nil
}

// stopPipeline closes recognition and capture and waits for the pump and
// router goroutines. Safe with a partially built or already stopped
// pipeline.
func (c *Controller) stopPipeline() {
	c.mu.Lock()
	dev := c.device
	c.device = nil
	c.mu.Unlock()

	c.monitor.Stop()
	c.closeSession()
	if dev != nil {
		dev.Close()
	}
	c.pumpWG.Wait()
	c.segmenter.Reset()
}

// openSession starts a recognition session in the active side's language on
// the open device and routes its output.
func (c *Controller) openSession(ctx context.Context) error {
	c.mu.Lock()
	dev := c.device
	c.mu.Unlock()
	if dev == nil {
		return errors.New("turn: no audio device")
	}

	lang := c.pair.For(c.ActiveSide())
	format := dev.Format()
	session, err := c.recognizer.StartStream(ctx, stt.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Language:   lang,
	})
	if err != nil {
		return fmt.Errorf("turn: start recognition (%s): %w", lang, err)
	}

	c.mu.Lock()
	if !c.running {
		// Stop won the race; it will not see this session, so close it here.
		c.mu.Unlock()
		session.Close()
		return errors.New("turn: controller stopped")
	}
	c.session = session
	c.mu.Unlock()

	c.spawnRouter(session)
	slog.Debug("turn: recognition started", "lang", lang)
	return nil
}

// closeSession closes the live session and waits for its router to apply
// every transcript it will ever deliver. No-op when no session is live.
func (c *Controller) closeSession() {
	c.mu.Lock()
	session := c.session
	done := c.routerDone
	c.session = nil
	c.routerDone = nil
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if done != nil {
		<-done
	}
}

// pump feeds captured frames into the level meter and the live recognition
// session until the capture stream ends. While paused there is no session;
// frames still drain so the device never backs up.
func (c *Controller) pump(dev audio.Device) {
	for frame := range dev.Frames() {
		c.meter.Observe(frame)

		c.mu.Lock()
		session := c.session
		c.mu.Unlock()
		if session == nil {
			continue
		}
		if err := session.SendAudio(frame.Data); err != nil {
			slog.Debug("turn: send audio failed", "error", err)
		}
	}
	// Capture ended. Failing the meter lets the monitor surface the device
	// loss on its next poll; for a deliberate close the monitor is already
	// stopped and nobody is polling.
	c.meter.Fail(dev.Err())
}

func (c *Controller) spawnRouter(session stt.SessionHandle) {
	done := make(chan struct{})
	c.mu.Lock()
	c.routerDone = done
	c.mu.Unlock()

	c.pumpWG.Add(1)
	go func() {
		defer c.pumpWG.Done()
		defer close(done)
		c.route(session)
	}()
}

// route forwards one session's transcripts into the segmenter and its
// events to the loop, until every session channel closes.
func (c *Controller) route(session stt.SessionHandle) {
	partials, finals, events := session.Partials(), session.Finals(), session.Events()
	for partials != nil || finals != nil || events != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.segmenter.SetInterim(tr.Text)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.segmenter.AddFinal(tr.Text)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.onSessionEvent(ev)
		}
	}
}

// onSessionEvent classifies a recognition event: fatal causes head for the
// error state, transient ones schedule a silent session restart.
func (c *Controller) onSessionEvent(ev stt.SessionEvent) {
	if ev.Cause.Fatal() {
		slog.Error("turn: fatal recognition failure", "cause", ev.Cause, "error", ev.Err)
		c.metrics.RecordProviderError(context.Background(), "stt", ev.Cause.String())
		c.sendFatal(types.NewEngineError(types.RecognitionError,
			fmt.Errorf("turn: recognition failed (%s): %w", ev.Cause, ev.Err)), false)
		return
	}
	if ev.Cause == stt.CauseAudioCapture {
		c.metrics.RecordProviderError(context.Background(), "stt", ev.Cause.String())
	}
	slog.Debug("turn: transient recognition event", "cause", ev.Cause)
	select {
	case c.recoverCh <- struct{}{}:
	default:
	}
}

// sendFatal hands a fatal failure to the engine loop without blocking.
func (c *Controller) sendFatal(err *types.EngineError, recoverable bool) {
	select {
	case c.fatalCh <- fatalEvent{err: err, recoverable: recoverable}:
	default:
	}
}

// drainFailureSignals discards any pending recovery and fatal signals.
func (c *Controller) drainFailureSignals() {
	select {
	case <-c.recoverCh:
	default:
	}
	select {
	case <-c.fatalCh:
	default:
	}
}

// ─── engine loop ──────────────────────────────────────────────────────────────

func (c *Controller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utt := <-c.utterances:
			c.metrics.QueuedUtterances.Add(ctx, -1)
			if c.State() == StateError {
				slog.Debug("turn: dropping utterance in error state", "utterance", utt.ID)
				continue
			}
			c.onUtterance(ctx, utt)
		case <-c.recoverCh:
			c.onRecognitionHiccup(ctx)
		case fe := <-c.fatalCh:
			c.enterError(ctx, fe.err, fe.recoverable)
		}
	}
}

// monitorPump applies monitor events as they arrive, off the engine loop, so
// silence during a running turn still flushes the segmenter into the queue.
func (c *Controller) monitorPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.monitor.Events():
			c.onMonitorEvent(ev)
		}
	}
}

func (c *Controller) onMonitorEvent(ev monitor.Event) {
	switch ev.Kind {
	case monitor.SilenceDetected:
		// The segmenter's own gating decides whether this flushes, holds,
		// or no-ops on an empty buffer.
		c.segmenter.OnSilence()
	case monitor.SpeechResumed:
		slog.Debug("turn: speech resumed", "level", ev.Level)
	case monitor.MonitorFailed:
		c.sendFatal(asEngineError(ev.Err, types.AudioUnavailable), true)
	}
}

// onUtterance runs one or more queued turns and then flips the active side.
// Utterances that queued up while speaking (or that arrive during the flip
// delay) belong to the side that just spoke and are rendered before the
// flip.
func (c *Controller) onUtterance(ctx context.Context, utt types.Utterance) {
	for {
		c.handleTurn(ctx, utt)
		if ctx.Err() != nil || c.State() == StatePaused {
			return
		}
		var more bool
		if utt, more = c.nextQueued(ctx); more {
			continue
		}
		if !sleepCtx(ctx, c.flipDelay) {
			return
		}
		if utt, more = c.nextQueued(ctx); more {
			continue
		}
		break
	}
	c.flip(ctx)
}

func (c *Controller) nextQueued(ctx context.Context) (types.Utterance, bool) {
	select {
	case utt := <-c.utterances:
		c.metrics.QueuedUtterances.Add(ctx, -1)
		return utt, true
	default:
		return types.Utterance{}, false
	}
}

// handleTurn translates one utterance, logs it, and speaks the result.
// Translation failures degrade to the original text; speech failures end
// the turn early. Neither enters the error state. A pause before or during
// translation skips the render: the turn is logged but never spoken.
func (c *Controller) handleTurn(ctx context.Context, utt types.Utterance) {
	turnStart := time.Now()
	paused := c.State() == StatePaused
	if !paused {
		c.setState(StateProcessing)
		c.publishf(status.SeverityProcessing, "translating %s to %s", utt.SourceLang, utt.TargetLang)
	}
	slog.Info("turn: processing utterance",
		"utterance", utt.ID, "side", utt.Side, "runes", utf8.RuneCountInString(utt.Text))

	tr, err := c.translator.Translate(ctx, utt)
	c.segmenter.Release()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("turn: translation fell back to original text",
			"utterance", utt.ID, "error", err)
		c.publish(status.SeverityError, "translation failed, passing original through")
	}
	if c.transcript != nil {
		c.transcript.AppendTurn(tr)
	}

	if paused || c.State() == StatePaused {
		slog.Info("turn: paused, skipping render", "utterance", utt.ID)
		c.finishTurn(ctx, tr, 0, turnStart)
		return
	}

	c.setState(StateSpeaking)
	c.publishf(status.SeverityActive, "speaking (%s)", utt.TargetLang)
	speakStart := time.Now()
	if err := c.speaker.Speak(ctx, tr.TranslatedText, utt.TargetLang); err != nil {
		slog.Warn("turn: speech failed, completing turn",
			"utterance", utt.ID, "error", err)
	}
	c.finishTurn(ctx, tr, time.Since(speakStart), turnStart)
}

func (c *Controller) finishTurn(ctx context.Context, tr types.Translation, spoke time.Duration, started time.Time) {
	if c.turnSink != nil {
		c.turnSink(tr, spoke)
	}
	c.metrics.RecordTurn(ctx, tr.Utterance.Side.String())
	c.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
}

// flip hands the conversation to the other side: recognition restarts in
// that side's language and leftover segment state from the finished speaker
// is dropped. Closing the old session before the reset guarantees no
// straggler transcript from the old side leaks into the new one.
func (c *Controller) flip(ctx context.Context) {
	c.mu.Lock()
	c.side = c.side.Other()
	side := c.side
	c.mu.Unlock()

	c.closeSession()
	c.segmenter.Reset()

	lang := c.pair.For(side)
	slog.Info("turn: side flipped", "side", side, "lang", lang)

	if c.State() == StatePaused {
		// Pause landed in the flip delay. The side change sticks; Resume
		// starts recognition on the new side.
		return
	}
	if err := c.openSession(ctx); err != nil {
		c.enterError(ctx, types.NewEngineError(types.RecognitionError, err), true)
		return
	}
	c.setState(StateListening)
	c.publishf(status.SeverityActive, "listening on side %s (%s)", side, lang)
}

// onRecognitionHiccup silently restarts recognition after a transient
// failure. Outside Listening the next flip or resume starts a fresh session
// anyway.
func (c *Controller) onRecognitionHiccup(ctx context.Context) {
	if c.State() != StateListening {
		return
	}
	slog.Debug("turn: restarting recognition after transient failure")
	c.closeSession()
	if err := c.openSession(ctx); err != nil {
		c.enterError(ctx, types.NewEngineError(types.RecognitionError, err), true)
	}
}

// enterError tears the pipeline down and, for recoverable failures, retries
// a full restart every recovery delay until one succeeds or the controller
// stops. Runs on the engine loop.
func (c *Controller) enterError(ctx context.Context, engErr *types.EngineError, recoverable bool) {
	slog.Error("turn: entering error state", "kind", engErr.Kind, "error", engErr)
	c.speaker.Stop()
	c.stopPipeline()
	c.setState(StateError)
	c.publish(status.SeverityError, engErr.Error())

	if !recoverable {
		slog.Error("turn: failure is not recoverable, waiting for stop")
		return
	}
	for {
		if !sleepCtx(ctx, c.recoveryDelay) {
			return
		}
		// The torn-down pipeline may have left failure signals behind; they
		// must not be read as failures of the pipeline built next.
		c.drainFailureSignals()
		slog.Info("turn: attempting recovery")
		if err := c.startPipeline(ctx); err != nil {
			slog.Error("turn: recovery attempt failed", "error", err)
			c.publish(status.SeverityError, "recovery failed, retrying")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		c.setState(StateListening)
		c.publishf(status.SeveritySuccess, "recovered, listening on side %s", c.ActiveSide())
		slog.Info("turn: recovered", "side", c.ActiveSide())
		return
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	c.metrics.RecordStateTransition(context.Background(), from.String(), to.String())
	slog.Debug("turn: state changed", "from", from, "to", to)
}

func (c *Controller) drainQueue() {
	for {
		select {
		case <-c.utterances:
			c.metrics.QueuedUtterances.Add(context.Background(), -1)
		default:
			return
		}
	}
}

func (c *Controller) publish(sev status.Severity, msg string) {
	if c.feed != nil {
		c.feed.Publish(sev, msg)
	}
}

func (c *Controller) publishf(sev status.Severity, format string, args ...any) {
	if c.feed != nil {
		c.feed.Publishf(sev, format, args...)
	}
}

// asEngineError coerces err to an *types.EngineError, wrapping it with kind
// when it is not one already.
func asEngineError(err error, kind types.ErrorKind) *types.EngineError {
	var engErr *types.EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return types.NewEngineError(kind, err)
}

// sleepCtx waits d or until ctx is cancelled, reporting false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
