// Package mock provides in-memory doubles for the stt interfaces.
//
// Provider hands out scripted sessions and records every StartStream
// invocation. Session exposes Emit helpers that push transcripts and events
// to whoever consumes the handle. Zero values work: a blank Provider mints a
// fresh Session per StartStream call, so a restart-heavy caller can script
// each session via [Provider.Sessions] or [Provider.LastSession].
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	p.LastSession().EmitFinal("hola")
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/stt"
)

// chanBuffer is the capacity of every channel a Session owns; large enough
// that Emit helpers never block in tests.
const chanBuffer = 16

// StartStreamCall captures the arguments of one Provider.StartStream call.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider implements stt.Provider with scripted behavior.
type Provider struct {
	mu sync.Mutex

	// Session, when set, is handed to every caller instead of minting fresh
	// sessions.
	Session stt.SessionHandle

	// StartStreamErr fails every StartStream call when non-nil.
	StartStreamErr error

	// StartStreamFunc overrides the scripted behavior entirely. The call is
	// still recorded.
	StartStreamFunc func(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error)

	// StartStreamCalls records each invocation in order.
	StartStreamCalls []StartStreamCall

	// Sessions lists the auto-minted sessions in creation order, one per
	// StartStream call while Session is nil.
	Sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call, then consults StartStreamFunc, StartStreamErr
// and Session in that order. With none of them set it mints a new [Session].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})

	switch {
	case p.StartStreamFunc != nil:
		return p.StartStreamFunc(ctx, cfg)
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// LastSession returns the newest auto-minted session, or nil before the first
// StartStream.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.Sessions); n > 0 {
		return p.Sessions[n-1]
	}
	return nil
}

// Reset drops all recorded calls and minted sessions.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls, p.Sessions = nil, nil
}

// Session implements stt.SessionHandle. Tests drive the consumer through the
// Emit helpers and read back what the consumer sent through SendAudio.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, when non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, when non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount counts Close invocations.
	CloseCallCount int

	partials chan stt.Transcript
	finals   chan stt.Transcript
	events   chan stt.SessionEvent
	chunks   [][]byte
	closed   bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session whose channels are buffered with chanBuffer
// slots each.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, chanBuffer),
		finals:   make(chan stt.Transcript, chanBuffer),
		events:   make(chan stt.SessionEvent, chanBuffer),
	}
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

func (s *Session) Events() <-chan stt.SessionEvent { return s.events }

// EmitPartial delivers an interim transcript to the consumer.
func (s *Session) EmitPartial(text string) {
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal delivers a final transcript with full confidence.
func (s *Session) EmitFinal(text string) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: 1}
}

// EmitEvent delivers a session event to the consumer.
func (s *Session) EmitEvent(cause stt.FailureCause, err error) {
	s.events <- stt.SessionEvent{Cause: cause, Err: err}
}

// SendAudioCallCount reports how many times SendAudio was called.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// SentChunks returns the recorded audio payloads in arrival order.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Close counts the call, closes the emit channels on first use so consumer
// pumps observe end-of-stream, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
		close(s.events)
	}
	return s.CloseErr
}
