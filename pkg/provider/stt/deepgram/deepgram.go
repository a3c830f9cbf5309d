// Package deepgram provides a recognition provider backed by the Deepgram
// streaming WebSocket API.
//
// Unlike the whisper providers, which batch audio and emit partial/final
// pairs, Deepgram produces true low-latency interim transcripts followed by
// an authoritative final, so the segmenter's interim buffer tracks speech as
// it happens. The connection speaks raw 16-bit little-endian PCM
// (encoding=linear16) at the session's sample rate.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tandemvoice/tandem/pkg/provider/stt"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultRate     = 16000

	// Deepgram hangs up after roughly ten seconds without traffic. A capture
	// device that suppresses silent frames can leave a gap that long, so the
	// write loop pings whenever no audio has flowed for this interval.
	keepAliveEvery = 5 * time.Second
)

// Control messages of the Deepgram streaming protocol.
const (
	keepAliveMsg   = `{"type":"KeepAlive"}`
	closeStreamMsg = `{"type":"CloseStream"}`
)

var errSessionClosed = errors.New("deepgram: session is closed")

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// listenParams holds the per-stream query parameters of the /v1/listen
// endpoint.
type listenParams struct {
	model      string
	language   string
	sampleRate int
}

// resolve fills gaps from the stream config. Explicit stream settings win
// over provider defaults.
func (lp listenParams) resolve(cfg stt.StreamConfig) listenParams {
	if cfg.Language != "" {
		lp.language = cfg.Language
	}
	if cfg.SampleRate > 0 {
		lp.sampleRate = cfg.SampleRate
	}
	return lp
}

// encode renders the query string for one streaming session.
func (lp listenParams) encode(channels int) string {
	q := url.Values{}
	q.Set("model", lp.model)
	q.Set("language", lp.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(lp.sampleRate))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if channels > 0 {
		q.Set("channels", strconv.Itoa(channels))
	}
	return q.Encode()
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.params.model = model }
}

// WithLanguage sets the fallback BCP-47 language code used when
// StreamConfig.Language is empty. Defaults to "en".
func WithLanguage(language string) Option {
	return func(p *Provider) { p.params.language = language }
}

// WithSampleRate sets the fallback audio sample rate in Hz used when
// StreamConfig.SampleRate is zero. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.params.sampleRate = rate }
}

// WithEndpoint points the provider at a different listen endpoint, for
// self-hosted Deepgram deployments. The value must be a ws:// or wss:// URL
// without a query string.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider recognizes speech through the Deepgram streaming API. Each
// session is one WebSocket connection; the turn controller opens one per
// listening stint, so dialing happens on every side flip.
type Provider struct {
	apiKey    string
	endpoint  string
	params    listenParams
	keepAlive time.Duration
}

// New returns a Provider authenticated with apiKey, which must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		params: listenParams{
			model:      defaultModel,
			language:   defaultLanguage,
			sampleRate: defaultRate,
		},
		keepAlive: keepAliveEvery,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session. An authentication
// rejection at dial time is returned as the error; everything after the dial
// is reported through the session's Events channel.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL := p.endpoint + "?" + p.params.resolve(cfg).encode(cfg.Channels)
	header := http.Header{"Authorization": []string{"Token " + p.apiKey}}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: authentication rejected (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	ka := p.keepAlive
	if ka <= 0 {
		ka = keepAliveEvery
	}
	sess := &session{
		conn:      conn,
		keepAlive: ka,
		partials:  make(chan stt.Transcript, 64),
		finals:    make(chan stt.Transcript, 64),
		events:    make(chan stt.SessionEvent, 16),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

// ---- session ------------------------------------------------------------------

// session is a live Deepgram streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn      *websocket.Conn
	keepAlive time.Duration

	partials chan stt.Transcript
	finals   chan stt.Transcript
	events   chan stt.SessionEvent
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a raw PCM chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Partials returns the interim transcript channel.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the committed transcript channel.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Events returns the channel of classified recognition events.
func (s *session) Events() <-chan stt.SessionEvent { return s.events }

// Close terminates the session. The write loop flushes queued audio and asks
// the server to finish transcribing it; the connection drops once both loops
// have wound down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued audio as binary messages. While no audio is
// flowing it pings the server so the connection survives capture gaps, and on
// shutdown it flushes the queue before requesting the final transcripts.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			ticker.Reset(s.keepAlive)
		case <-ticker.C:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(keepAliveMsg)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			s.flush(ctx)
			return
		}
	}
}

// flush sends whatever audio is still queued, then the CloseStream control
// message so the server transcribes the tail before hanging up.
func (s *session) flush(ctx context.Context) {
	for {
		select {
		case chunk := <-s.audio:
			_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
		default:
			_ = s.conn.Write(ctx, websocket.MessageText, []byte(closeStreamMsg))
			return
		}
	}
}

// readLoop receives JSON messages and routes transcripts to the partials and
// finals channels. A connection failure while the session is still wanted is
// classified and reported as an event.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.reportReadFailure(err)
			return
		}

		t, ok := decodeResults(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
		}
	}
}

// reportReadFailure classifies a read error and emits it as a session event,
// unless the session was deliberately closed. It never blocks the caller.
func (s *session) reportReadFailure(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	ev := stt.SessionEvent{
		Cause: classifyClose(err),
		Err:   fmt.Errorf("deepgram: read: %w", err),
	}
	select {
	case s.events <- ev:
	default:
	}
}

// classifyClose maps a connection failure to a recognition failure cause.
// Policy rejections from the server are fatal; anything else (network blips,
// server restarts) is a transient capture problem the engine retries.
func classifyClose(err error) stt.FailureCause {
	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation, websocket.StatusUnsupportedData:
		return stt.CauseNotSupported
	default:
		return stt.CauseAudioCapture
	}
}

// ---- wire format --------------------------------------------------------------

// results is the shape of a Deepgram "Results" message, reduced to the fields
// the engine consumes.
type results struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

type word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// decodeResults parses a raw WebSocket message into a Transcript. It returns
// false for messages that carry no transcript: metadata and keepalive echoes,
// empty alternatives, malformed JSON.
func decodeResults(data []byte) (stt.Transcript, bool) {
	var r results
	if err := json.Unmarshal(data, &r); err != nil || r.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := r.Channel.Alternatives[0]
	t := stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: alt.Confidence,
	}
	if n := len(alt.Words); n > 0 {
		first, last := alt.Words[0], alt.Words[n-1]
		t.Timestamp = time.Duration(first.Start * float64(time.Second))
		t.Duration = time.Duration((last.End - first.Start) * float64(time.Second))
	}
	return t, true
}
