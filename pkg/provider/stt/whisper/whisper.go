// Package whisper provides whisper.cpp-backed recognition providers.
//
// [Provider] talks to a running whisper-server binary (REST API at
// POST /inference); [NativeProvider] links whisper.cpp directly through its
// CGO bindings. Both simulate streaming on top of a batch engine: incoming
// PCM passes through an energy gate that collects one voiced clip at a time
// and submits it for inference once the speaker goes quiet.
//
// Because whisper.cpp cannot emit true low-latency partials, each committed
// clip produces a partial and a final carrying the same text. The partial
// still drives the interim buffer while the Finals channel feeds the
// segmenter.
//
// Usage:
//
//	p, err := whisper.New("http://127.0.0.1:9000", whisper.WithFlushAfterMs(400))
//	sess, err := p.StartStream(ctx, stt.StreamConfig{Language: "de"})
//	sess.SendAudio(pcm)
//	final := <-sess.Finals()
//	sess.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Sessions are cheap to open; the turn controller restarts one on every side
// flip to switch the recognition language.
type Provider struct {
	tuning
	serverURL string
	model     string
	client    *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel names the model the server should run the clip through ("base",
// "small", ...). Empty means the server's startup model, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage picks the recognition language used whenever a session's
// StreamConfig leaves Language blank. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate declares the PCM sample rate in Hz. The gate sizes its
// silence and clip windows from this, so it has to match what SendAudio
// actually delivers. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithFlushAfterMs sets how much uninterrupted silence closes a clip and
// sends it off for inference. Lower values answer faster but may cut the
// speaker mid-sentence. Defaults to 500 ms.
func WithFlushAfterMs(ms int) Option {
	return func(p *Provider) { p.flushAfterMs = ms }
}

// WithMaxClipMs caps a single clip's length; a speaker who never pauses gets
// flushed at this bound so the buffer cannot grow without limit.
// Defaults to 10 s.
func WithMaxClipMs(ms int) Option {
	return func(p *Provider) { p.maxClipMs = ms }
}

// New returns a Provider bound to the whisper-server instance at serverURL,
// which must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		tuning:    defaultTuning(),
		serverURL: serverURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session that accepts audio immediately.
// Zero/empty fields in cfg fall back to the provider-level defaults. No
// network traffic happens here; the server is first contacted when a clip
// commits.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	lang, rate, channels := p.resolve(cfg)
	engine := &httpTranscriber{
		endpoint:   p.serverURL + "/inference",
		model:      p.model,
		language:   lang,
		sampleRate: rate,
		channels:   channels,
		client:     p.client,
	}
	gate := newSpeechGate(rate, channels, p.flushAfterMs, p.maxClipMs)
	return newBatchSession(ctx, gate, engine), nil
}

// httpTranscriber submits clips to a whisper-server /inference endpoint as
// multipart WAV uploads.
type httpTranscriber struct {
	endpoint   string
	model      string
	language   string
	sampleRate int
	channels   int
	client     *http.Client
}

func (t *httpTranscriber) transcribe(ctx context.Context, pcm []byte) (string, stt.FailureCause, error) {
	body, contentType, err := t.encodeForm(pcm)
	if err != nil {
		return "", stt.CauseAudioCapture, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return "", stt.CauseAudioCapture, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", stt.CauseAudioCapture, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode), fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", stt.CauseAudioCapture, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, 0, nil
}

// encodeForm builds the multipart body: the WAV clip plus optional language
// and model hints.
func (t *httpTranscriber) encodeForm(pcm []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, t.sampleRate, t.channels)); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if t.language != "" {
		if err := mw.WriteField("language", t.language); err != nil {
			return nil, "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return nil, "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// classifyStatus maps an inference failure to a recognition failure cause.
// Auth rejections and config rejections are fatal; everything else (5xx,
// transport errors, malformed bodies) is a transient capture problem.
func classifyStatus(status int) stt.FailureCause {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return stt.CausePermissionDenied
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return stt.CauseNotSupported
	default:
		return stt.CauseAudioCapture
	}
}

// encodeWAV wraps 16-bit little-endian PCM in a minimal RIFF container, the
// only upload format whisper-server accepts.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerLen = 44
	blockAlign := channels * 2

	var h [headerLen]byte
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], uint32(headerLen-8+len(pcm)))
	copy(h[8:], "WAVE")

	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:], 1)  // uncompressed
	binary.LittleEndian.PutUint16(h[22:], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], 16) // bits per sample

	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], uint32(len(pcm)))

	return append(h[:], pcm...)
}
