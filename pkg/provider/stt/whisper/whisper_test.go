package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/stt"
	"github.com/tandemvoice/tandem/pkg/provider/stt/whisper"
)

// monoCfg is the stream configuration the engine uses in production: 16 kHz
// mono capture.
var monoCfg = stt.StreamConfig{SampleRate: 16000, Channels: 1}

// fakeServer stands in for whisper-server. It answers POST /inference with a
// fixed status and transcription and records what each upload carried.
type fakeServer struct {
	*httptest.Server

	calls atomic.Int32

	mu       sync.Mutex
	language string
	model    string
	wavMagic []byte
}

func startFakeServer(t *testing.T, status int, text string) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		f.calls.Add(1)
		f.record(r)
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) record(r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return
	}
	defer file.Close()
	magic := make([]byte, 12)
	_, _ = io.ReadFull(file, magic)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = r.FormValue("language")
	f.model = r.FormValue("model")
	f.wavMagic = magic
}

func (f *fakeServer) lastUpload() (language, model string, wavMagic []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.language, f.model, f.wavMagic
}

// voicedPCM returns ms milliseconds of 16 kHz mono PCM carrying a 440 Hz tone
// well above the voice threshold.
func voicedPCM(ms int) []byte {
	const amplitude = 10_000.0
	samples := ms * 16
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// quietPCM returns ms milliseconds of 16 kHz mono digital silence.
func quietPCM(ms int) []byte {
	return make([]byte, ms*16*2)
}

// mustStream opens a session on any recognizer (HTTP or native) and schedules
// its teardown.
func mustStream(t *testing.T, p stt.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// recv waits for one value on ch or fails the test after five seconds.
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}

	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(16000),
		whisper.WithFlushAfterMs(300),
		whisper.WithMaxClipMs(5000),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

func TestStartStream_HandleIsReady(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "")

	p, _ := whisper.New(f.URL)
	h := mustStream(t, p, monoCfg)

	if h.Partials() == nil || h.Finals() == nil || h.Events() == nil {
		t.Error("session channels must be non-nil immediately after StartStream")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "")

	p, _ := whisper.New(f.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.StartStream(ctx, monoCfg); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestQuietOnlyAudioNeverReachesServer(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "unexpected")

	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(50),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	_ = h.SendAudio(quietPCM(1000))
	time.Sleep(150 * time.Millisecond)
	_ = h.Close()

	if n := f.calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for quiet-only audio; want 0", n)
	}
}

func TestQuietAfterSpeechProducesFinal(t *testing.T) {
	t.Parallel()
	const wantText = "where is the train station"
	f := startFakeServer(t, http.StatusOK, wantText)

	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(100),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	if err := h.SendAudio(voicedPCM(100)); err != nil {
		t.Fatalf("SendAudio (speech): %v", err)
	}
	if err := h.SendAudio(quietPCM(100)); err != nil {
		t.Fatalf("SendAudio (quiet): %v", err)
	}

	tr := recv(t, h.Finals(), "final transcript")
	if tr.Text != wantText {
		t.Errorf("Finals().Text = %q; want %q", tr.Text, wantText)
	}
	if !tr.IsFinal {
		t.Error("Finals() transcript should have IsFinal = true")
	}
}

func TestPartialAccompaniesFinal(t *testing.T) {
	t.Parallel()
	const wantText = "two tickets please"
	f := startFakeServer(t, http.StatusOK, wantText)

	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(100),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	_ = h.SendAudio(voicedPCM(100))
	_ = h.SendAudio(quietPCM(100))

	tr := recv(t, h.Partials(), "partial transcript")
	if tr.Text != wantText {
		t.Errorf("Partials().Text = %q; want %q", tr.Text, wantText)
	}
	if tr.IsFinal {
		t.Error("Partials() transcript should have IsFinal = false")
	}
}

func TestContinuousSpeechCommitsAtCap(t *testing.T) {
	t.Parallel()
	const wantText = "thank you very much"
	f := startFakeServer(t, http.StatusOK, wantText)

	// The quiet window can never elapse; the 200 ms cap must commit instead.
	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(10_000),
		whisper.WithMaxClipMs(200),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	if err := h.SendAudio(voicedPCM(210)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	tr := recv(t, h.Finals(), "cap-commit transcript")
	if tr.Text != wantText {
		t.Errorf("Finals().Text = %q; want %q", tr.Text, wantText)
	}
}

func TestUploadCarriesWavAndHints(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "guten tag")

	p, _ := whisper.New(f.URL,
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithFlushAfterMs(100),
	)
	h := mustStream(t, p, monoCfg)

	_ = h.SendAudio(voicedPCM(100))
	_ = h.SendAudio(quietPCM(100))
	recv(t, h.Finals(), "final transcript")

	language, model, magic := f.lastUpload()
	if language != "de" {
		t.Errorf("language field = %q; want %q", language, "de")
	}
	if model != "small" {
		t.Errorf("model field = %q; want %q", model, "small")
	}
	if len(magic) < 12 || string(magic[0:4]) != "RIFF" || string(magic[8:12]) != "WAVE" {
		t.Errorf("upload is not a RIFF/WAVE container: % x", magic)
	}
}

func TestClose_ReleasesSession(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "")

	p, _ := whisper.New(f.URL)
	h := mustStream(t, p, monoCfg)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Close waits for the session goroutine, so the channels are already
	// closed when it returns.
	if _, open := <-h.Partials(); open {
		t.Error("Partials channel still open after Close")
	}
	if _, open := <-h.Finals(); open {
		t.Error("Finals channel still open after Close")
	}
	if _, open := <-h.Events(); open {
		t.Error("Events channel still open after Close")
	}

	if err := h.SendAudio(voicedPCM(10)); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

func TestClose_FlushesBufferedSpeech(t *testing.T) {
	t.Parallel()
	const wantText = "see you tomorrow"
	f := startFakeServer(t, http.StatusOK, wantText)

	// The quiet window never elapses; only Close can commit the clip.
	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(60_000),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	_ = h.SendAudio(voicedPCM(100))
	// Let the session goroutine drain the queue before closing.
	time.Sleep(50 * time.Millisecond)
	_ = h.Close()

	got := false
	for tr := range h.Finals() {
		got = true
		if tr.Text != wantText {
			t.Errorf("close-flush transcript = %q; want %q", tr.Text, wantText)
		}
	}
	if !got {
		t.Error("no transcript emitted for speech buffered at Close")
	}
}

func TestInferenceFailureEvents(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		status    int
		wantCause stt.FailureCause
		wantFatal bool
	}{
		{"server error is transient", http.StatusInternalServerError, stt.CauseAudioCapture, false},
		{"auth rejection is fatal", http.StatusUnauthorized, stt.CausePermissionDenied, true},
		{"config rejection is fatal", http.StatusBadRequest, stt.CauseNotSupported, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := startFakeServer(t, tc.status, "")

			p, _ := whisper.New(f.URL,
				whisper.WithFlushAfterMs(100),
				whisper.WithSampleRate(16000),
			)
			h := mustStream(t, p, monoCfg)

			_ = h.SendAudio(voicedPCM(100))
			_ = h.SendAudio(quietPCM(100))

			ev := recv(t, h.Events(), "session event")
			if ev.Cause != tc.wantCause {
				t.Errorf("event cause = %v; want %v", ev.Cause, tc.wantCause)
			}
			if ev.Cause.Fatal() != tc.wantFatal {
				t.Errorf("Fatal() = %v; want %v", ev.Cause.Fatal(), tc.wantFatal)
			}
			if ev.Err == nil {
				t.Error("expected non-nil event error")
			}
		})
	}
}

func TestEmptyTranscriptionReportsNoSpeech(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "")

	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(100),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	_ = h.SendAudio(voicedPCM(100))
	_ = h.SendAudio(quietPCM(100))

	ev := recv(t, h.Events(), "no-speech event")
	if ev.Cause != stt.CauseNoSpeech {
		t.Errorf("event cause = %v; want CauseNoSpeech", ev.Cause)
	}
	if ev.Cause.Fatal() {
		t.Error("no-speech must not be fatal")
	}

	// Empty text must never surface as a transcript.
	select {
	case tr := <-h.Finals():
		t.Errorf("received transcript %q on Finals; expected no emission", tr.Text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConcurrentSendAudio(t *testing.T) {
	t.Parallel()
	f := startFakeServer(t, http.StatusOK, "hello")

	p, _ := whisper.New(f.URL,
		whisper.WithFlushAfterMs(100),
		whisper.WithSampleRate(16000),
	)
	h := mustStream(t, p, monoCfg)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = h.SendAudio(voicedPCM(10))
			}
		}()
	}
	wg.Wait()
}
