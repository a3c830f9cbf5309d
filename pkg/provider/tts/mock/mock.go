// Package mock fakes speech synthesis for tests.
//
// Use Provider to feed controlled audio to consumers and to verify which text
// chunks were synthesised. Without any configuration, Synthesize returns
// 100 ms of silence at 16 kHz mono so plumbing tests need no setup.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: tts.Audio{PCM: pcm, Format: audio.Format{SampleRate: 24000, Channels: 1}},
//	}
//	out, _ := p.Synthesize(ctx, tts.Request{Text: "ready"})
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider implements tts.Provider with scripted responses.
type Provider struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock" when empty.
	NameResult string

	// Result is returned by every Synthesize call when SynthesizeFunc is nil.
	// When its PCM is empty too, Synthesize returns 100 ms of 16 kHz mono
	// silence.
	Result tts.Audio

	// Err, if non-nil, is returned by every Synthesize call when
	// SynthesizeFunc is nil.
	Err error

	// SynthesizeFunc, if non-nil, computes the response per call and
	// overrides Result and Err.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (tts.Audio, error)

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call, then delegates to SynthesizeFunc if set,
// otherwise returns Result/Err, falling back to a silent default.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Req: req})
	fn := p.SynthesizeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if len(res.PCM) == 0 {
		return tts.Audio{
			PCM:    make([]byte, 3200), // 100 ms at 16 kHz mono
			Format: audio.Format{SampleRate: 16000, Channels: 1},
		}, nil
	}
	return res, nil
}

// Name returns NameResult, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameResult == "" {
		return "mock"
	}
	return p.NameResult
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// SpokenTexts returns the Text of every recorded request in order.
// Thread-safe.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		texts[i] = c.Req.Text
	}
	return texts
}

// Reset forgets the recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)
