// Package mock fakes translation for tests.
//
// Use Provider to script translation results and inspect the requests the
// engine issued. Without any configuration, Translate echoes the request text
// back, which keeps tests that only care about plumbing short.
//
// Example:
//
//	p := &mock.Provider{
//	    TranslateFunc: func(ctx context.Context, req translate.Request) (translate.Result, error) {
//	        return translate.Result{Text: "hola"}, nil
//	    },
//	}
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/translate"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	// Req is the request passed to Translate.
	Req translate.Request
}

// PairCall records a single invocation of Provider.SupportsPair.
type PairCall struct {
	Source string
	Target string
}

// Provider implements translate.Provider with scripted responses.
type Provider struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock" when empty.
	NameResult string

	// Result is returned by every Translate call when TranslateFunc is nil.
	// When its Text is empty too, Translate echoes the request text.
	Result translate.Result

	// Err, if non-nil, is returned by every Translate call when TranslateFunc
	// is nil.
	Err error

	// TranslateFunc, if non-nil, computes the response per call and overrides
	// Result and Err.
	TranslateFunc func(ctx context.Context, req translate.Request) (translate.Result, error)

	// Unsupported holds "source>target" pairs for which SupportsPair returns
	// false. A nil map means every pair is supported. Use PairKey to build
	// keys.
	Unsupported map[string]bool

	// ─── Call records ───

	// TranslateCalls records every call to Translate in order.
	TranslateCalls []TranslateCall

	// PairCalls records every call to SupportsPair in order.
	PairCalls []PairCall
}

// PairKey builds the "source>target" key used by the Unsupported map.
func PairKey(source, target string) string {
	return strings.ToLower(source) + ">" + strings.ToLower(target)
}

// Translate records the call, then delegates to TranslateFunc if set,
// otherwise returns Result/Err, falling back to echoing the request text.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Req: req})
	fn := p.TranslateFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return translate.Result{}, err
	}
	if res.Text == "" {
		return translate.Result{Text: req.Text}, nil
	}
	return res, nil
}

// SupportsPair records the call and consults the Unsupported map.
func (p *Provider) SupportsPair(source, target string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PairCalls = append(p.PairCalls, PairCall{Source: source, Target: target})
	if p.Unsupported == nil {
		return true
	}
	return !p.Unsupported[PairKey(source, target)]
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

// TranslateCallCount returns the number of Translate calls. Thread-safe.
func (p *Provider) TranslateCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranslateCalls)
}

// Reset forgets the recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
	p.PairCalls = nil
}

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)
