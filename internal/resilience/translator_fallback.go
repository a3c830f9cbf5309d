package resilience

import (
	"context"
	"strings"

	"github.com/tandemvoice/tandem/pkg/provider/translate"
)

// TranslatorFallback implements [translate.Provider] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type TranslatorFallback struct {
	group *FallbackGroup[translate.Provider]
}

// Compile-time interface assertion.
var _ translate.Provider = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary translate.Provider, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslatorFallback) AddFallback(provider translate.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Translate sends the request to the first healthy provider and returns its
// result. If the primary fails, subsequent fallbacks are tried. With a
// pivoted translation each hop fails over independently.
func (f *TranslatorFallback) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	return ExecuteWithResult(f.group, func(p translate.Provider) (translate.Result, error) {
		return p.Translate(ctx, req)
	})
}

// SupportsPair reports whether the first provider with a closed (or probing)
// circuit breaker supports the pair — the entry most likely to serve the next
// call. When every breaker is open the primary's answer is used.
func (f *TranslatorFallback) SupportsPair(source, target string) bool {
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		if entry.breaker.State() == StateOpen {
			continue
		}
		return entry.value.SupportsPair(source, target)
	}
	return f.group.entries[0].value.SupportsPair(source, target)
}

// Name returns the chain in try order, e.g. "fallback(libretranslate, llm:ollama)".
func (f *TranslatorFallback) Name() string {
	return "fallback(" + strings.Join(f.group.Names(), ", ") + ")"
}
