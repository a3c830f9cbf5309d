package translate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tandemvoice/tandem/internal/resilience"
	provider "github.com/tandemvoice/tandem/pkg/provider/translate"
	translatemock "github.com/tandemvoice/tandem/pkg/provider/translate/mock"
	"github.com/tandemvoice/tandem/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func utt(text, source, target string) types.Utterance {
	return types.Utterance{
		ID:         uuid.New(),
		Side:       types.SideA,
		Text:       text,
		SourceLang: source,
		TargetLang: target,
		CapturedAt: time.Now(),
	}
}

// fastRetry keeps test retries in the millisecond range.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		Attempts:       attempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestTranslate_SameLanguageShortCircuit(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("Hello", "en", "en"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "Hello" || tr.FromCache || tr.Fallback {
		t.Errorf("unexpected result %+v", tr)
	}
	if backend.TranslateCallCount() != 0 {
		t.Error("backend must not be called for a same-language pair")
	}
}

func TestTranslate_SameLanguageIgnoresCase(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("Hello", "en-US", "EN-us"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "Hello" || backend.TranslateCallCount() != 0 {
		t.Errorf("case-variant same pair should short-circuit, got %+v", tr)
	}
}

func TestTranslate_Success(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{Result: provider.Result{Text: "hola"}}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("hello", "en", "es"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "hola" {
		t.Errorf("TranslatedText = %q", tr.TranslatedText)
	}
	if tr.FromCache || tr.Pivoted || tr.Fallback {
		t.Errorf("flags = %+v, want all clear", tr)
	}
	if tr.Dur <= 0 {
		t.Error("Dur not recorded")
	}
}

func TestTranslate_NormalizesBeforeSubmission(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{Result: provider.Result{Text: "¡hola!"}}
	c := New(backend)

	if _, err := c.Translate(context.Background(), utt("  Hello   there!!! ", "en", "es")); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got := backend.TranslateCalls[0].Req.Text; got != "Hello there!" {
		t.Errorf("backend received %q, want normalized text", got)
	}
}

func TestTranslate_EmptyAfterNormalize(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("   ", "en", "es"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "   " || backend.TranslateCallCount() != 0 {
		t.Errorf("blank text should pass through untouched, got %+v", tr)
	}
}

func TestTranslate_CacheHit(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{Result: provider.Result{Text: "hola"}}
	c := New(backend)

	first, err := c.Translate(context.Background(), utt("Hello there", "en", "es"))
	if err != nil {
		t.Fatalf("first Translate: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call must miss")
	}

	// Case and whitespace variants hit the same entry.
	second, err := c.Translate(context.Background(), utt("  hello   THERE ", "en", "es"))
	if err != nil {
		t.Fatalf("second Translate: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should hit the cache")
	}
	if second.TranslatedText != first.TranslatedText {
		t.Errorf("cached text %q != original %q", second.TranslatedText, first.TranslatedText)
	}
	if backend.TranslateCallCount() != 1 {
		t.Errorf("backend called %d times, want 1", backend.TranslateCallCount())
	}
}

func TestTranslate_CacheDistinguishesDirection(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{}
	c := New(backend)

	if _, err := c.Translate(context.Background(), utt("water", "en", "es")); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	tr, err := c.Translate(context.Background(), utt("water", "es", "en"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.FromCache {
		t.Error("reverse direction must not hit the forward entry")
	}
}

func TestTranslate_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	backend := &translatemock.Provider{
		TranslateFunc: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			calls++
			if calls < 3 {
				return provider.Result{}, errors.New("upstream 503")
			}
			return provider.Result{Text: "hola"}, nil
		},
	}
	c := New(backend, WithRetry(fastRetry(3)))

	tr, err := c.Translate(context.Background(), utt("hello", "en", "es"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "hola" || tr.Fallback {
		t.Errorf("result = %+v", tr)
	}
	if calls != 3 {
		t.Errorf("backend called %d times, want 3", calls)
	}
}

func TestTranslate_FallbackAfterExhaustion(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{Err: errors.New("upstream down")}
	c := New(backend, WithRetry(fastRetry(3)))

	tr, err := c.Translate(context.Background(), utt("Good morning", "en", "es"))
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}

	var engErr *types.EngineError
	if !errors.As(err, &engErr) || engErr.Kind != types.TranslationFailed {
		t.Errorf("expected EngineError{TranslationFailed}, got %v", err)
	}
	if !errors.Is(err, resilience.ErrAttemptsExhausted) {
		t.Errorf("error should wrap the exhaustion sentinel, got %v", err)
	}
	if tr.TranslatedText != "Good morning" || !tr.Fallback {
		t.Errorf("fallback must carry the original text, got %+v", tr)
	}
	if backend.TranslateCallCount() != 3 {
		t.Errorf("backend called %d times, want 3", backend.TranslateCallCount())
	}
	if c.CacheLen() != 0 {
		t.Error("fallback results must not be cached")
	}
}

func TestTranslate_PivotWhenPairUnsupported(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{
		Unsupported: map[string]bool{translatemock.PairKey("de", "fr"): true},
		TranslateFunc: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			switch req.TargetLang {
			case "en":
				return provider.Result{Text: "bridge"}, nil
			case "fr":
				return provider.Result{Text: "pont"}, nil
			}
			return provider.Result{}, errors.New("unexpected target " + req.TargetLang)
		},
	}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("Brücke", "de", "fr"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.TranslatedText != "pont" || !tr.Pivoted {
		t.Errorf("result = %+v, want pont via pivot", tr)
	}

	calls := backend.TranslateCalls
	if len(calls) != 2 {
		t.Fatalf("backend called %d times, want 2", len(calls))
	}
	if calls[0].Req.SourceLang != "de" || calls[0].Req.TargetLang != "en" {
		t.Errorf("first hop %s->%s, want de->en", calls[0].Req.SourceLang, calls[0].Req.TargetLang)
	}
	if calls[1].Req.SourceLang != "en" || calls[1].Req.TargetLang != "fr" {
		t.Errorf("second hop %s->%s, want en->fr", calls[1].Req.SourceLang, calls[1].Req.TargetLang)
	}
	if calls[1].Req.Text != "bridge" {
		t.Errorf("second hop received %q, want first hop's output", calls[1].Req.Text)
	}
}

func TestTranslate_PivotHandlesRegionalSubtags(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{
		Unsupported: map[string]bool{translatemock.PairKey("es-MX", "fr-CA"): true},
	}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("puente", "es-MX", "fr-CA"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !tr.Pivoted {
		t.Error("regional non-English pair should pivot")
	}
	if got := backend.TranslateCalls[0].Req.TargetLang; got != "en" {
		t.Errorf("first hop target = %q, want en", got)
	}
}

func TestTranslate_NoPivotWhenSourceIsEnglish(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{
		Unsupported: map[string]bool{translatemock.PairKey("en-US", "fr"): true},
		Result:      provider.Result{Text: "le texte"},
	}
	c := New(backend)

	tr, err := c.Translate(context.Background(), utt("the text", "en-US", "fr"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tr.Pivoted {
		t.Error("English source must not pivot; the hop would repeat the direct call")
	}
	if backend.TranslateCallCount() != 1 {
		t.Errorf("backend called %d times, want 1 direct call", backend.TranslateCallCount())
	}
}

func TestTranslate_PivotHopFailureFailsWholeAttempt(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{
		Unsupported: map[string]bool{translatemock.PairKey("de", "fr"): true},
		TranslateFunc: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			if req.TargetLang == "en" {
				return provider.Result{Text: "bridge"}, nil
			}
			return provider.Result{}, errors.New("fr model unavailable")
		},
	}
	c := New(backend, WithRetry(fastRetry(2)))

	tr, err := c.Translate(context.Background(), utt("Brücke", "de", "fr"))
	if err == nil {
		t.Fatal("expected error when the second hop keeps failing")
	}
	if !tr.Fallback || tr.TranslatedText != "Brücke" {
		t.Errorf("result = %+v, want original-text fallback", tr)
	}

	// Each attempt redoes both hops: 2 attempts × 2 calls.
	if got := backend.TranslateCallCount(); got != 4 {
		t.Errorf("backend called %d times, want 4", got)
	}
}

func TestTranslate_PivotCachesFinalPairOnly(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{
		Unsupported: map[string]bool{translatemock.PairKey("de", "fr"): true},
		TranslateFunc: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			if req.TargetLang == "en" {
				return provider.Result{Text: "bridge"}, nil
			}
			return provider.Result{Text: "pont"}, nil
		},
	}
	c := New(backend)

	if _, err := c.Translate(context.Background(), utt("Brücke", "de", "fr")); err != nil {
		t.Fatalf("first Translate: %v", err)
	}
	if c.CacheLen() != 1 {
		t.Errorf("cache holds %d entries, want 1 (final pair only)", c.CacheLen())
	}

	tr, err := c.Translate(context.Background(), utt("Brücke", "de", "fr"))
	if err != nil {
		t.Fatalf("second Translate: %v", err)
	}
	if !tr.FromCache || tr.TranslatedText != "pont" {
		t.Errorf("second result = %+v, want cached pont", tr)
	}
	if backend.TranslateCallCount() != 2 {
		t.Errorf("backend called %d times, want the original 2 hops only", backend.TranslateCallCount())
	}
}

func TestTranslate_ContextCancelled(t *testing.T) {
	t.Parallel()
	backend := &translatemock.Provider{}
	c := New(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := c.Translate(ctx, utt("hello", "en", "es"))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}
	if !tr.Fallback || tr.TranslatedText != "hello" {
		t.Errorf("result = %+v, want original-text fallback", tr)
	}
	if backend.TranslateCallCount() != 0 {
		t.Error("backend must not be called after cancellation")
	}
}
