// Package translate coordinates utterance translation: normalization, a
// bounded FIFO cache, bounded retry with backoff, English-pivot routing for
// pairs the backend cannot translate directly, and graceful fallback to the
// original text when every attempt fails.
//
// The coordinator never blocks a turn on translation failure. After the
// retry budget is spent it returns the original text flagged as a fallback
// together with a recoverable [types.EngineError], and the conversation
// moves on.
package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/resilience"
	provider "github.com/tandemvoice/tandem/pkg/provider/translate"
	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// DefaultCacheCapacity bounds the translation cache.
	DefaultCacheCapacity = 1000

	// DefaultPivotLang is the intermediate language for pairs the backend
	// cannot translate directly.
	DefaultPivotLang = "en"
)

// Option configures a [Coordinator] during construction.
type Option func(*Coordinator)

// WithCacheCapacity sets the cache entry cap. Zero disables caching.
// The default is [DefaultCacheCapacity].
func WithCacheCapacity(n int) Option {
	return func(c *Coordinator) {
		c.cacheCap = max(n, 0)
	}
}

// WithRetry overrides the retry policy. Zero fields keep their defaults
// (3 attempts, 30 s per attempt, exponential backoff).
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Coordinator) {
		c.retry = cfg
	}
}

// WithPivotLanguage sets the intermediate language used when the backend
// cannot translate a pair directly. The default is [DefaultPivotLang].
func WithPivotLanguage(code string) Option {
	return func(c *Coordinator) {
		if code != "" {
			c.pivotLang = code
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator translates utterances through a [provider.Provider].
// All methods are safe for concurrent use, though the turn controller only
// ever has one translation in flight.
type Coordinator struct {
	backend   provider.Provider
	cache     *cache
	cacheCap  int
	retry     resilience.RetryConfig
	pivotLang string
	metrics   *observe.Metrics
}

// New creates a Coordinator around the given backend.
func New(backend provider.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:   backend,
		cacheCap:  DefaultCacheCapacity,
		pivotLang: DefaultPivotLang,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.cache = newCache(c.cacheCap)
	return c
}

// Translate produces the translation for one utterance.
//
// The happy path is: same-language short-circuit, cache lookup, then backend
// call under the retry policy (pivoting through the intermediate language
// when the backend cannot handle the pair directly). Successful backend
// results are cached under the final source→target key only.
//
// On exhaustion the returned [types.Translation] carries the original text
// with Fallback set, and the error is a [types.EngineError] of kind
// [types.TranslationFailed]. Callers must treat that outcome as recoverable:
// the untranslated text is still rendered so the conversation keeps moving.
func (c *Coordinator) Translate(ctx context.Context, utt types.Utterance) (types.Translation, error) {
	tr := types.Translation{Utterance: utt}

	if (types.LanguagePair{A: utt.SourceLang, B: utt.TargetLang}).Same() {
		tr.TranslatedText = utt.Text
		return tr, nil
	}

	text := normalize(utt.Text)
	if text == "" {
		tr.TranslatedText = utt.Text
		return tr, nil
	}

	key := cacheKey(text, utt.SourceLang, utt.TargetLang)
	if cached, ok := c.cache.get(key); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		tr.TranslatedText = cached
		tr.FromCache = true
		return tr, nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	ctx, span := observe.StartSpan(ctx, "translate.request")
	defer span.End()

	var (
		attempts int
		pivoted  bool
	)
	start := time.Now()
	translated, err := resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (string, error) {
		attempts++
		out, piv, err := c.attempt(ctx, text, utt.SourceLang, utt.TargetLang)
		pivoted = piv
		return out, err
	})
	tr.Dur = time.Since(start)
	if attempts > 1 {
		c.metrics.Retries.Add(ctx, int64(attempts-1))
	}

	if err != nil {
		observe.Logger(ctx).Error("translation exhausted, passing original through",
			"utterance", utt.ID,
			"source", utt.SourceLang,
			"target", utt.TargetLang,
			"attempts", attempts,
			"error", err)
		c.metrics.Fallbacks.Add(ctx, 1)
		c.metrics.RecordProviderError(ctx, c.backend.Name(), types.TranslationFailed.String())
		tr.TranslatedText = utt.Text
		tr.Fallback = true
		return tr, types.NewEngineError(types.TranslationFailed, err)
	}

	tr.TranslatedText = translated
	tr.Pivoted = pivoted
	c.cache.put(key, translated)
	c.metrics.TranslationDuration.Record(ctx, tr.Dur.Seconds())
	return tr, nil
}

// CacheLen returns the number of cached translations.
func (c *Coordinator) CacheLen() int {
	return c.cache.len()
}

// attempt performs one translation try, routing through the pivot language
// when required. The bool result reports whether the pivot route was taken.
func (c *Coordinator) attempt(ctx context.Context, text, source, target string) (string, bool, error) {
	if c.needsPivot(source, target) {
		out, err := c.pivot(ctx, text, source, target)
		return out, true, err
	}

	res, err := c.backend.Translate(ctx, provider.Request{
		Text:       text,
		SourceLang: source,
		TargetLang: target,
	})
	if err != nil {
		return "", false, fmt.Errorf("translate: %s->%s: %w", source, target, err)
	}
	return res.Text, false, nil
}

// needsPivot reports whether the pair must route through the pivot language:
// the backend cannot translate it directly and neither side already speaks
// the pivot. When one side speaks the pivot, the pivot route would repeat
// the direct call, so the direct call is attempted regardless.
func (c *Coordinator) needsPivot(source, target string) bool {
	if c.backend.SupportsPair(source, target) {
		return false
	}
	return !isLang(source, c.pivotLang) && !isLang(target, c.pivotLang)
}

// pivot translates source→pivot→target. Either hop failing fails the whole
// attempt; the intermediate text is never cached or surfaced.
func (c *Coordinator) pivot(ctx context.Context, text, source, target string) (string, error) {
	hop, err := c.backend.Translate(ctx, provider.Request{
		Text:       text,
		SourceLang: source,
		TargetLang: c.pivotLang,
	})
	if err != nil {
		return "", fmt.Errorf("translate: pivot %s->%s: %w", source, c.pivotLang, err)
	}

	res, err := c.backend.Translate(ctx, provider.Request{
		Text:       hop.Text,
		SourceLang: c.pivotLang,
		TargetLang: target,
	})
	if err != nil {
		return "", fmt.Errorf("translate: pivot %s->%s: %w", c.pivotLang, target, err)
	}
	return res.Text, nil
}

// isLang reports whether code denotes the given base language, ignoring
// region subtags ("en-US" is "en").
func isLang(code, base string) bool {
	code = strings.TrimSpace(code)
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return strings.EqualFold(code, base)
}
