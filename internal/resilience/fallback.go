package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template a [FallbackGroup] stamps out for
// each of its entries.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// guarded is a provider value behind its own circuit breaker.
type guarded[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// try runs fn against the value if the breaker allows it.
func (g *guarded[T]) try(fn func(T) error) error {
	return g.breaker.Execute(func() error {
		return fn(g.value)
	})
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. When the primary fails (or its circuit breaker is
// open), the next healthy fallback is tried in registration order.
//
// Register all entries before first use; after that the group is safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []guarded[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group whose first entry is primary; chain
// [FallbackGroup.AddFallback] calls for the rest.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.register(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.register(name, fallback)
}

func (fg *FallbackGroup[T]) register(name string, v T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, guarded[T]{
		name:    name,
		value:   v,
		breaker: NewCircuitBreaker(cb),
	})
}

// Names returns the entry names in try order. Used for logs and the startup
// summary.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute walks the entries in try order until fn succeeds against one.
// Entries with an open breaker are skipped. When nothing succeeds the last
// error comes back wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning both the result value and error. This is a
// package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		var result R
		err := e.try(func(v T) error {
			r, ferr := fn(v)
			result = r
			return ferr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		noteFailure(e.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func noteFailure(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping provider (circuit open)", "provider", name)
		return
	}
	slog.Warn("provider failed, trying next", "provider", name, "error", err)
}
