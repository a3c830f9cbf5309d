// Package mock fakes the conversation log for tests.
//
// Every call is captured so tests can assert on it, and exported fields
// script the return values. Safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/history"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Query is the search string.
	Query string
	// K is the requested result count.
	K int
}

// Store fakes [history.Store]. The zero value is usable: every call
// succeeds and queries come back empty. Set the *Err and *Result fields to
// script other behavior.
type Store struct {
	mu sync.Mutex

	// RecordErr makes Record fail when non-nil.
	RecordErr error

	// RecentResult is what Recent hands back; nil means an empty non-nil
	// slice.
	RecentResult []history.Entry

	// RecentErr makes Recent fail when non-nil.
	RecentErr error

	// SearchResult is what Search hands back; nil means an empty non-nil
	// slice.
	SearchResult []history.Result

	// SearchErr makes Search fail when non-nil.
	SearchErr error

	// RecordCalls holds every entry passed to Record, in order.
	RecordCalls []history.Entry

	// RecentCalls holds the n argument of every Recent call, in order.
	RecentCalls []int

	// SearchCalls records every Search invocation in order.
	SearchCalls []SearchCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Record implements [history.Store].
func (m *Store) Record(_ context.Context, entry history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls = append(m.RecordCalls, entry)
	return m.RecordErr
}

// Recent implements [history.Store].
func (m *Store) Recent(_ context.Context, n int) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecentCalls = append(m.RecentCalls, n)
	if m.RecentResult == nil {
		return []history.Entry{}, m.RecentErr
	}
	out := make([]history.Entry, len(m.RecentResult))
	copy(out, m.RecentResult)
	return out, m.RecentErr
}

// Search implements [history.Store].
func (m *Store) Search(_ context.Context, query string, k int) ([]history.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, SearchCall{Query: query, K: k})
	if m.SearchResult == nil {
		return []history.Result{}, m.SearchErr
	}
	out := make([]history.Result, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// Close implements [history.Store].
func (m *Store) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
}

// RecordCallCount returns how many entries were passed to Record.
func (m *Store) RecordCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordCalls)
}

// Recorded returns a copy of all entries passed to Record, in order.
func (m *Store) Recorded() []history.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.Entry, len(m.RecordCalls))
	copy(out, m.RecordCalls)
	return out
}

// Reset drops the captured calls and leaves the scripted responses alone.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls = nil
	m.RecentCalls = nil
	m.SearchCalls = nil
	m.CloseCallCount = 0
}
