// Package conversation keeps the rolling transcript of a session: every
// utterance as heard and as rendered, newest last. The log is the in-memory
// model behind the device's transcript panel; it is bounded, so a long
// session drops its oldest lines rather than growing without limit.
package conversation

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandemvoice/tandem/pkg/types"
)

// DefaultCapacity is the number of entries kept when no capacity is
// configured.
const DefaultCapacity = 500

// Kind distinguishes the two texts a turn produces.
type Kind string

const (
	// KindOriginal is the utterance as the speaker said it.
	KindOriginal Kind = "original"

	// KindTranslated is the utterance as it was rendered to the listener.
	KindTranslated Kind = "translated"
)

// Entry is one line of the transcript.
type Entry struct {
	// ID ties the entry to the utterance it came from. The original and
	// translated lines of one turn share it; Kind tells them apart.
	ID uuid.UUID

	// Side is the party that spoke.
	Side types.Side

	// Kind is original or translated.
	Kind Kind

	// Lang is the language of Text.
	Lang string

	// Text is the transcript line.
	Text string

	// At is when the line was produced.
	At time.Time
}

// Log is a bounded in-memory transcript. Appending past capacity drops the
// oldest entries. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

// NewLog creates a transcript bounded to capacity entries. Capacity < 1
// falls back to [DefaultCapacity].
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity}
}

// Append adds one entry, stamping At with the current time when unset.
func (l *Log) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
}

// AppendTurn records both halves of a completed translation: the utterance
// as heard, stamped with its capture time, then the rendered text. Both
// entries carry the utterance ID.
func (l *Log) AppendTurn(tr types.Translation) {
	utt := tr.Utterance
	l.Append(Entry{
		ID:   utt.ID,
		Side: utt.Side,
		Kind: KindOriginal,
		Lang: utt.SourceLang,
		Text: utt.Text,
		At:   utt.CapturedAt,
	})
	l.Append(Entry{
		ID:   utt.ID,
		Side: utt.Side,
		Kind: KindTranslated,
		Lang: utt.TargetLang,
		Text: tr.TranslatedText,
	})
}

// Entries returns a copy of the transcript, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
