// Package history defines the persistent conversation log.
//
// Every finished turn — the spoken text, its translation, and how the result
// was produced — is written to a [Store] so that past conversations can be
// reviewed and searched after the device session ends. Retrieval comes in two
// flavours: [Store.Recent] for a plain reverse-chronological window and
// [Store.Search] for embedding-based semantic recall ("what did we agree
// about the hotel?").
//
// Implementations must be safe for concurrent use. The engine writes entries
// from a background recorder goroutine, so a slow or failing store never
// blocks the live pipeline.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tandemvoice/tandem/pkg/types"
)

// Entry is one finished conversation turn as persisted to history.
type Entry struct {
	// ID uniquely identifies the turn. It matches the utterance ID used in
	// logs while the turn was live.
	ID uuid.UUID

	// Side is the party that spoke.
	Side types.Side

	// SourceLang is the language the turn was spoken in.
	SourceLang string

	// TargetLang is the language the turn was rendered in.
	TargetLang string

	// OriginalText is the transcript as captured from the speaker.
	OriginalText string

	// TranslatedText is the text that was spoken back. On fallback it equals
	// OriginalText.
	TranslatedText string

	// FromCache indicates the translation was served from cache.
	FromCache bool

	// Pivoted indicates the translation went through an English intermediate.
	Pivoted bool

	// Fallback indicates translation failed and the original text was passed
	// through untranslated.
	Fallback bool

	// TranslateDur is the wall time spent translating, zero for cache hits.
	TranslateDur time.Duration

	// SpeakDur is the wall time spent speaking the rendered audio.
	SpeakDur time.Duration

	// CreatedAt is when the turn was captured.
	CreatedAt time.Time
}

// FromTranslation builds an Entry from a finished translation and the time
// spent speaking its rendered audio.
func FromTranslation(tr types.Translation, spoke time.Duration) Entry {
	u := tr.Utterance
	return Entry{
		ID:             u.ID,
		Side:           u.Side,
		SourceLang:     u.SourceLang,
		TargetLang:     u.TargetLang,
		OriginalText:   u.Text,
		TranslatedText: tr.TranslatedText,
		FromCache:      tr.FromCache,
		Pivoted:        tr.Pivoted,
		Fallback:       tr.Fallback,
		TranslateDur:   tr.Dur,
		SpeakDur:       spoke,
		CreatedAt:      u.CapturedAt,
	}
}

// Result pairs a retrieved entry with its vector-space distance from the
// search query. Lower Distance values indicate higher semantic similarity.
type Result struct {
	// Entry is the retrieved turn.
	Entry Entry

	// Distance is the cosine distance between the query embedding and the
	// entry's stored embedding.
	Distance float64
}

// Store is the persistent conversation log.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Record persists one finished turn. A zero ID or CreatedAt is filled in
	// by the implementation.
	Record(ctx context.Context, entry Entry) error

	// Recent returns up to n entries ordered newest first.
	// Returns an empty (non-nil) slice when the log is empty.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Search returns the k entries semantically closest to query, ordered by
	// ascending distance (most similar first). Entries recorded without an
	// embedding are not searchable.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, k int) ([]Result, error)

	// Close releases all resources held by the store.
	Close()
}
