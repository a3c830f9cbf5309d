package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tandemvoice/tandem/pkg/history"
	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
	"github.com/tandemvoice/tandem/pkg/types"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL-backed conversation log. It holds a single
// [pgxpool.Pool] and an embedding provider used to vectorise entries on write
// and queries on search.
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the schema exists.
//
// embedder produces the vectors stored alongside each turn; its
// [embeddings.Provider.Dimensions] fixes the vector column width.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("history store: embedder must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}

	// Every pooled connection needs the pgvector types registered before it
	// can scan or bind vector columns.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}

	slog.Info("history store ready",
		"embedding_model", embedder.ModelID(),
		"embedding_dimensions", embedder.Dimensions())

	return &Store{pool: pool, embedder: embedder}, nil
}

// Record implements [history.Store]. Embedding is best-effort: when the
// embedding provider fails, the turn is stored without a vector and a warning
// is logged. Such entries show up in [Store.Recent] but not in
// [Store.Search].
func (s *Store) Record(ctx context.Context, entry history.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var embedding any
	if text := embedText(entry); text != "" {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("history: embedding failed, storing turn without vector",
				"turn_id", entry.ID, "error", err)
		} else {
			embedding = pgvector.NewVector(vec)
		}
	}

	const q = `
		INSERT INTO turns
		    (id, side, source_lang, target_lang, original_text, translated_text,
		     from_cache, pivoted, fallback, translate_ns, speak_ns, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, q,
		entry.ID.String(),
		int16(entry.Side),
		entry.SourceLang,
		entry.TargetLang,
		entry.OriginalText,
		entry.TranslatedText,
		entry.FromCache,
		entry.Pivoted,
		entry.Fallback,
		entry.TranslateDur.Nanoseconds(),
		entry.SpeakDur.Nanoseconds(),
		embedding,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: record: %w", err)
	}
	return nil
}

// Recent implements [history.Store]. It returns up to n entries ordered
// newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]history.Entry, error) {
	const q = `
		SELECT id, side, source_lang, target_lang, original_text, translated_text,
		       from_cache, pivoted, fallback, translate_ns, speak_ns, created_at
		FROM   turns
		ORDER  BY created_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [history.Store]. It embeds the query and returns the k
// stored turns whose embeddings are closest by cosine distance.
func (s *Store) Search(ctx context.Context, query string, k int) ([]history.Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history store: embed query: %w", err)
	}

	const q = `
		SELECT id, side, source_lang, target_lang, original_text, translated_text,
		       from_cache, pivoted, fallback, translate_ns, speak_ns, created_at,
		       embedding <=> $1 AS distance
		FROM   turns
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Result, error) {
		var (
			r  history.Result
			sc entryScan
		)
		if err := row.Scan(sc.dest(&r.Entry, &r.Distance)...); err != nil {
			return history.Result{}, err
		}
		if err := sc.finish(&r.Entry); err != nil {
			return history.Result{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if results == nil {
		results = []history.Result{}
	}
	return results, nil
}

// Close tears down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// embedText assembles the text that is vectorised for a turn. Both the
// original and the translated side are included so a query in either language
// can find the turn.
func embedText(e history.Entry) string {
	return strings.TrimSpace(strings.TrimSpace(e.OriginalText) + "\n" + strings.TrimSpace(e.TranslatedText))
}

// entryScan carries the intermediate column values that need conversion
// before they can land in a [history.Entry].
type entryScan struct {
	id          string
	side        int16
	translateNS int64
	speakNS     int64
}

// dest returns the scan destinations for one turns row. When distance is
// non-nil the trailing distance column is included.
func (sc *entryScan) dest(e *history.Entry, distance *float64) []any {
	dests := []any{
		&sc.id,
		&sc.side,
		&e.SourceLang,
		&e.TargetLang,
		&e.OriginalText,
		&e.TranslatedText,
		&e.FromCache,
		&e.Pivoted,
		&e.Fallback,
		&sc.translateNS,
		&sc.speakNS,
		&e.CreatedAt,
	}
	if distance != nil {
		dests = append(dests, distance)
	}
	return dests
}

// finish converts the intermediate values into their Entry fields.
func (sc *entryScan) finish(e *history.Entry) error {
	id, err := uuid.Parse(sc.id)
	if err != nil {
		return fmt.Errorf("parse turn id %q: %w", sc.id, err)
	}
	e.ID = id
	e.Side = types.Side(sc.side)
	e.TranslateDur = time.Duration(sc.translateNS)
	e.SpeakDur = time.Duration(sc.speakNS)
	return nil
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e  history.Entry
			sc entryScan
		)
		if err := row.Scan(sc.dest(&e, nil)...); err != nil {
			return history.Entry{}, err
		}
		if err := sc.finish(&e); err != nil {
			return history.Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
