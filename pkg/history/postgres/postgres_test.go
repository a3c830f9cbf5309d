package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tandemvoice/tandem/pkg/history"
	"github.com/tandemvoice/tandem/pkg/history/postgres"
	embmock "github.com/tandemvoice/tandem/pkg/provider/embeddings/mock"
	"github.com/tandemvoice/tandem/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if TANDEM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TANDEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TANDEM_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// testEmbedder returns a deterministic keyword embedder: each of three topic
// words lights up one vector component, and the last component is always set
// so no vector is ever zero (cosine distance needs a magnitude).
func testEmbedder() *embmock.Provider {
	return &embmock.Provider{
		DimensionsValue: testEmbeddingDim,
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			vec := make([]float32, testEmbeddingDim)
			lower := strings.ToLower(text)
			for i, word := range []string{"train", "hotel", "breakfast"} {
				if strings.Contains(lower, word) {
					vec[i] = 1
				}
			}
			vec[testEmbeddingDim-1] = 1
			return vec, nil
		},
	}
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T, embedder *embmock.Provider) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a bare pgxpool used only for schema cleanup.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes the turns table created by Migrate.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS turns CASCADE"); err != nil {
		t.Fatalf("dropSchema: %v", err)
	}
}

// makeEntry builds a fully-populated entry. CreatedAt is truncated to
// microseconds because TIMESTAMPTZ does not keep nanosecond precision.
func makeEntry(original, translated string, at time.Time) history.Entry {
	return history.Entry{
		ID:             uuid.New(),
		Side:           types.SideA,
		SourceLang:     "en",
		TargetLang:     "es",
		OriginalText:   original,
		TranslatedText: translated,
		Pivoted:        true,
		TranslateDur:   420 * time.Millisecond,
		SpeakDur:       2 * time.Second,
		CreatedAt:      at.Truncate(time.Microsecond),
	}
}

func TestNewStore_NilEmbedder(t *testing.T) {
	// No database needed: the embedder is validated before any connection.
	if _, err := postgres.NewStore(context.Background(), "postgres://localhost/tandem", nil); err == nil {
		t.Fatal("expected error for nil embedder")
	}
}

func TestRecordAndRecent_RoundTrip(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	first := makeEntry("which train goes to the airport", "qué tren va al aeropuerto", base)
	second := makeEntry("two tickets please", "dos billetes por favor", base.Add(time.Minute))

	for _, e := range []history.Entry{first, second} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("entries not ordered newest first: %v, %v", got[0].ID, got[1].ID)
	}

	e := got[1]
	if e.Side != types.SideA {
		t.Errorf("Side = %v, want %v", e.Side, types.SideA)
	}
	if e.SourceLang != "en" || e.TargetLang != "es" {
		t.Errorf("langs = %q→%q, want en→es", e.SourceLang, e.TargetLang)
	}
	if e.OriginalText != first.OriginalText {
		t.Errorf("OriginalText = %q, want %q", e.OriginalText, first.OriginalText)
	}
	if e.TranslatedText != first.TranslatedText {
		t.Errorf("TranslatedText = %q, want %q", e.TranslatedText, first.TranslatedText)
	}
	if !e.Pivoted || e.FromCache || e.Fallback {
		t.Errorf("flags = cache:%v pivot:%v fallback:%v, want only pivot", e.FromCache, e.Pivoted, e.Fallback)
	}
	if e.TranslateDur != first.TranslateDur {
		t.Errorf("TranslateDur = %v, want %v", e.TranslateDur, first.TranslateDur)
	}
	if e.SpeakDur != first.SpeakDur {
		t.Errorf("SpeakDur = %v, want %v", e.SpeakDur, first.SpeakDur)
	}
	if !e.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, first.CreatedAt)
	}
}

func TestRecord_FillsZeroIDAndTimestamp(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	ctx := context.Background()

	entry := history.Entry{
		Side:           types.SideB,
		SourceLang:     "es",
		TargetLang:     "en",
		OriginalText:   "buenos días",
		TranslatedText: "good morning",
	}
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ID == uuid.Nil {
		t.Error("expected a generated ID")
	}
	if age := time.Since(got[0].CreatedAt); age < 0 || age > time.Minute {
		t.Errorf("CreatedAt not filled with a recent timestamp: %v", got[0].CreatedAt)
	}
}

func TestRecent_AppliesLimit(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		e := makeEntry("sentence", "frase", base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 entries, got %d", len(got))
	}
}

func TestRecent_EmptyLog(t *testing.T) {
	store := newTestStore(t, testEmbedder())

	got, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got == nil {
		t.Fatal("expected empty non-nil slice")
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestSearch_RanksByDistance(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	ctx := context.Background()

	now := time.Now()
	train := makeEntry("when does the train leave", "cuándo sale el tren", now.Add(-3*time.Minute))
	hotel := makeEntry("the hotel is around the corner", "el hotel está a la vuelta", now.Add(-2*time.Minute))
	food := makeEntry("breakfast is included", "el desayuno está incluido", now.Add(-time.Minute))

	for _, e := range []history.Entry{train, hotel, food} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	results, err := store.Search(ctx, "which train should I take", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Entry.ID != train.ID {
		t.Errorf("closest result = %q, want the train entry", results[0].Entry.OriginalText)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ordered by ascending distance: %v then %v",
				results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestSearch_RespectsK(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		e := makeEntry("the hotel has a pool", "el hotel tiene piscina", time.Now().Add(-time.Duration(i)*time.Minute))
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	results, err := store.Search(ctx, "hotel", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestSearch_SkipsEntriesWithoutEmbedding(t *testing.T) {
	embedder := testEmbedder()
	base := embedder.EmbedFunc
	embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "unembeddable") {
			return nil, errors.New("model offline")
		}
		return base(ctx, text)
	}

	store := newTestStore(t, embedder)
	ctx := context.Background()

	broken := makeEntry("unembeddable sentence about the train", "…", time.Now().Add(-2*time.Minute))
	fine := makeEntry("the train is late", "el tren llega tarde", time.Now().Add(-time.Minute))
	for _, e := range []history.Entry{broken, fine} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// The failed embedding must not block recording.
	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected both entries recorded, got %d", len(recent))
	}

	results, err := store.Search(ctx, "train", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 searchable entry, got %d", len(results))
	}
	if results[0].Entry.ID != fine.ID {
		t.Errorf("unexpected result %q", results[0].Entry.OriginalText)
	}
}

func TestSearch_EmbedderErrorPropagates(t *testing.T) {
	embedder := testEmbedder()
	store := newTestStore(t, embedder)

	embedder.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("model offline")
	}

	if _, err := store.Search(context.Background(), "anything", 3); err == nil {
		t.Fatal("expected error when query embedding fails")
	}
}

func TestNewStore_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t, testEmbedder())
	store.Close()

	again, err := postgres.NewStore(context.Background(), testDSN(t), testEmbedder())
	if err != nil {
		t.Fatalf("second NewStore over existing schema: %v", err)
	}
	again.Close()
}
