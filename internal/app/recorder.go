package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/pkg/history"
	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// recorderQueue bounds how many finished turns may wait for the store.
	recorderQueue = 64

	// recordTimeout bounds a single store write, embedding included.
	recordTimeout = 10 * time.Second

	// drainGrace is how long shutdown waits for queued entries to land.
	drainGrace = 5 * time.Second
)

// recorder persists finished turns to the history store off the engine's hot
// path. The turn controller hands entries to sink, which never blocks; a
// background goroutine does the actual writes, each of which may call out to
// the embeddings provider.
type recorder struct {
	store   history.Store
	metrics *observe.Metrics
	ch      chan history.Entry
}

func newRecorder(store history.Store, metrics *observe.Metrics) *recorder {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &recorder{
		store:   store,
		metrics: metrics,
		ch:      make(chan history.Entry, recorderQueue),
	}
}

// sink queues a finished turn for persistence. When the queue is full the
// entry is dropped rather than stalling the engine.
func (r *recorder) sink(tr types.Translation, spoke time.Duration) {
	entry := history.FromTranslation(tr, spoke)
	select {
	case r.ch <- entry:
	default:
		slog.Warn("recorder: queue full, dropping entry", "utterance", tr.Utterance.ID)
		r.metrics.RecordProviderError(context.Background(), "history", "queue_full")
	}
}

// run writes queued entries until ctx is cancelled, then drains what is left.
func (r *recorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case entry := <-r.ch:
			r.record(entry)
		}
	}
}

// drain flushes the remaining queue within drainGrace. Entries still queued
// when the grace period ends are dropped with a warning.
func (r *recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()

	for {
		select {
		case entry := <-r.ch:
			if ctx.Err() != nil {
				slog.Warn("recorder: drain deadline exceeded, dropping entries", "remaining", len(r.ch)+1)
				return
			}
			r.record(entry)
		default:
			return
		}
	}
}

// record performs one store write. Writes are detached from the engine's
// lifetime so a shutdown mid-write does not lose the entry.
func (r *recorder) record(entry history.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.Record(ctx, entry); err != nil {
		slog.Warn("recorder: record failed", "utterance", entry.ID, "error", err)
		r.metrics.RecordProviderError(ctx, "history", "record")
	}
}
