package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	historymock "github.com/tandemvoice/tandem/pkg/history/mock"
	"github.com/tandemvoice/tandem/pkg/types"
)

func testTranslation(text string) types.Translation {
	return types.Translation{
		Utterance: types.Utterance{
			ID:         uuid.New(),
			Side:       types.SideA,
			Text:       text,
			SourceLang: "es",
			TargetLang: "en",
			CapturedAt: time.Now(),
		},
		TranslatedText: "translated " + text,
		Dur:            25 * time.Millisecond,
	}
}

func TestRecorder_SinkBuildsEntry(t *testing.T) {
	t.Parallel()

	r := newRecorder(&historymock.Store{}, nil)
	tr := testTranslation("hola")
	r.sink(tr, 300*time.Millisecond)

	select {
	case entry := <-r.ch:
		if entry.ID != tr.Utterance.ID {
			t.Errorf("entry ID = %v, want %v", entry.ID, tr.Utterance.ID)
		}
		if entry.OriginalText != "hola" || entry.TranslatedText != "translated hola" {
			t.Errorf("entry texts = %q/%q, want original/translated pair",
				entry.OriginalText, entry.TranslatedText)
		}
		if entry.SpeakDur != 300*time.Millisecond {
			t.Errorf("entry SpeakDur = %v, want 300ms", entry.SpeakDur)
		}
	default:
		t.Fatal("sink did not queue an entry")
	}
}

func TestRecorder_WritesEntries(t *testing.T) {
	t.Parallel()

	store := &historymock.Store{}
	r := newRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		r.sink(testTranslation("entry"), 0)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.RecordCallCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("store saw %d records, want 3", store.RecordCallCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRecorder_DrainsQueuedEntriesOnCancel(t *testing.T) {
	t.Parallel()

	store := &historymock.Store{}
	r := newRecorder(store, nil)

	// Queue entries before the loop ever runs, then hand it a context that
	// is already cancelled. Everything queued must still be written.
	for i := 0; i < 5; i++ {
		r.sink(testTranslation("queued"), 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.run(ctx)

	if got := store.RecordCallCount(); got != 5 {
		t.Errorf("store saw %d records after drain, want 5", got)
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	r := newRecorder(&historymock.Store{}, nil)

	// Without a running loop the queue fills up; the overflow is dropped
	// instead of blocking the caller.
	for i := 0; i < recorderQueue+5; i++ {
		r.sink(testTranslation("burst"), 0)
	}

	if got := len(r.ch); got != recorderQueue {
		t.Errorf("queue holds %d entries, want %d", got, recorderQueue)
	}
}

func TestRecorder_StoreFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	store := &historymock.Store{RecordErr: errors.New("connection lost")}
	r := newRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()

	r.sink(testTranslation("first"), 0)
	r.sink(testTranslation("second"), 0)

	deadline := time.Now().Add(2 * time.Second)
	for store.RecordCallCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("store saw %d records, want 2 despite failures", store.RecordCallCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}
