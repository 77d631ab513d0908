package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
)

func TestTrackerLastByIndex(t *testing.T) {
	tr := NewTracker(nil)
	if _, ok := tr.Last(""); ok {
		t.Fatal("empty tracker should report no run")
	}
	tr.Observe(DoneEvent{Run: "a", Index: "book_index", Loaded: 10})
	tr.Observe(DoneEvent{Run: "b", Index: "other_index", Loaded: 3})

	if ev, ok := tr.Last("book_index"); !ok || ev.Run != "a" {
		t.Fatalf("unexpected book_index run: %+v", ev)
	}
	if ev, ok := tr.Last(""); !ok || ev.Run != "b" {
		t.Fatalf("latest run should be b, got %+v", ev)
	}
	if _, ok := tr.Last("missing"); ok {
		t.Fatal("unknown index should report no run")
	}
}

func TestTrackerFollowsPublisher(t *testing.T) {
	nc := startTestNATS(t)
	tr := NewTracker(nil)
	if err := tr.Start(nc); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := QueryStatus(ctx, nc, ""); !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected ErrNoRun before any run, got %v", err)
	}

	pub := NewPublisher(nc, "book_index", 10, nil)
	be := &domain.BatchError{Batch: 1, Offset: 2, Loaded: 2, Wrapped: domain.ErrIndexLoad}
	pub.RunFinished(context.Background(), ingest.Result{Loaded: 2, Batches: 1}, be)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := tr.Last("book_index"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tracker never saw the done event")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev, err := QueryStatus(ctx, nc, "book_index")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Run != pub.Run() || ev.ResumeOffset != 12 || ev.FailedBatch != 1 {
		t.Fatalf("unexpected status: %+v", ev)
	}
}
