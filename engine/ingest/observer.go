package ingest

import (
	"context"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
)

// BatchReport describes one submitted batch.
type BatchReport struct {
	Batch      int             // zero-based batch index
	Offset     int             // source position of the first record
	Size       int             // records read into the batch
	Loaded     int             // records accepted by the index
	Skipped    int             // records dropped under PolicySkip
	Cumulative int             // records loaded so far in this run
	Keys       []string        // keys returned by the index, in record order
	Records    []domain.Record // the submitted records, embeddings attached
	Rejected   []*domain.RecordError
	Duration   time.Duration
}

// Observer is notified after every successfully loaded batch. Observers run
// on the controlling goroutine; errors are theirs to log.
type Observer interface {
	BatchLoaded(ctx context.Context, r BatchReport)
}

// RunObserver is optionally implemented by observers that want the outcome of
// the whole run.
type RunObserver interface {
	RunFinished(ctx context.Context, res Result, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r BatchReport)

func (f ObserverFunc) BatchLoaded(ctx context.Context, r BatchReport) { f(ctx, r) }
