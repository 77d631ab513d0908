// Package ingest provides the batch loader that reads catalog records,
// embeds their text on a bounded worker pool, and submits them batch by batch
// to a document index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/source"
	"github.com/WessleyAI/catalog-vectors/pkg/fn"
	"github.com/WessleyAI/catalog-vectors/pkg/metrics"
)

// Embedder maps text to a fixed-length vector. Implementations must be safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Sink is the part of a document index the loader writes to.
type Sink interface {
	Load(ctx context.Context, records []domain.Record) ([]string, error)
}

// Deps holds the external dependencies of a Loader.
type Deps struct {
	Embedder  Embedder
	Index     Sink
	Observers []Observer
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Result summarises a run.
type Result struct {
	Loaded  int // records accepted by the index
	Skipped int // records dropped under PolicySkip
	Batches int // batches submitted
}

// Loader drives batches from a source through the embedder into the index.
// A Loader holds no per-run state and may be reused for several runs, but
// not concurrently on the same index.
type Loader struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	met   loaderMetrics
	embed fn.Stage[pending, []float32]
}

// pending is one record waiting for its embedding.
type pending struct {
	offset int
	rec    domain.Record
}

// embedded is the outcome of embedding one record.
type embedded struct {
	pending
	vec []float32
	err *domain.RecordError
}

// New validates cfg and builds a Loader.
func New(cfg Config, deps Deps) (*Loader, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Embedder == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if deps.Index == nil {
		return nil, errors.New("ingest: index is required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{cfg: cfg, deps: deps, log: log, met: newLoaderMetrics(deps.Metrics)}
	l.embed = fn.TracedStage("ingest.embed", l.embedRecord)
	return l, nil
}

// Config returns the effective configuration.
func (l *Loader) Config() Config { return l.cfg }

// Run loads every record of src. On failure it returns the counts so far and
// a *domain.BatchError naming the first failed batch; Loaded is then the
// number of records safely in the index and BatchError.Offset the position
// to resume from. Cancellation is reported the same way, wrapping ctx.Err(),
// and never counts in-flight records as skipped.
func (l *Loader) Run(ctx context.Context, src source.Source) (res Result, err error) {
	pool := fn.NewPool(l.cfg.Workers)
	defer pool.Close()
	defer func() { l.finish(ctx, res, err) }()

	start := time.Now()
	offset := 0
	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return res, &domain.BatchError{Batch: batch, Offset: offset, Loaded: res.Loaded, Wrapped: err}
		}
		items, eof, err := l.readBatch(ctx, src, offset)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return res, &domain.BatchError{Batch: batch, Offset: offset, Loaded: res.Loaded, Wrapped: cerr}
			}
			return res, err
		}
		if len(items) > 0 {
			if err := l.loadBatch(ctx, pool, batch, offset, items, &res); err != nil {
				return res, err
			}
			offset += len(items)
		}
		if eof {
			break
		}
	}
	l.log.Info("load finished", "loaded", res.Loaded, "skipped", res.Skipped,
		"batches", res.Batches, "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (l *Loader) finish(ctx context.Context, res Result, err error) {
	for _, o := range l.deps.Observers {
		if ro, ok := o.(RunObserver); ok {
			ro.RunFinished(ctx, res, err)
		}
	}
}

// readBatch pulls up to BatchSize records. eof reports that the source is
// exhausted, so the caller stops without another read.
func (l *Loader) readBatch(ctx context.Context, src source.Source, offset int) ([]pending, bool, error) {
	items := make([]pending, 0, l.cfg.BatchSize)
	for len(items) < l.cfg.BatchSize {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("ingest: read record %d: %w", offset+len(items), err)
		}
		items = append(items, pending{offset: offset + len(items), rec: rec})
	}
	return items, false, nil
}

func (l *Loader) loadBatch(ctx context.Context, pool *fn.Pool, batch, offset int, items []pending, res *Result) error {
	started := time.Now()
	results := fn.PoolMap(pool, items, func(p pending) embedded {
		l.met.inflight.Inc()
		defer l.met.inflight.Dec()
		t := time.Now()
		defer l.met.embedDur.Since(t)
		r := l.embed(ctx, p)
		if r.IsErr() {
			_, err := r.Unwrap()
			var re *domain.RecordError
			if !errors.As(err, &re) {
				re = domain.NewRecordError(p.offset, p.rec.ID(l.cfg.IDField), domain.ErrEmbeddingFailure, err)
			}
			return embedded{pending: p, err: re}
		}
		vec, _ := r.Unwrap()
		return embedded{pending: p, vec: vec}
	})

	// A cancelled batch is neither skipped nor submitted; resume restarts it.
	if err := ctx.Err(); err != nil {
		return &domain.BatchError{Batch: batch, Offset: offset, Loaded: res.Loaded, Wrapped: err}
	}

	var (
		ok       []embedded
		rejected []*domain.RecordError
		fatal    error
	)
	for _, e := range results {
		if e.err == nil {
			ok = append(ok, e)
			continue
		}
		rejected = append(rejected, e.err)
		if errors.Is(e.err, domain.ErrDimensionMismatch) {
			fatal = domain.ErrDimensionMismatch
		} else if l.cfg.OnInvalid == PolicyFail && fatal == nil {
			fatal = e.err.Wrapped
		}
	}

	if fatal != nil {
		l.met.batchFailures(reason(fatal)).Inc()
		return &domain.BatchError{Batch: batch, Offset: offset, Loaded: res.Loaded, Wrapped: fatal, Records: rejected}
	}
	if len(rejected) > 0 {
		res.Skipped += len(rejected)
		l.met.recordsSkipped.Add(int64(len(rejected)))
		l.log.Warn("records skipped", "batch", batch, "skipped", len(rejected), "first", rejected[0].Error())
	}
	if len(ok) == 0 {
		return nil
	}
	ready := make([]domain.Record, len(ok))
	for i, e := range ok {
		ready[i] = l.attach(e)
	}

	loadStart := time.Now()
	keys, err := l.load(ctx, ready)
	l.met.loadDur.Since(loadStart)
	if err == nil && len(keys) != len(ready) {
		err = fmt.Errorf("index returned %d keys for %d records", len(keys), len(ready))
	}
	if err != nil {
		l.met.batchFailures(reason(domain.ErrIndexLoad)).Inc()
		return &domain.BatchError{Batch: batch, Offset: offset, Loaded: res.Loaded, Wrapped: domain.ErrIndexLoad, Cause: err}
	}

	res.Loaded += len(ready)
	res.Batches++
	l.met.recordsLoaded.Add(int64(len(ready)))
	l.met.batches.Inc()
	l.met.batchSize.Observe(float64(len(ready)))

	l.log.Info("batch loaded", "batch", batch, "cumulative", res.Loaded)
	l.log.Debug("batch keys", "batch", batch, "keys", keys)

	report := BatchReport{
		Batch:      batch,
		Offset:     offset,
		Size:       len(items),
		Loaded:     len(ready),
		Skipped:    len(rejected),
		Cumulative: res.Loaded,
		Keys:       keys,
		Records:    ready,
		Rejected:   rejected,
		Duration:   time.Since(started),
	}
	for _, o := range l.deps.Observers {
		o.BatchLoaded(ctx, report)
	}
	return nil
}

// embedRecord validates a record and embeds its text.
func (l *Loader) embedRecord(ctx context.Context, p pending) fn.Result[[]float32] {
	if err := domain.ValidateRecord(p.rec, p.offset, l.cfg.TextField, l.cfg.IDField); err != nil {
		return fn.Err[[]float32](err)
	}
	id := p.rec.ID(l.cfg.IDField)
	vec, err := l.deps.Embedder.Embed(ctx, p.rec.Text(l.cfg.TextField))
	if err != nil {
		return fn.Err[[]float32](domain.NewRecordError(p.offset, id, domain.ErrEmbeddingFailure, err))
	}
	if err := domain.CheckDims(vec, l.cfg.Dims); err != nil {
		return fn.Err[[]float32](domain.NewRecordError(p.offset, id, domain.ErrDimensionMismatch, err))
	}
	return fn.Ok(vec)
}

// attach sets the embedding on the record in place.
func (l *Loader) attach(e embedded) domain.Record {
	e.rec[l.cfg.VectorField] = e.vec
	return e.rec
}

func (l *Loader) load(ctx context.Context, records []domain.Record) ([]string, error) {
	stage := fn.TracedStage("ingest.load", func(ctx context.Context, recs []domain.Record) fn.Result[[]string] {
		return fn.FromPair(l.deps.Index.Load(ctx, recs))
	})
	return stage(ctx, records).Unwrap()
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, domain.ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return "embedding_failure"
	default:
		return "index_load"
	}
}
