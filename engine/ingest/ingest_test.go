package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
	"github.com/WessleyAI/catalog-vectors/engine/source"
	"github.com/WessleyAI/catalog-vectors/pkg/metrics"
)

// --- Fakes ---

type fakeEmbedder struct {
	dims   int
	fail   map[string]bool // texts that return an error
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.fail[text] {
		return nil, errors.New("model unavailable")
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32((seed>>(uint(i)%32))&0xff) / 255
	}
	return vec, nil
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]domain.Record
	err     error
	short   bool // return one key fewer than records
}

func (f *fakeSink) Load(_ context.Context, records []domain.Record) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, records)
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = "book:" + r.ID("id")
	}
	if f.short {
		keys = keys[1:]
	}
	return keys, nil
}

func (f *fakeSink) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.batches))
	for i, b := range f.batches {
		out[i] = len(b)
	}
	return out
}

func books(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			"id":          fmt.Sprintf("%d", i),
			"title":       fmt.Sprintf("Book %d", i),
			"description": fmt.Sprintf("a story numbered %d", i),
			"genres":      []any{"Fiction"},
		}
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newLoader(t *testing.T, cfg Config, emb Embedder, sink Sink, obs ...Observer) *Loader {
	t.Helper()
	if cfg.Dims == 0 {
		cfg.Dims = 384
	}
	l, err := New(cfg, Deps{Embedder: emb, Index: sink, Observers: obs, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// --- Config ---

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"skip": PolicySkip, "FAIL": PolicyFail, "": PolicySkip} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("retry"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestNewValidates(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	sink := &fakeSink{}
	cases := map[string]struct {
		cfg  Config
		deps Deps
	}{
		"negative batch": {Config{BatchSize: -1, Dims: 4}, Deps{Embedder: emb, Index: sink}},
		"no dims":        {Config{BatchSize: 2}, Deps{Embedder: emb, Index: sink}},
		"bad policy":     {Config{Dims: 4, OnInvalid: "ignore"}, Deps{Embedder: emb, Index: sink}},
		"no embedder":    {Config{Dims: 4}, Deps{Index: sink}},
		"no index":       {Config{Dims: 4}, Deps{Embedder: emb}},
	}
	for name, tc := range cases {
		if _, err := New(tc.cfg, tc.deps); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestConfigFromSchema(t *testing.T) {
	cfg := ConfigFromSchema(schema.Books())
	if cfg.Dims != 384 || cfg.VectorField != "embedding" || cfg.IDField != "id" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.BatchSize != DefaultBatchSize || cfg.TextField != "description" || cfg.OnInvalid != PolicySkip || cfg.Workers < 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

// --- Batching ---

func TestRunBatchShapes(t *testing.T) {
	emb := &fakeEmbedder{dims: 384}
	sink := &fakeSink{}
	var cumulative []int
	obs := ObserverFunc(func(_ context.Context, r BatchReport) { cumulative = append(cumulative, r.Cumulative) })
	l := newLoader(t, Config{BatchSize: 128, Workers: 4}, emb, sink, obs)

	res, err := l.Run(context.Background(), source.FromSlice(books(260)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Loaded != 260 || res.Batches != 3 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := fmt.Sprint(sink.sizes()); got != "[128 128 4]" {
		t.Fatalf("batch sizes: %s", got)
	}
	if got := fmt.Sprint(cumulative); got != "[128 256 260]" {
		t.Fatalf("cumulative: %s", got)
	}
	if emb.calls.Load() != 260 {
		t.Fatalf("expected 260 embed calls, got %d", emb.calls.Load())
	}
}

func TestRunPreservesOrderAndAttachesEmbeddings(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 10, Workers: 3}, &fakeEmbedder{dims: 384}, sink)
	in := books(25)
	if _, err := l.Run(context.Background(), source.FromSlice(in)); err != nil {
		t.Fatal(err)
	}
	i := 0
	for _, b := range sink.batches {
		for _, rec := range b {
			if rec.ID("id") != fmt.Sprint(i) {
				t.Fatalf("position %d holds id %s", i, rec.ID("id"))
			}
			vec, ok := rec.Vector("embedding")
			if !ok || len(vec) != 384 {
				t.Fatalf("record %d: bad embedding (%d)", i, len(vec))
			}
			i++
		}
	}
	for i, rec := range in {
		vec, ok := rec.Vector("embedding")
		if !ok || len(vec) != 384 {
			t.Fatalf("input record %d: embedding not set in place (%d dims)", i, len(vec))
		}
	}
}

func TestRunSmallSourceSingleBatch(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 128}, &fakeEmbedder{dims: 384}, sink)
	res, err := l.Run(context.Background(), source.FromSlice(books(5)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Batches != 1 || fmt.Sprint(sink.sizes()) != "[5]" {
		t.Fatalf("expected one batch of 5, got %v", sink.sizes())
	}
}

func TestRunEmptySource(t *testing.T) {
	sink := &fakeSink{}
	emb := &fakeEmbedder{dims: 384}
	l := newLoader(t, Config{BatchSize: 8}, emb, sink)
	res, err := l.Run(context.Background(), source.FromSlice(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{}) || len(sink.batches) != 0 || emb.calls.Load() != 0 {
		t.Fatalf("expected no work, got %+v, %d loads, %d embeds", res, len(sink.batches), emb.calls.Load())
	}
}

func TestRunExactMultiple(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 4}, &fakeEmbedder{dims: 384}, sink)
	res, err := l.Run(context.Background(), source.FromSlice(books(8)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Batches != 2 || fmt.Sprint(sink.sizes()) != "[4 4]" {
		t.Fatalf("expected [4 4], got %v", sink.sizes())
	}
}

func TestRunSingleWorker(t *testing.T) {
	emb := &fakeEmbedder{dims: 384}
	l := newLoader(t, Config{BatchSize: 16, Workers: 1}, emb, &fakeSink{})
	res, err := l.Run(context.Background(), source.FromSlice(books(40)))
	if err != nil || res.Loaded != 40 {
		t.Fatalf("got %+v, %v", res, err)
	}
	if emb.peak.Load() != 1 {
		t.Fatalf("expected sequential embedding, peak concurrency %d", emb.peak.Load())
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	emb := &fakeEmbedder{dims: 384}
	l := newLoader(t, Config{BatchSize: 64, Workers: 3}, emb, &fakeSink{})
	if _, err := l.Run(context.Background(), source.FromSlice(books(200))); err != nil {
		t.Fatal(err)
	}
	if emb.peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3 workers", emb.peak.Load())
	}
}

// --- Invalid records ---

func withEmptyText(n int, empty ...int) []domain.Record {
	recs := books(n)
	for _, i := range empty {
		recs[i]["description"] = "   "
	}
	return recs
}

func TestRunSkipPolicy(t *testing.T) {
	sink := &fakeSink{}
	var reports []BatchReport
	obs := ObserverFunc(func(_ context.Context, r BatchReport) { reports = append(reports, r) })
	l := newLoader(t, Config{BatchSize: 5, OnInvalid: PolicySkip}, &fakeEmbedder{dims: 384}, sink, obs)

	res, err := l.Run(context.Background(), source.FromSlice(withEmptyText(10, 2, 7)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Loaded != 8 || res.Skipped != 2 || res.Batches != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if fmt.Sprint(sink.sizes()) != "[4 4]" {
		t.Fatalf("batch sizes: %v", sink.sizes())
	}
	if reports[0].Skipped != 1 || reports[0].Rejected[0].Offset != 2 {
		t.Fatalf("first report: %+v", reports[0])
	}
	if !errors.Is(reports[1].Rejected[0], domain.ErrMalformedRecord) {
		t.Fatalf("expected malformed record, got %v", reports[1].Rejected[0])
	}
}

func TestRunSkipPolicyEmptiedBatch(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 2}, &fakeEmbedder{dims: 384}, sink)
	res, err := l.Run(context.Background(), source.FromSlice(withEmptyText(4, 0, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Loaded != 2 || res.Skipped != 2 || res.Batches != 1 || len(sink.batches) != 1 {
		t.Fatalf("expected one load call, got %+v with %d calls", res, len(sink.batches))
	}
}

func TestRunFailPolicy(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 5, OnInvalid: PolicyFail}, &fakeEmbedder{dims: 384}, sink)

	res, err := l.Run(context.Background(), source.FromSlice(withEmptyText(12, 7)))
	var be *domain.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if be.Batch != 1 || be.Offset != 5 || be.Loaded != 5 {
		t.Fatalf("unexpected batch error: %+v", be)
	}
	if !errors.Is(err, domain.ErrMalformedRecord) || len(be.Records) != 1 || be.Records[0].Offset != 7 {
		t.Fatalf("expected malformed record 7, got %v", err)
	}
	if res.Loaded != 5 || fmt.Sprint(sink.sizes()) != "[5]" {
		t.Fatalf("failed batch must not be submitted: %+v %v", res, sink.sizes())
	}
}

func TestRunEmbeddingFailure(t *testing.T) {
	recs := books(6)
	emb := &fakeEmbedder{dims: 384, fail: map[string]bool{recs[3].Text("description"): true}}

	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 10}, emb, sink)
	res, err := l.Run(context.Background(), source.FromSlice(recs))
	if err != nil || res.Loaded != 5 || res.Skipped != 1 {
		t.Fatalf("skip: got %+v, %v", res, err)
	}

	l = newLoader(t, Config{BatchSize: 10, OnInvalid: PolicyFail}, emb, &fakeSink{})
	_, err = l.Run(context.Background(), source.FromSlice(recs))
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("fail: expected embedding failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("cause missing from %q", err)
	}
}

func TestRunDimensionMismatch(t *testing.T) {
	for _, policy := range []Policy{PolicySkip, PolicyFail} {
		sink := &fakeSink{}
		l := newLoader(t, Config{BatchSize: 4, Dims: 384, OnInvalid: policy}, &fakeEmbedder{dims: 300}, sink)
		res, err := l.Run(context.Background(), source.FromSlice(books(3)))
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			t.Fatalf("%s: expected dimension mismatch, got %v", policy, err)
		}
		var be *domain.BatchError
		if !errors.As(err, &be) || be.Batch != 0 || len(be.Records) != 3 {
			t.Fatalf("%s: unexpected error %v", policy, err)
		}
		if len(sink.batches) != 0 || res.Loaded != 0 {
			t.Fatalf("%s: index must not be called", policy)
		}
	}
}

// --- Index failures ---

func TestRunIndexFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("connection refused")}
	l := newLoader(t, Config{BatchSize: 4}, &fakeEmbedder{dims: 384}, sink)
	_, err := l.Run(context.Background(), source.FromSlice(books(6)))
	var be *domain.BatchError
	if !errors.As(err, &be) || !errors.Is(err, domain.ErrIndexLoad) {
		t.Fatalf("expected index load failure, got %v", err)
	}
	if be.Batch != 0 || be.Loaded != 0 || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected batch error: %v", err)
	}
}

func TestRunIndexKeyCountMismatch(t *testing.T) {
	l := newLoader(t, Config{BatchSize: 4}, &fakeEmbedder{dims: 384}, &fakeSink{short: true})
	_, err := l.Run(context.Background(), source.FromSlice(books(2)))
	if !errors.Is(err, domain.ErrIndexLoad) {
		t.Fatalf("expected index load failure, got %v", err)
	}
}

type failingSource struct{ n int }

func (f *failingSource) Next(context.Context) (domain.Record, error) {
	if f.n == 0 {
		return nil, errors.New("disk on fire")
	}
	f.n--
	return books(1)[0], nil
}

func (f *failingSource) Close() error { return nil }

func TestRunSourceError(t *testing.T) {
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 2}, &fakeEmbedder{dims: 384}, sink)
	res, err := l.Run(context.Background(), &failingSource{n: 3})
	if err == nil || !strings.Contains(err.Error(), "read record 3") {
		t.Fatalf("expected read error at record 3, got %v", err)
	}
	if res.Loaded != 2 {
		t.Fatalf("expected first batch loaded, got %+v", res)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &fakeSink{}
	obs := ObserverFunc(func(context.Context, BatchReport) { cancel() })
	l := newLoader(t, Config{BatchSize: 2}, &fakeEmbedder{dims: 384}, sink, obs)
	res, err := l.Run(ctx, source.FromSlice(books(10)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Loaded != 2 || len(sink.batches) != 1 {
		t.Fatalf("expected to stop after the first batch, got %+v", res)
	}
}

// cancellingEmbedder cancels the run on its nth call and then fails like a
// context-aware client would.
type cancellingEmbedder struct {
	fakeEmbedder
	at     int32
	cancel context.CancelFunc
}

func (c *cancellingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.calls.Load()+1 >= c.at {
		c.cancel()
	}
	if err := ctx.Err(); err != nil {
		c.calls.Add(1)
		return nil, err
	}
	return c.fakeEmbedder.Embed(ctx, text)
}

func TestRunCancelledMidBatchKeepsRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb := &cancellingEmbedder{fakeEmbedder: fakeEmbedder{dims: 384}, at: 2, cancel: cancel}
	sink := &fakeSink{}
	l := newLoader(t, Config{BatchSize: 8, Workers: 1, OnInvalid: PolicySkip}, emb, sink)

	res, err := l.Run(ctx, source.FromSlice(books(8)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	var be *domain.BatchError
	if !errors.As(err, &be) || be.Batch != 0 || be.Offset != 0 || be.Loaded != 0 {
		t.Fatalf("expected batch error at offset 0, got %#v", err)
	}
	if res.Skipped != 0 || res.Loaded != 0 || len(sink.batches) != 0 {
		t.Fatalf("cancelled batch must not be skipped or submitted: %+v, loads %v", res, sink.sizes())
	}
}

func TestRunWritesGeneratedKeyBack(t *testing.T) {
	s := schema.Books()
	idx := index.NewMemory()
	if err := idx.EnsureSchema(context.Background(), s, false); err != nil {
		t.Fatal(err)
	}
	l := newLoader(t, ConfigFromSchema(s), &fakeEmbedder{dims: 384}, idx)
	in := []domain.Record{{"title": "Untitled", "description": "no id here"}}
	if _, err := l.Run(context.Background(), source.FromSlice(in)); err != nil {
		t.Fatal(err)
	}
	id := in[0].ID("id")
	if id == "" {
		t.Fatal("generated id not written back to the input record")
	}
	if idx.Len() != 1 {
		t.Fatalf("expected one stored record, got %d", idx.Len())
	}
	if _, ok := in[0].Vector("embedding"); !ok {
		t.Fatal("embedding not attached")
	}
}

// --- Observers & metrics ---

type runRecorder struct {
	ObserverFunc
	res Result
	err error
}

func (r *runRecorder) RunFinished(_ context.Context, res Result, err error) { r.res, r.err = res, err }

func TestRunObserverSeesOutcome(t *testing.T) {
	rec := &runRecorder{ObserverFunc: func(context.Context, BatchReport) {}}
	l := newLoader(t, Config{BatchSize: 3}, &fakeEmbedder{dims: 384}, &fakeSink{err: errors.New("down")}, rec)
	_, err := l.Run(context.Background(), source.FromSlice(books(4)))
	if err == nil || !errors.Is(rec.err, domain.ErrIndexLoad) {
		t.Fatalf("observer should see the failure, got %v", rec.err)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := metrics.New()
	l, err := New(Config{BatchSize: 4, Dims: 384}, Deps{
		Embedder: &fakeEmbedder{dims: 384},
		Index:    &fakeSink{},
		Metrics:  reg,
		Logger:   quiet(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Run(context.Background(), source.FromSlice(withEmptyText(10, 0))); err != nil {
		t.Fatal(err)
	}
	if v := reg.Counter("catalog_loader_records_loaded_total", "").Value(); v != 9 {
		t.Fatalf("loaded counter: %d", v)
	}
	if v := reg.Counter("catalog_loader_records_skipped_total", "").Value(); v != 1 {
		t.Fatalf("skipped counter: %d", v)
	}
	if v := reg.Counter("catalog_loader_batches_total", "").Value(); v != 3 {
		t.Fatalf("batches counter: %d", v)
	}
	out := reg.Render()
	if !strings.Contains(out, "catalog_loader_embed_duration_seconds_count 10") {
		t.Fatal("embed histogram not rendered")
	}
	if !strings.Contains(out, `catalog_loader_batch_records_bucket{le="16"} 3`) {
		t.Fatal("batch size histogram should use the shared size buckets")
	}
}

// --- End to end with the in-memory index ---

func TestRunIsIdempotentOnMemoryIndex(t *testing.T) {
	s := schema.Books()
	idx := index.NewMemory()
	if err := idx.EnsureSchema(context.Background(), s, false); err != nil {
		t.Fatal(err)
	}
	cfg := ConfigFromSchema(s)
	cfg.BatchSize = 16
	l := newLoader(t, cfg, &fakeEmbedder{dims: 384}, idx)

	for round := 0; round < 2; round++ {
		res, err := l.Run(context.Background(), source.FromSlice(books(50)))
		if err != nil || res.Loaded != 50 {
			t.Fatalf("round %d: %+v, %v", round, res, err)
		}
	}
	if idx.Len() != 50 {
		t.Fatalf("expected 50 keys after two loads, got %d", idx.Len())
	}
	matches, err := idx.Query(context.Background(), index.Query{
		Vector:       mustEmbed(t, "a story numbered 7"),
		Filters:      map[string]string{"genres": "Fiction"},
		ReturnFields: []string{"title"},
		NumResults:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Key != "book:7" || matches[0].Fields["title"] != "Book 7" {
		t.Fatalf("unexpected nearest match: %+v", matches)
	}
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := (&fakeEmbedder{dims: 384}).Embed(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
