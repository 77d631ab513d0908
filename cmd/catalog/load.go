package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/WessleyAI/catalog-vectors/engine/config"
	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/events"
	"github.com/WessleyAI/catalog-vectors/engine/graph"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
	"github.com/WessleyAI/catalog-vectors/engine/source"
	"github.com/WessleyAI/catalog-vectors/pkg/metrics"
	"github.com/WessleyAI/catalog-vectors/pkg/natsutil"
)

type loadFlags struct {
	commonFlags
	input       string
	batchSize   int
	workers     int
	onInvalid   string
	textField   string
	overwrite   bool
	skip        int
	progress    string
	metricsAddr string
}

func runLoad(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var f loadFlags
	fs := flag.NewFlagSet("catalog load", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.StringVar(&f.input, "input", "", "input file or glob (.json, .jsonl, .csv; .gz/.zst)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "records per batch (default from config, 128)")
	fs.IntVar(&f.workers, "workers", 0, "embedding workers (default: number of CPUs)")
	fs.StringVar(&f.onInvalid, "on-invalid", "", "invalid record policy: skip or fail")
	fs.StringVar(&f.textField, "text-field", "", "field to embed (default description)")
	fs.BoolVar(&f.overwrite, "overwrite", false, "drop and recreate the index first")
	fs.IntVar(&f.skip, "skip", 0, "skip the first n records (resume offset)")
	fs.StringVar(&f.progress, "progress", "auto", "progress bar: auto, on, off")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address while loading")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.input == "" {
		fmt.Fprintln(stderr, "catalog load: --input is required")
		fs.Usage()
		return 2
	}
	if f.skip < 0 {
		fmt.Fprintln(stderr, "catalog load: --skip must not be negative")
		return 2
	}

	cfg, log, err := f.setup(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "catalog load: %v\n", err)
		return 1
	}
	f.apply(&cfg)

	res, err := load(ctx, cfg, f, log, stderr)
	if err != nil {
		var be *domain.BatchError
		if errors.As(err, &be) {
			fmt.Fprintf(stderr, "catalog load: batch %d failed: %v\n", be.Batch, err)
			fmt.Fprintf(stderr, "%d records loaded before the failure; resume with --skip %d\n",
				be.Loaded, f.skip+be.Offset)
			return 1
		}
		fmt.Fprintf(stderr, "catalog load: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "loaded %d records in %d batches (%d skipped)\n", res.Loaded, res.Batches, res.Skipped)
	return 0
}

func (f *loadFlags) apply(cfg *config.Config) {
	if f.batchSize != 0 {
		cfg.Loader.BatchSize = f.batchSize
	}
	if f.workers != 0 {
		cfg.Loader.Workers = f.workers
	}
	cfg.Loader.OnInvalid = orDefault(f.onInvalid, cfg.Loader.OnInvalid)
	cfg.Loader.TextField = orDefault(f.textField, cfg.Loader.TextField)
	cfg.Metrics.Addr = orDefault(f.metricsAddr, cfg.Metrics.Addr)
	cfg.Index.Overwrite = cfg.Index.Overwrite || f.overwrite
}

func load(ctx context.Context, cfg config.Config, f loadFlags, log *slog.Logger, stderr io.Writer) (ingest.Result, error) {
	s, err := loadSchema(cfg.Index.Schema)
	if err != nil {
		return ingest.Result{}, err
	}
	ingCfg, err := cfg.IngestConfig(ingest.ConfigFromSchema(s))
	if err != nil {
		return ingest.Result{}, err
	}
	emb, err := newEmbedder(cfg.Embedding, s, log)
	if err != nil {
		return ingest.Result{}, err
	}

	idx, err := openIndex(ctx, cfg.Index.URL, s, cfg.Index.Overwrite)
	if err != nil {
		return ingest.Result{}, err
	}
	defer idx.Close()
	log.Info("index ready", "url", cfg.Index.URL, "index", s.Index.Name, "dims", s.Dims(), "overwrite", cfg.Index.Overwrite)

	src, err := source.Open(f.input)
	if err != nil {
		return ingest.Result{}, err
	}
	defer src.Close()
	if f.skip > 0 {
		n, err := source.Skip(ctx, src, f.skip)
		if err != nil {
			return ingest.Result{}, err
		}
		log.Info("resuming", "skipped", n)
	}

	reg := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := reg.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	observers, closeObservers, err := buildObservers(ctx, cfg, s, f.progress, f.skip, log, stderr)
	if err != nil {
		return ingest.Result{}, err
	}
	defer closeObservers()

	loader, err := ingest.New(ingCfg, ingest.Deps{
		Embedder:  emb,
		Index:     idx,
		Observers: observers,
		Metrics:   reg,
		Logger:    log,
	})
	if err != nil {
		return ingest.Result{}, err
	}
	return loader.Run(ctx, src)
}

// buildObservers wires the optional progress bar, NATS events and Neo4j
// projection. The returned func releases their connections.
func buildObservers(ctx context.Context, cfg config.Config, s *schema.Schema, progress string, skip int, log *slog.Logger, stderr io.Writer) ([]ingest.Observer, func(), error) {
	var (
		observers []ingest.Observer
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if progressEnabled(progress, stderr) {
		observers = append(observers, newProgress(stderr))
	}

	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, "catalog-load", log)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, nc.Close)
		pub := events.NewPublisher(nc, s.Index.Name, skip, log)
		log.Info("publishing load events", "url", cfg.NATS.URL, "run", pub.Run())
		observers = append(observers, pub)
	}

	if cfg.Neo4j.URL != "" {
		driver, err := graph.Open(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { driver.Close(context.WithoutCancel(ctx)) })
		proj := graph.New(driver, graph.DefaultFields, log)
		if err := proj.EnsureConstraints(ctx); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		log.Info("projecting catalog graph", "url", cfg.Neo4j.URL)
		observers = append(observers, proj)
	}
	return observers, closeAll, nil
}
