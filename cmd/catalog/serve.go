package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/config"
	"github.com/WessleyAI/catalog-vectors/engine/events"
	"github.com/WessleyAI/catalog-vectors/engine/graph"
	"github.com/WessleyAI/catalog-vectors/engine/search"
	"github.com/WessleyAI/catalog-vectors/pkg/metrics"
	"github.com/WessleyAI/catalog-vectors/pkg/mid"
	"github.com/WessleyAI/catalog-vectors/pkg/natsutil"
)

type serveFlags struct {
	commonFlags
	addr string
	cors string
}

func runServe(ctx context.Context, args []string, _, stderr io.Writer) int {
	var f serveFlags
	fs := flag.NewFlagSet("catalog serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.StringVar(&f.addr, "addr", "", "listen address (default from config, :8080)")
	fs.StringVar(&f.cors, "cors-origin", "", "Access-Control-Allow-Origin value")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, log, err := f.setup(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "catalog serve: %v\n", err)
		return 1
	}
	cfg.Server.Addr = orDefault(f.addr, cfg.Server.Addr)
	cfg.Server.CORSOrigin = orDefault(f.cors, cfg.Server.CORSOrigin)

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	s, err := loadSchema(cfg.Index.Schema)
	if err != nil {
		return err
	}
	emb, err := newEmbedder(cfg.Embedding, s, log)
	if err != nil {
		return err
	}
	idx, err := openIndex(ctx, cfg.Index.URL, s, false)
	if err != nil {
		return err
	}
	defer idx.Close()

	var related search.RelatedFinder
	if cfg.Neo4j.URL != "" {
		driver, err := graph.Open(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass)
		if err != nil {
			return err
		}
		defer driver.Close(context.WithoutCancel(ctx))
		related = graph.New(driver, graph.DefaultFields, log)
	}

	var tracker *events.Tracker
	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, "catalog-serve", log)
		if err != nil {
			return err
		}
		defer nc.Close()
		tracker = events.NewTracker(log)
		if err := tracker.Start(nc); err != nil {
			return err
		}
		defer tracker.Stop()
		log.Info("following load events", "url", cfg.NATS.URL)
	}

	reg := metrics.New()
	svc := search.New(emb, idx, reg, log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(svc, related, tracker, reg, cfg.Server.CORSOrigin, log),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("search server starting", "addr", cfg.Server.Addr, "index", cfg.Index.URL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newHandler assembles the HTTP surface: search routes, /metrics and /healthz.
// /runs/last is served only when a tracker follows load events.
func newHandler(svc *search.Service, related search.RelatedFinder, tracker *events.Tracker, reg *metrics.Registry, corsOrigin string, log *slog.Logger) http.Handler {
	api := search.Handler(svc, related)
	mux := http.NewServeMux()
	mux.Handle("/search", api)
	mux.Handle("/related", api)
	if tracker != nil {
		mux.HandleFunc("GET /runs/last", handleLastRun(tracker))
	}
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /healthz", handleHealth)

	return mid.Chain(mux,
		mid.Recover(log),
		mid.Logger(log, "/healthz", "/metrics"),
		mid.Metrics(reg, "/search", "/related"),
		mid.CORS(corsOrigin),
		mid.OTel("catalog-search"),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleLastRun(tracker *events.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ev, ok := tracker.Last(r.URL.Query().Get("index"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": events.ErrNoRun.Error()})
			return
		}
		json.NewEncoder(w).Encode(ev)
	}
}
