package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/events"
	"github.com/WessleyAI/catalog-vectors/pkg/natsutil"
)

type statusFlags struct {
	commonFlags
	natsURL string
	index   string
	timeout time.Duration
}

// runStatus asks a running "catalog serve" for the last load it saw on NATS.
func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var f statusFlags
	fs := flag.NewFlagSet("catalog status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.StringVar(&f.natsURL, "nats-url", "", "NATS server URL (default from config or NATS_URL)")
	fs.StringVar(&f.index, "index", "", "index name (default: most recent run on any index)")
	fs.DurationVar(&f.timeout, "timeout", 5*time.Second, "how long to wait for a reply")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, log, err := f.setup(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "catalog status: %v\n", err)
		return 1
	}
	url := orDefault(f.natsURL, cfg.NATS.URL)
	if url == "" {
		fmt.Fprintln(stderr, "catalog status: --nats-url or NATS_URL is required")
		return 2
	}

	nc, err := natsutil.Connect(url, "catalog-status", log)
	if err != nil {
		fmt.Fprintf(stderr, "catalog status: %v\n", err)
		return 1
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ev, err := events.QueryStatus(ctx, nc, f.index)
	if errors.Is(err, events.ErrNoRun) {
		fmt.Fprintln(stdout, "no load run recorded")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "catalog status: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.Encode(ev)
	return 0
}
