// Command catalog loads book records into a vector index and queries it.
//
//	catalog load  --input 'data/**/*.jsonl' --index-url qdrant://localhost:6334
//	catalog query --text "space opera" --filter "genres=Science Fiction" -k 3
//	catalog serve --addr :8080
//	catalog status --nats-url nats://localhost:4222
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: catalog <command> [flags]

commands:
  load    embed records from files and load them into the index
  query   run a vector query against the index
  serve   serve /search, /metrics and /healthz over HTTP
  status  show the last load run reported over NATS

Run "catalog <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "load":
		return runLoad(ctx, args[1:], stdout, stderr)
	case "query":
		return runQuery(ctx, args[1:], stdout, stderr)
	case "serve":
		return runServe(ctx, args[1:], stdout, stderr)
	case "status":
		return runStatus(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "catalog: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}
