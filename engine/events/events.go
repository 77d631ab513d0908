// Package events publishes load progress to NATS so other services can follow
// a run or react to newly indexed records.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
	"github.com/WessleyAI/catalog-vectors/pkg/natsutil"
)

const (
	// BatchSubject receives one BatchEvent per loaded batch.
	BatchSubject = "catalog.load.batch"
	// DoneSubject receives one DoneEvent per run.
	DoneSubject = "catalog.load.done"
)

// BatchEvent reports a loaded batch.
type BatchEvent struct {
	Run        string    `json:"run"`
	Index      string    `json:"index"`
	Batch      int       `json:"batch"`
	Offset     int       `json:"offset"`
	Loaded     int       `json:"loaded"`
	Skipped    int       `json:"skipped"`
	Cumulative int       `json:"cumulative"`
	Keys       []string  `json:"keys"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// DoneEvent reports the end of a run. On failure FailedBatch and
// ResumeOffset locate the batch to restart from; both are -1 on success.
type DoneEvent struct {
	Run          string    `json:"run"`
	Index        string    `json:"index"`
	Loaded       int       `json:"loaded"`
	Skipped      int       `json:"skipped"`
	Batches      int       `json:"batches"`
	Error        string    `json:"error,omitempty"`
	FailedBatch  int       `json:"failed_batch"`
	ResumeOffset int       `json:"resume_offset"`
	At           time.Time `json:"at"`
}

// Publisher is an ingest observer that publishes to NATS. Publish failures
// are logged and never fail the run.
type Publisher struct {
	nc    *nats.Conn
	run   string
	index string
	base  int
	log   *slog.Logger
}

var (
	_ ingest.Observer    = (*Publisher)(nil)
	_ ingest.RunObserver = (*Publisher)(nil)
)

// NewPublisher creates a publisher with a fresh run id. base is the number of
// input records skipped before the run started; published offsets are
// absolute positions in the input, so ResumeOffset can be passed straight
// back as the skip count.
func NewPublisher(nc *nats.Conn, indexName string, base int, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{nc: nc, run: uuid.NewString(), index: indexName, base: base, log: log}
}

// Run returns the id stamped on every event of this publisher.
func (p *Publisher) Run() string { return p.run }

func (p *Publisher) BatchLoaded(ctx context.Context, r ingest.BatchReport) {
	ev := BatchEvent{
		Run:        p.run,
		Index:      p.index,
		Batch:      r.Batch,
		Offset:     p.base + r.Offset,
		Loaded:     r.Loaded,
		Skipped:    r.Skipped,
		Cumulative: r.Cumulative,
		Keys:       r.Keys,
		DurationMS: r.Duration.Milliseconds(),
		At:         time.Now().UTC(),
	}
	if err := natsutil.Publish(ctx, p.nc, BatchSubject, ev); err != nil {
		p.log.Warn("events: publish batch", "error", err, "batch", r.Batch)
	}
}

func (p *Publisher) RunFinished(ctx context.Context, res ingest.Result, err error) {
	ev := DoneEvent{
		Run:          p.run,
		Index:        p.index,
		Loaded:       res.Loaded,
		Skipped:      res.Skipped,
		Batches:      res.Batches,
		FailedBatch:  -1,
		ResumeOffset: -1,
		At:           time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
		var be *domain.BatchError
		if errors.As(err, &be) {
			ev.FailedBatch = be.Batch
			ev.ResumeOffset = p.base + be.Offset
		}
	}
	// The run context may already be cancelled; the final event still goes out.
	if err := natsutil.Publish(context.WithoutCancel(ctx), p.nc, DoneSubject, ev); err != nil {
		p.log.Warn("events: publish done", "error", err)
		return
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn("events: flush", "error", err)
	}
}
