package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/catalog-vectors/pkg/natsutil"
)

// StatusSubject answers StatusRequests with the last run a Tracker saw.
const StatusSubject = "catalog.load.status"

// StatusRequest asks for the last run on Index, or on any index when empty.
type StatusRequest struct {
	Index string `json:"index,omitempty"`
}

// Status is the reply to a StatusRequest. Run is nil when no run was seen.
type Status struct {
	Run *DoneEvent `json:"run,omitempty"`
}

// Tracker follows DoneEvents and remembers the latest run per index, so a
// long-lived process can report on loads it did not start.
type Tracker struct {
	log *slog.Logger

	mu     sync.Mutex
	byIdx  map[string]DoneEvent
	latest *DoneEvent
	subs   []*nats.Subscription
}

// NewTracker returns an empty tracker.
func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{log: log, byIdx: make(map[string]DoneEvent)}
}

// Start subscribes to DoneSubject and serves StatusSubject on nc.
func (t *Tracker) Start(nc *nats.Conn) error {
	done, err := natsutil.Subscribe(nc, DoneSubject, func(_ context.Context, ev DoneEvent) {
		t.Observe(ev)
	})
	if err != nil {
		return err
	}
	status, err := natsutil.Reply(nc, StatusSubject, func(_ context.Context, req StatusRequest) Status {
		if ev, ok := t.Last(req.Index); ok {
			return Status{Run: &ev}
		}
		return Status{}
	})
	if err != nil {
		done.Unsubscribe()
		return err
	}
	t.mu.Lock()
	t.subs = append(t.subs, done, status)
	t.mu.Unlock()
	return nc.Flush()
}

// Stop drops the subscriptions made by Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Observe records a finished run.
func (t *Tracker) Observe(ev DoneEvent) {
	t.mu.Lock()
	t.byIdx[ev.Index] = ev
	t.latest = &ev
	t.mu.Unlock()

	if ev.Error != "" {
		t.log.Warn("load run failed", "run", ev.Run, "index", ev.Index, "loaded", ev.Loaded,
			"failed_batch", ev.FailedBatch, "resume_offset", ev.ResumeOffset, "error", ev.Error)
		return
	}
	t.log.Info("load run finished", "run", ev.Run, "index", ev.Index, "loaded", ev.Loaded,
		"skipped", ev.Skipped, "batches", ev.Batches)
}

// Last returns the latest run on index, or on any index when index is empty.
func (t *Tracker) Last(index string) (DoneEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index == "" {
		if t.latest == nil {
			return DoneEvent{}, false
		}
		return *t.latest, true
	}
	ev, ok := t.byIdx[index]
	return ev, ok
}

// ErrNoRun is returned by QueryStatus when the tracker has seen no run.
var ErrNoRun = errors.New("events: no load run recorded")

// QueryStatus asks a remote Tracker for the last run on index.
func QueryStatus(ctx context.Context, nc *nats.Conn, index string) (DoneEvent, error) {
	st, err := natsutil.Request[StatusRequest, Status](ctx, nc, StatusSubject, StatusRequest{Index: index})
	if err != nil {
		return DoneEvent{}, err
	}
	if st.Run == nil {
		return DoneEvent{}, ErrNoRun
	}
	return *st.Run, nil
}
