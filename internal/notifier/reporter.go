// Package notifier turns engine events into user-visible state: the pending
// badge and optional chat messages.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

const defaultQueueSize = 256

// Counter is the store query the badge is computed from.
type Counter interface {
	CountStatus(ctx context.Context, account string, statuses ...transfer.Status) (int, error)
}

// Sink receives every event. Report never blocks on it.
type Sink interface {
	Report(Event)
}

// Reporter is fed by the engine and consumed by a single goroutine (Serve).
// The badge is always recomputed from the store, so dropped events cannot
// make it drift.
type Reporter struct {
	events    chan Event
	store     Counter
	account   string
	notifier  Notifier
	telemetry *telemetry.Telemetry
	badge     atomic.Int64
}

var _ Sink = (*Reporter)(nil)

type Option func(*Reporter)

// WithNotifier forwards terminal events to n.
func WithNotifier(n Notifier) Option {
	return func(r *Reporter) { r.notifier = n }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Reporter) { r.telemetry = tel }
}

func WithQueueSize(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

func NewReporter(store Counter, account string, opts ...Option) *Reporter {
	r := &Reporter{
		events:  make(chan Event, defaultQueueSize),
		store:   store,
		account: account,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Report queues e. When the queue is full the event is dropped and counted.
func (r *Reporter) Report(e Event) {
	select {
	case r.events <- e:
	default:
		r.telemetry.RecordDroppedEvent()
	}
}

// Badge returns the last computed number of pending records.
func (r *Reporter) Badge() int64 {
	return r.badge.Load()
}

// Refresh recomputes the badge from the store.
func (r *Reporter) Refresh(ctx context.Context) error {
	n, err := r.store.CountStatus(ctx, r.account, transfer.PendingStatuses()...)
	if err != nil {
		return fmt.Errorf("failed to count pending records: %w", err)
	}

	r.badge.Store(int64(n))
	r.telemetry.SetPending(int64(n))

	return nil
}

// Serve consumes events until ctx is done.
func (r *Reporter) Serve(ctx context.Context) error {
	ctx, logger := logctx.With(ctx, "component", "reporter", "account", r.account)

	if err := r.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "failed to compute initial badge", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.events:
			r.handle(ctx, logger, e)
		}
	}
}

func (r *Reporter) handle(ctx context.Context, logger *slog.Logger, e Event) {
	s := e.About()
	logger = logger.With("oc_id", s.OcID, "file_name", s.FileName, "direction", string(s.Direction))

	var message string

	switch ev := e.(type) {
	case Progressed:
		logger.DebugContext(ctx, "transfer progressed", "fraction", ev.Fraction)

		return
	case Started:
		logger.DebugContext(ctx, "transfer started")
	case Succeeded:
		logger.InfoContext(ctx, "transfer succeeded")

		message = fmt.Sprintf("%s finished: %s", verb(s.Direction), s.FileName)
	case Failed:
		logger.WarnContext(ctx, "transfer failed", "err", ev.Err)

		message = fmt.Sprintf("%s failed: %s: %v", verb(s.Direction), s.FileName, ev.Err)
	}

	if err := r.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "failed to refresh badge", "err", err)
	}

	if message != "" && r.notifier != nil {
		if err := r.notifier.Notify(ctx, message); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "err", err)
		}
	}
}

func (r *Reporter) String() string {
	return "reporter"
}

func verb(d transfer.Direction) string {
	switch d {
	case transfer.DirectionUpload:
		return "Upload"
	case transfer.DirectionDownload:
		return "Download"
	case transfer.DirectionAction:
		return "Action"
	}

	return "Transfer"
}
