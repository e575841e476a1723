package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher feeds events to a worker over a bounded channel so emitting never
// blocks the hot path. When the buffer is full the event is dropped with a log
// line; the audit trail is best-effort by contract.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

// Emit enqueues an event, stamping the timestamp if the caller left it zero.
func (p *Publisher) Emit(_ context.Context, event Event) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, event dropped",
			"action", string(event.Action),
			"verification_id", event.VerificationID.String(),
		)
	}
}

// Inbox exposes the channel for the persisting worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Worker drains a publisher's inbox into a store.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run persists events until ctx is cancelled. A failed append is logged and
// the worker keeps going; a stuck audit sink must not stall the pipeline.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("audit append failed",
					"action", string(event.Action),
					"verification_id", event.VerificationID.String(),
					"error", err,
				)
			}
		}
	}
}
