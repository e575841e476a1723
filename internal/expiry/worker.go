// Package expiry demotes fully verified records whose clearance has lapsed.
// The authority does not push expiry events; a periodic scan is the only way
// to notice them.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/profile"
	vmetrics "vouch/internal/verification/metrics"
	"vouch/internal/verification/models"
	"vouch/internal/verification/store"
)

// Notifier dispatches best-effort notifications.
type Notifier interface {
	Dispatch(recipient string, template notify.Template, data map[string]string)
}

// Auditor records pipeline actions on the audit trail.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event)
}

// Worker scans for expired clearances on a fixed interval.
type Worker struct {
	records  store.Store
	profiles profile.Store
	notifier Notifier
	auditor  Auditor
	interval time.Duration
	logger   *slog.Logger
	metrics  *vmetrics.Metrics
}

type Option func(w *Worker)

func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithAuditor(a Auditor) Option {
	return func(w *Worker) { w.auditor = a }
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) { w.interval = interval }
}

// New constructs the worker with a default hourly scan.
func New(records store.Store, profiles profile.Store, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		records:  records,
		profiles: profiles,
		interval: time.Hour,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			w.Sweep(ctx, now)
		}
	}
}

// Sweep demotes every fully verified record whose clearance expired before
// now (40 -> 23). Each record is handled independently; one bad row never
// stops the sweep.
func (w *Worker) Sweep(ctx context.Context, now time.Time) {
	expired, err := w.records.FindExpiredClearances(ctx, now)
	if err != nil {
		w.logger.ErrorContext(ctx, "expiry scan failed", "error", err)
		return
	}

	for _, rec := range expired {
		if err := w.demote(ctx, rec, now); err != nil {
			w.logger.ErrorContext(ctx, "expiry demotion failed",
				"verification_id", rec.ID.String(),
				"error", err,
			)
		}
	}
}

func (w *Worker) demote(ctx context.Context, rec *models.VerificationRecord, now time.Time) error {
	if err := rec.Transition(models.StatusWWCCExpired); err != nil {
		return err
	}
	rec.WWCCVerified = false
	rec.UpdatedAt = now
	if err := w.records.Update(ctx, rec); err != nil {
		return err
	}

	if err := w.profiles.Apply(ctx, profile.Projection{
		UserID:            rec.UserID,
		Surname:           rec.SubmittedSurname,
		IdentityVerified:  rec.IdentityVerified,
		WWCCVerified:      false,
		VerificationLevel: rec.Level(),
		Status:            profile.AccountActive,
		UpdatedAt:         now,
	}); err != nil {
		w.logger.ErrorContext(ctx, "profile projection write failed",
			"verification_id", rec.ID.String(),
			"error", err,
		)
	}

	if w.notifier != nil {
		w.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCExpired, map[string]string{
			"verification_id": rec.ID.String(),
		})
	}
	if w.auditor != nil {
		w.auditor.Emit(ctx, audit.Event{
			Timestamp:      now,
			UserID:         rec.UserID,
			VerificationID: rec.ID,
			Actor:          "system",
			Action:         audit.ActionClearanceExpired,
			Detail:         "clearance expired, record demoted for resubmission",
		})
	}
	w.metrics.RecordExpiryDemotion()

	w.logger.InfoContext(ctx, "clearance expired, record demoted",
		"verification_id", rec.ID.String(),
		"user_id", rec.UserID.String(),
	)
	return nil
}
