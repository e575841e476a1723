// Package service orchestrates the two verification phases. Each phase entry
// point is idempotent and safe under concurrent or duplicate invocation; the
// heavy lifting (extraction, decision rules, parsing) lives in the packages
// this service coordinates.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"vouch/internal/audit"
	"vouch/internal/docstore"
	"vouch/internal/notify"
	"vouch/internal/oracle"
	"vouch/internal/profile"
	vmetrics "vouch/internal/verification/metrics"
	"vouch/internal/verification/models"
	"vouch/internal/verification/store"
	"vouch/pkg/requestcontext"
)

// Timeout budgets for external calls. A timeout is treated like any other
// extraction failure: the record moves to the relevant manual-review state
// with a recorded issue, never stuck mid-phase.
const (
	IdentityOracleTimeout = 30 * time.Second
	WWCCOracleTimeout     = 25 * time.Second
	DownloadTimeout       = 10 * time.Second
	ParseTimeout          = 10 * time.Second

	// SignedURLTTL bounds how long the oracle can read an uploaded document.
	SignedURLTTL = 15 * time.Minute
)

// Notifier dispatches best-effort user notifications.
type Notifier interface {
	Dispatch(recipient string, template notify.Template, data map[string]string)
}

// Auditor records pipeline actions on the audit trail.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service coordinates verification phases over the persistence and external
// collaborator ports.
type Service struct {
	records  store.Store
	profiles profile.Store
	oracle   oracle.Extractor
	storage  docstore.Storage
	notifier Notifier
	auditor  Auditor
	logger   *slog.Logger
	metrics  *vmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// New constructs the orchestrator.
func New(records store.Store, profiles profile.Store, extractor oracle.Extractor, storage docstore.Storage, opts ...Option) *Service {
	s := &Service{
		records:  records,
		profiles: profiles,
		oracle:   extractor,
		storage:  storage,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// applyProjection mirrors the record onto the profile projection. The write is
// best-effort: a failure is logged and never rolls back the primary record
// write, the gap self-heals on the next pass.
func (s *Service) applyProjection(ctx context.Context, rec *models.VerificationRecord, status profile.AccountStatus) {
	err := s.profiles.Apply(ctx, profile.Projection{
		UserID:            rec.UserID,
		Surname:           rec.SubmittedSurname,
		IdentityVerified:  rec.IdentityVerified,
		WWCCVerified:      rec.WWCCVerified,
		VerificationLevel: rec.Level(),
		Status:            status,
		UpdatedAt:         requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "profile projection write failed",
			"request_id", requestcontext.RequestID(ctx),
			"verification_id", rec.ID.String(),
			"user_id", rec.UserID.String(),
			"error", err,
		)
	}
}

func (s *Service) emitAudit(ctx context.Context, rec *models.VerificationRecord, actor string, action audit.Action, detail string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Timestamp:      requestcontext.Now(ctx),
		UserID:         rec.UserID,
		VerificationID: rec.ID,
		Actor:          actor,
		Action:         action,
		Detail:         detail,
		RequestID:      requestcontext.RequestID(ctx),
	})
}

func (s *Service) dispatch(rec *models.VerificationRecord, template notify.Template, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["verification_id"] = rec.ID.String()
	s.notifier.Dispatch(rec.UserID.String(), template, data)
}

// textExtractable reports whether the stored document is a format the
// deterministic parser can read directly.
func textExtractable(docPath string) bool {
	switch strings.ToLower(path.Ext(docPath)) {
	case ".txt", ".eml", ".html":
		return true
	}
	return false
}

func joinIssues(issues []string) string {
	return strings.Join(issues, "; ")
}

// errorsIsTimeout matches only an expired deadline. A caller cancellation is
// not a timeout and keeps the generic failure wording in the recorded issue.
func errorsIsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
