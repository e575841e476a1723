// Package reconcile ingests the external authority's asynchronous
// confirmation emails via an email-to-webhook bridge and applies their result
// rows to pending verification records.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/profile"
	vmetrics "vouch/internal/verification/metrics"
	"vouch/internal/verification/models"
	"vouch/internal/verification/store"
	"vouch/internal/verification/wwcc"
	id "vouch/pkg/domain"
	"vouch/pkg/requestcontext"
)

// Notifier dispatches best-effort notifications.
type Notifier interface {
	Dispatch(recipient string, template notify.Template, data map[string]string)
}

// Auditor records pipeline actions on the audit trail.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event)
}

// Idempotency remembers inbound message ids so a replayed webhook delivery is
// recognized and skipped.
type Idempotency interface {
	// FirstSeen reports whether messageID has not been processed before,
	// atomically recording it.
	FirstSeen(ctx context.Context, messageID string) (bool, error)
}

// Service processes authority notices row by row. Rows are handled
// sequentially so per-row logging stays ordered and a slow write never races
// its own subsequent row; a single bad row never aborts the batch.
type Service struct {
	records        store.Store
	profiles       profile.Store
	notifier       Notifier
	auditor        Auditor
	idempotency    Idempotency
	adminRecipient string
	logger         *slog.Logger
	metrics        *vmetrics.Metrics
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

func WithIdempotency(i Idempotency) Option {
	return func(s *Service) { s.idempotency = i }
}

// WithAdminRecipient sets the recipient for internal admin alerts.
func WithAdminRecipient(recipient string) Option {
	return func(s *Service) { s.adminRecipient = recipient }
}

// New constructs the reconciliation service.
func New(records store.Store, profiles profile.Store, opts ...Option) *Service {
	s := &Service{
		records:        records,
		profiles:       profiles,
		adminRecipient: "admins",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is the webhook response payload.
type Summary struct {
	Processed int      `json:"processed"`
	Employer  Employer `json:"employer"`
	Results   []Result `json:"results"`
}

// Employer carries the notice's header fields back to the caller.
type Employer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Datetime string `json:"datetime"`
}

// Result is one per-row outcome in the response.
type Result struct {
	FamilyName      string `json:"family_name"`
	ReferenceNumber string `json:"reference_number"`
	ResultStatus    string `json:"result_status"`
	Action          Action `json:"action"`
	VerificationID  string `json:"verification_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Process decomposes the notice and applies every result row. Processed
// counts successfully applied record updates.
func (s *Service) Process(ctx context.Context, html, messageID string) (*Summary, error) {
	notice, err := ParseNotice(html)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Employer: Employer{ID: notice.CaseID, Name: notice.OrgName, Datetime: notice.ReportedAt},
		Results:  make([]Result, 0, len(notice.Rows)),
	}

	// A replayed delivery (same message id) performs no writes; every row is
	// reported back as skipped.
	replay := false
	if messageID != "" && s.idempotency != nil {
		first, err := s.idempotency.FirstSeen(ctx, messageID)
		if err != nil {
			s.logger.ErrorContext(ctx, "idempotency check failed, processing anyway",
				"request_id", requestcontext.RequestID(ctx),
				"message_id", messageID,
				"error", err,
			)
		} else if !first {
			replay = true
		}
	}

	for _, row := range notice.Rows {
		for _, result := range s.processRow(ctx, row, notice, messageID, replay) {
			s.metrics.RecordReconciledRow(string(result.Action))
			summary.Results = append(summary.Results, result)
			if result.VerificationID != "" && result.Error == "" && result.Action != ActionSkipped {
				summary.Processed++
			}
		}
	}
	return summary, nil
}

// processRow handles one result row, fanning out to one response entry per
// matched record (or a single entry when nothing matched).
func (s *Service) processRow(ctx context.Context, row ResultRow, notice *Notice, messageID string, replay bool) []Result {
	base := Result{
		FamilyName:      row.FamilyName,
		ReferenceNumber: row.ReferenceNumber,
		ResultStatus:    row.ResultStatus,
	}

	if replay {
		base.Action = ActionSkipped
		return []Result{base}
	}

	category := Classify(row.ResultStatus)
	if category == CategoryUnknown {
		s.logger.WarnContext(ctx, "unrecognized authority result status",
			"request_id", requestcontext.RequestID(ctx),
			"result_status", row.ResultStatus,
			"family_name", row.FamilyName,
		)
		base.Action = ActionUnknownStatus
		return []Result{base}
	}
	action := classifyAction(category, row.ResultStatus)

	matches, err := s.match(ctx, row)
	if err != nil {
		base.Action = ActionError
		base.Error = err.Error()
		return []Result{base}
	}
	if len(matches) == 0 {
		s.logger.InfoContext(ctx, "no record matched authority result row",
			"request_id", requestcontext.RequestID(ctx),
			"family_name", row.FamilyName,
			"reference_number", row.ReferenceNumber,
		)
		base.Action = ActionNoMatch
		return []Result{base}
	}

	results := make([]Result, 0, len(matches))
	for _, rec := range matches {
		entry := base
		entry.VerificationID = rec.ID.String()
		entry.Action = action
		if err := s.apply(ctx, rec, category, action, row, notice, messageID); err != nil {
			s.logger.ErrorContext(ctx, "failed to apply authority result",
				"request_id", requestcontext.RequestID(ctx),
				"verification_id", rec.ID.String(),
				"action", string(action),
				"error", err,
			)
			entry.Action = ActionError
			entry.Error = err.Error()
		}
		results = append(results, entry)
	}
	return results
}

// match finds the records a result row refers to. A usable check number wins
// unless the status is specifically "not found"; otherwise fall back to fuzzy
// family-name matching across the profile table and the verification table,
// union deduplicated. Terminal records never match.
func (s *Service) match(ctx context.Context, row ResultRow) ([]*models.VerificationRecord, error) {
	number := wwcc.NormalizeCheckNumber(row.ReferenceNumber)
	if number != "" && !isNotFound(row.ResultStatus) {
		matches, err := s.records.FindByCheckNumber(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("match by check number: %w", err)
		}
		return matches, nil
	}

	if row.FamilyName == "" {
		return nil, nil
	}

	seen := make(map[id.VerificationID]bool)
	var matches []*models.VerificationRecord

	byRecord, err := s.records.FindBySubmittedSurname(ctx, row.FamilyName)
	if err != nil {
		return nil, fmt.Errorf("match by record surname: %w", err)
	}
	for _, rec := range byRecord {
		if inBackgroundCheckStage(rec) && !seen[rec.ID] {
			seen[rec.ID] = true
			matches = append(matches, rec)
		}
	}

	userIDs, err := s.profiles.FindUserIDsBySurname(ctx, row.FamilyName)
	if err != nil {
		return nil, fmt.Errorf("match by profile surname: %w", err)
	}
	for _, userID := range userIDs {
		rec, err := s.records.GetByUser(ctx, userID)
		if err != nil {
			continue
		}
		if !inBackgroundCheckStage(rec) || rec.Status().IsTerminal() || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		matches = append(matches, rec)
	}
	return matches, nil
}

// apply writes the category-specific update plus the full authority audit
// block, then dispatches the per-row notification.
func (s *Service) apply(ctx context.Context, rec *models.VerificationRecord, category Category, action Action, row ResultRow, notice *Notice, messageID string) error {
	now := requestcontext.Now(ctx)

	rec.AuthorityCaseID = notice.CaseID
	rec.AuthorityOrgName = notice.OrgName
	if reported, err := ParseAuthorityTime(notice.ReportedAt); err == nil {
		rec.AuthorityVerifiedAt = &reported
	}
	rec.InboundMessageID = messageID
	rec.AuthorityRecordedAt = &now
	rec.AuthorityResultStatus = row.ResultStatus
	rec.AuthorityResultText = row.ResultText

	switch category {
	case CategoryCleared:
		rec.WWCCVerified = true
		rec.WWCCVerifiedAt = &now
		rec.RejectionReason = ""
		rec.WWCCIssues = nil
		if expiry, err := time.ParseInLocation("02/01/2006", row.ExpiryDate, authorityZone); err == nil {
			utc := expiry.UTC()
			rec.WWCCExpiry = &utc
		}
		if err := transitionVia(rec, models.StatusFullyVerified); err != nil {
			return err
		}
	case CategoryBarred:
		rec.WWCCVerified = false
		rec.RejectionReason = row.ResultText
		if rec.RejectionReason == "" {
			rec.RejectionReason = "barred by the external authority"
		}
		if err := transitionVia(rec, models.StatusWWCCRejected); err != nil {
			return err
		}
	case CategorySoftFail, CategoryPending:
		rec.WWCCVerified = false
		rec.RejectionReason = ""
		if rec.Status() != models.StatusWWCCPending {
			if err := transitionVia(rec, models.StatusWWCCPending); err != nil {
				return err
			}
		}
	}

	rec.UpdatedAt = now
	if err := s.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	accountStatus := profile.AccountActive
	if category == CategoryBarred {
		accountStatus = profile.AccountSuspended
	}
	s.applyProjection(ctx, rec, accountStatus)

	if s.auditor != nil {
		s.auditor.Emit(ctx, audit.Event{
			Timestamp:      now,
			UserID:         rec.UserID,
			VerificationID: rec.ID,
			Actor:          "authority",
			Action:         audit.ActionReconciled,
			Detail:         string(action) + ": " + row.ResultStatus,
			RequestID:      requestcontext.RequestID(ctx),
		})
	}

	s.notifyRow(rec, action, row)
	return nil
}

// notifyRow dispatches the per-row notification. Cleared rows send nothing;
// the user already heard from the synchronous flow. Barred additionally
// raises an internal admin alert.
func (s *Service) notifyRow(rec *models.VerificationRecord, action Action, row ResultRow) {
	if s.notifier == nil {
		return
	}

	data := map[string]string{
		"verification_id": rec.ID.String(),
		"result_status":   row.ResultStatus,
	}
	switch action {
	case ActionCleared:
		return
	case ActionBarred:
		s.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCBarred, data)
		s.notifier.Dispatch(s.adminRecipient, notify.TemplateAdminBarredAlert, map[string]string{
			"verification_id": rec.ID.String(),
			"user_id":         rec.UserID.String(),
			"family_name":     row.FamilyName,
		})
	case ActionNotFound:
		s.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCNotFound, data)
	case ActionExpired:
		s.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCExpired, data)
	case ActionClosed:
		s.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCClosed, data)
	case ActionPending:
		s.notifier.Dispatch(rec.UserID.String(), notify.TemplateWWCCPendingAuthority, data)
	}
}

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
			"error", err,
		)
	}
}

// inBackgroundCheckStage reports whether the record ever reached the
// background-check stage. Identity-stage records never match a result row;
// the authority cannot know about a person who has not submitted a check.
func inBackgroundCheckStage(rec *models.VerificationRecord) bool {
	switch rec.Status() {
	case models.StatusNotStarted, models.StatusIdentityPending,
		models.StatusIdentityManualReview, models.StatusIdentityRejected:
		return false
	}
	return true
}

// transitionVia moves the record to target, detouring through the pending
// state when no direct edge exists. Authority results can land on a record in
// any non-terminal position.
func transitionVia(rec *models.VerificationRecord, target models.Status) error {
	if rec.Status() == target {
		return nil
	}
	if rec.Transition(target) == nil {
		return nil
	}
	if err := rec.Transition(models.StatusWWCCPending); err != nil {
		return err
	}
	return rec.Transition(target)
}
