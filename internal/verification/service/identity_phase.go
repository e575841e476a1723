package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/oracle"
	"vouch/internal/profile"
	"vouch/internal/verification/identity"
	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// RunIdentityPhase executes the identity auto-check for one record. It is
// idempotent: a record that is not awaiting the check is a silent no-op, so a
// caller may fire it again without knowing whether the first attempt landed.
func (s *Service) RunIdentityPhase(ctx context.Context, recordID id.VerificationID) error {
	requestID := requestcontext.RequestID(ctx)

	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.Status() != models.StatusIdentityPending {
		s.logger.InfoContext(ctx, "identity phase no-op, record has moved on",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"status", rec.Status().String(),
		)
		return nil
	}

	if rec.IdentityDocPath == "" || rec.SelfiePath == "" {
		return s.failIdentity(ctx, rec, []string{"missing file"}, "", identity.GuidanceGeneric)
	}

	docURL, selfieURL, err := s.identitySignedURLs(ctx, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "signed URL acquisition failed",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"error", err,
		)
		return s.failIdentity(ctx, rec,
			[]string{"could not access stored documents: " + err.Error()}, "", identity.GuidanceGeneric)
	}

	extraction, err := s.extractIdentity(ctx, rec, docURL, selfieURL)
	if err != nil {
		s.logger.ErrorContext(ctx, "identity extraction failed",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"error", err,
		)
		issue := "identity extraction failed: " + err.Error()
		if ctx.Err() != nil || errorsIsTimeout(err) {
			issue = "identity extraction timed out"
		}
		return s.failIdentity(ctx, rec, []string{issue}, "", identity.GuidanceGeneric)
	}

	// Extraction data is persisted whatever the decision says: manual review
	// works off the same record.
	rec.ExtractedSurname = extraction.Surname
	rec.ExtractedGivenNames = extraction.GivenNames
	rec.ExtractedDOB = extraction.DateOfBirth
	rec.ExtractedDocExpiry = extraction.ExpiryDate

	decision := identity.Evaluate(identity.Submitted{
		Surname:     rec.SubmittedSurname,
		GivenNames:  rec.SubmittedGivenNames,
		DateOfBirth: rec.SubmittedDOB,
		Country:     rec.SubmittedCountry,
	}, extraction, requestcontext.Now(ctx))

	if !decision.Pass {
		return s.failIdentity(ctx, rec, decision.Issues, decision.Reasoning, decision.Guidance)
	}

	now := requestcontext.Now(ctx)
	rec.IdentityVerified = true
	rec.IdentityVerifiedAt = &now
	rec.IdentityReasoning = decision.Reasoning
	rec.IdentityIssues = nil
	rec.UpdatedAt = now
	if err := rec.Transition(models.StatusWWCCPending); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "record moved during identity phase")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save identity outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.dispatch(rec, notify.TemplateIdentityApproved, nil)
	s.emitAudit(ctx, rec, "system", audit.ActionIdentityPassed, decision.Reasoning)
	s.metrics.RecordIdentityCheck("pass")

	s.logger.InfoContext(ctx, "identity verified",
		"request_id", requestID,
		"verification_id", rec.ID.String(),
		"user_id", rec.UserID.String(),
	)
	return nil
}

// failIdentity routes the record to identity manual review with the recorded
// issues and the selected guidance template. Writes happen on failure too.
func (s *Service) failIdentity(ctx context.Context, rec *models.VerificationRecord, issues []string, reasoning string, guidance identity.Guidance) error {
	rec.IdentityIssues = issues
	rec.IdentityReasoning = reasoning
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := rec.Transition(models.StatusIdentityManualReview); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "record moved during identity phase")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save identity outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.dispatch(rec, notify.TemplateIdentityReview, map[string]string{
		"guidance": string(guidance),
		"message":  guidance.Message(),
	})
	s.emitAudit(ctx, rec, "system", audit.ActionIdentityFailed, joinIssues(issues))
	s.metrics.RecordIdentityCheck("manual_review")
	return nil
}

// identitySignedURLs fetches temporary read URLs for the document and the
// selfie concurrently.
func (s *Service) identitySignedURLs(ctx context.Context, rec *models.VerificationRecord) (docURL, selfieURL string, err error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docURL, err = s.storage.SignedURL(gctx, rec.IdentityDocPath, SignedURLTTL)
		return err
	})
	g.Go(func() error {
		var err error
		selfieURL, err = s.storage.SignedURL(gctx, rec.SelfiePath, SignedURLTTL)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return docURL, selfieURL, nil
}

func (s *Service) extractIdentity(ctx context.Context, rec *models.VerificationRecord, docURL, selfieURL string) (*oracle.IdentityExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, IdentityOracleTimeout)
	defer cancel()

	start := time.Now()
	defer s.metrics.ObserveOracle("identity", start)

	return s.oracle.ExtractIdentity(ctx, docURL, selfieURL, oracle.IdentitySubmission{
		Surname:     rec.SubmittedSurname,
		GivenNames:  rec.SubmittedGivenNames,
		DateOfBirth: rec.SubmittedDOB,
		Country:     rec.SubmittedCountry,
	})
}
