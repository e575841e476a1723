package service

import (
	"context"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/profile"
	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// AdminApproveIdentity resolves an identity manual review in the user's
// favor (11 -> 20).
func (s *Service) AdminApproveIdentity(ctx context.Context, recordID id.VerificationID, actor string) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status() != models.StatusIdentityManualReview {
		return nil, dErrors.New(dErrors.CodeConflict, "record is not in identity manual review")
	}

	now := requestcontext.Now(ctx)
	rec.IdentityVerified = true
	rec.IdentityVerifiedAt = &now
	rec.IdentityIssues = nil
	rec.UpdatedAt = now
	if err := rec.Transition(models.StatusWWCCPending); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record moved during review")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.dispatch(rec, notify.TemplateIdentityApproved, nil)
	s.emitAudit(ctx, rec, actor, audit.ActionAdminApproved, "identity approved after manual review")
	return rec, nil
}

// AdminRejectIdentity resolves an identity manual review against the user
// (11 -> 12).
func (s *Service) AdminRejectIdentity(ctx context.Context, recordID id.VerificationID, actor, reason string) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status() != models.StatusIdentityManualReview {
		return nil, dErrors.New(dErrors.CodeConflict, "record is not in identity manual review")
	}

	rec.RejectionReason = reason
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := rec.Transition(models.StatusIdentityRejected); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record moved during review")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, actor, audit.ActionAdminRejected, reason)
	return rec, nil
}

// AdminApproveBackgroundCheck resolves a background-check manual review or a
// provisional verification in the user's favor (21/30 -> 40).
func (s *Service) AdminApproveBackgroundCheck(ctx context.Context, recordID id.VerificationID, actor string) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	switch rec.Status() {
	case models.StatusWWCCManualReview, models.StatusProvisionallyVerified:
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "record is not awaiting background-check review")
	}

	now := requestcontext.Now(ctx)
	rec.WWCCVerified = true
	rec.WWCCVerifiedAt = &now
	rec.WWCCIssues = nil
	rec.RejectionReason = ""
	rec.UpdatedAt = now
	if err := rec.Transition(models.StatusFullyVerified); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record moved during review")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, actor, audit.ActionAdminApproved, "background check approved after manual review")
	return rec, nil
}

// AdminRejectBackgroundCheck resolves a background-check manual review or a
// provisional verification against the user (21/30 -> 22).
func (s *Service) AdminRejectBackgroundCheck(ctx context.Context, recordID id.VerificationID, actor, reason string) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	switch rec.Status() {
	case models.StatusWWCCManualReview, models.StatusProvisionallyVerified:
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "record is not awaiting background-check review")
	}

	rec.WWCCVerified = false
	rec.RejectionReason = reason
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := rec.Transition(models.StatusWWCCRejected); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record moved during review")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, actor, audit.ActionAdminRejected, reason)
	return rec, nil
}
