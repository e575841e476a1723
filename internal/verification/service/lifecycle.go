package service

import (
	"context"
	"errors"

	"vouch/internal/audit"
	"vouch/internal/profile"
	"vouch/internal/verification/models"
	"vouch/internal/verification/wwcc"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// Start creates the verification record for a user, or returns the existing
// one: a user has exactly one record, resubmissions move its status.
func (s *Service) Start(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}

	existing, err := s.records.GetByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}

	rec := models.NewRecord(userID, requestcontext.Now(ctx))
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification record")
	}
	s.applyProjection(ctx, rec, profile.AccountActive)
	return rec, nil
}

// Get loads a record by id.
func (s *Service) Get(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}
	return rec, nil
}

// GetByUser loads a user's record.
func (s *Service) GetByUser(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error) {
	rec, err := s.records.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}
	return rec, nil
}

// SubmitIdentityRequest carries the intake form data and the stored document
// references for the identity step.
type SubmitIdentityRequest struct {
	Surname     string
	GivenNames  string
	DateOfBirth string // YYYY-MM-DD
	Country     string
	DocPath     string
	SelfiePath  string
}

// SubmitIdentity records the identity submission on a record awaiting its
// identity check. The phase itself runs separately.
func (s *Service) SubmitIdentity(ctx context.Context, recordID id.VerificationID, req SubmitIdentityRequest) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status() != models.StatusIdentityPending {
		return nil, dErrors.New(dErrors.CodeConflict, "record is not awaiting an identity submission")
	}

	rec.SubmittedSurname = req.Surname
	rec.SubmittedGivenNames = req.GivenNames
	rec.SubmittedDOB = req.DateOfBirth
	rec.SubmittedCountry = req.Country
	rec.IdentityDocPath = req.DocPath
	rec.SelfiePath = req.SelfiePath
	rec.UpdatedAt = requestcontext.Now(ctx)

	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save identity submission")
	}
	return rec, nil
}

// SubmitBackgroundCheckRequest carries the background-check submission.
type SubmitBackgroundCheckRequest struct {
	Method      models.WWCCMethod
	DocPath     string
	CheckNumber string
}

// SubmitBackgroundCheck records the background-check submission on a record
// awaiting its check. Manual entry requires a well-formed check number up
// front; a malformed number is rejected regardless of source.
func (s *Service) SubmitBackgroundCheck(ctx context.Context, recordID id.VerificationID, req SubmitBackgroundCheckRequest) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status() != models.StatusWWCCPending {
		return nil, dErrors.New(dErrors.CodeConflict, "record is not awaiting a background-check submission")
	}
	if !req.Method.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown submission method")
	}
	if req.Method == models.WWCCMethodManualEntry && !wwcc.ValidCheckNumber(req.CheckNumber) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "check number must match WWC0000000X")
	}
	if req.Method != models.WWCCMethodManualEntry && req.DocPath == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document is required for this method")
	}

	now := requestcontext.Now(ctx)
	rec.WWCCMethod = req.Method
	rec.WWCCDocPath = req.DocPath
	rec.SubmittedWWCCNumber = wwcc.NormalizeCheckNumber(req.CheckNumber)
	rec.WWCCSubmittedAt = &now
	rec.UpdatedAt = now

	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save background-check submission")
	}
	return rec, nil
}

// ReopenIdentity reopens a rejected identity step for resubmission (12 -> 10).
func (s *Service) ReopenIdentity(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := rec.Transition(models.StatusIdentityPending); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record cannot be reopened from its current state")
	}

	rec.IdentityIssues = nil
	rec.IdentityReasoning = ""
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reopen identity step")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, "user", audit.ActionResubmissionOpened, "identity step reopened")
	return rec, nil
}

// ReopenBackgroundCheck reopens a failed, rejected or expired background check
// for resubmission (22/23/24 -> 20). A suspended profile has no resubmission
// path; the authority barred the person outright.
func (s *Service) ReopenBackgroundCheck(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if proj, err := s.profiles.Get(ctx, rec.UserID); err == nil && proj.Status == profile.AccountSuspended {
		return nil, dErrors.New(dErrors.CodeForbidden, "account is suspended")
	}

	from := rec.Status()
	switch from {
	case models.StatusWWCCRejected, models.StatusWWCCExpired, models.StatusWWCCDocumentFailed:
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "record cannot be reopened from its current state")
	}
	if err := rec.Transition(models.StatusWWCCPending); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "record cannot be reopened from its current state")
	}

	rec.RejectionReason = ""
	rec.WWCCIssues = nil
	rec.WWCCReasoning = ""
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reopen background check")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, "user", audit.ActionResubmissionOpened, "background check reopened from "+from.String())
	return rec, nil
}
