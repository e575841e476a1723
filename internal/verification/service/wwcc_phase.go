package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/oracle"
	"vouch/internal/profile"
	"vouch/internal/verification/models"
	"vouch/internal/verification/parser"
	"vouch/internal/verification/wwcc"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// RunBackgroundCheckPhase executes the background-check auto-check for one
// record. The record is claimed with a single-row conditional update before
// any external call, so at most one concurrent invocation proceeds past the
// claim; the rest exit silently.
func (s *Service) RunBackgroundCheckPhase(ctx context.Context, recordID id.VerificationID) error {
	requestID := requestcontext.RequestID(ctx)

	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.Status() != models.StatusWWCCPending {
		s.logger.InfoContext(ctx, "background-check phase no-op, record has moved on",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"status", rec.Status().String(),
		)
		return nil
	}

	if err := s.records.Claim(ctx, rec.ID, models.StatusWWCCPending, models.StatusWWCCProcessing); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.RecordClaimConflict()
			s.logger.InfoContext(ctx, "background-check claim lost, another invocation owns the record",
				"request_id", requestID,
				"verification_id", rec.ID.String(),
			)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim record")
	}
	// Reload under the claim so the in-memory copy carries the ephemeral
	// processing status.
	rec, err = s.Get(ctx, recordID)
	if err != nil {
		return err
	}

	// The claim also serialises the short-circuit outcomes, so a duplicate
	// invocation cannot dispatch a second review notification.
	if !rec.WWCCMethod.IsValid() ||
		(rec.WWCCMethod != models.WWCCMethodManualEntry && rec.WWCCDocPath == "") {
		rec.WWCCIssues = []string{"missing document"}
		return s.reviewWWCC(ctx, rec, "no processable submission", "manual")
	}

	if rec.WWCCMethod == models.WWCCMethodManualEntry {
		rec.ExtractedWWCCNumber = rec.SubmittedWWCCNumber
		return s.reviewWWCC(ctx, rec, "manual entry always routes to manual review", "manual")
	}

	if rec.WWCCMethod == models.WWCCMethodGrantDocument && textExtractable(rec.WWCCDocPath) {
		return s.runParserPath(ctx, rec)
	}
	return s.runOraclePath(ctx, rec)
}

// runParserPath downloads the grant document and runs the deterministic
// parser. A parser fallback escalates to the oracle path; a genuine
// validation fail never does.
func (s *Service) runParserPath(ctx context.Context, rec *models.VerificationRecord) error {
	requestID := requestcontext.RequestID(ctx)

	data, err := s.download(ctx, rec.WWCCDocPath)
	if err != nil {
		s.logger.ErrorContext(ctx, "grant document download failed",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"error", err,
		)
		issue := "document download failed: " + err.Error()
		if errorsIsTimeout(err) {
			issue = "document download timed out"
		}
		rec.WWCCIssues = []string{issue}
		return s.reviewWWCC(ctx, rec, issue, "parser")
	}

	text, err := documentText(rec.WWCCDocPath, data)
	if err != nil {
		rec.WWCCIssues = []string{"document could not be decoded"}
		return s.reviewWWCC(ctx, rec, "document could not be decoded: "+err.Error(), "parser")
	}

	result, err := s.parseWithTimeout(ctx, text, parser.Submitted{
		Surname:     rec.SubmittedSurname,
		FirstName:   rec.SubmittedGivenNames,
		CheckNumber: rec.SubmittedWWCCNumber,
	})
	if err != nil {
		rec.WWCCIssues = []string{"document parsing timed out"}
		return s.reviewWWCC(ctx, rec, "document parsing timed out", "parser")
	}

	if result.NeedsFallback {
		s.metrics.RecordParserFallback()
		s.logger.InfoContext(ctx, "deterministic parser fell back to oracle",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"reasoning", result.Reasoning,
		)
		return s.runOraclePath(ctx, rec)
	}

	rec.WWCCSurname = result.Fields.Surname
	rec.WWCCFirstName = result.Fields.FirstName
	rec.WWCCOtherNames = result.Fields.OtherNames
	rec.ExtractedWWCCNumber = result.Fields.CheckNumber
	rec.ClearanceType = result.Fields.ClearanceType
	setExpiry(rec, result.Fields.ExpiryDate)

	if !result.Pass {
		rec.WWCCIssues = result.Issues
		return s.failWWCCDocument(ctx, rec, result.Reasoning, "parser")
	}
	return s.passWWCC(ctx, rec, result.Reasoning, "parser")
}

// runOraclePath sends the document to the extraction oracle. The oracle's own
// verdict is accepted as a first-pass filter; the identity surname cross-check
// still applies afterwards.
func (s *Service) runOraclePath(ctx context.Context, rec *models.VerificationRecord) error {
	requestID := requestcontext.RequestID(ctx)

	docURL, err := s.signedURL(ctx, rec.WWCCDocPath)
	if err != nil {
		rec.WWCCIssues = []string{"could not access stored document: " + err.Error()}
		return s.reviewWWCC(ctx, rec, "signed URL acquisition failed", "oracle")
	}

	extraction, err := s.extractBackgroundCheck(ctx, rec, docURL)
	if err != nil {
		s.logger.ErrorContext(ctx, "background-check extraction failed",
			"request_id", requestID,
			"verification_id", rec.ID.String(),
			"error", err,
		)
		issue := "background-check extraction failed: " + err.Error()
		if errorsIsTimeout(err) {
			issue = "background-check extraction timed out"
		}
		rec.WWCCIssues = []string{issue}
		return s.reviewWWCC(ctx, rec, issue, "oracle")
	}

	rec.WWCCSurname = extraction.Surname
	rec.WWCCFirstName = extraction.FirstName
	rec.WWCCOtherNames = extraction.OtherNames
	rec.ExtractedWWCCNumber = wwcc.NormalizeCheckNumber(extraction.CheckNumber)
	rec.ClearanceType = extraction.ClearanceType
	setExpiry(rec, extraction.ExpiryDate)

	decision := wwcc.EvaluateOracle(extraction, requestcontext.Now(ctx))
	if !decision.Pass {
		rec.WWCCIssues = decision.Issues
		return s.failWWCCDocument(ctx, rec, decision.Reasoning, "oracle")
	}
	return s.passWWCC(ctx, rec, decision.Reasoning, "oracle")
}

// passWWCC applies the identity surname cross-check and, when it holds, moves
// the record to provisionally verified. The authority's asynchronous
// confirmation later lifts it to fully verified.
func (s *Service) passWWCC(ctx context.Context, rec *models.VerificationRecord, reasoning, path string) error {
	identitySurname := rec.ExtractedSurname
	if identitySurname == "" {
		identitySurname = rec.SubmittedSurname
	}
	now := requestcontext.Now(ctx)
	rec.CrossCheckAt = &now

	if !wwcc.SurnamesMatch(identitySurname, rec.WWCCSurname) {
		rec.CrossCheckStatus = "name_mismatch"
		rec.WWCCIssues = []string{"document surname does not match verified identity"}
		reason := "background-check document passed but its surname '" + rec.WWCCSurname +
			"' does not match the verified identity surname '" + identitySurname + "'"
		return s.reviewWWCC(ctx, rec, reason, path)
	}
	rec.CrossCheckStatus = "match"

	rec.WWCCReasoning = reasoning
	rec.WWCCIssues = nil
	rec.UpdatedAt = now
	if err := rec.Transition(models.StatusProvisionallyVerified); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "record moved during background-check phase")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save background-check outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.dispatch(rec, notify.TemplateWWCCProvisional, map[string]string{
		"check_number": rec.ExtractedWWCCNumber,
	})
	s.emitAudit(ctx, rec, "system", audit.ActionWWCCPassed, reasoning)
	s.metrics.RecordWWCCCheck("provisional", path)
	return nil
}

// reviewWWCC routes the record to background-check manual review.
func (s *Service) reviewWWCC(ctx context.Context, rec *models.VerificationRecord, reasoning, path string) error {
	rec.WWCCReasoning = reasoning
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := rec.Transition(models.StatusWWCCManualReview); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "record moved during background-check phase")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save background-check outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.dispatch(rec, notify.TemplateWWCCReview, nil)
	s.emitAudit(ctx, rec, "system", audit.ActionWWCCManualReview, reasoning)
	s.metrics.RecordWWCCCheck("manual_review", path)
	return nil
}

// failWWCCDocument records a document-level validation fail (not a name
// mismatch): the document was read and its data did not hold up.
func (s *Service) failWWCCDocument(ctx context.Context, rec *models.VerificationRecord, reasoning, path string) error {
	rec.WWCCReasoning = reasoning
	rec.UpdatedAt = requestcontext.Now(ctx)
	if err := rec.Transition(models.StatusWWCCDocumentFailed); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "record moved during background-check phase")
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save background-check outcome")
	}

	s.applyProjection(ctx, rec, profile.AccountActive)
	s.emitAudit(ctx, rec, "system", audit.ActionWWCCFailed, joinIssues(rec.WWCCIssues))
	s.metrics.RecordWWCCCheck("document_failed", path)
	return nil
}

func (s *Service) download(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()
	return s.storage.Download(ctx, path)
}

func (s *Service) signedURL(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()
	return s.storage.SignedURL(ctx, path, SignedURLTTL)
}

func (s *Service) extractBackgroundCheck(ctx context.Context, rec *models.VerificationRecord, docURL string) (*oracle.WWCCExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, WWCCOracleTimeout)
	defer cancel()

	start := time.Now()
	defer s.metrics.ObserveOracle("wwcc", start)

	return s.oracle.ExtractBackgroundCheck(ctx, docURL, oracle.WWCCSubmission{
		Method:      rec.WWCCMethod,
		Surname:     rec.SubmittedSurname,
		GivenNames:  rec.SubmittedGivenNames,
		CheckNumber: rec.SubmittedWWCCNumber,
	})
}

// parseWithTimeout bounds the deterministic parse. The parse itself is pure;
// the budget guards against pathological documents.
func (s *Service) parseWithTimeout(ctx context.Context, text string, submitted parser.Submitted) (parser.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, ParseTimeout)
	defer cancel()

	now := requestcontext.Now(ctx)
	done := make(chan parser.Result, 1)
	go func() { done <- parser.Parse(text, submitted, now) }()

	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return parser.Result{}, ctx.Err()
	}
}

// documentText extracts plain text from a stored grant document. HTML bodies
// are reduced to their rendered text so the parser sees the same lines a
// reader would.
func documentText(docPath string, data []byte) (string, error) {
	if !isHTML(docPath) {
		return string(data), nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return doc.Text(), nil
}

func isHTML(docPath string) bool {
	return strings.HasSuffix(strings.ToLower(docPath), ".html")
}

func setExpiry(rec *models.VerificationRecord, isoDate string) {
	if isoDate == "" {
		return
	}
	if t, err := time.Parse("2006-01-02", isoDate); err == nil {
		rec.WWCCExpiry = &t
	}
}
