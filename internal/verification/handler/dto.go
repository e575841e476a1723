package handler

import (
	"time"

	"vouch/internal/verification/models"
)

// StartRequest opens a verification record for a user.
type StartRequest struct {
	UserID string `json:"user_id"`
}

// SubmitIdentityRequest carries the identity intake form.
type SubmitIdentityRequest struct {
	Surname     string `json:"surname"`
	GivenNames  string `json:"given_names"`
	DateOfBirth string `json:"date_of_birth"`
	Country     string `json:"country"`
	DocPath     string `json:"doc_path"`
	SelfiePath  string `json:"selfie_path"`
}

// SubmitBackgroundCheckRequest carries the background-check submission.
type SubmitBackgroundCheckRequest struct {
	Method      string `json:"method"`
	DocPath     string `json:"doc_path,omitempty"`
	CheckNumber string `json:"check_number,omitempty"`
}

// AdminRejectRequest carries the reviewer's rejection reason.
type AdminRejectRequest struct {
	Reason string `json:"reason"`
}

// RecordResponse is the wire shape of a verification record. Extracted
// biographical detail stays server side; the response carries state, issues,
// and the fields the carer submitted themselves.
type RecordResponse struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status int    `json:"status"`
	Level  int    `json:"level"`

	Surname    string `json:"surname,omitempty"`
	GivenNames string `json:"given_names,omitempty"`

	IdentityVerified bool       `json:"identity_verified"`
	IdentityIssues   []string   `json:"identity_issues,omitempty"`
	WWCCMethod       string     `json:"wwcc_method,omitempty"`
	WWCCVerified     bool       `json:"wwcc_verified"`
	WWCCExpiry       *time.Time `json:"wwcc_expiry,omitempty"`
	WWCCIssues       []string   `json:"wwcc_issues,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRecordResponse(rec *models.VerificationRecord) RecordResponse {
	return RecordResponse{
		ID:               rec.ID.String(),
		UserID:           rec.UserID.String(),
		Status:           int(rec.Status()),
		Level:            rec.Level(),
		Surname:          rec.SubmittedSurname,
		GivenNames:       rec.SubmittedGivenNames,
		IdentityVerified: rec.IdentityVerified,
		IdentityIssues:   rec.IdentityIssues,
		WWCCMethod:       string(rec.WWCCMethod),
		WWCCVerified:     rec.WWCCVerified,
		WWCCExpiry:       rec.WWCCExpiry,
		WWCCIssues:       rec.WWCCIssues,
		RejectionReason:  rec.RejectionReason,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}
