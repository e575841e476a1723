// Package postgres provides the PostgreSQL-backed verification store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Schema creates the verification_records table. Applied by migrations in
// deployment and by the integration test harness.
const Schema = `
CREATE TABLE IF NOT EXISTS verification_records (
	id                      UUID PRIMARY KEY,
	user_id                 UUID NOT NULL,
	status                  INT NOT NULL,
	submitted_surname       TEXT NOT NULL DEFAULT '',
	submitted_given_names   TEXT NOT NULL DEFAULT '',
	submitted_dob           TEXT NOT NULL DEFAULT '',
	submitted_country       TEXT NOT NULL DEFAULT '',
	identity_doc_path       TEXT NOT NULL DEFAULT '',
	selfie_path             TEXT NOT NULL DEFAULT '',
	extracted_surname       TEXT NOT NULL DEFAULT '',
	extracted_given_names   TEXT NOT NULL DEFAULT '',
	extracted_dob           TEXT NOT NULL DEFAULT '',
	extracted_doc_expiry    TEXT NOT NULL DEFAULT '',
	identity_reasoning      TEXT NOT NULL DEFAULT '',
	identity_issues         TEXT[] NOT NULL DEFAULT '{}',
	identity_verified       BOOLEAN NOT NULL DEFAULT FALSE,
	identity_verified_at    TIMESTAMPTZ,
	wwcc_method             TEXT NOT NULL DEFAULT '',
	wwcc_doc_path           TEXT NOT NULL DEFAULT '',
	submitted_wwcc_number   TEXT NOT NULL DEFAULT '',
	extracted_wwcc_number   TEXT NOT NULL DEFAULT '',
	wwcc_surname            TEXT NOT NULL DEFAULT '',
	wwcc_first_name         TEXT NOT NULL DEFAULT '',
	wwcc_other_names        TEXT NOT NULL DEFAULT '',
	clearance_type          TEXT NOT NULL DEFAULT '',
	wwcc_expiry             TIMESTAMPTZ,
	wwcc_reasoning          TEXT NOT NULL DEFAULT '',
	wwcc_issues             TEXT[] NOT NULL DEFAULT '{}',
	wwcc_verified           BOOLEAN NOT NULL DEFAULT FALSE,
	wwcc_verified_at        TIMESTAMPTZ,
	wwcc_submitted_at       TIMESTAMPTZ,
	rejection_reason        TEXT NOT NULL DEFAULT '',
	cross_check_status      TEXT NOT NULL DEFAULT '',
	cross_check_at          TIMESTAMPTZ,
	authority_case_id       TEXT NOT NULL DEFAULT '',
	authority_org_name      TEXT NOT NULL DEFAULT '',
	authority_verified_at   TIMESTAMPTZ,
	inbound_message_id      TEXT NOT NULL DEFAULT '',
	authority_recorded_at   TIMESTAMPTZ,
	authority_result_status TEXT NOT NULL DEFAULT '',
	authority_result_text   TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_records_user_id ON verification_records (user_id);
CREATE INDEX IF NOT EXISTS idx_verification_records_surname ON verification_records (LOWER(submitted_surname));
CREATE INDEX IF NOT EXISTS idx_verification_records_wwcc_number ON verification_records (UPPER(submitted_wwcc_number));
`

const recordColumns = `id, user_id, status,
	submitted_surname, submitted_given_names, submitted_dob, submitted_country,
	identity_doc_path, selfie_path,
	extracted_surname, extracted_given_names, extracted_dob, extracted_doc_expiry,
	identity_reasoning, identity_issues, identity_verified, identity_verified_at,
	wwcc_method, wwcc_doc_path, submitted_wwcc_number, extracted_wwcc_number,
	wwcc_surname, wwcc_first_name, wwcc_other_names, clearance_type, wwcc_expiry,
	wwcc_reasoning, wwcc_issues, wwcc_verified, wwcc_verified_at, wwcc_submitted_at,
	rejection_reason, cross_check_status, cross_check_at,
	authority_case_id, authority_org_name, authority_verified_at,
	inbound_message_id, authority_recorded_at, authority_result_status, authority_result_text,
	created_at, updated_at`

// Store persists verification records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed verification store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, record *models.VerificationRecord) error {
	query := `INSERT INTO verification_records (` + recordColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32,
		$33, $34, $35, $36, $37, $38, $39, $40, $41, $42, $43)`
	if _, err := s.db.ExecContext(ctx, query, args(record)...); err != nil {
		return fmt.Errorf("create verification record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM verification_records WHERE id = $1`,
		uuid.UUID(recordID))
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification record %s: %w", recordID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get verification record: %w", err)
	}
	return record, nil
}

func (s *Store) GetByUser(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`,
		uuid.UUID(userID))
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification record for user %s: %w", userID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get verification record by user: %w", err)
	}
	return record, nil
}

func (s *Store) Update(ctx context.Context, record *models.VerificationRecord) error {
	query := `UPDATE verification_records SET
		user_id = $2, status = $3,
		submitted_surname = $4, submitted_given_names = $5, submitted_dob = $6, submitted_country = $7,
		identity_doc_path = $8, selfie_path = $9,
		extracted_surname = $10, extracted_given_names = $11, extracted_dob = $12, extracted_doc_expiry = $13,
		identity_reasoning = $14, identity_issues = $15, identity_verified = $16, identity_verified_at = $17,
		wwcc_method = $18, wwcc_doc_path = $19, submitted_wwcc_number = $20, extracted_wwcc_number = $21,
		wwcc_surname = $22, wwcc_first_name = $23, wwcc_other_names = $24, clearance_type = $25, wwcc_expiry = $26,
		wwcc_reasoning = $27, wwcc_issues = $28, wwcc_verified = $29, wwcc_verified_at = $30, wwcc_submitted_at = $31,
		rejection_reason = $32, cross_check_status = $33, cross_check_at = $34,
		authority_case_id = $35, authority_org_name = $36, authority_verified_at = $37,
		inbound_message_id = $38, authority_recorded_at = $39, authority_result_status = $40, authority_result_text = $41,
		created_at = $42, updated_at = $43
		WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, args(record)...)
	if err != nil {
		return fmt.Errorf("update verification record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("verification record %s: %w", record.ID, sentinel.ErrNotFound)
	}
	return nil
}

// Claim is the single-row mutex: the UPDATE only lands when status still equals
// from, so exactly one concurrent caller proceeds past it.
func (s *Store) Claim(ctx context.Context, recordID id.VerificationID, from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return models.ErrInvalidTransition(from, to)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE verification_records SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		int(to), time.Now().UTC(), uuid.UUID(recordID), int(from))
	if err != nil {
		return fmt.Errorf("claim verification record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim verification record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("claim %s: another invocation holds it: %w", recordID, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) FindByCheckNumber(ctx context.Context, number string) ([]*models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE status <> $1
		   AND (UPPER(submitted_wwcc_number) = UPPER($2) OR UPPER(extracted_wwcc_number) = UPPER($2))`,
		int(models.StatusFullyVerified), number)
	if err != nil {
		return nil, fmt.Errorf("find by check number: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) FindBySubmittedSurname(ctx context.Context, surname string) ([]*models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE status <> $1 AND LOWER(submitted_surname) = LOWER(TRIM($2))`,
		int(models.StatusFullyVerified), surname)
	if err != nil {
		return nil, fmt.Errorf("find by submitted surname: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) FindExpiredClearances(ctx context.Context, now time.Time) ([]*models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE status = $1 AND wwcc_expiry IS NOT NULL AND wwcc_expiry < $2`,
		int(models.StatusFullyVerified), now)
	if err != nil {
		return nil, fmt.Errorf("find expired clearances: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func args(record *models.VerificationRecord) []any {
	return []any{
		uuid.UUID(record.ID), uuid.UUID(record.UserID), int(record.Status()),
		record.SubmittedSurname, record.SubmittedGivenNames, record.SubmittedDOB, record.SubmittedCountry,
		record.IdentityDocPath, record.SelfiePath,
		record.ExtractedSurname, record.ExtractedGivenNames, record.ExtractedDOB, record.ExtractedDocExpiry,
		record.IdentityReasoning, pq.Array(record.IdentityIssues), record.IdentityVerified, record.IdentityVerifiedAt,
		string(record.WWCCMethod), record.WWCCDocPath, record.SubmittedWWCCNumber, record.ExtractedWWCCNumber,
		record.WWCCSurname, record.WWCCFirstName, record.WWCCOtherNames, record.ClearanceType, record.WWCCExpiry,
		record.WWCCReasoning, pq.Array(record.WWCCIssues), record.WWCCVerified, record.WWCCVerifiedAt, record.WWCCSubmittedAt,
		record.RejectionReason, record.CrossCheckStatus, record.CrossCheckAt,
		record.AuthorityCaseID, record.AuthorityOrgName, record.AuthorityVerifiedAt,
		record.InboundMessageID, record.AuthorityRecordedAt, record.AuthorityResultStatus, record.AuthorityResultText,
		record.CreatedAt, record.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.VerificationRecord, error) {
	var (
		record                     models.VerificationRecord
		recordID, userID           uuid.UUID
		status                     int
		method                     string
		identityIssues, wwccIssues pq.StringArray
	)
	err := row.Scan(
		&recordID, &userID, &status,
		&record.SubmittedSurname, &record.SubmittedGivenNames, &record.SubmittedDOB, &record.SubmittedCountry,
		&record.IdentityDocPath, &record.SelfiePath,
		&record.ExtractedSurname, &record.ExtractedGivenNames, &record.ExtractedDOB, &record.ExtractedDocExpiry,
		&record.IdentityReasoning, &identityIssues, &record.IdentityVerified, &record.IdentityVerifiedAt,
		&method, &record.WWCCDocPath, &record.SubmittedWWCCNumber, &record.ExtractedWWCCNumber,
		&record.WWCCSurname, &record.WWCCFirstName, &record.WWCCOtherNames, &record.ClearanceType, &record.WWCCExpiry,
		&record.WWCCReasoning, &wwccIssues, &record.WWCCVerified, &record.WWCCVerifiedAt, &record.WWCCSubmittedAt,
		&record.RejectionReason, &record.CrossCheckStatus, &record.CrossCheckAt,
		&record.AuthorityCaseID, &record.AuthorityOrgName, &record.AuthorityVerifiedAt,
		&record.InboundMessageID, &record.AuthorityRecordedAt, &record.AuthorityResultStatus, &record.AuthorityResultText,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.VerificationID(recordID)
	record.UserID = id.UserID(userID)
	record.WWCCMethod = models.WWCCMethod(method)
	record.IdentityIssues = identityIssues
	record.WWCCIssues = wwccIssues
	models.RehydrateStatus(&record, models.Status(status))
	return &record, nil
}

func collect(rows *sql.Rows) ([]*models.VerificationRecord, error) {
	var out []*models.VerificationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification records: %w", err)
	}
	return out, nil
}
