package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Schema creates the profile projection table.
const Schema = `
CREATE TABLE IF NOT EXISTS profile_projections (
	user_id            UUID PRIMARY KEY,
	surname            TEXT NOT NULL DEFAULT '',
	identity_verified  BOOLEAN NOT NULL DEFAULT FALSE,
	wwcc_verified      BOOLEAN NOT NULL DEFAULT FALSE,
	verification_level INT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'active',
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profile_projections_surname ON profile_projections (LOWER(surname));
`

// PostgresStore persists projections in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed projection store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Apply(ctx context.Context, projection Projection) error {
	// COALESCE/NULLIF keeps an existing surname when the pipeline upserts
	// without one.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_projections
			(user_id, surname, identity_verified, wwcc_verified, verification_level, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			surname            = COALESCE(NULLIF(EXCLUDED.surname, ''), profile_projections.surname),
			identity_verified  = EXCLUDED.identity_verified,
			wwcc_verified      = EXCLUDED.wwcc_verified,
			verification_level = EXCLUDED.verification_level,
			status             = EXCLUDED.status,
			updated_at         = EXCLUDED.updated_at`,
		uuid.UUID(projection.UserID), projection.Surname, projection.IdentityVerified,
		projection.WWCCVerified, projection.VerificationLevel, string(projection.Status),
		projection.UpdatedAt)
	if err != nil {
		return fmt.Errorf("apply profile projection: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID id.UserID) (*Projection, error) {
	var (
		projection Projection
		uid        uuid.UUID
		status     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, surname, identity_verified, wwcc_verified, verification_level, status, updated_at
		FROM profile_projections WHERE user_id = $1`,
		uuid.UUID(userID)).Scan(
		&uid, &projection.Surname, &projection.IdentityVerified, &projection.WWCCVerified,
		&projection.VerificationLevel, &status, &projection.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile for user %s: %w", userID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get profile projection: %w", err)
	}
	projection.UserID = id.UserID(uid)
	projection.Status = AccountStatus(status)
	return &projection, nil
}

func (s *PostgresStore) FindUserIDsBySurname(ctx context.Context, surname string) ([]id.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM profile_projections WHERE LOWER(surname) = LOWER(TRIM($1))`,
		surname)
	if err != nil {
		return nil, fmt.Errorf("find profiles by surname: %w", err)
	}
	defer rows.Close()

	var out []id.UserID
	for rows.Next() {
		var uid uuid.UUID
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan profile user id: %w", err)
		}
		out = append(out, id.UserID(uid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile user ids: %w", err)
	}
	return out, nil
}
