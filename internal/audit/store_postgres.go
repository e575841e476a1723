package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "vouch/pkg/domain"
)

// Schema creates the audit_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id              UUID PRIMARY KEY,
    occurred_at     TIMESTAMPTZ NOT NULL,
    user_id         UUID NOT NULL,
    verification_id UUID NOT NULL,
    actor           TEXT NOT NULL,
    action          TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    request_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_verification ON audit_events (verification_id, occurred_at);
`

// PostgresStore persists audit events in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, user_id, verification_id, actor, action, detail, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), event.Timestamp, event.UserID.String(), event.VerificationID.String(),
		event.Actor, string(event.Action), event.Detail, event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByVerification(ctx context.Context, verificationID id.VerificationID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, user_id, verification_id, actor, action, detail, request_id
		FROM audit_events WHERE verification_id = $1 ORDER BY occurred_at`,
		verificationID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var userID, verID, action string
		if err := rows.Scan(&e.Timestamp, &userID, &verID, &e.Actor, &action, &e.Detail, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if parsed, err := id.ParseUserID(userID); err == nil {
			e.UserID = parsed
		}
		if parsed, err := id.ParseVerificationID(verID); err == nil {
			e.VerificationID = parsed
		}
		e.Action = Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}
