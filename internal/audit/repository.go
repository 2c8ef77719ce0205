package audit

import (
	"context"
	"database/sql"
)

// SQLRepo persists audit events to Postgres.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id            UUID PRIMARY KEY,
//	    type          TEXT NOT NULL,
//	    call_id       UUID NOT NULL,
//	    actor_user_id TEXT NOT NULL DEFAULT '',
//	    from_status   TEXT NOT NULL DEFAULT '',
//	    to_status     TEXT NOT NULL,
//	    reason        TEXT NOT NULL DEFAULT '',
//	    message       TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX audit_events_call_idx ON audit_events (call_id, created_at);
//
// Inserts only; no update or delete statements exist in this package.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, call_id, actor_user_id, from_status, to_status, reason, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.CallID, e.ActorUserID,
		e.FromStatus, e.ToStatus, e.Reason, e.Message, e.CreatedAt,
	)
	return err
}
