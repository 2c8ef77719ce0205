package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-platform/pkg/utils"
)

// SQLStore is the Postgres-backed call record store.
//
// Assumed schema:
//
//	calls (
//	  id UUID PRIMARY KEY,
//	  caller_id TEXT NOT NULL,
//	  callee_id TEXT NOT NULL CHECK (callee_id <> caller_id),
//	  status TEXT NOT NULL,
//	  offer_type TEXT, offer_sdp TEXT,
//	  answer_type TEXT, answer_sdp TEXT,
//	  ended_reason TEXT NOT NULL DEFAULT '',
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//	-- partial indexes back the busy guard:
//	-- CREATE INDEX calls_caller_active ON calls (caller_id) WHERE status IN ('ringing','answered','connected');
//	-- CREATE INDEX calls_callee_active ON calls (callee_id) WHERE status IN ('ringing','answered','connected');
//
//	call_candidates (
//	  seq BIGSERIAL PRIMARY KEY,
//	  call_id UUID NOT NULL REFERENCES calls(id),
//	  role TEXT NOT NULL,
//	  candidate TEXT NOT NULL,
//	  sdp_mid TEXT, sdp_mline_index INT, username_fragment TEXT
//	)
//
// Candidate rows are append-only and read back ordered by seq, which is
// their arrival order at the store.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(&sqlTx{tx: tx})
	})
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, caller_id, callee_id, status, offer_type, offer_sdp, answer_type, answer_sdp, ended_reason, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	offerType, offerSDP := descColumns(c.Offer)
	answerType, answerSDP := descColumns(c.Answer)
	_, err := t.tx.ExecContext(ctx, q,
		c.ID,
		c.CallerID,
		c.CalleeID,
		string(c.Status),
		offerType,
		offerSDP,
		answerType,
		answerSDP,
		string(c.EndedReason),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (t *sqlTx) Get(ctx context.Context, id string) (Call, error) {
	// Lock the call row to serialize concurrent operations per call.
	const q = `
SELECT id, caller_id, callee_id, status, offer_type, offer_sdp, answer_type, answer_sdp, ended_reason, created_at, updated_at
FROM calls
WHERE id = $1
FOR UPDATE
`
	c, err := scanCall(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return Call{}, err
	}
	if err := t.loadCandidates(ctx, &c); err != nil {
		return Call{}, err
	}
	return c, nil
}

func (t *sqlTx) Update(ctx context.Context, c Call) error {
	const q = `
UPDATE calls
SET status = $2, answer_type = $3, answer_sdp = $4, ended_reason = $5, updated_at = $6
WHERE id = $1
`
	answerType, answerSDP := descColumns(c.Answer)
	res, err := t.tx.ExecContext(ctx, q,
		c.ID,
		string(c.Status),
		answerType,
		answerSDP,
		string(c.EndedReason),
		c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) AppendCandidate(ctx context.Context, callID string, role Role, cand ICECandidate) error {
	const q = `
INSERT INTO call_candidates (call_id, role, candidate, sdp_mid, sdp_mline_index, username_fragment)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := t.tx.ExecContext(ctx, q,
		callID,
		string(role),
		cand.Candidate,
		nullableString(cand.SDPMid),
		nullableUint16(cand.SDPMLineIndex),
		nullableString(cand.UsernameFragment),
	)
	return err
}

func (t *sqlTx) FindActiveByUser(ctx context.Context, userID string) ([]Call, error) {
	// Locking the active rows keeps the busy guard's check-then-insert
	// stable against a concurrent transition on the same user.
	const q = `
SELECT id, caller_id, callee_id, status, offer_type, offer_sdp, answer_type, answer_sdp, ended_reason, created_at, updated_at
FROM calls
WHERE (caller_id = $1 OR callee_id = $1)
  AND status IN ('ringing','answered','connected')
ORDER BY created_at
FOR UPDATE
`
	return t.queryCalls(ctx, q, userID)
}

func (t *sqlTx) FindRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	const q = `
SELECT id, caller_id, callee_id, status, offer_type, offer_sdp, answer_type, answer_sdp, ended_reason, created_at, updated_at
FROM calls
WHERE status = 'ringing' AND created_at < $1
ORDER BY created_at
FOR UPDATE
`
	return t.queryCalls(ctx, q, cutoff)
}

func (t *sqlTx) queryCalls(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := t.loadCandidates(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *sqlTx) loadCandidates(ctx context.Context, c *Call) error {
	const q = `
SELECT role, candidate, sdp_mid, sdp_mline_index, username_fragment
FROM call_candidates
WHERE call_id = $1
ORDER BY seq
`
	rows, err := t.tx.QueryContext(ctx, q, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var cand ICECandidate
		var mid, ufrag sql.NullString
		var mline sql.NullInt32
		if err := rows.Scan(&role, &cand.Candidate, &mid, &mline, &ufrag); err != nil {
			return err
		}
		if mid.Valid {
			v := mid.String
			cand.SDPMid = &v
		}
		if mline.Valid {
			v := uint16(mline.Int32)
			cand.SDPMLineIndex = &v
		}
		if ufrag.Valid {
			v := ufrag.String
			cand.UsernameFragment = &v
		}
		if Role(role) == RoleCaller {
			c.CallerICECandidates = append(c.CallerICECandidates, cand)
		} else {
			c.CalleeICECandidates = append(c.CalleeICECandidates, cand)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var status, endedReason string
	var offerType, offerSDP, answerType, answerSDP sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.CallerID,
		&c.CalleeID,
		&status,
		&offerType,
		&offerSDP,
		&answerType,
		&answerSDP,
		&endedReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return Call{}, err
	}
	c.Status = st
	c.EndedReason = EndedReason(endedReason)
	if offerType.Valid && offerSDP.Valid {
		c.Offer = &SessionDescription{Type: offerType.String, SDP: offerSDP.String}
	}
	if answerType.Valid && answerSDP.Valid {
		c.Answer = &SessionDescription{Type: answerType.String, SDP: answerSDP.String}
	}
	return c, nil
}

func descColumns(d *SessionDescription) (any, any) {
	if d == nil {
		return nil, nil
	}
	return d.Type, d.SDP
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableUint16(v *uint16) any {
	if v == nil {
		return nil
	}
	return int32(*v)
}
