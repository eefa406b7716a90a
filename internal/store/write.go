package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/session"
)

// Journal records one process run into the store. It implements
// session.Journal.
//
// Thread-safety: Journal is safe for concurrent use; seq allocation is
// atomic and the store serializes writers.
type Journal struct {
	store *Store
	run   string
	seq   *ident.Counter
}

var _ session.Journal = (*Journal)(nil)

// NewJournal returns a journal writing under runToken. Reopening a run that
// already has rows continues its seq where it stopped.
func NewJournal(ctx context.Context, s *Store, runToken string) (*Journal, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM exchanges WHERE run_token = ?
			UNION ALL
			SELECT seq FROM sessions WHERE run_token = ?
			UNION ALL
			SELECT ended_seq FROM sessions WHERE run_token = ? AND ended_seq IS NOT NULL
		)
	`, runToken, runToken, runToken).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("new journal: %w", err)
	}
	return &Journal{store: s, run: runToken, seq: ident.NewCounterAt(last.Int64)}, nil
}

// RunToken returns the token stamped on every row.
func (j *Journal) RunToken() string {
	return j.run
}

// BeginSession records a newly bound identity.
// Uses ON CONFLICT DO NOTHING: an identity reused within a run keeps its
// first row.
func (j *Journal) BeginSession(ctx context.Context, identity string) error {
	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO sessions (run_token, identity, seq)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, j.run, identity, j.seq.Next())
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// EndSession closes an open session. Ending a session twice, or one that was
// never begun, is a no-op.
func (j *Journal) EndSession(ctx context.Context, identity, reason string) error {
	_, err := j.store.db.ExecContext(ctx, `
		UPDATE sessions SET ended_seq = ?, end_reason = ?
		WHERE run_token = ? AND identity = ? AND ended_seq IS NULL
	`, j.seq.Next(), reason, j.run, identity)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// RecordExchange writes an exchange with its events and instruction
// outcomes in one transaction.
func (j *Journal) RecordExchange(ctx context.Context, x session.Exchange) error {
	seq := j.seq.Next()
	req := requestValue(x.Request)

	id, err := exchangeID(j.run, seq, req)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	reqJSON, err := marshalObject(req)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	respText, respDigest, err := marshalResponse(x.OK, x.Response)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	var ack sql.NullString
	if x.Ack != "" {
		ack = sql.NullString{String: x.Ack, Valid: true}
	}

	tx, err := j.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO exchanges
		(id, run_token, seq, identity, action, request, ok, response, response_digest, ack, pruned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, id, j.run, seq, x.Identity, string(x.Request.Action), reqJSON, x.OK, respText, respDigest, ack, x.Pruned)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for i, ev := range x.Request.Events {
		data, err := nullableObject(ev.Payload)
		if err != nil {
			return fmt.Errorf("record exchange: event %s: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (exchange_id, position, event_id, widget, type, data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, id, i, ev.ID, ev.Target, ev.Kind, data)
		if err != nil {
			return fmt.Errorf("record exchange: event %s: %w", ev.ID, err)
		}
	}

	for i, o := range x.Outcomes {
		var errText sql.NullString
		if o.Err != nil {
			errText = sql.NullString{String: o.Err.Error(), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO instructions (exchange_id, position, instruction_id, kind, status, error)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, id, i, o.ID, o.Kind, string(o.Status), errText)
		if err != nil {
			return fmt.Errorf("record exchange: instruction %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	return nil
}
