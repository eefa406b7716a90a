package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// SessionRecord is one bound identity within a run.
type SessionRecord struct {
	RunToken  string
	Identity  string
	Seq       int64
	EndedSeq  int64 // 0 while open
	EndReason string
}

// Open reports whether the session was never ended.
func (r SessionRecord) Open() bool {
	return r.EndedSeq == 0
}

// InstructionRecord is the fate of one instruction in a response.
type InstructionRecord struct {
	ID     string
	Kind   string
	Status string
	Error  string
}

// ExchangeRecord is one request/response pair.
type ExchangeRecord struct {
	ID             string
	RunToken       string
	Seq            int64
	Identity       string
	Action         string
	Request        value.Object
	OK             bool
	Response       string
	ResponseDigest string
	Ack            string
	Pruned         int
	Events         []wire.Event
	Instructions   []InstructionRecord
}

// EntryKind distinguishes timeline entries.
type EntryKind string

const (
	EntryBegin    EntryKind = "begin"
	EntryEnd      EntryKind = "end"
	EntryExchange EntryKind = "exchange"
)

// Entry is one step of a run timeline. Exactly one of Session or Exchange
// is set.
type Entry struct {
	Seq      int64
	Kind     EntryKind
	Session  *SessionRecord
	Exchange *ExchangeRecord
}

// Runs returns every run token in the journal, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token FROM sessions
		UNION
		SELECT run_token FROM exchanges
		ORDER BY run_token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadSessions returns the sessions of a run ordered by seq.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadSessions(ctx context.Context, runToken string) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, identity, seq, ended_seq, end_reason
		FROM sessions
		WHERE run_token = ?
		ORDER BY seq ASC, identity COLLATE BINARY ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		var (
			rec    SessionRecord
			ended  sql.NullInt64
			reason sql.NullString
		)
		if err := rows.Scan(&rec.RunToken, &rec.Identity, &rec.Seq, &ended, &reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.EndedSeq = ended.Int64
		rec.EndReason = reason.String
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadExchanges returns the exchanges of a run ordered by seq, each with
// its events and instruction outcomes in position order.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadExchanges(ctx context.Context, runToken string) ([]ExchangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, seq, identity, action, request, ok, response, response_digest, ack, pruned
		FROM exchanges
		WHERE run_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []ExchangeRecord{}
	index := map[string]int{}
	for rows.Next() {
		rec, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		index[rec.ID] = len(exchanges)
		exchanges = append(exchanges, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}

	if err := s.attachEvents(ctx, runToken, exchanges, index); err != nil {
		return nil, err
	}
	if err := s.attachInstructions(ctx, runToken, exchanges, index); err != nil {
		return nil, err
	}
	return exchanges, nil
}

func scanExchange(rows *sql.Rows) (ExchangeRecord, error) {
	var (
		rec     ExchangeRecord
		reqJSON string
		resp    sql.NullString
		digest  sql.NullString
		ack     sql.NullString
	)
	err := rows.Scan(&rec.ID, &rec.RunToken, &rec.Seq, &rec.Identity, &rec.Action,
		&reqJSON, &rec.OK, &resp, &digest, &ack, &rec.Pruned)
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("scan exchange: %w", err)
	}
	rec.Request, err = unmarshalObject(reqJSON)
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("scan exchange %s: %w", rec.ID, err)
	}
	rec.Response = resp.String
	rec.ResponseDigest = digest.String
	rec.Ack = ack.String
	return rec, nil
}

func (s *Store) attachEvents(ctx context.Context, runToken string, exchanges []ExchangeRecord, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ev.exchange_id, ev.event_id, ev.widget, ev.type, ev.data
		FROM events ev
		JOIN exchanges x ON ev.exchange_id = x.id
		WHERE x.run_token = ?
		ORDER BY x.seq ASC, ev.position ASC
	`, runToken)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			exchangeID string
			ev         wire.Event
			data       sql.NullString
		)
		if err := rows.Scan(&exchangeID, &ev.ID, &ev.Target, &ev.Kind, &data); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			ev.Payload, err = unmarshalObject(data.String)
			if err != nil {
				return fmt.Errorf("scan event %s: %w", ev.ID, err)
			}
		}
		if i, ok := index[exchangeID]; ok {
			exchanges[i].Events = append(exchanges[i].Events, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}

func (s *Store) attachInstructions(ctx context.Context, runToken string, exchanges []ExchangeRecord, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.exchange_id, i.instruction_id, i.kind, i.status, i.error
		FROM instructions i
		JOIN exchanges x ON i.exchange_id = x.id
		WHERE x.run_token = ?
		ORDER BY x.seq ASC, i.position ASC
	`, runToken)
	if err != nil {
		return fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			exchangeID string
			rec        InstructionRecord
			errText    sql.NullString
		)
		if err := rows.Scan(&exchangeID, &rec.ID, &rec.Kind, &rec.Status, &errText); err != nil {
			return fmt.Errorf("scan instruction: %w", err)
		}
		rec.Error = errText.String
		if i, ok := index[exchangeID]; ok {
			exchanges[i].Instructions = append(exchanges[i].Instructions, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate instructions: %w", err)
	}
	return nil
}

// Timeline merges session boundaries and exchanges of a run into one
// seq-ordered list.
func (s *Store) Timeline(ctx context.Context, runToken string) ([]Entry, error) {
	sessions, err := s.ReadSessions(ctx, runToken)
	if err != nil {
		return nil, err
	}
	exchanges, err := s.ReadExchanges(ctx, runToken)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, 2*len(sessions)+len(exchanges))
	for i := range sessions {
		rec := &sessions[i]
		entries = append(entries, Entry{Seq: rec.Seq, Kind: EntryBegin, Session: rec})
		if !rec.Open() {
			entries = append(entries, Entry{Seq: rec.EndedSeq, Kind: EntryEnd, Session: rec})
		}
	}
	for i := range exchanges {
		entries = append(entries, Entry{Seq: exchanges[i].Seq, Kind: EntryExchange, Exchange: &exchanges[i]})
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return entries, nil
}
