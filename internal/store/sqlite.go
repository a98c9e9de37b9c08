package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/claims-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for local demonstration runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS validation_results (
	claim_id   TEXT PRIMARY KEY,
	result_id  TEXT NOT NULL,
	session_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	source      TEXT NOT NULL,
	amount_usd  REAL NOT NULL,
	claim_id    TEXT,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_queue (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_session ON validation_results(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_cost_entries_session ON cost_entries(session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutClaim(ctx context.Context, claim *model.Claim) error {
	doc, err := json.Marshal(claim)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal claim")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claims (id, doc) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		claim.ID, string(doc),
	)
	return eris.Wrapf(err, "sqlite: put claim %s", claim.ID)
}

func (s *SQLiteStore) GetClaim(ctx context.Context, claimID string) (*model.Claim, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM claims WHERE id = ?`, claimID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get claim %s", claimID)
	}
	var claim model.Claim
	if err := json.Unmarshal([]byte(doc), &claim); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal claim %s", claimID)
	}
	return &claim, nil
}

func (s *SQLiteStore) PutResult(ctx context.Context, result *model.ValidationResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	// One result per claim: later attempts must not overwrite an already
	// persisted decision.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_results (claim_id, result_id, session_id, status, doc) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(claim_id) DO NOTHING`,
		result.ClaimID, result.ID, result.SessionID, string(result.Status), string(doc),
	)
	return eris.Wrapf(err, "sqlite: put result for claim %s", result.ClaimID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, claimID string) (*model.ValidationResult, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM validation_results WHERE claim_id = ?`, claimID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result for claim %s", claimID)
	}
	var result model.ValidationResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal result for claim %s", claimID)
	}
	return &result, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, doc) VALUES (?, ?, ?)`,
		session.ID, string(session.Status), string(doc),
	)
	return eris.Wrapf(err, "sqlite: create session %s", session.ID)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *model.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, doc = ?, updated_at = ? WHERE id = ?`,
		string(session.Status), string(doc), time.Now().UTC(), session.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", session.ID)
	}
	return checkRowsAffected(res, "session", session.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE id = ?`, sessionID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}
	var session model.Session
	if err := json.Unmarshal([]byte(doc), &session); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal session %s", sessionID)
	}
	return &session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		var session model.Session
		if err := json.Unmarshal([]byte(doc), &session); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session")
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) AppendCostEntries(ctx context.Context, entries []model.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin cost entries tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cost_entries (id, session_id, source, amount_usd, claim_id, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, string(e.Source), e.AmountUSD, e.ClaimID, e.RecordedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert cost entry %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit cost entries")
}

func (s *SQLiteStore) ListCostEntries(ctx context.Context, sessionID string) ([]model.CostEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, source, amount_usd, claim_id, recorded_at
		 FROM cost_entries WHERE session_id = ? ORDER BY recorded_at`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list cost entries for %s", sessionID)
	}
	defer rows.Close()

	var entries []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		var source string
		var claimID sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &source, &e.AmountUSD, &claimID, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost entry")
		}
		e.Source = model.CostSource(source)
		e.ClaimID = claimID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) EnqueueAudit(ctx context.Context, event model.AuditEvent) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit event")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_queue (id, doc) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		event.ID, string(doc),
	)
	return eris.Wrapf(err, "sqlite: enqueue audit event %s", event.ID)
}

func (s *SQLiteStore) PendingAudit(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM audit_queue ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending audit events")
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit event")
		}
		var event model.AuditEvent
		if err := json.Unmarshal([]byte(doc), &event); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit event")
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) DeleteAudit(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_queue WHERE id = ?`, eventID)
	return eris.Wrapf(err, "sqlite: delete audit event %s", eventID)
}

func (s *SQLiteStore) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count audit queue")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
