package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-cli/internal/db"
	"github.com/sells-group/claims-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the backend for
// shared deployments where multiple demonstration sessions run against
// the same ledger history.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_results (
	claim_id   TEXT PRIMARY KEY,
	result_id  TEXT NOT NULL,
	session_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	source      TEXT NOT NULL,
	amount_usd  DOUBLE PRECISION NOT NULL,
	claim_id    TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_queue (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_results_session ON validation_results(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_cost_entries_session ON cost_entries(session_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PutClaim(ctx context.Context, claim *model.Claim) error {
	doc, err := json.Marshal(claim)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal claim")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO claims (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		claim.ID, doc,
	)
	return eris.Wrapf(err, "postgres: put claim %s", claim.ID)
}

func (s *PostgresStore) GetClaim(ctx context.Context, claimID string) (*model.Claim, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM claims WHERE id = $1`, claimID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get claim %s", claimID)
	}
	var claim model.Claim
	if err := json.Unmarshal(doc, &claim); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal claim %s", claimID)
	}
	return &claim, nil
}

func (s *PostgresStore) PutResult(ctx context.Context, result *model.ValidationResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	// One result per claim: later attempts must not overwrite an already
	// persisted decision.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_results (claim_id, result_id, session_id, status, doc) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (claim_id) DO NOTHING`,
		result.ClaimID, result.ID, result.SessionID, string(result.Status), doc,
	)
	return eris.Wrapf(err, "postgres: put result for claim %s", result.ClaimID)
}

func (s *PostgresStore) GetResult(ctx context.Context, claimID string) (*model.ValidationResult, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM validation_results WHERE claim_id = $1`, claimID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result for claim %s", claimID)
	}
	var result model.ValidationResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal result for claim %s", claimID)
	}
	return &result, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, status, doc) VALUES ($1, $2, $3)`,
		session.ID, string(session.Status), doc,
	)
	return eris.Wrapf(err, "postgres: create session %s", session.ID)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *model.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, doc = $2, updated_at = now() WHERE id = $3`,
		string(session.Status), doc, session.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", session.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM sessions WHERE id = $1`, sessionID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	var session model.Session
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal session %s", sessionID)
	}
	return &session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		var session model.Session
		if err := json.Unmarshal(doc, &session); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session")
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

var costEntryColumns = []string{"id", "session_id", "source", "amount_usd", "claim_id", "recorded_at"}

func (s *PostgresStore) AppendCostEntries(ctx context.Context, entries []model.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.ID, e.SessionID, string(e.Source), e.AmountUSD, e.ClaimID, e.RecordedAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "cost_entries", costEntryColumns, rows)
	return eris.Wrap(err, "postgres: append cost entries")
}

func (s *PostgresStore) ListCostEntries(ctx context.Context, sessionID string) ([]model.CostEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, source, amount_usd, claim_id, recorded_at
		 FROM cost_entries WHERE session_id = $1 ORDER BY recorded_at`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list cost entries for %s", sessionID)
	}
	defer rows.Close()

	var entries []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		var source string
		if err := rows.Scan(&e.ID, &e.SessionID, &source, &e.AmountUSD, &e.ClaimID, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost entry")
		}
		e.Source = model.CostSource(source)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) EnqueueAudit(ctx context.Context, event model.AuditEvent) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit event")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_queue (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		event.ID, doc,
	)
	return eris.Wrapf(err, "postgres: enqueue audit event %s", event.ID)
}

func (s *PostgresStore) PendingAudit(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM audit_queue ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending audit events")
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		var event model.AuditEvent
		if err := json.Unmarshal(doc, &event); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit event")
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) DeleteAudit(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_queue WHERE id = $1`, eventID)
	return eris.Wrapf(err, "postgres: delete audit event %s", eventID)
}

func (s *PostgresStore) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_queue`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count audit queue")
}
