package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/compliacert/extract-cli/internal/db"
	"github.com/compliacert/extract-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths: one insert per attempted tier plus settings reads.
var preparedStatements = map[string]string{
	"insert_audit": `INSERT INTO audit_records
		(id, run_id, document_id, certificate_type, tier, status, confidence,
		 duration_ms, field_count, cost_usd, escalation_reason, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
	"get_settings": `SELECT key, value FROM admin_settings`,
	"set_setting": `INSERT INTO admin_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audit_records (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id            TEXT NOT NULL,
	document_id       TEXT NOT NULL,
	certificate_type  TEXT NOT NULL DEFAULT 'UNKNOWN',
	tier              INTEGER NOT NULL,
	status            TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	field_count       INTEGER NOT NULL DEFAULT 0,
	cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
	escalation_reason TEXT,
	raw_response      TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS admin_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_records(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_document_id ON audit_records(document_id);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_records(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	_, err := s.pool.Exec(ctx, preparedStatements["insert_audit"],
		rec.ID, rec.RunID, rec.DocumentID, string(rec.CertificateType), int(rec.Tier),
		string(rec.Status), rec.Confidence, rec.DurationMs, rec.FieldCount, rec.CostUSD,
		rec.EscalationReason, rec.RawResponse, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert audit record")
}

// auditColumns is the COPY column order for bulk inserts.
var auditColumns = []string{
	"id", "run_id", "document_id", "certificate_type", "tier", "status", "confidence",
	"duration_ms", "field_count", "cost_usd", "escalation_reason", "raw_response", "created_at",
}

// InsertAuditRecords bulk-inserts a batch of records via COPY.
func (s *PostgresStore) InsertAuditRecords(ctx context.Context, recs []model.AuditRecord) error {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{
			rec.ID, rec.RunID, rec.DocumentID, string(rec.CertificateType), int(rec.Tier),
			string(rec.Status), rec.Confidence, rec.DurationMs, rec.FieldCount, rec.CostUSD,
			rec.EscalationReason, rec.RawResponse, rec.CreatedAt.UTC(),
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "audit_records", auditColumns, rows)
	return err
}

func (s *PostgresStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error) {
	query, args := buildAuditQuery(filter, "$")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit records")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *PostgresStore) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["get_settings"])
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan setting")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate settings")
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, preparedStatements["set_setting"], key, value)
	return eris.Wrap(err, "postgres: set setting")
}
