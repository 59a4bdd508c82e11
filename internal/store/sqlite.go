package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/compliacert/extract-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS audit_records (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	document_id       TEXT NOT NULL,
	certificate_type  TEXT NOT NULL DEFAULT 'UNKNOWN',
	tier              INTEGER NOT NULL,
	status            TEXT NOT NULL,
	confidence        REAL NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	field_count       INTEGER NOT NULL DEFAULT 0,
	cost_usd          REAL NOT NULL DEFAULT 0,
	escalation_reason TEXT,
	raw_response      TEXT,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_records(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_document_id ON audit_records(document_id);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_records(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records
			(id, run_id, document_id, certificate_type, tier, status, confidence,
			 duration_ms, field_count, cost_usd, escalation_reason, raw_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.DocumentID, string(rec.CertificateType), int(rec.Tier),
		string(rec.Status), rec.Confidence, rec.DurationMs, rec.FieldCount, rec.CostUSD,
		rec.EscalationReason, rec.RawResponse, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert audit record")
}

// InsertAuditRecords writes a batch of records in one transaction.
func (s *SQLiteStore) InsertAuditRecords(ctx context.Context, recs []model.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin bulk insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_records
			(id, run_id, document_id, certificate_type, tier, status, confidence,
			 duration_ms, field_count, cost_usd, escalation_reason, raw_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare bulk insert")
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.RunID, rec.DocumentID, string(rec.CertificateType), int(rec.Tier),
			string(rec.Status), rec.Confidence, rec.DurationMs, rec.FieldCount, rec.CostUSD,
			rec.EscalationReason, rec.RawResponse, rec.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrap(err, "sqlite: bulk insert audit record")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit bulk insert")
}

func (s *SQLiteStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error) {
	query, args := buildAuditQuery(filter, "?")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit records")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *SQLiteStore) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM admin_settings`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan setting")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate settings")
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	return eris.Wrap(err, "sqlite: set setting")
}

// buildAuditQuery assembles the filtered list query. placeholder is "?"
// for SQLite; Postgres rewrites to positional parameters.
func buildAuditQuery(filter AuditFilter, placeholder string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}

	if filter.RunID != "" {
		add("run_id = %s", filter.RunID)
	}
	if filter.DocumentID != "" {
		add("document_id = %s", filter.DocumentID)
	}
	if filter.Status != "" {
		add("status = %s", string(filter.Status))
	}
	if filter.Tier != nil {
		add("tier = %s", int(*filter.Tier))
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at >= %s", filter.CreatedAfter.UTC())
	}

	query := `SELECT id, run_id, document_id, certificate_type, tier, status, confidence,
		duration_ms, field_count, cost_usd, escalation_reason, raw_response, created_at
		FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// Runs read back in insertion order: tier-ascending within a run.
	query += " ORDER BY created_at ASC, tier ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT " + strconv.Itoa(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(filter.Offset)
	}

	n := 0
	query = replacePlaceholders(query, func() string {
		if placeholder == "?" {
			return "?"
		}
		n++
		return "$" + strconv.Itoa(n)
	})
	return query, args
}

func replacePlaceholders(query string, next func() string) string {
	var b strings.Builder
	for {
		idx := strings.Index(query, "%s")
		if idx < 0 {
			b.WriteString(query)
			return b.String()
		}
		b.WriteString(query[:idx])
		b.WriteString(next())
		query = query[idx+2:]
	}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuditRows(rows rowScanner) ([]model.AuditRecord, error) {
	var out []model.AuditRecord
	for rows.Next() {
		var (
			rec    model.AuditRecord
			ctype  string
			tier   int
			status string
			reason sql.NullString
			raw    sql.NullString
			at     time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.DocumentID, &ctype, &tier, &status,
			&rec.Confidence, &rec.DurationMs, &rec.FieldCount, &rec.CostUSD, &reason, &raw, &at); err != nil {
			return nil, eris.Wrap(err, "store: scan audit record")
		}
		rec.CertificateType = model.CertificateType(ctype)
		rec.Tier = model.Tier(tier)
		rec.Status = model.AttemptStatus(status)
		rec.EscalationReason = reason.String
		rec.RawResponse = raw.String
		rec.CreatedAt = at
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate audit records")
}
