package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-memory/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path of a processing run.
var preparedStatements = map[string]string{
	"active_vendor_memories": `SELECT id, vendor_key, vendor_name, original_label, field_name, confidence, application_count, consecutive_rejections, active, created_at, last_used_at FROM vendor_memories WHERE vendor_key = $1 AND active ORDER BY confidence DESC`,
	"correction_memories":    `SELECT id, vendor_key, field_name, original_pattern, corrected_value, confidence, application_count, consecutive_rejections, active, created_at, last_used_at FROM correction_memories WHERE field_name = $1 AND active AND (vendor_key = $2 OR vendor_key = '') ORDER BY confidence DESC`,
	"append_audit":           `INSERT INTO audit_log (id, invoice_id, step, timestamp, details) VALUES ($1, $2, $3, $4, $5)`,
	"find_duplicates":        `SELECT id FROM processed_invoices WHERE vendor_key = $1 AND invoice_number = $2 AND id != $3 AND invoice_date BETWEEN $4 AND $5`,
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendor_memories (
	id                     TEXT PRIMARY KEY,
	vendor_key             TEXT NOT NULL,
	vendor_name            TEXT NOT NULL DEFAULT '',
	original_label         TEXT NOT NULL,
	field_name             TEXT NOT NULL,
	confidence             DOUBLE PRECISION NOT NULL,
	application_count      INTEGER NOT NULL DEFAULT 0,
	consecutive_rejections INTEGER NOT NULL DEFAULT 0,
	active                 BOOLEAN NOT NULL DEFAULT TRUE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor_key, original_label)
);

CREATE TABLE IF NOT EXISTS correction_memories (
	id                     TEXT PRIMARY KEY,
	vendor_key             TEXT NOT NULL DEFAULT '',
	field_name             TEXT NOT NULL,
	original_pattern       TEXT NOT NULL DEFAULT '',
	corrected_value        TEXT NOT NULL,
	confidence             DOUBLE PRECISION NOT NULL,
	application_count      INTEGER NOT NULL DEFAULT 0,
	consecutive_rejections INTEGER NOT NULL DEFAULT 0,
	active                 BOOLEAN NOT NULL DEFAULT TRUE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS resolution_memories (
	id               TEXT PRIMARY KEY,
	discrepancy_type TEXT NOT NULL,
	approval_count   INTEGER NOT NULL DEFAULT 0,
	rejection_count  INTEGER NOT NULL DEFAULT 0,
	context          TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL,
	step       TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL DEFAULT now(),
	details    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_invoices (
	id             TEXT PRIMARY KEY,
	vendor_key     TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	invoice_date   TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vendor_memories_vendor ON vendor_memories(vendor_key, active);
CREATE INDEX IF NOT EXISTS idx_correction_memories_field ON correction_memories(field_name, vendor_key);
CREATE INDEX IF NOT EXISTS idx_resolution_memories_type ON resolution_memories(discrepancy_type);
CREATE INDEX IF NOT EXISTS idx_audit_log_invoice ON audit_log(invoice_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_processed_invoices_vendor ON processed_invoices(vendor_key, invoice_number);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

const pgVendorMemoryCols = `id, vendor_key, vendor_name, original_label, field_name,
	confidence, application_count, consecutive_rejections, active, created_at, last_used_at`

func (s *PostgresStore) ActiveVendorMemories(ctx context.Context, vendorKey string) ([]model.VendorMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgVendorMemoryCols+` FROM vendor_memories
		 WHERE vendor_key = $1 AND active
		 ORDER BY confidence DESC`,
		vendorKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active vendor memories")
	}
	return collectPgVendorMemories(rows)
}

func (s *PostgresStore) GetVendorMemory(ctx context.Context, id string) (*model.VendorMemory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgVendorMemoryCols+` FROM vendor_memories WHERE id = $1`, id)
	m, err := scanVendorMemory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get vendor memory")
	}
	return m, nil
}

func (s *PostgresStore) FindVendorMemoryByLabel(ctx context.Context, vendorKey, originalLabel, fieldName string) (*model.VendorMemory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgVendorMemoryCols+` FROM vendor_memories
		 WHERE vendor_key = $1 AND original_label = $2 AND field_name = $3`,
		vendorKey, originalLabel, fieldName,
	)
	m, err := scanVendorMemory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find vendor memory by label")
	}
	return m, nil
}

func (s *PostgresStore) CreateVendorMemory(ctx context.Context, m *model.VendorMemory) error {
	fillMeta(&m.MemoryMeta)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vendor_memories (`+pgVendorMemoryCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.VendorKey, m.VendorName, m.OriginalLabel, m.FieldName,
		m.Confidence, m.ApplicationCount, m.ConsecutiveRejections, m.Active, m.CreatedAt, m.LastUsedAt,
	)
	return eris.Wrap(err, "postgres: insert vendor memory")
}

func (s *PostgresStore) UpdateVendorMemory(ctx context.Context, id string, upd MemoryUpdate) error {
	return s.updateMemory(ctx, "vendor_memories", id, upd)
}

func (s *PostgresStore) ListVendorMemories(ctx context.Context, activeOnly bool) ([]model.VendorMemory, error) {
	query := `SELECT ` + pgVendorMemoryCols + ` FROM vendor_memories`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY vendor_key, confidence DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendor memories")
	}
	return collectPgVendorMemories(rows)
}

const pgCorrectionMemoryCols = `id, vendor_key, field_name, original_pattern, corrected_value,
	confidence, application_count, consecutive_rejections, active, created_at, last_used_at`

func (s *PostgresStore) CorrectionMemories(ctx context.Context, vendorKey, fieldName string) ([]model.CorrectionMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCorrectionMemoryCols+` FROM correction_memories
		 WHERE field_name = $1 AND active AND (vendor_key = $2 OR vendor_key = '')
		 ORDER BY confidence DESC`,
		fieldName, vendorKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: correction memories")
	}
	return collectPgCorrectionMemories(rows)
}

func (s *PostgresStore) GetCorrectionMemory(ctx context.Context, id string) (*model.CorrectionMemory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCorrectionMemoryCols+` FROM correction_memories WHERE id = $1`, id)
	m, err := scanCorrectionMemory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get correction memory")
	}
	return m, nil
}

func (s *PostgresStore) CreateCorrectionMemory(ctx context.Context, m *model.CorrectionMemory) error {
	fillMeta(&m.MemoryMeta)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO correction_memories (`+pgCorrectionMemoryCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.VendorKey, m.FieldName, m.OriginalPattern, m.CorrectedValue,
		m.Confidence, m.ApplicationCount, m.ConsecutiveRejections, m.Active, m.CreatedAt, m.LastUsedAt,
	)
	return eris.Wrap(err, "postgres: insert correction memory")
}

func (s *PostgresStore) UpdateCorrectionMemory(ctx context.Context, id string, upd MemoryUpdate) error {
	return s.updateMemory(ctx, "correction_memories", id, upd)
}

func (s *PostgresStore) ListCorrectionMemories(ctx context.Context, activeOnly bool) ([]model.CorrectionMemory, error) {
	query := `SELECT ` + pgCorrectionMemoryCols + ` FROM correction_memories`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY field_name, confidence DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list correction memories")
	}
	return collectPgCorrectionMemories(rows)
}

func (s *PostgresStore) ResolutionMemories(ctx context.Context, discrepancyType string) ([]model.ResolutionMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, discrepancy_type, approval_count, rejection_count, context, active, created_at
		 FROM resolution_memories WHERE discrepancy_type = $1 AND active`,
		discrepancyType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolution memories")
	}
	defer rows.Close()

	var out []model.ResolutionMemory
	for rows.Next() {
		var m model.ResolutionMemory
		if err := rows.Scan(&m.ID, &m.DiscrepancyType, &m.ApprovalCount, &m.RejectionCount,
			&m.Context, &m.Active, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution memory")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: resolution memories iterate")
}

func (s *PostgresStore) CreateResolutionMemory(ctx context.Context, m *model.ResolutionMemory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Active = true
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolution_memories (id, discrepancy_type, approval_count, rejection_count, context, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.DiscrepancyType, m.ApprovalCount, m.RejectionCount, m.Context, m.Active, m.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert resolution memory")
}

func (s *PostgresStore) UpdateResolutionMemory(ctx context.Context, id string, approvals, rejections int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolution_memories SET approval_count = $1, rejection_count = $2 WHERE id = $3`,
		approvals, rejections, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update resolution memory %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("resolution memory not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, invoice_id, step, timestamp, details) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), entry.InvoiceID, string(entry.Step), ts, entry.Details,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) AuditTrail(ctx context.Context, invoiceID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT invoice_id, step, timestamp, details FROM audit_log
		 WHERE invoice_id = $1 ORDER BY timestamp, id`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: audit trail")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.InvoiceID, &e.Step, &e.Timestamp, &e.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: audit trail iterate")
}

func (s *PostgresStore) FindDuplicates(ctx context.Context, q DuplicateQuery) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM processed_invoices
		 WHERE vendor_key = $1 AND invoice_number = $2 AND id != $3
		   AND invoice_date BETWEEN $4 AND $5`,
		q.VendorKey, q.InvoiceNumber, q.ExcludeID,
		q.Date.Add(-q.Window), q.Date.Add(q.Window),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find duplicates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: find duplicates iterate")
}

func (s *PostgresStore) RecordProcessed(ctx context.Context, inv *model.Invoice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_invoices (id, vendor_key, invoice_number, invoice_date, processed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   vendor_key = EXCLUDED.vendor_key,
		   invoice_number = EXCLUDED.invoice_number,
		   invoice_date = EXCLUDED.invoice_date,
		   processed_at = EXCLUDED.processed_at`,
		inv.ID, vendorKeyOf(inv), inv.InvoiceNumber, inv.InvoiceDate, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record processed invoice")
}

func (s *PostgresStore) updateMemory(ctx context.Context, table, id string, upd MemoryUpdate) error {
	sets, args := buildMemoryUpdate(upd, "?")
	if len(sets) == 0 {
		return nil
	}
	// Rewrite ? placeholders to $n.
	for i := range sets {
		sets[i] = strings.Replace(sets[i], "?", fmt.Sprintf("$%d", i+1), 1)
	}
	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, table, strings.Join(sets, ", "), len(args)),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %s", table, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("memory not found: %s", id)
	}
	return nil
}

func collectPgVendorMemories(rows pgx.Rows) ([]model.VendorMemory, error) {
	defer rows.Close()
	var out []model.VendorMemory
	for rows.Next() {
		m, err := scanVendorMemory(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor memory")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: vendor memories iterate")
}

func collectPgCorrectionMemories(rows pgx.Rows) ([]model.CorrectionMemory, error) {
	defer rows.Close()
	var out []model.CorrectionMemory
	for rows.Next() {
		m, err := scanCorrectionMemory(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction memory")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: correction memories iterate")
}
