package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/invoice-memory/internal/model"
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
CREATE TABLE IF NOT EXISTS vendor_memories (
	id                     TEXT PRIMARY KEY,
	vendor_key             TEXT NOT NULL,
	vendor_name            TEXT NOT NULL DEFAULT '',
	original_label         TEXT NOT NULL,
	field_name             TEXT NOT NULL,
	confidence             REAL NOT NULL,
	application_count      INTEGER NOT NULL DEFAULT 0,
	consecutive_rejections INTEGER NOT NULL DEFAULT 0,
	active                 INTEGER NOT NULL DEFAULT 1,
	created_at             DATETIME NOT NULL,
	last_used_at           DATETIME NOT NULL,
	UNIQUE (vendor_key, original_label)
);

CREATE TABLE IF NOT EXISTS correction_memories (
	id                     TEXT PRIMARY KEY,
	vendor_key             TEXT NOT NULL DEFAULT '',
	field_name             TEXT NOT NULL,
	original_pattern       TEXT NOT NULL DEFAULT '',
	corrected_value        TEXT NOT NULL,
	confidence             REAL NOT NULL,
	application_count      INTEGER NOT NULL DEFAULT 0,
	consecutive_rejections INTEGER NOT NULL DEFAULT 0,
	active                 INTEGER NOT NULL DEFAULT 1,
	created_at             DATETIME NOT NULL,
	last_used_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS resolution_memories (
	id               TEXT PRIMARY KEY,
	discrepancy_type TEXT NOT NULL,
	approval_count   INTEGER NOT NULL DEFAULT 0,
	rejection_count  INTEGER NOT NULL DEFAULT 0,
	context          TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL,
	step       TEXT NOT NULL,
	timestamp  DATETIME NOT NULL,
	details    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_invoices (
	id             TEXT PRIMARY KEY,
	vendor_key     TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	invoice_date   DATETIME NOT NULL,
	processed_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vendor_memories_vendor ON vendor_memories(vendor_key, active);
CREATE INDEX IF NOT EXISTS idx_correction_memories_field ON correction_memories(field_name, vendor_key);
CREATE INDEX IF NOT EXISTS idx_resolution_memories_type ON resolution_memories(discrepancy_type);
CREATE INDEX IF NOT EXISTS idx_audit_log_invoice ON audit_log(invoice_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_processed_invoices_vendor ON processed_invoices(vendor_key, invoice_number);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const vendorMemoryCols = `id, vendor_key, vendor_name, original_label, field_name,
	confidence, application_count, consecutive_rejections, active, created_at, last_used_at`

func (s *SQLiteStore) ActiveVendorMemories(ctx context.Context, vendorKey string) ([]model.VendorMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vendorMemoryCols+` FROM vendor_memories
		 WHERE vendor_key = ? AND active = 1
		 ORDER BY confidence DESC`,
		vendorKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active vendor memories")
	}
	return collectVendorMemories(rows)
}

func (s *SQLiteStore) GetVendorMemory(ctx context.Context, id string) (*model.VendorMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vendorMemoryCols+` FROM vendor_memories WHERE id = ?`, id)
	m, err := scanVendorMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get vendor memory")
	}
	return m, nil
}

func (s *SQLiteStore) FindVendorMemoryByLabel(ctx context.Context, vendorKey, originalLabel, fieldName string) (*model.VendorMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vendorMemoryCols+` FROM vendor_memories
		 WHERE vendor_key = ? AND original_label = ? AND field_name = ?`,
		vendorKey, originalLabel, fieldName,
	)
	m, err := scanVendorMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find vendor memory by label")
	}
	return m, nil
}

func (s *SQLiteStore) CreateVendorMemory(ctx context.Context, m *model.VendorMemory) error {
	fillMeta(&m.MemoryMeta)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vendor_memories (`+vendorMemoryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.VendorKey, m.VendorName, m.OriginalLabel, m.FieldName,
		m.Confidence, m.ApplicationCount, m.ConsecutiveRejections, m.Active, m.CreatedAt, m.LastUsedAt,
	)
	return eris.Wrap(err, "sqlite: insert vendor memory")
}

func (s *SQLiteStore) UpdateVendorMemory(ctx context.Context, id string, upd MemoryUpdate) error {
	return s.updateMemory(ctx, "vendor_memories", id, upd)
}

func (s *SQLiteStore) ListVendorMemories(ctx context.Context, activeOnly bool) ([]model.VendorMemory, error) {
	query := `SELECT ` + vendorMemoryCols + ` FROM vendor_memories`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY vendor_key, confidence DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendor memories")
	}
	return collectVendorMemories(rows)
}

const correctionMemoryCols = `id, vendor_key, field_name, original_pattern, corrected_value,
	confidence, application_count, consecutive_rejections, active, created_at, last_used_at`

func (s *SQLiteStore) CorrectionMemories(ctx context.Context, vendorKey, fieldName string) ([]model.CorrectionMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+correctionMemoryCols+` FROM correction_memories
		 WHERE field_name = ? AND active = 1 AND (vendor_key = ? OR vendor_key = '')
		 ORDER BY confidence DESC`,
		fieldName, vendorKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: correction memories")
	}
	return collectCorrectionMemories(rows)
}

func (s *SQLiteStore) GetCorrectionMemory(ctx context.Context, id string) (*model.CorrectionMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+correctionMemoryCols+` FROM correction_memories WHERE id = ?`, id)
	m, err := scanCorrectionMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get correction memory")
	}
	return m, nil
}

func (s *SQLiteStore) CreateCorrectionMemory(ctx context.Context, m *model.CorrectionMemory) error {
	fillMeta(&m.MemoryMeta)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correction_memories (`+correctionMemoryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.VendorKey, m.FieldName, m.OriginalPattern, m.CorrectedValue,
		m.Confidence, m.ApplicationCount, m.ConsecutiveRejections, m.Active, m.CreatedAt, m.LastUsedAt,
	)
	return eris.Wrap(err, "sqlite: insert correction memory")
}

func (s *SQLiteStore) UpdateCorrectionMemory(ctx context.Context, id string, upd MemoryUpdate) error {
	return s.updateMemory(ctx, "correction_memories", id, upd)
}

func (s *SQLiteStore) ListCorrectionMemories(ctx context.Context, activeOnly bool) ([]model.CorrectionMemory, error) {
	query := `SELECT ` + correctionMemoryCols + ` FROM correction_memories`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY field_name, confidence DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list correction memories")
	}
	return collectCorrectionMemories(rows)
}

func (s *SQLiteStore) ResolutionMemories(ctx context.Context, discrepancyType string) ([]model.ResolutionMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, discrepancy_type, approval_count, rejection_count, context, active, created_at
		 FROM resolution_memories WHERE discrepancy_type = ? AND active = 1`,
		discrepancyType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolution memories")
	}
	defer rows.Close()

	var out []model.ResolutionMemory
	for rows.Next() {
		var m model.ResolutionMemory
		if err := rows.Scan(&m.ID, &m.DiscrepancyType, &m.ApprovalCount, &m.RejectionCount,
			&m.Context, &m.Active, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution memory")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: resolution memories iterate")
}

func (s *SQLiteStore) CreateResolutionMemory(ctx context.Context, m *model.ResolutionMemory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Active = true
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolution_memories (id, discrepancy_type, approval_count, rejection_count, context, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DiscrepancyType, m.ApprovalCount, m.RejectionCount, m.Context, m.Active, m.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert resolution memory")
}

func (s *SQLiteStore) UpdateResolutionMemory(ctx context.Context, id string, approvals, rejections int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE resolution_memories SET approval_count = ?, rejection_count = ? WHERE id = ?`,
		approvals, rejections, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update resolution memory %s", id)
	}
	return checkRowsAffected(res, "resolution memory", id)
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, invoice_id, step, timestamp, details) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), entry.InvoiceID, string(entry.Step), ts, entry.Details,
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func (s *SQLiteStore) AuditTrail(ctx context.Context, invoiceID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT invoice_id, step, timestamp, details FROM audit_log
		 WHERE invoice_id = ? ORDER BY timestamp, rowid`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: audit trail")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.InvoiceID, &e.Step, &e.Timestamp, &e.Details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: audit trail iterate")
}

func (s *SQLiteStore) FindDuplicates(ctx context.Context, q DuplicateQuery) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM processed_invoices
		 WHERE vendor_key = ? AND invoice_number = ? AND id != ?
		   AND invoice_date BETWEEN ? AND ?`,
		q.VendorKey, q.InvoiceNumber, q.ExcludeID,
		q.Date.Add(-q.Window), q.Date.Add(q.Window),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find duplicates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: find duplicates iterate")
}

func (s *SQLiteStore) RecordProcessed(ctx context.Context, inv *model.Invoice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_invoices (id, vendor_key, invoice_number, invoice_date, processed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   vendor_key = excluded.vendor_key,
		   invoice_number = excluded.invoice_number,
		   invoice_date = excluded.invoice_date,
		   processed_at = excluded.processed_at`,
		inv.ID, vendorKeyOf(inv), inv.InvoiceNumber, inv.InvoiceDate, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record processed invoice")
}

// updateMemory applies a sparse update to a memory row.
func (s *SQLiteStore) updateMemory(ctx context.Context, table, id string, upd MemoryUpdate) error {
	sets, args := buildMemoryUpdate(upd, "?")
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %s", table, id)
	}
	return checkRowsAffected(res, "memory", id)
}

// helpers

// buildMemoryUpdate renders the SET clauses for a sparse memory update.
// placeholder is "?" for SQLite; Postgres rewrites positions itself.
func buildMemoryUpdate(upd MemoryUpdate, placeholder string) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = %s", col, placeholder))
		args = append(args, v)
	}
	if upd.Confidence != nil {
		add("confidence", *upd.Confidence)
	}
	if upd.ApplicationCount != nil {
		add("application_count", *upd.ApplicationCount)
	}
	if upd.ConsecutiveRejections != nil {
		add("consecutive_rejections", *upd.ConsecutiveRejections)
	}
	if upd.Active != nil {
		add("active", *upd.Active)
	}
	if upd.LastUsedAt != nil {
		add("last_used_at", *upd.LastUsedAt)
	}
	return sets, args
}

func fillMeta(m *model.MemoryMeta) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastUsedAt.IsZero() {
		m.LastUsedAt = now
	}
	m.Active = true
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVendorMemory(row scannable) (*model.VendorMemory, error) {
	var m model.VendorMemory
	err := row.Scan(&m.ID, &m.VendorKey, &m.VendorName, &m.OriginalLabel, &m.FieldName,
		&m.Confidence, &m.ApplicationCount, &m.ConsecutiveRejections, &m.Active,
		&m.CreatedAt, &m.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanCorrectionMemory(row scannable) (*model.CorrectionMemory, error) {
	var m model.CorrectionMemory
	err := row.Scan(&m.ID, &m.VendorKey, &m.FieldName, &m.OriginalPattern, &m.CorrectedValue,
		&m.Confidence, &m.ApplicationCount, &m.ConsecutiveRejections, &m.Active,
		&m.CreatedAt, &m.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectVendorMemories(rows *sql.Rows) ([]model.VendorMemory, error) {
	defer rows.Close()
	var out []model.VendorMemory
	for rows.Next() {
		m, err := scanVendorMemory(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor memory")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: vendor memories iterate")
}

func collectCorrectionMemories(rows *sql.Rows) ([]model.CorrectionMemory, error) {
	defer rows.Close()
	var out []model.CorrectionMemory
	for rows.Next() {
		m, err := scanCorrectionMemory(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction memory")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: correction memories iterate")
}
