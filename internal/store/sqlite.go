package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/invoice-cli/internal/model"
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
	// Pragmas below are per connection; one connection also serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	vendor_id       TEXT NOT NULL,
	template_id     TEXT,
	total_files     INTEGER NOT NULL,
	processed_files INTEGER NOT NULL DEFAULT 0,
	failed_files    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending',
	cancelled       INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	CHECK (processed_files + failed_files <= total_files)
);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	page_count INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id                  TEXT PRIMARY KEY,
	document_id         TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	batch_id            TEXT NOT NULL,
	vendor_id           TEXT NOT NULL,
	method              TEXT NOT NULL,
	circuit_id          TEXT,
	bill_number         TEXT,
	relationship_number TEXT,
	bill_date           TEXT,
	data                TEXT NOT NULL,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_results (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	record_id       TEXT,
	rule_id         TEXT NOT NULL,
	field           TEXT NOT NULL,
	status          TEXT NOT NULL,
	message         TEXT NOT NULL,
	original_value  TEXT,
	suggested_value TEXT,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	document_id TEXT,
	record_id   TEXT,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	read        INTEGER NOT NULL DEFAULT 0,
	dismissed   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS corrections (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	reason     TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	vendor_id  TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_documents_batch_status ON documents(batch_id, status);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch_id);
CREATE INDEX IF NOT EXISTS idx_records_circuit_date ON records(circuit_id, bill_date);
CREATE INDEX IF NOT EXISTS idx_records_bill_number ON records(bill_number);
CREATE INDEX IF NOT EXISTS idx_records_relationship ON records(relationship_number);
CREATE INDEX IF NOT EXISTS idx_validation_document ON validation_results(document_id);
CREATE INDEX IF NOT EXISTS idx_alerts_batch ON alerts(batch_id);
CREATE INDEX IF NOT EXISTS idx_corrections_record ON corrections(record_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

// --- Batches ---

const batchColumns = `id, name, vendor_id, template_id, total_files, processed_files, failed_files, status, cancelled, error, created_at, updated_at`

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch, docs []model.Document) error {
	ts := now()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.TotalFiles = len(docs)
	b.Status = model.BatchPending
	b.CreatedAt, b.UpdatedAt = ts, ts

	return s.inTx(ctx, "create batch", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, 0, 0, ?, 0, NULL, ?, ?)`,
			b.ID, b.Name, b.VendorID, nullable(b.TemplateID), b.TotalFiles, string(b.Status), ts, ts,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return eris.Wrapf(ErrConflict, "sqlite: batch name %q already exists", b.Name)
			}
			return eris.Wrap(err, "sqlite: insert batch")
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (id, batch_id, filename, file_path, status, page_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare document insert")
		}
		defer stmt.Close() //nolint:errcheck

		for i := range docs {
			d := &docs[i]
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			d.BatchID = b.ID
			d.Status = model.DocumentPending
			d.CreatedAt, d.UpdatedAt = ts, ts
			if _, err := stmt.ExecContext(ctx, d.ID, d.BatchID, d.Filename, d.FilePath, string(d.Status), ts, ts); err != nil {
				return eris.Wrapf(err, "sqlite: insert document %s", d.Filename)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) GetBatchByName(ctx context.Context, name string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE name = ?`, name)
	b, err := scanBatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch by name %q", name)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.VendorID != "" {
		query += ` AND vendor_id = ?`
		args = append(args, filter.VendorID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, defaultListLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list batches")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullable(errMsg), now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch status %s", id)
	}
	return checkRowsAffected(res, "batch", id)
}

func (s *SQLiteStore) IncrementBatchCounters(ctx context.Context, id string, processed, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches
		 SET processed_files = processed_files + ?, failed_files = failed_files + ?, updated_at = ?
		 WHERE id = ? AND processed_files + failed_files + ? <= total_files`,
		processed, failed, now(), id, processed+failed,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment batch counters %s", id)
	}
	return checkRowsAffected(res, "batch", id)
}

func (s *SQLiteStore) SetBatchCancelled(ctx context.Context, id string, cancelled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET cancelled = ?, updated_at = ? WHERE id = ?`,
		cancelled, now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set batch cancelled %s", id)
	}
	return checkRowsAffected(res, "batch", id)
}

// --- Documents ---

const documentColumns = `id, batch_id, filename, file_path, status, page_count, error, created_at, updated_at`

func (s *SQLiteStore) ListDocuments(ctx context.Context, batchID string, statuses ...model.DocumentStatus) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE batch_id = ?`
	args := []any{batchID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses), func(int) string { return "?" }) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY filename, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents %s", batchID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Document
	for rows.Next() {
		var d model.Document
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Filename, &d.FilePath, &d.Status, &d.PageCount, &errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Error = errMsg.String
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) ClaimDocument(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.DocumentProcessing), now(), id, string(model.DocumentPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim document rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteDocument(ctx context.Context, id string, pages int, rec *model.NormalizedRecord, results []model.ValidationResult) error {
	prepareRecord(rec, id)
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	circuit, bill, relationship, billDate := recordKeys(rec)

	return s.inTx(ctx, "complete document", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, document_id, batch_id, vendor_id, method, circuit_id, bill_number, relationship_number, bill_date, data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, id, rec.BatchID, rec.VendorID, string(rec.Method), circuit, bill, relationship, billDate, string(data), rec.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert record for document %s", id)
		}
		if err := replaceResultsTx(ctx, tx, id, rec.ID, results); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, page_count = ?, error = NULL, updated_at = ? WHERE id = ? AND status = ?`,
			string(model.DocumentCompleted), pages, now(), id, string(model.DocumentProcessing),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: complete document %s", id)
		}
		return checkTransition(res, id)
	})
}

func (s *SQLiteStore) FailDocument(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.DocumentFailed), errMsg, now(), id, string(model.DocumentPending), string(model.DocumentProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail document %s", id)
	}
	return checkTransition(res, id)
}

func (s *SQLiteStore) ResetFailedDocuments(ctx context.Context, batchID string, ids []string) (int, error) {
	var n int64
	err := s.inTx(ctx, "reset failed documents", func(tx *sql.Tx) error {
		query := `UPDATE documents SET status = ?, error = NULL, updated_at = ? WHERE batch_id = ? AND status = ?`
		args := []any{string(model.DocumentPending), now(), batchID, string(model.DocumentFailed)}
		if len(ids) > 0 {
			query += ` AND id IN (` + placeholders(len(ids), func(int) string { return "?" }) + `)`
			for _, id := range ids {
				args = append(args, id)
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return eris.Wrapf(err, "sqlite: reset failed documents %s", batchID)
		}
		if n, err = res.RowsAffected(); err != nil {
			return eris.Wrap(err, "sqlite: reset rows affected")
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE batches SET failed_files = failed_files - ?, cancelled = 0, error = NULL, updated_at = ? WHERE id = ?`,
			n, now(), batchID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: reset batch counters %s", batchID)
		}
		return checkRowsAffected(res, "batch", batchID)
	})
	return int(n), err
}

func (s *SQLiteStore) ReclaimDocuments(ctx context.Context, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE batch_id = ? AND status = ?`,
		string(model.DocumentPending), now(), batchID, string(model.DocumentProcessing),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reclaim documents %s", batchID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclaim rows affected")
	}
	return int(n), nil
}

// --- Records ---

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.NormalizedRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return decodeRecord([]byte(data))
}

func (s *SQLiteStore) ListBatchRecords(ctx context.Context, batchID string) ([]model.RecordEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.filename, r.data FROM records r JOIN documents d ON d.id = r.document_id
		 WHERE r.batch_id = ? ORDER BY d.filename, d.id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list batch records %s", batchID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RecordEntry
	for rows.Next() {
		var filename, data string
		if err := rows.Scan(&filename, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch record")
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, model.RecordEntry{Filename: filename, Record: *rec})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batch records iterate")
}

func (s *SQLiteStore) RecentRecordsByCircuit(ctx context.Context, q HistoryQuery) ([]model.NormalizedRecord, error) {
	query := `SELECT data FROM records WHERE circuit_id = ? AND document_id <> ?`
	args := []any{q.CircuitID, q.ExcludeDocumentID}
	if q.OnOrBefore != "" {
		query += ` AND bill_date IS NOT NULL AND bill_date <= ?`
		args = append(args, q.OnOrBefore)
	}
	query += ` ORDER BY bill_date IS NULL, bill_date DESC, created_at DESC LIMIT ?`
	args = append(args, limitOr(q.Limit, 6))
	return s.queryRecords(ctx, "recent records by circuit", query, args...)
}

func (s *SQLiteStore) FindRecordsByBillOrRelationship(ctx context.Context, billNumber, relationshipNumber, excludeDocumentID string) ([]model.NormalizedRecord, error) {
	if billNumber == "" && relationshipNumber == "" {
		return nil, nil
	}
	return s.queryRecords(ctx, "find duplicate records",
		`SELECT data FROM records
		 WHERE document_id <> ? AND ((? <> '' AND bill_number = ?) OR (? <> '' AND relationship_number = ?))
		 ORDER BY created_at`,
		excludeDocumentID, billNumber, billNumber, relationshipNumber, relationshipNumber,
	)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.NormalizedRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NormalizedRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

// --- Corrections ---

func (s *SQLiteStore) AppendCorrection(ctx context.Context, c *model.Correction) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, record_id, field, old_value, new_value, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RecordID, c.Field, c.OldValue, c.NewValue, nullable(c.Reason), c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append correction for record %s", c.RecordID)
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, recordID string) ([]model.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, field, old_value, new_value, reason, created_at FROM corrections
		 WHERE record_id = ? ORDER BY created_at, rowid`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list corrections %s", recordID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var oldV, newV, reason sql.NullString
		if err := rows.Scan(&c.ID, &c.RecordID, &c.Field, &oldV, &newV, &reason, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		c.OldValue, c.NewValue, c.Reason = oldV.String, newV.String, reason.String
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

// --- Validation results ---

func (s *SQLiteStore) ReplaceValidationResults(ctx context.Context, documentID string, results []model.ValidationResult) error {
	return s.inTx(ctx, "replace validation results", func(tx *sql.Tx) error {
		return replaceResultsTx(ctx, tx, documentID, "", results)
	})
}

func replaceResultsTx(ctx context.Context, tx *sql.Tx, documentID, recordID string, results []model.ValidationResult) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM validation_results WHERE document_id = ?`, documentID); err != nil {
		return eris.Wrapf(err, "sqlite: clear validation results %s", documentID)
	}
	for _, r := range prepareResults(documentID, recordID, results) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO validation_results (id, document_id, record_id, rule_id, field, status, message, original_value, suggested_value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.DocumentID, nullable(r.RecordID), r.RuleID, r.Field, string(r.Status), r.Message,
			nullable(r.OriginalValue), nullable(r.SuggestedValue), r.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert validation result %s", r.RuleID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListValidationResults(ctx context.Context, batchID string) ([]model.ValidationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.document_id, v.record_id, v.rule_id, v.field, v.status, v.message, v.original_value, v.suggested_value, v.created_at
		 FROM validation_results v JOIN documents d ON d.id = v.document_id
		 WHERE d.batch_id = ? ORDER BY d.filename, v.field, v.rule_id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list validation results %s", batchID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ValidationResult
	for rows.Next() {
		var r model.ValidationResult
		var recordID, orig, sugg sql.NullString
		if err := rows.Scan(&r.ID, &r.DocumentID, &recordID, &r.RuleID, &r.Field, &r.Status, &r.Message, &orig, &sugg, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation result")
		}
		r.RecordID, r.OriginalValue, r.SuggestedValue = recordID.String, orig.String, sugg.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list validation results iterate")
}

// --- Alerts ---

// ReplaceBatchAlerts swaps the batch's alerts for alerts in one transaction
// with a single multi-row insert. Read and dismissed flags carry over to the
// new alert of the same document and type.
func (s *SQLiteStore) ReplaceBatchAlerts(ctx context.Context, batchID string, alerts []model.Alert) error {
	alerts = prepareAlerts(batchID, alerts)
	return s.inTx(ctx, "replace batch alerts", func(tx *sql.Tx) error {
		prior, err := s.loadAlertFlags(ctx, tx, batchID)
		if err != nil {
			return err
		}
		carryAlertFlags(alerts, prior)

		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE batch_id = ?`, batchID); err != nil {
			return eris.Wrapf(err, "sqlite: clear alerts %s", batchID)
		}
		if len(alerts) == 0 {
			return nil
		}

		args := make([]any, 0, len(alerts)*11)
		for _, a := range alerts {
			meta, err := encodeMetadata(a.Metadata)
			if err != nil {
				return err
			}
			args = append(args, a.ID, a.BatchID, nullable(a.DocumentID), nullable(a.RecordID), string(a.Type),
				string(a.Severity), a.Message, string(meta), a.Read, a.Dismissed, a.CreatedAt)
		}
		query := `INSERT INTO alerts (id, batch_id, document_id, record_id, type, severity, message, metadata, read, dismissed, created_at) VALUES ` +
			placeholders(len(alerts), func(int) string { return "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)" })
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %d alerts", len(alerts))
		}
		return nil
	})
}

func (s *SQLiteStore) loadAlertFlags(ctx context.Context, tx *sql.Tx, batchID string) (map[alertKey]alertFlags, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT COALESCE(document_id, ''), type, read, dismissed FROM alerts WHERE batch_id = ? AND (read = 1 OR dismissed = 1)`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load alert flags %s", batchID)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[alertKey]alertFlags)
	for rows.Next() {
		var (
			doc, typ string
			f        alertFlags
		)
		if err := rows.Scan(&doc, &typ, &f.read, &f.dismissed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert flags")
		}
		out[alertKey{doc, model.AlertType(typ)}] = f
	}
	return out, eris.Wrap(rows.Err(), "sqlite: alert flags iterate")
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, batch_id, document_id, record_id, type, severity, message, metadata, read, dismissed, created_at
		FROM alerts WHERE 1=1`
	var args []any
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if len(filter.Severities) > 0 {
		query += ` AND severity IN (` + placeholders(len(filter.Severities), func(int) string { return "?" }) + `)`
		for _, sev := range severityStrings(filter.Severities) {
			args = append(args, sev)
		}
	}
	if filter.UnreadOnly {
		query += ` AND read = 0`
	}
	if !filter.IncludeDismissed {
		query += ` AND dismissed = 0`
	}
	query += ` ORDER BY created_at DESC, rowid LIMIT ?`
	args = append(args, limitOr(filter.Limit, 1000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var docID, recID sql.NullString
		var meta string
		if err := rows.Scan(&a.ID, &a.BatchID, &docID, &recID, &a.Type, &a.Severity, &a.Message, &meta, &a.Read, &a.Dismissed, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.DocumentID, a.RecordID = docID.String, recID.String
		if a.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) MarkAlertRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark alert read %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

func (s *SQLiteStore) DismissAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET dismissed = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: dismiss alert %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

// --- Templates ---

func (s *SQLiteStore) SaveTemplate(ctx context.Context, t *model.Template) error {
	prepareTemplate(t)
	fields, err := encodeFields(t.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, vendor_id, fields, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET vendor_id = excluded.vendor_id, fields = excluded.fields`,
		t.ID, t.Name, t.VendorID, string(fields), t.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save template %q", t.Name)
	}
	// On conflict the stored id wins.
	got, err := s.GetTemplate(ctx, t.Name)
	if err != nil {
		return err
	}
	t.ID, t.CreatedAt = got.ID, got.CreatedAt
	return nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, idOrName string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, vendor_id, fields, created_at FROM templates WHERE id = ? OR name = ? LIMIT 1`,
		idOrName, idOrName,
	)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get template %q", idOrName)
	}
	return t, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, vendor_id, fields, created_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list templates")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// checkTransition reports a conditional document update that matched nothing.
func checkTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "document %s is not in a state that allows this transition", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.Batch, error) {
	var b model.Batch
	var templateID, errMsg sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.VendorID, &templateID, &b.TotalFiles, &b.ProcessedFiles, &b.FailedFiles,
		&b.Status, &b.Cancelled, &errMsg, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan batch")
	}
	b.TemplateID, b.Error = templateID.String, errMsg.String
	return &b, nil
}

func scanTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	var fields string
	err := row.Scan(&t.ID, &t.Name, &t.VendorID, &fields, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan template")
	}
	if t.Fields, err = decodeFields([]byte(fields)); err != nil {
		return nil, err
	}
	return &t, nil
}
