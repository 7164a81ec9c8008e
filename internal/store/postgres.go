package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/db"
	"github.com/sells-group/invoice-cli/internal/model"
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

const (
	pgClaimDocument = `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	pgIncrement     = `UPDATE batches
		 SET processed_files = processed_files + $1, failed_files = failed_files + $2, updated_at = $3
		 WHERE id = $4 AND processed_files + failed_files + $5 <= total_files`
	pgFailDocument = `UPDATE documents SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status IN ($5, $6)`
	pgGetBatch     = `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
)

// preparedStatements lists the queries the orchestrator issues once per
// document; they are prepared on each new connection.
var preparedStatements = map[string]string{
	"claim_document":  pgClaimDocument,
	"increment_batch": pgIncrement,
	"fail_document":   pgFailDocument,
	"get_batch":       pgGetBatch,
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL UNIQUE,
	vendor_id       TEXT NOT NULL,
	template_id     TEXT,
	total_files     INTEGER NOT NULL,
	processed_files INTEGER NOT NULL DEFAULT 0,
	failed_files    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending',
	cancelled       BOOLEAN NOT NULL DEFAULT false,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (processed_files + failed_files <= total_files)
);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id   TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	page_count INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id         TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	batch_id            TEXT NOT NULL,
	vendor_id           TEXT NOT NULL,
	method              TEXT NOT NULL,
	circuit_id          TEXT,
	bill_number         TEXT,
	relationship_number TEXT,
	bill_date           TEXT,
	data                JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_results (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	record_id       TEXT,
	rule_id         TEXT NOT NULL,
	field           TEXT NOT NULL,
	status          TEXT NOT NULL,
	message         TEXT NOT NULL,
	original_value  TEXT,
	suggested_value TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	document_id TEXT,
	record_id   TEXT,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}',
	read        BOOLEAN NOT NULL DEFAULT false,
	dismissed   BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS corrections (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	reason     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL UNIQUE,
	vendor_id  TEXT NOT NULL,
	fields     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_documents_batch_status ON documents(batch_id, status);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch_id);
CREATE INDEX IF NOT EXISTS idx_records_circuit_date ON records(circuit_id, bill_date DESC);
CREATE INDEX IF NOT EXISTS idx_records_bill_number ON records(bill_number);
CREATE INDEX IF NOT EXISTS idx_records_relationship ON records(relationship_number);
CREATE INDEX IF NOT EXISTS idx_validation_document ON validation_results(document_id);
CREATE INDEX IF NOT EXISTS idx_alerts_batch ON alerts(batch_id);
CREATE INDEX IF NOT EXISTS idx_corrections_record ON corrections(record_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s: begin", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: %s: commit", op)
}

// --- Batches ---

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.Batch, docs []model.Document) error {
	ts := now()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.TotalFiles = len(docs)
	b.Status = model.BatchPending
	b.CreatedAt, b.UpdatedAt = ts, ts

	return s.inTx(ctx, "create batch", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO batches (id, name, vendor_id, template_id, total_files, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, b.Name, b.VendorID, nullable(b.TemplateID), b.TotalFiles, string(b.Status), ts, ts,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return eris.Wrapf(ErrConflict, "postgres: batch name %q already exists", b.Name)
			}
			return eris.Wrap(err, "postgres: insert batch")
		}

		rows := make([][]any, len(docs))
		for i := range docs {
			d := &docs[i]
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			d.BatchID = b.ID
			d.Status = model.DocumentPending
			d.CreatedAt, d.UpdatedAt = ts, ts
			rows[i] = []any{d.ID, d.BatchID, d.Filename, d.FilePath, string(d.Status), 0, ts, ts}
		}
		_, err = db.CopyFrom(ctx, tx, "documents",
			[]string{"id", "batch_id", "filename", "file_path", "status", "page_count", "created_at", "updated_at"}, rows)
		return eris.Wrap(err, "postgres: insert documents")
	})
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatchPG(s.pool.QueryRow(ctx, pgGetBatch, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	return b, nil
}

func (s *PostgresStore) GetBatchByName(ctx context.Context, name string) (*model.Batch, error) {
	b, err := scanBatchPG(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE name = $1`, name))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch by name %q", name)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.VendorID != "" {
		query += fmt.Sprintf(` AND vendor_id = $%d`, argIdx)
		args = append(args, filter.VendorID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, defaultListLimit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatchPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list batches")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), nullable(errMsg), now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch status %s", id)
	}
	return checkTag(tag, "batch", id)
}

func (s *PostgresStore) IncrementBatchCounters(ctx context.Context, id string, processed, failed int) error {
	tag, err := s.pool.Exec(ctx, pgIncrement, processed, failed, now(), id, processed+failed)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment batch counters %s", id)
	}
	return checkTag(tag, "batch", id)
}

func (s *PostgresStore) SetBatchCancelled(ctx context.Context, id string, cancelled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET cancelled = $1, updated_at = $2 WHERE id = $3`,
		cancelled, now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set batch cancelled %s", id)
	}
	return checkTag(tag, "batch", id)
}

// --- Documents ---

func (s *PostgresStore) ListDocuments(ctx context.Context, batchID string, statuses ...model.DocumentStatus) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE batch_id = $1`
	args := []any{batchID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses), func(i int) string { return fmt.Sprintf("$%d", i+2) }) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY filename, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents %s", batchID)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		var status string
		var errMsg *string
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Filename, &d.FilePath, &status, &d.PageCount, &errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.Status = model.DocumentStatus(status)
		if errMsg != nil {
			d.Error = *errMsg
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) ClaimDocument(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgClaimDocument,
		string(model.DocumentProcessing), now(), id, string(model.DocumentPending))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim document %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteDocument(ctx context.Context, id string, pages int, rec *model.NormalizedRecord, results []model.ValidationResult) error {
	prepareRecord(rec, id)
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	circuit, bill, relationship, billDate := recordKeys(rec)

	return s.inTx(ctx, "complete document", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO records (id, document_id, batch_id, vendor_id, method, circuit_id, bill_number, relationship_number, bill_date, data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.ID, id, rec.BatchID, rec.VendorID, string(rec.Method), circuit, bill, relationship, billDate, data, rec.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert record for document %s", id)
		}
		if err := replaceResultsPG(ctx, tx, id, rec.ID, results); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET status = $1, page_count = $2, error = NULL, updated_at = $3 WHERE id = $4 AND status = $5`,
			string(model.DocumentCompleted), pages, now(), id, string(model.DocumentProcessing),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: complete document %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrConflict, "document %s is not in a state that allows this transition", id)
		}
		return nil
	})
}

func (s *PostgresStore) FailDocument(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx, pgFailDocument,
		string(model.DocumentFailed), errMsg, now(), id, string(model.DocumentPending), string(model.DocumentProcessing))
	if err != nil {
		return eris.Wrapf(err, "postgres: fail document %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "document %s is not in a state that allows this transition", id)
	}
	return nil
}

func (s *PostgresStore) ResetFailedDocuments(ctx context.Context, batchID string, ids []string) (int, error) {
	var n int64
	err := s.inTx(ctx, "reset failed documents", func(tx pgx.Tx) error {
		query := `UPDATE documents SET status = $1, error = NULL, updated_at = $2 WHERE batch_id = $3 AND status = $4`
		args := []any{string(model.DocumentPending), now(), batchID, string(model.DocumentFailed)}
		if len(ids) > 0 {
			query += ` AND id = ANY($5)`
			args = append(args, ids)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return eris.Wrapf(err, "postgres: reset failed documents %s", batchID)
		}
		n = tag.RowsAffected()

		tag, err = tx.Exec(ctx,
			`UPDATE batches SET failed_files = failed_files - $1, cancelled = false, error = NULL, updated_at = $2 WHERE id = $3`,
			n, now(), batchID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: reset batch counters %s", batchID)
		}
		return checkTag(tag, "batch", batchID)
	})
	return int(n), err
}

func (s *PostgresStore) ReclaimDocuments(ctx context.Context, batchID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE batch_id = $3 AND status = $4`,
		string(model.DocumentPending), now(), batchID, string(model.DocumentProcessing),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reclaim documents %s", batchID)
	}
	return int(tag.RowsAffected()), nil
}

// --- Records ---

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.NormalizedRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM records WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return decodeRecord(data)
}

func (s *PostgresStore) ListBatchRecords(ctx context.Context, batchID string) ([]model.RecordEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.filename, r.data FROM records r JOIN documents d ON d.id = r.document_id
		 WHERE r.batch_id = $1 ORDER BY d.filename, d.id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list batch records %s", batchID)
	}
	defer rows.Close()

	var out []model.RecordEntry
	for rows.Next() {
		var filename string
		var data []byte
		if err := rows.Scan(&filename, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch record")
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, model.RecordEntry{Filename: filename, Record: *rec})
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batch records iterate")
}

func (s *PostgresStore) RecentRecordsByCircuit(ctx context.Context, q HistoryQuery) ([]model.NormalizedRecord, error) {
	query := `SELECT data FROM records WHERE circuit_id = $1 AND document_id <> $2`
	args := []any{q.CircuitID, q.ExcludeDocumentID}
	argIdx := 3
	if q.OnOrBefore != "" {
		query += fmt.Sprintf(` AND bill_date IS NOT NULL AND bill_date <= $%d`, argIdx)
		args = append(args, q.OnOrBefore)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY bill_date IS NULL, bill_date DESC, created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(q.Limit, 6))
	return s.queryRecords(ctx, "recent records by circuit", query, args...)
}

func (s *PostgresStore) FindRecordsByBillOrRelationship(ctx context.Context, billNumber, relationshipNumber, excludeDocumentID string) ([]model.NormalizedRecord, error) {
	if billNumber == "" && relationshipNumber == "" {
		return nil, nil
	}
	return s.queryRecords(ctx, "find duplicate records",
		`SELECT data FROM records
		 WHERE document_id <> $1 AND (($2 <> '' AND bill_number = $2) OR ($3 <> '' AND relationship_number = $3))
		 ORDER BY created_at`,
		excludeDocumentID, billNumber, relationshipNumber,
	)
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.NormalizedRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

// --- Corrections ---

func (s *PostgresStore) AppendCorrection(ctx context.Context, c *model.Correction) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO corrections (id, record_id, field, old_value, new_value, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.RecordID, c.Field, c.OldValue, c.NewValue, nullable(c.Reason), c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append correction for record %s", c.RecordID)
}

func (s *PostgresStore) ListCorrections(ctx context.Context, recordID string) ([]model.Correction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, field, old_value, new_value, reason, created_at FROM corrections
		 WHERE record_id = $1 ORDER BY created_at, id`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list corrections %s", recordID)
	}
	defer rows.Close()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var oldV, newV, reason *string
		if err := rows.Scan(&c.ID, &c.RecordID, &c.Field, &oldV, &newV, &reason, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		c.OldValue, c.NewValue, c.Reason = deref(oldV), deref(newV), deref(reason)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

// --- Validation results ---

func (s *PostgresStore) ReplaceValidationResults(ctx context.Context, documentID string, results []model.ValidationResult) error {
	return s.inTx(ctx, "replace validation results", func(tx pgx.Tx) error {
		return replaceResultsPG(ctx, tx, documentID, "", results)
	})
}

func replaceResultsPG(ctx context.Context, tx pgx.Tx, documentID, recordID string, results []model.ValidationResult) error {
	if _, err := tx.Exec(ctx, `DELETE FROM validation_results WHERE document_id = $1`, documentID); err != nil {
		return eris.Wrapf(err, "postgres: clear validation results %s", documentID)
	}
	prepared := prepareResults(documentID, recordID, results)
	rows := make([][]any, len(prepared))
	for i, r := range prepared {
		rows[i] = []any{r.ID, r.DocumentID, nullable(r.RecordID), r.RuleID, r.Field, string(r.Status), r.Message,
			nullable(r.OriginalValue), nullable(r.SuggestedValue), r.CreatedAt}
	}
	_, err := db.CopyFrom(ctx, tx, "validation_results",
		[]string{"id", "document_id", "record_id", "rule_id", "field", "status", "message", "original_value", "suggested_value", "created_at"},
		rows)
	return eris.Wrapf(err, "postgres: insert validation results %s", documentID)
}

func (s *PostgresStore) ListValidationResults(ctx context.Context, batchID string) ([]model.ValidationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.id, v.document_id, v.record_id, v.rule_id, v.field, v.status, v.message, v.original_value, v.suggested_value, v.created_at
		 FROM validation_results v JOIN documents d ON d.id = v.document_id
		 WHERE d.batch_id = $1 ORDER BY d.filename, v.field, v.rule_id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list validation results %s", batchID)
	}
	defer rows.Close()

	var out []model.ValidationResult
	for rows.Next() {
		var r model.ValidationResult
		var status string
		var recordID, orig, sugg *string
		if err := rows.Scan(&r.ID, &r.DocumentID, &recordID, &r.RuleID, &r.Field, &status, &r.Message, &orig, &sugg, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation result")
		}
		r.Status = model.ValidationStatus(status)
		r.RecordID, r.OriginalValue, r.SuggestedValue = deref(recordID), deref(orig), deref(sugg)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list validation results iterate")
}

// --- Alerts ---

var alertColumns = []string{"id", "batch_id", "document_id", "record_id", "type", "severity", "message", "metadata", "read", "dismissed", "created_at"}

// ReplaceBatchAlerts swaps the batch's alerts inside one transaction, loading
// the new set with COPY. Read and dismissed flags carry over to the new alert
// of the same document and type.
func (s *PostgresStore) ReplaceBatchAlerts(ctx context.Context, batchID string, alerts []model.Alert) error {
	alerts = prepareAlerts(batchID, alerts)

	return s.inTx(ctx, "replace batch alerts", func(tx pgx.Tx) error {
		prior, err := alertFlagsPG(ctx, tx, batchID)
		if err != nil {
			return err
		}
		carryAlertFlags(alerts, prior)

		rows := make([][]any, len(alerts))
		for i, a := range alerts {
			meta, err := encodeMetadata(a.Metadata)
			if err != nil {
				return err
			}
			rows[i] = []any{a.ID, a.BatchID, nullable(a.DocumentID), nullable(a.RecordID), string(a.Type),
				string(a.Severity), a.Message, meta, a.Read, a.Dismissed, a.CreatedAt}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE batch_id = $1`, batchID); err != nil {
			return eris.Wrapf(err, "postgres: clear alerts %s", batchID)
		}
		_, err = db.CopyFrom(ctx, tx, "alerts", alertColumns, rows)
		return eris.Wrapf(err, "postgres: insert alerts %s", batchID)
	})
}

func alertFlagsPG(ctx context.Context, tx pgx.Tx, batchID string) (map[alertKey]alertFlags, error) {
	rows, err := tx.Query(ctx,
		`SELECT COALESCE(document_id, ''), type, read, dismissed FROM alerts
		 WHERE batch_id = $1 AND (read OR dismissed) FOR UPDATE`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load alert flags %s", batchID)
	}
	defer rows.Close()

	out := make(map[alertKey]alertFlags)
	for rows.Next() {
		var (
			doc, typ string
			f        alertFlags
		)
		if err := rows.Scan(&doc, &typ, &f.read, &f.dismissed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert flags")
		}
		out[alertKey{doc, model.AlertType(typ)}] = f
	}
	return out, eris.Wrap(rows.Err(), "postgres: alert flags iterate")
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, batch_id, document_id, record_id, type, severity, message, metadata, read, dismissed, created_at
		FROM alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.BatchID != "" {
		query += fmt.Sprintf(` AND batch_id = $%d`, argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}
	if len(filter.Severities) > 0 {
		query += fmt.Sprintf(` AND severity = ANY($%d)`, argIdx)
		args = append(args, severityStrings(filter.Severities))
		argIdx++
	}
	if filter.UnreadOnly {
		query += ` AND NOT read`
	}
	if !filter.IncludeDismissed {
		query += ` AND NOT dismissed`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, 1000))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ, severity string
		var docID, recID *string
		var meta []byte
		if err := rows.Scan(&a.ID, &a.BatchID, &docID, &recID, &typ, &severity, &a.Message, &meta, &a.Read, &a.Dismissed, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Type, a.Severity = model.AlertType(typ), model.Severity(severity)
		a.DocumentID, a.RecordID = deref(docID), deref(recID)
		if a.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

func (s *PostgresStore) MarkAlertRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET read = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark alert read %s", id)
	}
	return checkTag(tag, "alert", id)
}

func (s *PostgresStore) DismissAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET dismissed = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: dismiss alert %s", id)
	}
	return checkTag(tag, "alert", id)
}

// --- Templates ---

func (s *PostgresStore) SaveTemplate(ctx context.Context, t *model.Template) error {
	prepareTemplate(t)
	fields, err := encodeFields(t.Fields)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, name, vendor_id, fields, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE SET vendor_id = EXCLUDED.vendor_id, fields = EXCLUDED.fields
		 RETURNING id, created_at`,
		t.ID, t.Name, t.VendorID, fields, t.CreatedAt,
	).Scan(&t.ID, &t.CreatedAt)
	return eris.Wrapf(err, "postgres: save template %q", t.Name)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, idOrName string) (*model.Template, error) {
	t, err := scanTemplatePG(s.pool.QueryRow(ctx,
		`SELECT id, name, vendor_id, fields, created_at FROM templates WHERE id = $1 OR name = $1 LIMIT 1`,
		idOrName,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %q", idOrName)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, vendor_id, fields, created_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplatePG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list templates")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanBatchPG(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	var status string
	var templateID, errMsg *string
	err := row.Scan(&b.ID, &b.Name, &b.VendorID, &templateID, &b.TotalFiles, &b.ProcessedFiles, &b.FailedFiles,
		&status, &b.Cancelled, &errMsg, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan batch")
	}
	b.Status = model.BatchStatus(status)
	b.TemplateID, b.Error = deref(templateID), deref(errMsg)
	return &b, nil
}

func scanTemplatePG(row pgx.Row) (*model.Template, error) {
	var t model.Template
	var fields []byte
	err := row.Scan(&t.ID, &t.Name, &t.VendorID, &fields, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan template")
	}
	if t.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &t, nil
}
