package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pkaminski/docledger/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	hash_algorithm TEXT NOT NULL DEFAULT 'sha256',
	status TEXT NOT NULL,
	vendor_name TEXT NOT NULL DEFAULT '',
	invoice_number TEXT NOT NULL DEFAULT '',
	invoice_date DATE,
	total_amount DOUBLE PRECISION,
	currency TEXT NOT NULL DEFAULT '',
	overall_confidence_score DOUBLE PRECISION,
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	requires_manual_review BOOLEAN NOT NULL DEFAULT FALSE,
	is_manually_verified BOOLEAN NOT NULL DEFAULT FALSE,
	verified_by TEXT NOT NULL DEFAULT '',
	verified_at TIMESTAMPTZ,
	processing_error TEXT NOT NULL DEFAULT '',
	revision BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

-- Exactly one canonical (non-duplicate) document per content hash. The
-- conflict closes the resolve/insert race between concurrent uploads.
CREATE UNIQUE INDEX IF NOT EXISTS uq_documents_canonical_hash
	ON documents(content_hash) WHERE status <> 'duplicate';

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_review
	ON documents(requires_manual_review) WHERE requires_manual_review;
CREATE INDEX IF NOT EXISTS idx_documents_name_size
	ON documents(original_filename, file_size);

CREATE TABLE IF NOT EXISTS line_items (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	line_number INT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	line_total DOUBLE PRECISION NOT NULL DEFAULT 0,
	tax_amount DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_line_items_document
	ON line_items(document_id, line_number);

CREATE TABLE IF NOT EXISTS field_extraction_attempts (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field_name TEXT NOT NULL,
	extraction_method TEXT NOT NULL DEFAULT '',
	patterns_tried JSONB NOT NULL DEFAULT '[]'::jsonb,
	extracted_value TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_status TEXT NOT NULL,
	corrected_value TEXT NOT NULL DEFAULT '',
	corrected_by TEXT NOT NULL DEFAULT '',
	corrected_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_document_field
	ON field_extraction_attempts(document_id, field_name, id);

CREATE TABLE IF NOT EXISTS vendors (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	document_count BIGINT NOT NULL DEFAULT 0,
	total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_invoice_date DATE,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_stats (
	id BIGSERIAL PRIMARY KEY,
	stat_date DATE NOT NULL UNIQUE,
	documents_processed BIGINT NOT NULL DEFAULT 0,
	completed_count BIGINT NOT NULL DEFAULT 0,
	failed_count BIGINT NOT NULL DEFAULT 0,
	review_flagged_count BIGINT NOT NULL DEFAULT 0,
	confidence_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence_sample_count BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

-- Applied-event ledger: one row per delivered (document, revision) pair
-- makes aggregate updates replay-safe.
CREATE TABLE IF NOT EXISTS aggregate_events (
	document_id BIGINT NOT NULL,
	revision BIGINT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, revision)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, original_filename, file_path, file_size, mime_type, content_hash, hash_algorithm,
status, vendor_name, invoice_number, invoice_date, total_amount, currency,
overall_confidence_score, extraction_status, requires_manual_review,
is_manually_verified, verified_by, verified_at, processing_error, revision, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status, extractionStatus string
	var invoiceDate, verifiedAt sql.NullTime
	var totalAmount, confidence sql.NullFloat64

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.FilePath, &doc.FileSize, &doc.MimeType,
		&doc.ContentHash, &doc.HashAlgorithm, &status, &doc.VendorName, &doc.InvoiceNumber,
		&invoiceDate, &totalAmount, &doc.Currency, &confidence, &extractionStatus,
		&doc.RequiresManualReview, &doc.IsManuallyVerified, &doc.VerifiedBy, &verifiedAt,
		&doc.ProcessingError, &doc.Revision, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = domain.DocumentStatus(status)
	doc.ExtractionStatus = domain.ExtractionStatus(extractionStatus)
	if invoiceDate.Valid {
		d := invoiceDate.Time
		doc.InvoiceDate = &d
	}
	if totalAmount.Valid {
		a := totalAmount.Float64
		doc.TotalAmount = &a
	}
	if confidence.Valid {
		c := confidence.Float64
		doc.OverallConfidence = &c
	}
	if verifiedAt.Valid {
		v := verifiedAt.Time
		doc.VerifiedAt = &v
	}
	return &doc, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO documents (
	filename, original_filename, file_path, file_size, mime_type, content_hash, hash_algorithm,
	status, extraction_status, processing_error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id
`,
		doc.Filename, doc.OriginalFilename, doc.FilePath, doc.FileSize, doc.MimeType,
		doc.ContentHash, doc.HashAlgorithm, string(doc.Status), string(doc.ExtractionStatus),
		doc.ProcessingError, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_documents_canonical_hash" {
			return 0, domain.WrapError(domain.ErrDuplicateContent, "insert document", err)
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %d", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	items, err := r.lineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.LineItems = items
	return doc, nil
}

// Transition applies the optimistic status change: the write only lands if
// the stored status still equals from. Completion additionally requires a
// recorded overall confidence.
func (r *DocumentRepository) Transition(ctx context.Context, id int64, from, to domain.DocumentStatus, processingError string) error {
	if !domain.CanTransition(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("%s -> %s is not permitted", from, to))
	}

	query := `
UPDATE documents
SET status = $3, processing_error = $4, updated_at = $5
WHERE id = $1 AND status = $2
`
	if to == domain.StatusCompleted {
		query += ` AND overall_confidence_score IS NOT NULL`
	}

	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), processingError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	return r.explainLostTransition(ctx, id, from, to)
}

func (r *DocumentRepository) explainLostTransition(ctx context.Context, id int64, from, to domain.DocumentStatus) error {
	var status string
	var confidence sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT status, overall_confidence_score FROM documents WHERE id = $1`, id,
	).Scan(&status, &confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "transition", fmt.Errorf("id %d", id))
	}
	if err != nil {
		return fmt.Errorf("read status after lost transition: %w", err)
	}
	if domain.DocumentStatus(status) != from {
		return domain.WrapError(domain.ErrConcurrentModification, "transition",
			fmt.Errorf("document %d moved to %s since read", id, status))
	}
	// Status still matches, so the guard that blocked the write was the
	// confidence requirement on completion.
	if to == domain.StatusCompleted && !confidence.Valid {
		return domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("document %d has no overall confidence", id))
	}
	return domain.WrapError(domain.ErrConcurrentModification, "transition",
		fmt.Errorf("document %d changed since read", id))
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, id int64, update domain.Document) (int64, error) {
	var invoiceDate sql.NullTime
	if update.InvoiceDate != nil {
		invoiceDate = sql.NullTime{Time: *update.InvoiceDate, Valid: true}
	}
	var totalAmount, confidence sql.NullFloat64
	if update.TotalAmount != nil {
		totalAmount = sql.NullFloat64{Float64: *update.TotalAmount, Valid: true}
	}
	if update.OverallConfidence != nil {
		confidence = sql.NullFloat64{Float64: *update.OverallConfidence, Valid: true}
	}

	var revision int64
	err := r.db.QueryRowContext(ctx, `
UPDATE documents
SET vendor_name = $2, invoice_number = $3, invoice_date = $4, total_amount = $5, currency = $6,
	overall_confidence_score = $7, extraction_status = $8, requires_manual_review = $9,
	revision = revision + 1, updated_at = $10
WHERE id = $1
RETURNING revision
`,
		id, update.VendorName, update.InvoiceNumber, invoiceDate, totalAmount, update.Currency,
		confidence, string(update.ExtractionStatus), update.RequiresManualReview, time.Now().UTC(),
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "save extraction", fmt.Errorf("id %d", id))
	}
	if err != nil {
		return 0, fmt.Errorf("save extraction: %w", err)
	}
	return revision, nil
}

func (r *DocumentRepository) MarkVerified(ctx context.Context, id int64, user string, needsReview bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET is_manually_verified = TRUE, verified_by = $2, verified_at = $3,
	requires_manual_review = $4, updated_at = $3
WHERE id = $1
`, id, user, at, needsReview)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "mark verified", fmt.Errorf("id %d", id))
	}
	return nil
}

func (r *DocumentRepository) BumpRevision(ctx context.Context, id int64) (int64, error) {
	var revision int64
	err := r.db.QueryRowContext(ctx, `
UPDATE documents SET revision = revision + 1, updated_at = $2 WHERE id = $1 RETURNING revision
`, id, time.Now().UTC()).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "bump revision", fmt.Errorf("id %d", id))
	}
	if err != nil {
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	return revision, nil
}

func (r *DocumentRepository) ReplaceLineItems(ctx context.Context, id int64, items []domain.LineItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin line items tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("clear line items: %w", err)
	}
	for _, item := range items {
		var tax sql.NullFloat64
		if item.TaxAmount != nil {
			tax = sql.NullFloat64{Float64: *item.TaxAmount, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO line_items (document_id, line_number, description, quantity, unit_price, line_total, tax_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, id, item.LineNumber, item.Description, item.Quantity, item.UnitPrice, item.LineTotal, tax); err != nil {
			return fmt.Errorf("insert line item %d: %w", item.LineNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit line items tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) lineItems(ctx context.Context, id int64) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, line_number, description, quantity, unit_price, line_total, tax_amount
FROM line_items
WHERE document_id = $1
ORDER BY line_number
`, id)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		var tax sql.NullFloat64
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.LineNumber, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &tax); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		if tax.Valid {
			t := tax.Float64
			item.TaxAmount = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List builds the filtered listing dynamically; squirrel keeps the
// placeholder bookkeeping out of the way.
func (r *DocumentRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Document, error) {
	builder := sq.Select(documentColumns).
		From("documents").
		OrderBy("id DESC").
		PlaceholderFormat(sq.Dollar)

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.NeedsReview != nil {
		builder = builder.Where(sq.Eq{"requires_manual_review": *filter.NeedsReview})
	}
	if filter.VendorName != "" {
		builder = builder.Where(sq.Eq{"vendor_name": filter.VendorName})
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	builder = builder.Limit(uint64(limit))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	return r.queryDocuments(ctx, query, args...)
}

func (r *DocumentRepository) ListNeedingReview(ctx context.Context) ([]domain.Document, error) {
	return r.queryDocuments(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE (requires_manual_review AND NOT is_manually_verified) OR status = 'failed'
ORDER BY id
`)
}

func (r *DocumentRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) FailStuckProcessing(ctx context.Context, cutoff time.Time, reason string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
UPDATE documents
SET status = 'failed', processing_error = $2, updated_at = $3
WHERE status = 'processing' AND updated_at < $1
RETURNING id
`, cutoff, reason, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("fail stuck documents: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DocumentRepository) StatusCounts(ctx context.Context) (map[domain.DocumentStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DocumentStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.DocumentStatus(status)] = n
	}
	return counts, rows.Err()
}

// FindCanonicalByHash returns the earliest non-duplicate document for the
// hash, or nil when none exists.
func (r *DocumentRepository) FindCanonicalByHash(ctx context.Context, hash string) (*domain.Document, error) {
	return r.findOne(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE content_hash = $1 AND status <> 'duplicate'
ORDER BY id
LIMIT 1
`, hash)
}

func (r *DocumentRepository) FindByNameAndSize(ctx context.Context, originalFilename string, size int64) (*domain.Document, error) {
	return r.findOne(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE original_filename = $1 AND file_size = $2
ORDER BY id
LIMIT 1
`, originalFilename, size)
}

func (r *DocumentRepository) FindByName(ctx context.Context, originalFilename string) (*domain.Document, error) {
	return r.findOne(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE original_filename = $1
ORDER BY id
LIMIT 1
`, originalFilename)
}

func (r *DocumentRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}
