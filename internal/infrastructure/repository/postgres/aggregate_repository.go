package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// AggregateRepository applies finalization events to the vendor and daily
// stats roll-ups. Each event is recorded in aggregate_events inside the same
// transaction as the deltas, so a re-delivered (document, revision) pair is
// a no-op rather than a double count.
type AggregateRepository struct {
	db *sql.DB
}

func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

func (r *AggregateRepository) ApplyFinalization(ctx context.Context, event domain.FinalizationEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin aggregate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
INSERT INTO aggregate_events (document_id, revision, applied_at)
VALUES ($1, $2, $3)
ON CONFLICT (document_id, revision) DO NOTHING
`, event.DocumentID, event.Revision, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record aggregate event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Already applied under this revision.
		return false, tx.Commit()
	}

	if err := r.applyVendor(ctx, tx, event); err != nil {
		return false, err
	}
	if err := r.applyDayStats(ctx, tx, event); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit aggregate tx: %w", err)
	}
	return true, nil
}

func (r *AggregateRepository) applyVendor(ctx context.Context, tx *sql.Tx, event domain.FinalizationEvent) error {
	name := strings.TrimSpace(event.VendorName)
	if event.Outcome != domain.OutcomeCompleted || name == "" {
		return nil
	}

	amount := 0.0
	if event.TotalAmount != nil {
		amount = *event.TotalAmount
	}
	var invoiceDate sql.NullTime
	if event.InvoiceDate != nil {
		invoiceDate = sql.NullTime{Time: *event.InvoiceDate, Valid: true}
	}

	// The row lock taken by the upsert serializes concurrent writers on the
	// same vendor; last_invoice_date only moves forward.
	_, err := tx.ExecContext(ctx, `
INSERT INTO vendors (name, normalized_name, document_count, total_amount, last_invoice_date, updated_at)
VALUES ($1, $2, 1, $3, $4, $5)
ON CONFLICT (normalized_name) DO UPDATE SET
	name = EXCLUDED.name,
	document_count = vendors.document_count + 1,
	total_amount = vendors.total_amount + EXCLUDED.total_amount,
	last_invoice_date = GREATEST(COALESCE(vendors.last_invoice_date, EXCLUDED.last_invoice_date), EXCLUDED.last_invoice_date),
	updated_at = EXCLUDED.updated_at
`, name, domain.NormalizeVendorName(name), amount, invoiceDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert vendor: %w", err)
	}
	return nil
}

func (r *AggregateRepository) applyDayStats(ctx context.Context, tx *sql.Tx, event domain.FinalizationEvent) error {
	day := event.OccurredAt.UTC().Truncate(24 * time.Hour)

	completed, failed := 0, 0
	switch event.Outcome {
	case domain.OutcomeCompleted:
		completed = 1
	case domain.OutcomeFailed:
		failed = 1
	}
	review := 0
	if event.NeedsReview {
		review = 1
	}
	confidence, samples := 0.0, 0
	if event.Confidence != nil {
		confidence, samples = *event.Confidence, 1
	}

	_, err := tx.ExecContext(ctx, `
INSERT INTO processing_stats (
	stat_date, documents_processed, completed_count, failed_count,
	review_flagged_count, confidence_sum, confidence_sample_count, updated_at
) VALUES ($1, 1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (stat_date) DO UPDATE SET
	documents_processed = processing_stats.documents_processed + 1,
	completed_count = processing_stats.completed_count + EXCLUDED.completed_count,
	failed_count = processing_stats.failed_count + EXCLUDED.failed_count,
	review_flagged_count = processing_stats.review_flagged_count + EXCLUDED.review_flagged_count,
	confidence_sum = processing_stats.confidence_sum + EXCLUDED.confidence_sum,
	confidence_sample_count = processing_stats.confidence_sample_count + EXCLUDED.confidence_sample_count,
	updated_at = EXCLUDED.updated_at
`, day, completed, failed, review, confidence, samples, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert day stats: %w", err)
	}
	return nil
}

func (r *AggregateRepository) GetVendor(ctx context.Context, normalizedName string) (*domain.Vendor, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, normalized_name, document_count, total_amount, last_invoice_date, updated_at
FROM vendors
WHERE normalized_name = $1
`, normalizedName)

	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan vendor: %w", err)
	}
	return vendor, nil
}

func (r *AggregateRepository) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, normalized_name, document_count, total_amount, last_invoice_date, updated_at
FROM vendors
ORDER BY total_amount DESC
`)
	if err != nil {
		return nil, fmt.Errorf("query vendors: %w", err)
	}
	defer rows.Close()

	var vendors []domain.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, *vendor)
	}
	return vendors, rows.Err()
}

func scanVendor(row rowScanner) (*domain.Vendor, error) {
	var v domain.Vendor
	var lastInvoice sql.NullTime
	if err := row.Scan(&v.ID, &v.Name, &v.NormalizedName, &v.DocumentCount,
		&v.TotalAmount, &lastInvoice, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if lastInvoice.Valid {
		t := lastInvoice.Time
		v.LastInvoiceDate = &t
	}
	return &v, nil
}

func (r *AggregateRepository) GetDayStats(ctx context.Context, day time.Time) (*domain.ProcessingStats, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, stat_date, documents_processed, completed_count, failed_count,
	review_flagged_count, confidence_sum, confidence_sample_count, updated_at
FROM processing_stats
WHERE stat_date = $1
`, day.UTC().Truncate(24*time.Hour))

	stats, err := scanDayStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan day stats: %w", err)
	}
	return stats, nil
}

func (r *AggregateRepository) ListDayStats(ctx context.Context, from, to time.Time) ([]domain.ProcessingStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, stat_date, documents_processed, completed_count, failed_count,
	review_flagged_count, confidence_sum, confidence_sample_count, updated_at
FROM processing_stats
WHERE stat_date BETWEEN $1 AND $2
ORDER BY stat_date
`, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query day stats: %w", err)
	}
	defer rows.Close()

	var all []domain.ProcessingStats
	for rows.Next() {
		stats, err := scanDayStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan day stats: %w", err)
		}
		all = append(all, *stats)
	}
	return all, rows.Err()
}

func scanDayStats(row rowScanner) (*domain.ProcessingStats, error) {
	var s domain.ProcessingStats
	if err := row.Scan(&s.ID, &s.StatDate, &s.DocumentsProcessed, &s.CompletedCount,
		&s.FailedCount, &s.ReviewFlaggedCount, &s.ConfidenceSum, &s.ConfidenceSampleCnt,
		&s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
