package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// AttemptRepository is the append-only field extraction audit log. Rows are
// inserted and read, never updated or deleted individually; corrections are
// new rows.
type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Append(ctx context.Context, attempt *domain.FieldExtractionAttempt) error {
	patterns := attempt.PatternsTried
	if patterns == nil {
		patterns = []string{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}

	var correctedAt sql.NullTime
	if attempt.CorrectedAt != nil {
		correctedAt = sql.NullTime{Time: *attempt.CorrectedAt, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, `
INSERT INTO field_extraction_attempts (
	document_id, field_name, extraction_method, patterns_tried, extracted_value,
	confidence_score, extraction_status, corrected_value, corrected_by, corrected_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id
`,
		attempt.DocumentID, attempt.FieldName, attempt.ExtractionMethod, patternsJSON,
		attempt.ExtractedValue, attempt.ConfidenceScore, string(attempt.Status),
		attempt.CorrectedValue, attempt.CorrectedBy, correctedAt, attempt.CreatedAt,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("insert extraction attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) ListByDocument(ctx context.Context, documentID int64) ([]domain.FieldExtractionAttempt, error) {
	return r.query(ctx, `
SELECT id, document_id, field_name, extraction_method, patterns_tried, extracted_value,
	confidence_score, extraction_status, corrected_value, corrected_by, corrected_at, created_at
FROM field_extraction_attempts
WHERE document_id = $1
ORDER BY id
`, documentID)
}

func (r *AttemptRepository) ListByField(ctx context.Context, documentID int64, fieldName string) ([]domain.FieldExtractionAttempt, error) {
	return r.query(ctx, `
SELECT id, document_id, field_name, extraction_method, patterns_tried, extracted_value,
	confidence_score, extraction_status, corrected_value, corrected_by, corrected_at, created_at
FROM field_extraction_attempts
WHERE document_id = $1 AND field_name = $2
ORDER BY id
`, documentID, fieldName)
}

func (r *AttemptRepository) query(ctx context.Context, query string, args ...any) ([]domain.FieldExtractionAttempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query extraction attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.FieldExtractionAttempt
	for rows.Next() {
		var a domain.FieldExtractionAttempt
		var patternsRaw []byte
		var status string
		var correctedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.FieldName, &a.ExtractionMethod, &patternsRaw,
			&a.ExtractedValue, &a.ConfidenceScore, &status, &a.CorrectedValue, &a.CorrectedBy,
			&correctedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extraction attempt: %w", err)
		}
		if err := json.Unmarshal(patternsRaw, &a.PatternsTried); err != nil {
			return nil, fmt.Errorf("unmarshal patterns: %w", err)
		}
		a.Status = domain.AttemptStatus(status)
		if correctedAt.Valid {
			t := correctedAt.Time
			a.CorrectedAt = &t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
