package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// ExtractionConfig carries the review/validation policy knobs.
type ExtractionConfig struct {
	ReviewThreshold   float64
	LineItemTolerance float64
}

// ExtractionUseCase owns the extraction trail and the document's transition
// into its terminal state: SubmitExtraction completes a processing document,
// CorrectField appends manual attempts, Finalize re-delivers the aggregation
// event after corrections.
type ExtractionUseCase struct {
	cfg        ExtractionConfig
	repo       ports.DocumentRepository
	ledger     ports.AttemptLedger
	aggregator *AggregationEngine
}

func NewExtractionUseCase(
	cfg ExtractionConfig,
	repo ports.DocumentRepository,
	ledger ports.AttemptLedger,
	aggregator *AggregationEngine,
) *ExtractionUseCase {
	return &ExtractionUseCase{
		cfg:        cfg,
		repo:       repo,
		ledger:     ledger,
		aggregator: aggregator,
	}
}

// SubmitExtraction records field candidates, derives the document's overall
// confidence and review flag, materializes the current field values and
// completes the document. The audit rows are appended before the document
// row changes, so a crash mid-way leaves a re-runnable processing document
// with a complete trail.
func (uc *ExtractionUseCase) SubmitExtraction(
	ctx context.Context,
	documentID int64,
	fields []domain.FieldResult,
	lineItems []domain.LineItem,
) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.Status != domain.StatusProcessing {
		return domain.WrapError(domain.ErrInvalidTransition, "submit extraction",
			fmt.Errorf("document %d is %s, want %s", documentID, doc.Status, domain.StatusProcessing))
	}

	now := time.Now().UTC()
	for _, field := range fields {
		attempt := &domain.FieldExtractionAttempt{
			DocumentID:       documentID,
			FieldName:        field.FieldName,
			ExtractionMethod: field.ExtractionMethod,
			PatternsTried:    field.PatternsTried,
			ExtractedValue:   field.Value,
			ConfidenceScore:  field.Confidence,
			Status:           field.Status,
			CreatedAt:        now,
		}
		if err := uc.ledger.Append(ctx, attempt); err != nil {
			return fmt.Errorf("append attempt for %s: %w", field.FieldName, err)
		}
	}

	validationFailed := uc.recordLineItems(ctx, documentID, lineItems, now)

	attempts, err := uc.ledger.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	overall := domain.OverallConfidence(attempts)
	summary := domain.Summarize(attempts)
	needsReview := domain.ShouldReview(overall, summary, doc.IsManuallyVerified, uc.cfg.ReviewThreshold) || validationFailed

	update := *doc
	uc.materialize(&update, attempts)
	update.OverallConfidence = &overall
	update.RequiresManualReview = needsReview
	update.ExtractionStatus = domain.ExtractionOutcome(summary, needsReview)

	revision, err := uc.repo.SaveExtraction(ctx, documentID, update)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	update.Revision = revision

	if len(lineItems) > 0 {
		if err := uc.repo.ReplaceLineItems(ctx, documentID, lineItems); err != nil {
			return fmt.Errorf("store line items: %w", err)
		}
	}

	if err := uc.repo.Transition(ctx, documentID, domain.StatusProcessing, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	update.Status = domain.StatusCompleted

	if err := uc.aggregator.OnDocumentFinalized(ctx, &update, domain.OutcomeCompleted); err != nil {
		return fmt.Errorf("aggregate finalization: %w", err)
	}
	return nil
}

// CorrectField appends a manual attempt and re-evaluates the review flag.
// Allowed from any non-duplicate state. Vendor aggregates pick the corrected
// values up only on the next Finalize.
func (uc *ExtractionUseCase) CorrectField(ctx context.Context, documentID int64, fieldName, value, user string) error {
	if strings.TrimSpace(fieldName) == "" || strings.TrimSpace(user) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "correct field",
			fmt.Errorf("field name and user are required"))
	}

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.Status == domain.StatusDuplicate {
		return domain.WrapError(domain.ErrInvalidTransition, "correct field",
			fmt.Errorf("document %d is a duplicate", documentID))
	}

	now := time.Now().UTC()
	attempt := &domain.FieldExtractionAttempt{
		DocumentID:       documentID,
		FieldName:        fieldName,
		ExtractionMethod: "manual",
		Status:           domain.AttemptManual,
		ConfidenceScore:  1.0,
		CorrectedValue:   value,
		CorrectedBy:      user,
		CorrectedAt:      &now,
		CreatedAt:        now,
	}
	if err := uc.ledger.Append(ctx, attempt); err != nil {
		return fmt.Errorf("append manual attempt: %w", err)
	}

	attempts, err := uc.ledger.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	overall := domain.OverallConfidence(attempts)
	summary := domain.Summarize(attempts)
	needsReview := domain.ShouldReview(overall, summary, true, uc.cfg.ReviewThreshold)

	update := *doc
	uc.materialize(&update, attempts)
	update.OverallConfidence = &overall
	update.RequiresManualReview = needsReview
	update.ExtractionStatus = domain.ExtractionOutcome(summary, needsReview)

	if _, err := uc.repo.SaveExtraction(ctx, documentID, update); err != nil {
		return fmt.Errorf("save corrected values: %w", err)
	}
	if err := uc.repo.MarkVerified(ctx, documentID, user, needsReview, now); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// Finalize re-delivers the aggregation event for a completed document under
// a fresh revision, so corrections reach the vendor roll-ups.
func (uc *ExtractionUseCase) Finalize(ctx context.Context, documentID int64) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.Status != domain.StatusCompleted {
		return domain.WrapError(domain.ErrInvalidTransition, "finalize",
			fmt.Errorf("document %d is %s, want %s", documentID, doc.Status, domain.StatusCompleted))
	}

	revision, err := uc.repo.BumpRevision(ctx, documentID)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	doc.Revision = revision

	if err := uc.aggregator.OnDocumentFinalized(ctx, doc, domain.OutcomeCompleted); err != nil {
		return fmt.Errorf("aggregate finalization: %w", err)
	}
	return nil
}

func (uc *ExtractionUseCase) ListNeedingReview(ctx context.Context) ([]domain.Document, error) {
	docs, err := uc.repo.ListNeedingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("list needing review: %w", err)
	}
	return docs, nil
}

// recordLineItems validates arithmetic and records mismatches as partial
// attempt rows. Validation problems are non-fatal; they force review.
func (uc *ExtractionUseCase) recordLineItems(ctx context.Context, documentID int64, items []domain.LineItem, now time.Time) bool {
	failed := false
	for _, item := range items {
		err := item.ValidateArithmetic(uc.cfg.LineItemTolerance)
		if err == nil {
			continue
		}
		failed = true
		attempt := &domain.FieldExtractionAttempt{
			DocumentID:       documentID,
			FieldName:        "line_items",
			ExtractionMethod: "validation",
			ExtractedValue:   err.Error(),
			Status:           domain.AttemptPartial,
			CreatedAt:        now,
		}
		// Best effort: the mismatch itself already forces review.
		_ = uc.ledger.Append(ctx, attempt)
	}
	return failed
}

// materialize copies each field's current resolved value onto the document.
func (uc *ExtractionUseCase) materialize(doc *domain.Document, attempts []domain.FieldExtractionAttempt) {
	byField := make(map[string][]domain.FieldExtractionAttempt)
	for _, a := range attempts {
		byField[a.FieldName] = append(byField[a.FieldName], a)
	}

	if v, ok := currentUsable(byField[domain.FieldVendorName]); ok {
		doc.VendorName = v
	}
	if v, ok := currentUsable(byField[domain.FieldInvoiceNumber]); ok {
		doc.InvoiceNumber = v
	}
	if v, ok := currentUsable(byField[domain.FieldCurrency]); ok {
		doc.Currency = v
	}
	if v, ok := currentUsable(byField[domain.FieldInvoiceDate]); ok {
		if parsed, err := parseInvoiceDate(v); err == nil {
			doc.InvoiceDate = &parsed
		}
	}
	if v, ok := currentUsable(byField[domain.FieldTotalAmount]); ok {
		if amount, err := parseAmount(v); err == nil {
			doc.TotalAmount = &amount
		}
	}
}

func currentUsable(attempts []domain.FieldExtractionAttempt) (string, bool) {
	current, ok := domain.ResolveCurrent(attempts)
	if !ok || current.Status == domain.AttemptFailed {
		return "", false
	}
	value := current.Value()
	if strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

var invoiceDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseInvoiceDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range invoiceDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}

func parseAmount(value string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		case r == ',':
			return -1
		default:
			return -1
		}
	}, strings.TrimSpace(value))
	if cleaned == "" {
		return 0, fmt.Errorf("no numeric content in %q", value)
	}
	return strconv.ParseFloat(cleaned, 64)
}
