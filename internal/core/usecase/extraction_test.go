package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
)

func seedProcessingDocument(t *testing.T, store *memStore) int64 {
	t.Helper()
	id, err := store.Create(context.Background(), &domain.Document{
		OriginalFilename: "invoice.pdf",
		ContentHash:      "hash-" + t.Name(),
		Status:           domain.StatusPending,
		ExtractionStatus: domain.ExtractionPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	if err := store.Transition(context.Background(), id, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		t.Fatalf("claim document: %v", err)
	}
	return id
}

func goodFieldResults() []domain.FieldResult {
	return []domain.FieldResult{
		{FieldName: domain.FieldVendorName, Value: "ACME Pty Ltd", Confidence: 0.9, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
		{FieldName: domain.FieldInvoiceNumber, Value: "INV-2026-001", Confidence: 0.95, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
		{FieldName: domain.FieldInvoiceDate, Value: "2026-03-01", Confidence: 0.9, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
		{FieldName: domain.FieldTotalAmount, Value: "199.99", Confidence: 0.92, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
		{FieldName: domain.FieldCurrency, Value: "USD", Confidence: 0.85, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
		{FieldName: domain.FieldTaxAmount, Value: "20.00", Confidence: 0.8, Status: domain.AttemptExtracted, ExtractionMethod: "regex"},
	}
}

func TestSubmitExtractionCompletesDocument(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	aggregates := newMemAggregates()
	uc := newTestExtraction(store, ledger, aggregates)
	id := seedProcessingDocument(t, store)

	if err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}

	doc, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
	if doc.OverallConfidence == nil || *doc.OverallConfidence < 0.8 {
		t.Fatalf("expected high overall confidence, got %v", doc.OverallConfidence)
	}
	if doc.RequiresManualReview {
		t.Fatalf("clean extraction should not need review")
	}
	if doc.VendorName != "ACME Pty Ltd" || doc.InvoiceNumber != "INV-2026-001" {
		t.Fatalf("expected materialized fields, got %+v", doc)
	}
	if doc.TotalAmount == nil || *doc.TotalAmount != 199.99 {
		t.Fatalf("expected total 199.99, got %v", doc.TotalAmount)
	}

	vendor, _ := aggregates.GetVendor(context.Background(), "acme pty ltd")
	if vendor == nil || vendor.DocumentCount != 1 {
		t.Fatalf("expected one aggregated vendor document, got %+v", vendor)
	}

	attempts, _ := ledger.ListByDocument(context.Background(), id)
	if len(attempts) != 6 {
		t.Fatalf("expected 6 audit rows, got %d", len(attempts))
	}
}

func TestSubmitExtractionRejectsNonProcessingDocument(t *testing.T) {
	store := newMemStore()
	uc := newTestExtraction(store, newMemLedger(), newMemAggregates())

	id, _ := store.Create(context.Background(), &domain.Document{
		ContentHash: "h1",
		Status:      domain.StatusPending,
	})

	err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), nil)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending document, got %v", err)
	}
}

func TestSubmitExtractionLowConfidenceFlagsReview(t *testing.T) {
	store := newMemStore()
	uc := newTestExtraction(store, newMemLedger(), newMemAggregates())
	id := seedProcessingDocument(t, store)

	fields := []domain.FieldResult{
		{FieldName: domain.FieldVendorName, Value: "ACME", Confidence: 0.3, Status: domain.AttemptExtracted},
		{FieldName: domain.FieldInvoiceNumber, Value: "INV-1", Confidence: 0.4, Status: domain.AttemptExtracted},
	}
	if err := uc.SubmitExtraction(context.Background(), id, fields, nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}

	doc, _ := store.GetByID(context.Background(), id)
	if !doc.RequiresManualReview {
		t.Fatalf("expected review flag for low-confidence extraction")
	}
	if doc.ExtractionStatus != domain.ExtractionNeedsReview {
		t.Fatalf("expected needs_review extraction status, got %s", doc.ExtractionStatus)
	}
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("needing review must not block completion, got %s", doc.Status)
	}
}

func TestSubmitExtractionFailedRequiredFieldFlagsReview(t *testing.T) {
	store := newMemStore()
	uc := newTestExtraction(store, newMemLedger(), newMemAggregates())
	id := seedProcessingDocument(t, store)

	fields := goodFieldResults()
	fields[3] = domain.FieldResult{FieldName: domain.FieldTotalAmount, Status: domain.AttemptFailed, ExtractionMethod: "regex"}

	if err := uc.SubmitExtraction(context.Background(), id, fields, nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}
	doc, _ := store.GetByID(context.Background(), id)
	if !doc.RequiresManualReview {
		t.Fatalf("failed required field must flag review")
	}
}

func TestSubmitExtractionLineItemMismatchForcesReview(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	uc := newTestExtraction(store, ledger, newMemAggregates())
	id := seedProcessingDocument(t, store)

	items := []domain.LineItem{
		{LineNumber: 1, Description: "Widget", Quantity: 2, UnitPrice: 10, LineTotal: 25},
	}
	if err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), items); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}

	doc, _ := store.GetByID(context.Background(), id)
	if !doc.RequiresManualReview {
		t.Fatalf("line item arithmetic mismatch must force review")
	}

	validations, _ := ledger.ListByField(context.Background(), id, "line_items")
	if len(validations) != 1 || validations[0].Status != domain.AttemptPartial {
		t.Fatalf("expected one partial validation row, got %+v", validations)
	}
}

// Scenario: correction appends a manual row on top of the extracted one. The
// trail keeps both and the manual value becomes current.
func TestCorrectFieldAppendsManualAttempt(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	uc := newTestExtraction(store, ledger, newMemAggregates())
	id := seedProcessingDocument(t, store)

	if err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}
	if err := uc.CorrectField(context.Background(), id, domain.FieldVendorName, "Corrected Corp", "reviewer"); err != nil {
		t.Fatalf("correct field: %v", err)
	}

	history, _ := ledger.ListByField(context.Background(), id, domain.FieldVendorName)
	if len(history) != 2 {
		t.Fatalf("correction must append, not overwrite: %d rows", len(history))
	}

	doc, _ := store.GetByID(context.Background(), id)
	if doc.VendorName != "Corrected Corp" {
		t.Fatalf("expected corrected vendor, got %q", doc.VendorName)
	}
	if !doc.IsManuallyVerified || doc.VerifiedBy != "reviewer" {
		t.Fatalf("expected verification metadata, got %+v", doc)
	}
}

func TestCorrectFieldRejectsDuplicateDocument(t *testing.T) {
	store := newMemStore()
	uc := newTestExtraction(store, newMemLedger(), newMemAggregates())

	id, _ := store.Create(context.Background(), &domain.Document{
		ContentHash: "h-dup",
		Status:      domain.StatusDuplicate,
	})
	err := uc.CorrectField(context.Background(), id, domain.FieldVendorName, "x", "reviewer")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for duplicate, got %v", err)
	}
}

// Scenario: a correction alone does not touch the vendor roll-up; only an
// explicit finalization re-delivers the aggregation event.
func TestCorrectionReachesAggregatesOnlyAfterFinalize(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	aggregates := newMemAggregates()
	uc := newTestExtraction(store, ledger, aggregates)
	id := seedProcessingDocument(t, store)

	if err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}
	if err := uc.CorrectField(context.Background(), id, domain.FieldVendorName, "Corrected Corp", "reviewer"); err != nil {
		t.Fatalf("correct field: %v", err)
	}

	if vendor, _ := aggregates.GetVendor(context.Background(), "corrected corp"); vendor != nil {
		t.Fatalf("correction must not aggregate before finalize, got %+v", vendor)
	}

	if err := uc.Finalize(context.Background(), id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	vendor, _ := aggregates.GetVendor(context.Background(), "corrected corp")
	if vendor == nil || vendor.DocumentCount != 1 {
		t.Fatalf("expected corrected vendor aggregated after finalize, got %+v", vendor)
	}
}

func TestFinalizeRequiresCompletedDocument(t *testing.T) {
	store := newMemStore()
	uc := newTestExtraction(store, newMemLedger(), newMemAggregates())
	id := seedProcessingDocument(t, store)

	err := uc.Finalize(context.Background(), id)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for processing document, got %v", err)
	}
}

// Re-delivering the same revision must not double-count anything; finalizing
// again under a fresh revision applies once more.
func TestAggregationIdempotentPerRevision(t *testing.T) {
	store := newMemStore()
	aggregates := newMemAggregates()
	engine := NewAggregationEngine(aggregates, testLogger())
	uc := newTestExtraction(store, newMemLedger(), aggregates)
	id := seedProcessingDocument(t, store)

	if err := uc.SubmitExtraction(context.Background(), id, goodFieldResults(), nil); err != nil {
		t.Fatalf("submit extraction: %v", err)
	}
	doc, _ := store.GetByID(context.Background(), id)

	// Replay the exact same event several times.
	for i := 0; i < 5; i++ {
		if err := engine.OnDocumentFinalized(context.Background(), doc, domain.OutcomeCompleted); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	vendor, _ := aggregates.GetVendor(context.Background(), "acme pty ltd")
	if vendor.DocumentCount != 1 {
		t.Fatalf("replays must not inflate the count, got %d", vendor.DocumentCount)
	}
	wantTotal := 199.99
	if vendor.TotalAmount != wantTotal {
		t.Fatalf("expected total %v after replays, got %v", wantTotal, vendor.TotalAmount)
	}

	if err := uc.Finalize(context.Background(), id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	vendor, _ = aggregates.GetVendor(context.Background(), "acme pty ltd")
	if vendor.DocumentCount != 2 {
		t.Fatalf("a fresh revision applies once more, got %d", vendor.DocumentCount)
	}
}
