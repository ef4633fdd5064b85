package domain

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	StatusDuplicate  DocumentStatus = "duplicate"
)

// Terminal reports whether no further automatic transition may leave s.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDuplicate:
		return true
	}
	return false
}

type ExtractionStatus string

const (
	ExtractionPending     ExtractionStatus = "pending"
	ExtractionComplete    ExtractionStatus = "complete"
	ExtractionPartial     ExtractionStatus = "partial"
	ExtractionNeedsReview ExtractionStatus = "needs_review"
	ExtractionFailed      ExtractionStatus = "failed"
)

type Document struct {
	ID               int64  `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	ContentHash      string `json:"content_hash"`
	HashAlgorithm    string `json:"hash_algorithm"`

	Status DocumentStatus `json:"status"`

	VendorName    string     `json:"vendor_name,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time `json:"invoice_date,omitempty"`
	TotalAmount   *float64   `json:"total_amount,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`

	OverallConfidence    *float64         `json:"overall_confidence_score,omitempty"`
	ExtractionStatus     ExtractionStatus `json:"extraction_status"`
	RequiresManualReview bool             `json:"requires_manual_review"`

	IsManuallyVerified bool       `json:"is_manually_verified"`
	VerifiedBy         string     `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`

	ProcessingError string `json:"processing_error,omitempty"`

	// Revision increments on every finalization-relevant change and keys
	// aggregate event delivery, so replayed events are detectable.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LineItem struct {
	ID          int64    `json:"id"`
	DocumentID  int64    `json:"document_id"`
	LineNumber  int      `json:"line_number"`
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	LineTotal   float64  `json:"line_total"`
	TaxAmount   *float64 `json:"tax_amount,omitempty"`
}

// ValidateArithmetic checks line_total against quantity*unit_price within
// tolerance. A mismatch is advisory, never fatal: callers record it and flag
// the document for review.
func (li LineItem) ValidateArithmetic(tolerance float64) error {
	expected := li.Quantity * li.UnitPrice
	diff := li.LineTotal - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return WrapError(ErrValidation, "line item arithmetic",
			fmt.Errorf("line %d: line_total %.2f does not match quantity*unit_price %.2f",
				li.LineNumber, li.LineTotal, expected))
	}
	return nil
}

// CanTransition reports whether from -> to is a legal state machine move.
// The duplicate status is entered only at creation time and is terminal.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
