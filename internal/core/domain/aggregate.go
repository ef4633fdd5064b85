package domain

import (
	"strings"
	"time"
)

// Vendor is a derived roll-up keyed by normalized name. It holds by-value
// references only; there are no back-pointers into documents.
type Vendor struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	NormalizedName  string     `json:"normalized_name"`
	DocumentCount   int64      `json:"document_count"`
	TotalAmount     float64    `json:"total_amount"`
	LastInvoiceDate *time.Time `json:"last_invoice_date,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NormalizeVendorName folds case and collapses interior whitespace so that
// "ACME  Pty Ltd" and "acme pty ltd" aggregate into one vendor.
func NormalizeVendorName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ProcessingStats is one row per calendar date, created lazily on the first
// event of the day and never deleted.
type ProcessingStats struct {
	ID                  int64     `json:"id"`
	StatDate            time.Time `json:"stat_date"`
	DocumentsProcessed  int64     `json:"documents_processed"`
	CompletedCount      int64     `json:"completed_count"`
	FailedCount         int64     `json:"failed_count"`
	ReviewFlaggedCount  int64     `json:"review_flagged_count"`
	ConfidenceSum       float64   `json:"confidence_sum"`
	ConfidenceSampleCnt int64     `json:"confidence_sample_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AverageConfidence derives the day's mean confidence from the running sum,
// which stays correct under idempotent replays where a plain average would not.
func (s ProcessingStats) AverageConfidence() float64 {
	if s.ConfidenceSampleCnt == 0 {
		return 0
	}
	return s.ConfidenceSum / float64(s.ConfidenceSampleCnt)
}

type DayOutcome string

const (
	OutcomeCompleted DayOutcome = "completed"
	OutcomeFailed    DayOutcome = "failed"
)

// FinalizationEvent carries everything the aggregation engine needs to apply
// one document finalization exactly once. (DocumentID, Revision) identifies
// the event; re-delivery with the same pair must be a no-op.
type FinalizationEvent struct {
	DocumentID  int64      `json:"document_id"`
	Revision    int64      `json:"revision"`
	VendorName  string     `json:"vendor_name,omitempty"`
	TotalAmount *float64   `json:"total_amount,omitempty"`
	InvoiceDate *time.Time `json:"invoice_date,omitempty"`
	Outcome     DayOutcome `json:"outcome"`
	Confidence  *float64   `json:"confidence,omitempty"`
	NeedsReview bool       `json:"needs_review"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
