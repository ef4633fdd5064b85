package domain

import "time"

type AttemptStatus string

const (
	AttemptExtracted AttemptStatus = "extracted"
	AttemptPartial   AttemptStatus = "partial"
	AttemptFailed    AttemptStatus = "failed"
	AttemptManual    AttemptStatus = "manual"
)

// Required fields for the review gate: a failed attempt on any of these
// always flags the document.
const (
	FieldVendorName    = "vendor_name"
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldTotalAmount   = "total_amount"
	FieldCurrency      = "currency"
	FieldTaxAmount     = "tax_amount"
)

func IsRequiredField(name string) bool {
	switch name {
	case FieldVendorName, FieldInvoiceNumber, FieldTotalAmount:
		return true
	}
	return false
}

// FieldExtractionAttempt is one row of the append-only extraction audit log.
// Rows are never edited; a manual correction is a new row with status manual.
type FieldExtractionAttempt struct {
	ID               int64         `json:"id"`
	DocumentID       int64         `json:"document_id"`
	FieldName        string        `json:"field_name"`
	ExtractionMethod string        `json:"extraction_method"`
	PatternsTried    []string      `json:"patterns_tried,omitempty"`
	ExtractedValue   string        `json:"extracted_value,omitempty"`
	ConfidenceScore  float64       `json:"confidence_score"`
	Status           AttemptStatus `json:"extraction_status"`
	CorrectedValue   string        `json:"corrected_value,omitempty"`
	CorrectedBy      string        `json:"corrected_by,omitempty"`
	CorrectedAt      *time.Time    `json:"corrected_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Value returns the effective value the attempt contributes.
func (a FieldExtractionAttempt) Value() string {
	if a.Status == AttemptManual && a.CorrectedValue != "" {
		return a.CorrectedValue
	}
	return a.ExtractedValue
}

func statusPriority(s AttemptStatus) int {
	switch s {
	case AttemptManual:
		return 3
	case AttemptExtracted:
		return 2
	case AttemptPartial:
		return 1
	default:
		return 0
	}
}

// ResolveCurrent picks the effective attempt for one field from its full
// history, regardless of arrival order: manual beats everything, then the
// highest-confidence extracted attempt, then partial, then failed. Within
// the same priority and confidence the most recent row wins. Returns false
// when the history is empty.
func ResolveCurrent(attempts []FieldExtractionAttempt) (FieldExtractionAttempt, bool) {
	var best FieldExtractionAttempt
	found := false
	for _, a := range attempts {
		if !found {
			best, found = a, true
			continue
		}
		bp, ap := statusPriority(best.Status), statusPriority(a.Status)
		switch {
		case ap > bp:
			best = a
		case ap == bp && a.ConfidenceScore > best.ConfidenceScore:
			best = a
		case ap == bp && a.ConfidenceScore == best.ConfidenceScore && !a.CreatedAt.Before(best.CreatedAt):
			best = a
		}
	}
	return best, found
}

// FieldSummary aggregates a document's extraction trail per field outcome.
type FieldSummary struct {
	ExtractedCount int `json:"extracted_count"`
	PartialCount   int `json:"partial_count"`
	FailedCount    int `json:"failed_count"`
	CorrectedCount int `json:"corrected_count"`

	// FailedFields holds field names whose current resolution is failed.
	FailedFields []string `json:"failed_fields,omitempty"`
}

// Summarize resolves each field's current attempt and counts outcomes.
func Summarize(attempts []FieldExtractionAttempt) FieldSummary {
	byField := make(map[string][]FieldExtractionAttempt)
	order := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if _, seen := byField[a.FieldName]; !seen {
			order = append(order, a.FieldName)
		}
		byField[a.FieldName] = append(byField[a.FieldName], a)
	}

	var summary FieldSummary
	for _, field := range order {
		current, ok := ResolveCurrent(byField[field])
		if !ok {
			continue
		}
		switch current.Status {
		case AttemptManual:
			summary.CorrectedCount++
		case AttemptExtracted:
			summary.ExtractedCount++
		case AttemptPartial:
			summary.PartialCount++
		case AttemptFailed:
			summary.FailedCount++
			summary.FailedFields = append(summary.FailedFields, field)
		}
	}
	return summary
}

// FieldResult is one field candidate produced by the external OCR/parsing
// collaborators and submitted through SubmitExtraction.
type FieldResult struct {
	FieldName        string   `json:"field_name"`
	ExtractionMethod string   `json:"extraction_method"`
	PatternsTried    []string `json:"patterns_tried,omitempty"`
	Value            string   `json:"value"`
	Confidence       float64  `json:"confidence"`
	Status           AttemptStatus `json:"status"`
}
