package domain

// Per-field weights for the overall confidence score. The weighting mirrors
// the relative importance the extraction scoring assigns to each field:
// invoice number and total amount carry the most signal, dates and vendor
// next, currency and tax least.
var confidenceWeights = map[string]float64{
	FieldInvoiceNumber: 2.0,
	FieldTotalAmount:   2.0,
	FieldInvoiceDate:   1.5,
	FieldVendorName:    1.5,
	FieldCurrency:      0.5,
	FieldTaxAmount:     0.5,
}

const defaultFieldWeight = 0.5

// OverallConfidence computes the weighted average of per-field confidences
// over the current attempt of every field present in the trail. Manual
// corrections count as full confidence. Fields with a weight entry that were
// never attempted drag the score down with zero confidence, so a sparse
// extraction cannot score high.
func OverallConfidence(attempts []FieldExtractionAttempt) float64 {
	byField := make(map[string][]FieldExtractionAttempt)
	for _, a := range attempts {
		byField[a.FieldName] = append(byField[a.FieldName], a)
	}

	var weightSum, scoreSum float64
	for field, weight := range confidenceWeights {
		weightSum += weight
		current, ok := ResolveCurrent(byField[field])
		if !ok {
			continue
		}
		scoreSum += weight * attemptConfidence(current)
		delete(byField, field)
	}
	// Fields outside the known weight table still contribute.
	for _, history := range byField {
		current, ok := ResolveCurrent(history)
		if !ok {
			continue
		}
		weightSum += defaultFieldWeight
		scoreSum += defaultFieldWeight * attemptConfidence(current)
	}

	if weightSum == 0 {
		return 0
	}
	score := scoreSum / weightSum
	if score > 1 {
		score = 1
	}
	return score
}

func attemptConfidence(a FieldExtractionAttempt) float64 {
	switch a.Status {
	case AttemptManual:
		return 1.0
	case AttemptFailed:
		return 0.0
	default:
		return a.ConfidenceScore
	}
}
