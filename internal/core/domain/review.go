package domain

// ShouldReview is the review gate: it decides whether a document needs human
// verification before it can be considered final. Pure policy, threshold
// injected from configuration.
//
// A document is flagged when overall confidence is below the threshold, when
// any required field failed extraction, or when anything at all failed and
// nobody has manually verified the document yet.
func ShouldReview(overallConfidence float64, summary FieldSummary, manuallyVerified bool, threshold float64) bool {
	if overallConfidence < threshold {
		return true
	}
	for _, field := range summary.FailedFields {
		if IsRequiredField(field) {
			return true
		}
	}
	if summary.FailedCount > 0 && !manuallyVerified {
		return true
	}
	return false
}

// ExtractionOutcome derives the document-level extraction status from the
// field summary and the review decision.
func ExtractionOutcome(summary FieldSummary, needsReview bool) ExtractionStatus {
	extracted := summary.ExtractedCount + summary.CorrectedCount
	switch {
	case extracted == 0 && summary.PartialCount == 0:
		return ExtractionFailed
	case needsReview:
		return ExtractionNeedsReview
	case summary.FailedCount > 0 || summary.PartialCount > 0:
		return ExtractionPartial
	default:
		return ExtractionComplete
	}
}
