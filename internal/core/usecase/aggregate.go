package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// AggregationEngine keeps vendor roll-ups and daily processing stats
// consistent with document finalizations. Delivery is idempotent: the store
// records each (document id, revision) pair and replays apply nothing.
type AggregationEngine struct {
	store  ports.AggregateStore
	logger *slog.Logger
}

func NewAggregationEngine(store ports.AggregateStore, logger *slog.Logger) *AggregationEngine {
	return &AggregationEngine{store: store, logger: logger}
}

// OnDocumentFinalized derives the event from the finalized document and
// applies it. Safe to call again for the same revision.
func (e *AggregationEngine) OnDocumentFinalized(ctx context.Context, doc *domain.Document, outcome domain.DayOutcome) error {
	event := domain.FinalizationEvent{
		DocumentID:  doc.ID,
		Revision:    doc.Revision,
		Outcome:     outcome,
		NeedsReview: doc.RequiresManualReview,
		Confidence:  doc.OverallConfidence,
		OccurredAt:  time.Now().UTC(),
	}
	if outcome == domain.OutcomeCompleted {
		event.VendorName = doc.VendorName
		event.TotalAmount = doc.TotalAmount
		event.InvoiceDate = doc.InvoiceDate
	}

	applied, err := e.store.ApplyFinalization(ctx, event)
	if err != nil {
		return fmt.Errorf("apply finalization event: %w", err)
	}
	if !applied {
		e.logger.Debug("finalization_replay_skipped",
			"document_id", doc.ID,
			"revision", doc.Revision,
		)
	}
	return nil
}
