package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// ProcessUseCase drives a pending document through OCR and field extraction.
// The OCR engine and the field parser are black boxes behind ports; this
// use case owns only the lifecycle around them.
type ProcessUseCase struct {
	repo       ports.DocumentRepository
	recognizer ports.TextRecognizer
	parser     ports.FieldParser
	receiver   ports.ExtractionReceiver
	aggregator *AggregationEngine
}

func NewProcessUseCase(
	repo ports.DocumentRepository,
	recognizer ports.TextRecognizer,
	parser ports.FieldParser,
	receiver ports.ExtractionReceiver,
	aggregator *AggregationEngine,
) *ProcessUseCase {
	return &ProcessUseCase{
		repo:       repo,
		recognizer: recognizer,
		parser:     parser,
		receiver:   receiver,
		aggregator: aggregator,
	}
}

// ProcessByID claims the document and runs the pipeline. Exactly one of two
// concurrent workers wins the pending->processing transition; the loser gets
// domain.ErrConcurrentModification and backs off.
func (uc *ProcessUseCase) ProcessByID(ctx context.Context, documentID int64) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.Status != domain.StatusPending {
		return domain.WrapError(domain.ErrInvalidTransition, "begin processing",
			fmt.Errorf("document %d is %s, want %s", documentID, doc.Status, domain.StatusPending))
	}

	if err := uc.repo.Transition(ctx, documentID, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("claim document: %w", err)
	}

	if err := uc.runPipeline(ctx, doc); err != nil {
		if failErr := uc.fail(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed: %w", err, failErr)
		}
		return err
	}
	return nil
}

func (uc *ProcessUseCase) runPipeline(ctx context.Context, doc *domain.Document) error {
	text, confidence, err := uc.recognizer.Recognize(ctx, doc)
	if err != nil {
		return fmt.Errorf("recognize text: %w", err)
	}
	if text == "" || confidence <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "recognize text", errors.New("no readable text recognized"))
	}

	fields, lineItems, err := uc.parser.ParseFields(ctx, text)
	if err != nil {
		return fmt.Errorf("parse fields: %w", err)
	}
	if len(fields) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "parse fields", errors.New("no field candidates produced"))
	}

	if err := uc.receiver.SubmitExtraction(ctx, doc.ID, fields, lineItems); err != nil {
		return fmt.Errorf("submit extraction: %w", err)
	}
	return nil
}

// fail moves the document into failed, keeps the error on the record and
// counts the failure in the day stats under a fresh revision.
func (uc *ProcessUseCase) fail(ctx context.Context, documentID int64, cause error) error {
	if err := uc.repo.Transition(ctx, documentID, domain.StatusProcessing, domain.StatusFailed, cause.Error()); err != nil {
		return err
	}
	revision, err := uc.repo.BumpRevision(ctx, documentID)
	if err != nil {
		return err
	}
	failedDoc := &domain.Document{ID: documentID, Revision: revision, RequiresManualReview: true}
	return uc.aggregator.OnDocumentFinalized(ctx, failedDoc, domain.OutcomeFailed)
}

// SweepStuck fails documents that have sat in processing beyond maxAge. The
// state machine has no cancellation primitive; this external sweep is the
// only way a stalled document recovers. Each swept document gets a failed
// finalization event so the day stats count it, same as fail.
func (uc *ProcessUseCase) SweepStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	ids, err := uc.repo.FailStuckProcessing(ctx, cutoff, fmt.Sprintf("processing exceeded %s", maxAge))
	if err != nil {
		return 0, fmt.Errorf("sweep stuck documents: %w", err)
	}

	var swept int64
	for _, id := range ids {
		revision, err := uc.repo.BumpRevision(ctx, id)
		if err != nil {
			return swept, fmt.Errorf("bump revision for swept document %d: %w", id, err)
		}
		sweptDoc := &domain.Document{ID: id, Revision: revision, RequiresManualReview: true}
		if err := uc.aggregator.OnDocumentFinalized(ctx, sweptDoc, domain.OutcomeFailed); err != nil {
			return swept, fmt.Errorf("record swept document %d: %w", id, err)
		}
		swept++
	}
	return swept, nil
}
