package ports

import (
	"context"
	"io"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// DocumentIngestor is the inbound contract for upload orchestration.
type DocumentIngestor interface {
	Ingest(ctx context.Context, filename, mimeType string, body io.Reader, force bool) (*domain.Document, domain.DuplicateVerdict, error)
	CheckDuplicate(ctx context.Context, filename string, body io.Reader) (domain.DuplicateVerdict, error)
}

// DocumentProcessor is the inbound contract for asynchronous processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID int64) error
}

// ExtractionReceiver accepts field candidates from the OCR/extraction
// collaborators once they have produced results for a document.
type ExtractionReceiver interface {
	SubmitExtraction(ctx context.Context, documentID int64, fields []domain.FieldResult, lineItems []domain.LineItem) error
}

// ReviewService is consumed by the review UI collaborator.
type ReviewService interface {
	CorrectField(ctx context.Context, documentID int64, fieldName, value, user string) error
	Finalize(ctx context.Context, documentID int64) error
	ListNeedingReview(ctx context.Context) ([]domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Document, error)
}
