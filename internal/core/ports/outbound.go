package ports

import (
	"context"
	"io"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// DocumentRepository persists the canonical document record and applies
// status transitions with optimistic checks.
type DocumentRepository interface {
	// Create inserts the document and returns its assigned id. When the
	// content hash collides with an existing canonical record the insert
	// fails with domain.ErrDuplicateContent and nothing is written.
	Create(ctx context.Context, doc *domain.Document) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Document, error)

	// Transition moves id from -> to only if the stored status still equals
	// from; a lost race surfaces as domain.ErrConcurrentModification.
	Transition(ctx context.Context, id int64, from, to domain.DocumentStatus, processingError string) error

	// SaveExtraction materializes extracted field values, confidence, review
	// flags and bumps the revision. Returns the new revision.
	SaveExtraction(ctx context.Context, id int64, update domain.Document) (int64, error)

	// MarkVerified records a manual correction pass on the document row.
	MarkVerified(ctx context.Context, id int64, user string, needsReview bool, at time.Time) error

	// BumpRevision increments and returns the document revision.
	BumpRevision(ctx context.Context, id int64) (int64, error)

	ReplaceLineItems(ctx context.Context, id int64, items []domain.LineItem) error

	List(ctx context.Context, filter domain.ListFilter) ([]domain.Document, error)
	ListNeedingReview(ctx context.Context) ([]domain.Document, error)

	// FailStuckProcessing fails documents stuck in processing longer than
	// cutoff and returns the ids of the swept documents.
	FailStuckProcessing(ctx context.Context, cutoff time.Time, reason string) ([]int64, error)

	StatusCounts(ctx context.Context) (map[domain.DocumentStatus]int64, error)
}

// DuplicateIndex answers the lookups the duplicate resolver needs. All
// queries return the minimum-id match and are read-only.
type DuplicateIndex interface {
	FindCanonicalByHash(ctx context.Context, hash string) (*domain.Document, error)
	FindByNameAndSize(ctx context.Context, originalFilename string, size int64) (*domain.Document, error)
	FindByName(ctx context.Context, originalFilename string) (*domain.Document, error)
}

// AttemptLedger is the append-only field extraction audit log.
type AttemptLedger interface {
	Append(ctx context.Context, attempt *domain.FieldExtractionAttempt) error
	ListByDocument(ctx context.Context, documentID int64) ([]domain.FieldExtractionAttempt, error)
	ListByField(ctx context.Context, documentID int64, fieldName string) ([]domain.FieldExtractionAttempt, error)
}

// AggregateStore applies versioned aggregation events. ApplyFinalization
// must be idempotent per (document id, revision).
type AggregateStore interface {
	ApplyFinalization(ctx context.Context, event domain.FinalizationEvent) (applied bool, err error)
	GetVendor(ctx context.Context, normalizedName string) (*domain.Vendor, error)
	ListVendors(ctx context.Context) ([]domain.Vendor, error)
	GetDayStats(ctx context.Context, day time.Time) (*domain.ProcessingStats, error)
	ListDayStats(ctx context.Context, from, to time.Time) ([]domain.ProcessingStats, error)
}

// Fingerprinter computes the content-only fingerprint of an artifact.
type Fingerprinter interface {
	Fingerprint(r io.Reader) (hash string, algorithm string, err error)
}

// ObjectStorage stores source artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (written int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes document-uploaded events.
type MessageQueue interface {
	PublishDocumentUploaded(ctx context.Context, documentID int64) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, int64) error) error
}

// TextRecognizer is the black-box OCR collaborator: stored artifact in,
// raw text plus an engine confidence out.
type TextRecognizer interface {
	Recognize(ctx context.Context, doc *domain.Document) (text string, confidence float64, err error)
}

// FieldParser is the black-box extraction collaborator: raw text in, field
// candidates with confidences out.
type FieldParser interface {
	ParseFields(ctx context.Context, text string) ([]domain.FieldResult, []domain.LineItem, error)
}

// ReportExporter renders vendor/day aggregates for downstream consumers.
type ReportExporter interface {
	Export(ctx context.Context, vendors []domain.Vendor, stats []domain.ProcessingStats) ([]byte, error)
}
