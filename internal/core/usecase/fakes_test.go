package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// memStore is an in-memory DocumentRepository + DuplicateIndex with the same
// semantics the postgres implementation guarantees: canonical hash
// uniqueness, optimistic transitions and min-id duplicate lookups.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]*domain.Document
	items  map[int64][]domain.LineItem
}

func newMemStore() *memStore {
	return &memStore{
		nextID: 1,
		docs:   make(map[int64]*domain.Document),
		items:  make(map[int64][]domain.LineItem),
	}
}

func (s *memStore) Create(_ context.Context, doc *domain.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Status != domain.StatusDuplicate {
		for _, existing := range s.docs {
			if existing.ContentHash == doc.ContentHash && existing.Status != domain.StatusDuplicate {
				return 0, domain.WrapError(domain.ErrDuplicateContent, "create document",
					fmt.Errorf("content hash already present on document %d", existing.ID))
			}
		}
	}

	stored := *doc
	stored.ID = s.nextID
	s.nextID++
	s.docs[stored.ID] = &stored
	return stored.ID, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %d", id))
	}
	copied := *doc
	return &copied, nil
}

func (s *memStore) Transition(_ context.Context, id int64, from, to domain.DocumentStatus, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "transition", fmt.Errorf("id %d", id))
	}
	if !domain.CanTransition(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("%s -> %s", from, to))
	}
	if doc.Status != from {
		return domain.WrapError(domain.ErrConcurrentModification, "transition",
			fmt.Errorf("document %d is %s, expected %s", id, doc.Status, from))
	}
	if to == domain.StatusCompleted && doc.OverallConfidence == nil {
		return domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("document %d has no overall confidence", id))
	}
	doc.Status = to
	doc.ProcessingError = processingError
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) SaveExtraction(_ context.Context, id int64, update domain.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "save extraction", fmt.Errorf("id %d", id))
	}
	doc.VendorName = update.VendorName
	doc.InvoiceNumber = update.InvoiceNumber
	doc.InvoiceDate = update.InvoiceDate
	doc.TotalAmount = update.TotalAmount
	doc.Currency = update.Currency
	doc.OverallConfidence = update.OverallConfidence
	doc.RequiresManualReview = update.RequiresManualReview
	doc.ExtractionStatus = update.ExtractionStatus
	doc.Revision++
	doc.UpdatedAt = time.Now().UTC()
	return doc.Revision, nil
}

func (s *memStore) MarkVerified(_ context.Context, id int64, user string, needsReview bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "mark verified", fmt.Errorf("id %d", id))
	}
	doc.IsManuallyVerified = true
	doc.VerifiedBy = user
	doc.VerifiedAt = &at
	doc.RequiresManualReview = needsReview
	return nil
}

func (s *memStore) BumpRevision(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "bump revision", fmt.Errorf("id %d", id))
	}
	doc.Revision++
	return doc.Revision, nil
}

func (s *memStore) ReplaceLineItems(_ context.Context, id int64, items []domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = items
	return nil
}

func (s *memStore) List(_ context.Context, filter domain.ListFilter) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, doc := range s.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListNeedingReview(_ context.Context) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, doc := range s.docs {
		if (doc.RequiresManualReview && !doc.IsManuallyVerified) || doc.Status == domain.StatusFailed {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FailStuckProcessing(_ context.Context, cutoff time.Time, reason string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []int64
	for _, doc := range s.docs {
		if doc.Status == domain.StatusProcessing && doc.UpdatedAt.Before(cutoff) {
			doc.Status = domain.StatusFailed
			doc.ProcessingError = reason
			swept = append(swept, doc.ID)
		}
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i] < swept[j] })
	return swept, nil
}

func (s *memStore) StatusCounts(_ context.Context) (map[domain.DocumentStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.DocumentStatus]int64)
	for _, doc := range s.docs {
		counts[doc.Status]++
	}
	return counts, nil
}

func (s *memStore) FindCanonicalByHash(_ context.Context, hash string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minMatch(func(d *domain.Document) bool {
		return d.ContentHash == hash && d.Status != domain.StatusDuplicate
	}), nil
}

func (s *memStore) FindByNameAndSize(_ context.Context, name string, size int64) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minMatch(func(d *domain.Document) bool {
		return d.OriginalFilename == name && d.FileSize == size
	}), nil
}

func (s *memStore) FindByName(_ context.Context, name string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minMatch(func(d *domain.Document) bool {
		return d.OriginalFilename == name
	}), nil
}

func (s *memStore) minMatch(pred func(*domain.Document) bool) *domain.Document {
	var best *domain.Document
	for _, doc := range s.docs {
		if !pred(doc) {
			continue
		}
		if best == nil || doc.ID < best.ID {
			best = doc
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

type memLedger struct {
	mu       sync.Mutex
	nextID   int64
	attempts []domain.FieldExtractionAttempt
}

func newMemLedger() *memLedger { return &memLedger{nextID: 1} }

func (l *memLedger) Append(_ context.Context, attempt *domain.FieldExtractionAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	attempt.ID = l.nextID
	l.nextID++
	l.attempts = append(l.attempts, *attempt)
	return nil
}

func (l *memLedger) ListByDocument(_ context.Context, documentID int64) ([]domain.FieldExtractionAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.FieldExtractionAttempt
	for _, a := range l.attempts {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *memLedger) ListByField(_ context.Context, documentID int64, fieldName string) ([]domain.FieldExtractionAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.FieldExtractionAttempt
	for _, a := range l.attempts {
		if a.DocumentID == documentID && a.FieldName == fieldName {
			out = append(out, a)
		}
	}
	return out, nil
}

type vendorKey struct{ name string }

// memAggregates mirrors the postgres aggregate store: an event ledger keyed
// (document id, revision) guards the deltas.
type memAggregates struct {
	mu      sync.Mutex
	seen    map[string]bool
	vendors map[vendorKey]*domain.Vendor
	days    map[string]*domain.ProcessingStats
}

func newMemAggregates() *memAggregates {
	return &memAggregates{
		seen:    make(map[string]bool),
		vendors: make(map[vendorKey]*domain.Vendor),
		days:    make(map[string]*domain.ProcessingStats),
	}
}

func (m *memAggregates) ApplyFinalization(_ context.Context, event domain.FinalizationEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%d:%d", event.DocumentID, event.Revision)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true

	if event.Outcome == domain.OutcomeCompleted && event.VendorName != "" {
		normalized := domain.NormalizeVendorName(event.VendorName)
		vendor, ok := m.vendors[vendorKey{normalized}]
		if !ok {
			vendor = &domain.Vendor{Name: event.VendorName, NormalizedName: normalized}
			m.vendors[vendorKey{normalized}] = vendor
		}
		vendor.DocumentCount++
		if event.TotalAmount != nil {
			vendor.TotalAmount += *event.TotalAmount
		}
		if event.InvoiceDate != nil {
			if vendor.LastInvoiceDate == nil || event.InvoiceDate.After(*vendor.LastInvoiceDate) {
				vendor.LastInvoiceDate = event.InvoiceDate
			}
		}
	}

	day := event.OccurredAt.UTC().Truncate(24 * time.Hour)
	dayKey := day.Format("2006-01-02")
	stats, ok := m.days[dayKey]
	if !ok {
		stats = &domain.ProcessingStats{StatDate: day}
		m.days[dayKey] = stats
	}
	stats.DocumentsProcessed++
	switch event.Outcome {
	case domain.OutcomeCompleted:
		stats.CompletedCount++
	case domain.OutcomeFailed:
		stats.FailedCount++
	}
	if event.NeedsReview {
		stats.ReviewFlaggedCount++
	}
	if event.Confidence != nil {
		stats.ConfidenceSum += *event.Confidence
		stats.ConfidenceSampleCnt++
	}
	return true, nil
}

func (m *memAggregates) GetVendor(_ context.Context, normalizedName string) (*domain.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vendor, ok := m.vendors[vendorKey{normalizedName}]
	if !ok {
		return nil, nil
	}
	copied := *vendor
	return &copied, nil
}

func (m *memAggregates) ListVendors(_ context.Context) ([]domain.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Vendor
	for _, v := range m.vendors {
		out = append(out, *v)
	}
	return out, nil
}

func (m *memAggregates) GetDayStats(_ context.Context, day time.Time) (*domain.ProcessingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.days[day.UTC().Truncate(24*time.Hour).Format("2006-01-02")]
	if !ok {
		return nil, nil
	}
	copied := *stats
	return &copied, nil
}

func (m *memAggregates) ListDayStats(_ context.Context, from, to time.Time) ([]domain.ProcessingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessingStats
	for _, s := range m.days {
		if !s.StatDate.Before(from.Truncate(24*time.Hour)) && !s.StatDate.After(to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

type memObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStorage() *memObjectStorage {
	return &memObjectStorage{objects: make(map[string][]byte)}
}

func (s *memObjectStorage) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = payload
	return int64(len(payload)), nil
}

func (s *memObjectStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

type memQueue struct {
	mu        sync.Mutex
	published []int64
}

func (q *memQueue) PublishDocumentUploaded(_ context.Context, documentID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, documentID)
	return nil
}

func (q *memQueue) SubscribeDocumentUploaded(context.Context, func(context.Context, int64) error) error {
	return nil
}

func (q *memQueue) publishedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.published...)
}

type sha256Fake struct{}

func (sha256Fake) Fingerprint(r io.Reader) (string, string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(h.Sum(nil)), "sha256", nil
}

type fakeRecognizer struct {
	fn func(ctx context.Context, doc *domain.Document) (string, float64, error)
}

func (f *fakeRecognizer) Recognize(ctx context.Context, doc *domain.Document) (string, float64, error) {
	return f.fn(ctx, doc)
}

type fakeParser struct {
	fn func(ctx context.Context, text string) ([]domain.FieldResult, []domain.LineItem, error)
}

func (f *fakeParser) ParseFields(ctx context.Context, text string) ([]domain.FieldResult, []domain.LineItem, error) {
	return f.fn(ctx, text)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIngest(store *memStore, queue *memQueue) *IngestUseCase {
	return NewIngestUseCase(
		IngestConfig{
			MaxFileSize:       10 << 20,
			AllowedExtensions: []string{"pdf", "jpg", "jpeg", "png", "txt"},
		},
		sha256Fake{},
		NewDuplicateResolver(store),
		store,
		newMemObjectStorage(),
		queue,
	)
}

func newTestExtraction(store *memStore, ledger *memLedger, aggregates *memAggregates) *ExtractionUseCase {
	return NewExtractionUseCase(
		ExtractionConfig{ReviewThreshold: 0.8, LineItemTolerance: 0.01},
		store,
		ledger,
		NewAggregationEngine(aggregates, testLogger()),
	)
}
