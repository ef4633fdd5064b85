package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
)

func jsonBody(t *testing.T, payload any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewReader(raw)
}

type fakeIngestor struct {
	ingestFn func(ctx context.Context, filename, mimeType string, body io.Reader, force bool) (*domain.Document, domain.DuplicateVerdict, error)
	checkFn  func(ctx context.Context, filename string, body io.Reader) (domain.DuplicateVerdict, error)
}

func (f *fakeIngestor) Ingest(ctx context.Context, filename, mimeType string, body io.Reader, force bool) (*domain.Document, domain.DuplicateVerdict, error) {
	return f.ingestFn(ctx, filename, mimeType, body, force)
}

func (f *fakeIngestor) CheckDuplicate(ctx context.Context, filename string, body io.Reader) (domain.DuplicateVerdict, error) {
	return f.checkFn(ctx, filename, body)
}

type fakeExtraction struct {
	submitFn func(ctx context.Context, documentID int64, fields []domain.FieldResult, lineItems []domain.LineItem) error
}

func (f *fakeExtraction) SubmitExtraction(ctx context.Context, documentID int64, fields []domain.FieldResult, lineItems []domain.LineItem) error {
	return f.submitFn(ctx, documentID, fields, lineItems)
}

type fakeReview struct {
	correctFn  func(ctx context.Context, documentID int64, fieldName, value, user string) error
	finalizeFn func(ctx context.Context, documentID int64) error
	listFn     func(ctx context.Context) ([]domain.Document, error)
}

func (f *fakeReview) CorrectField(ctx context.Context, documentID int64, fieldName, value, user string) error {
	return f.correctFn(ctx, documentID, fieldName, value, user)
}

func (f *fakeReview) Finalize(ctx context.Context, documentID int64) error {
	return f.finalizeFn(ctx, documentID)
}

func (f *fakeReview) ListNeedingReview(ctx context.Context) ([]domain.Document, error) {
	return f.listFn(ctx)
}

type fakeRepo struct {
	getFn  func(ctx context.Context, id int64) (*domain.Document, error)
	listFn func(ctx context.Context, filter domain.ListFilter) ([]domain.Document, error)
}

func (f *fakeRepo) Create(context.Context, *domain.Document) (int64, error) { return 0, nil }

func (f *fakeRepo) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	return f.getFn(ctx, id)
}

func (f *fakeRepo) Transition(context.Context, int64, domain.DocumentStatus, domain.DocumentStatus, string) error {
	return nil
}

func (f *fakeRepo) SaveExtraction(context.Context, int64, domain.Document) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) MarkVerified(context.Context, int64, string, bool, time.Time) error { return nil }

func (f *fakeRepo) BumpRevision(context.Context, int64) (int64, error) { return 0, nil }

func (f *fakeRepo) ReplaceLineItems(context.Context, int64, []domain.LineItem) error { return nil }

func (f *fakeRepo) List(ctx context.Context, filter domain.ListFilter) ([]domain.Document, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, filter)
}

func (f *fakeRepo) ListNeedingReview(context.Context) ([]domain.Document, error) { return nil, nil }

func (f *fakeRepo) FailStuckProcessing(context.Context, time.Time, string) ([]int64, error) {
	return nil, nil
}

func (f *fakeRepo) StatusCounts(context.Context) (map[domain.DocumentStatus]int64, error) {
	return nil, nil
}

type fakeReports struct {
	statsFn  func(ctx context.Context) (*domain.DashboardStats, error)
	exportFn func(ctx context.Context) ([]byte, error)
}

func (f *fakeReports) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	return f.statsFn(ctx)
}

func (f *fakeReports) ExportReport(ctx context.Context) ([]byte, error) {
	return f.exportFn(ctx)
}

func multipartUpload(fieldValues map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", filename)
	_, _ = part.Write(content)
	for key, value := range fieldValues {
		_ = writer.WriteField(key, value)
	}
	_ = writer.Close()
	return body, writer.FormDataContentType()
}

func newTestRouter(opts Options, ingest *fakeIngestor, extraction *fakeExtraction, review *fakeReview, repo *fakeRepo, reports *fakeReports) http.Handler {
	if ingest == nil {
		ingest = &fakeIngestor{}
	}
	if extraction == nil {
		extraction = &fakeExtraction{}
	}
	if review == nil {
		review = &fakeReview{}
	}
	if repo == nil {
		repo = &fakeRepo{}
	}
	if reports == nil {
		reports = &fakeReports{}
	}
	return NewRouter(opts, ingest, extraction, review, repo, reports, nil).Handler()
}
