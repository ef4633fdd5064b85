// Package recognize holds the built-in text recognizers. They cover
// artifacts with an addressable text layer (PDF, plain text); image OCR is
// an external collaborator that reports results through the extraction API.
package recognize

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
	"github.com/pkaminski/docledger/internal/infrastructure/resilience"
)

type Recognizer struct {
	storage  ports.ObjectStorage
	executor *resilience.Executor
}

func New(storage ports.ObjectStorage, executor *resilience.Executor) *Recognizer {
	return &Recognizer{storage: storage, executor: executor}
}

// Recognize extracts the text layer of the stored artifact. The confidence
// is the engine's own estimate: full for digital text, zero when nothing
// could be read.
func (r *Recognizer) Recognize(ctx context.Context, doc *domain.Document) (string, float64, error) {
	var text string
	var confidence float64

	call := func(callCtx context.Context) error {
		var err error
		text, confidence, err = r.recognizeOnce(callCtx, doc)
		return err
	}

	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "recognize.text", call, classifyRecognizeError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", 0, err
	}
	return text, confidence, nil
}

func (r *Recognizer) recognizeOnce(ctx context.Context, doc *domain.Document) (string, float64, error) {
	reader, err := r.storage.Open(ctx, doc.FilePath)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrIO, "open artifact", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrIO, "read artifact", err)
	}

	switch classifyArtifact(doc) {
	case artifactPDF:
		return extractPDFText(payload)
	case artifactPlainText:
		return string(payload), 1.0, nil
	default:
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "recognize text",
			fmt.Errorf("no built-in recognizer for %q; submit results via the extraction API", doc.MimeType))
	}
}

type artifactKind int

const (
	artifactUnknown artifactKind = iota
	artifactPDF
	artifactPlainText
)

func classifyArtifact(doc *domain.Document) artifactKind {
	mime := strings.ToLower(doc.MimeType)
	switch {
	case strings.Contains(mime, "pdf"):
		return artifactPDF
	case strings.HasPrefix(mime, "text/"):
		return artifactPlainText
	}
	switch strings.ToLower(filepath.Ext(doc.OriginalFilename)) {
	case ".pdf":
		return artifactPDF
	case ".txt":
		return artifactPlainText
	}
	return artifactUnknown
}

func classifyRecognizeError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrIO) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
