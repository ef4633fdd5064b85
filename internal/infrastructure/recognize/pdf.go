package recognize

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pkaminski/docledger/internal/core/domain"
)

// extractPDFText reads the digital text layer. Scanned PDFs without a text
// layer come back empty and score zero confidence, which routes them to the
// external OCR collaborator.
func extractPDFText(payload []byte) (string, float64, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "parse pdf", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "read pdf text layer", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", 0, domain.WrapError(domain.ErrIO, "read pdf text layer", err)
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", 0, nil
	}
	return text, 1.0, nil
}
