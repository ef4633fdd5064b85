package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// IngestConfig carries upload limits supplied by the caller.
type IngestConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

type IngestUseCase struct {
	cfg         IngestConfig
	fingerprint ports.Fingerprinter
	resolver    *DuplicateResolver
	repo        ports.DocumentRepository
	storage     ports.ObjectStorage
	queue       ports.MessageQueue
}

func NewIngestUseCase(
	cfg IngestConfig,
	fingerprint ports.Fingerprinter,
	resolver *DuplicateResolver,
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestUseCase {
	return &IngestUseCase{
		cfg:         cfg,
		fingerprint: fingerprint,
		resolver:    resolver,
		repo:        repo,
		storage:     storage,
		queue:       queue,
	}
}

// Ingest fingerprints the artifact, classifies it against existing records
// and creates the document. ExactContent soft-marks the new record as a
// duplicate referencing the canonical document; without force the caller
// also receives domain.ErrDuplicateContent. NameAndSize and NameOnly are
// warn-and-continue: the verdict is returned alongside a pending document.
func (uc *IngestUseCase) Ingest(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
	force bool,
) (*domain.Document, domain.DuplicateVerdict, error) {
	payload, err := uc.readArtifact(filename, body)
	if err != nil {
		return nil, domain.DuplicateVerdict{}, err
	}

	hash, algorithm, err := uc.fingerprint.Fingerprint(bytes.NewReader(payload))
	if err != nil {
		return nil, domain.DuplicateVerdict{}, domain.WrapError(domain.ErrIO, "fingerprint artifact", err)
	}

	verdict := domain.Unique()
	if !force {
		verdict, err = uc.resolver.Resolve(ctx, hash, filename, int64(len(payload)))
		if err != nil {
			return nil, domain.DuplicateVerdict{}, fmt.Errorf("resolve duplicates: %w", err)
		}
	}

	doc, verdict, err := uc.createDocument(ctx, filename, mimeType, hash, algorithm, payload, verdict)
	if err != nil {
		return nil, verdict, err
	}

	if doc.Status == domain.StatusDuplicate {
		if force {
			return doc, verdict, nil
		}
		return doc, verdict, domain.WrapError(domain.ErrDuplicateContent, "ingest",
			fmt.Errorf("content matches document %d", verdict.ExistingDocumentID))
	}

	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		return nil, verdict, fmt.Errorf("publish uploaded event: %w", err)
	}
	return doc, verdict, nil
}

// CheckDuplicate is the pre-flight check: it hashes the payload and returns
// the verdict without creating anything.
func (uc *IngestUseCase) CheckDuplicate(ctx context.Context, filename string, body io.Reader) (domain.DuplicateVerdict, error) {
	payload, err := uc.readArtifact(filename, body)
	if err != nil {
		return domain.DuplicateVerdict{}, err
	}
	hash, _, err := uc.fingerprint.Fingerprint(bytes.NewReader(payload))
	if err != nil {
		return domain.DuplicateVerdict{}, domain.WrapError(domain.ErrIO, "fingerprint artifact", err)
	}
	return uc.resolver.Resolve(ctx, hash, filename, int64(len(payload)))
}

func (uc *IngestUseCase) readArtifact(filename string, body io.Reader) ([]byte, error) {
	if !uc.allowedFile(filename) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate artifact",
			fmt.Errorf("file type not allowed: %s", filename))
	}
	payload, err := io.ReadAll(io.LimitReader(body, uc.cfg.MaxFileSize+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrIO, "read artifact", err)
	}
	if int64(len(payload)) > uc.cfg.MaxFileSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate artifact",
			fmt.Errorf("file exceeds %d bytes", uc.cfg.MaxFileSize))
	}
	if len(payload) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate artifact", errors.New("empty file"))
	}
	return payload, nil
}

// createDocument stores the artifact and inserts the record. When the insert
// loses the canonical-hash race it re-resolves and returns the refreshed
// verdict, so callers see the ExactContent match instead of the stale one.
func (uc *IngestUseCase) createDocument(
	ctx context.Context,
	filename, mimeType, hash, algorithm string,
	payload []byte,
	verdict domain.DuplicateVerdict,
) (*domain.Document, domain.DuplicateVerdict, error) {
	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	written, err := uc.storage.Save(ctx, storageKey, bytes.NewReader(payload))
	if err != nil {
		return nil, verdict, domain.WrapError(domain.ErrIO, "save artifact", err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		Filename:         storageKey,
		OriginalFilename: filename,
		FilePath:         storageKey,
		FileSize:         written,
		MimeType:         mimeType,
		ContentHash:      hash,
		HashAlgorithm:    algorithm,
		Status:           domain.StatusPending,
		ExtractionStatus: domain.ExtractionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if verdict.Blocking() {
		doc.Status = domain.StatusDuplicate
		doc.ProcessingError = fmt.Sprintf("duplicate of document %d", verdict.ExistingDocumentID)
	}

	id, err := uc.repo.Create(ctx, doc)
	if domain.IsKind(err, domain.ErrDuplicateContent) && doc.Status != domain.StatusDuplicate {
		// Lost the insert race against a concurrent upload of the same
		// content: re-run as ExactContent and soft-mark.
		refreshed, resolveErr := uc.resolver.Resolve(ctx, hash, filename, int64(len(payload)))
		if resolveErr != nil {
			return nil, verdict, fmt.Errorf("re-resolve after hash conflict: %w", resolveErr)
		}
		verdict = refreshed
		doc.Status = domain.StatusDuplicate
		doc.ProcessingError = fmt.Sprintf("duplicate of document %d", verdict.ExistingDocumentID)
		id, err = uc.repo.Create(ctx, doc)
	}
	if err != nil {
		return nil, verdict, fmt.Errorf("create document record: %w", err)
	}
	doc.ID = id
	return doc, verdict, nil
}

func (uc *IngestUseCase) allowedFile(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range uc.cfg.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
