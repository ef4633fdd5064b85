package usecase

import (
	"context"
	"fmt"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// DuplicateResolver classifies a new artifact against existing records.
// It is a pure query: it never mutates state. Match priority is content
// hash, then name+size, then name only; the index returns the minimum-id
// match so the earliest upload is always the canonical reference.
type DuplicateResolver struct {
	index ports.DuplicateIndex
}

func NewDuplicateResolver(index ports.DuplicateIndex) *DuplicateResolver {
	return &DuplicateResolver{index: index}
}

func (r *DuplicateResolver) Resolve(ctx context.Context, hash, originalFilename string, size int64) (domain.DuplicateVerdict, error) {
	if hash != "" {
		doc, err := r.index.FindCanonicalByHash(ctx, hash)
		if err != nil {
			return domain.DuplicateVerdict{}, fmt.Errorf("lookup by content hash: %w", err)
		}
		if doc != nil {
			return domain.DuplicateVerdict{
				Match:              domain.MatchExactContent,
				ExistingDocumentID: doc.ID,
				Message:            fmt.Sprintf("identical file content already exists (document %d)", doc.ID),
			}, nil
		}
	}

	doc, err := r.index.FindByNameAndSize(ctx, originalFilename, size)
	if err != nil {
		return domain.DuplicateVerdict{}, fmt.Errorf("lookup by name and size: %w", err)
	}
	if doc != nil {
		return domain.DuplicateVerdict{
			Match:              domain.MatchNameAndSize,
			ExistingDocumentID: doc.ID,
			Message:            fmt.Sprintf("file with same name and size already exists (document %d)", doc.ID),
		}, nil
	}

	doc, err = r.index.FindByName(ctx, originalFilename)
	if err != nil {
		return domain.DuplicateVerdict{}, fmt.Errorf("lookup by name: %w", err)
	}
	if doc != nil {
		return domain.DuplicateVerdict{
			Match:              domain.MatchNameOnly,
			ExistingDocumentID: doc.ID,
			Message:            fmt.Sprintf("file with same name but different size already exists (document %d)", doc.ID),
		}, nil
	}

	return domain.Unique(), nil
}
