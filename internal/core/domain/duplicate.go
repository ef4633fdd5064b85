package domain

type MatchType string

const (
	MatchExactContent MatchType = "exact_content"
	MatchNameAndSize  MatchType = "name_and_size"
	MatchNameOnly     MatchType = "name_only"
	MatchNone         MatchType = "none"
)

// DuplicateVerdict classifies a new artifact against existing records.
// ExistingDocumentID is the canonical (minimum id) match when Match is not
// MatchNone. NameAndSize and NameOnly are advisory: the upload proceeds
// with a warning.
type DuplicateVerdict struct {
	Match              MatchType `json:"match_type"`
	ExistingDocumentID int64     `json:"existing_document_id,omitempty"`
	Message            string    `json:"message,omitempty"`
}

// Blocking reports whether the verdict soft-marks the upload as a duplicate.
func (v DuplicateVerdict) Blocking() bool {
	return v.Match == MatchExactContent
}

func Unique() DuplicateVerdict {
	return DuplicateVerdict{Match: MatchNone}
}
