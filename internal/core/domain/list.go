package domain

// ListFilter narrows document listings. Zero values mean "no constraint".
type ListFilter struct {
	Status      DocumentStatus
	NeedsReview *bool
	VendorName  string
	Limit       int
	Offset      int
}

// DashboardStats is the reporting roll-up served to UI collaborators.
type DashboardStats struct {
	TotalDocuments int64                    `json:"total_documents"`
	ByStatus       map[DocumentStatus]int64 `json:"by_status"`
	NeedingReview  int64                    `json:"needing_review"`
	AvgConfidence  float64                  `json:"avg_confidence"`
	TotalAmount    float64                  `json:"total_amount"`
}
