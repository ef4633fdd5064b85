package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
)

// DashboardUseCase serves the reporting views over documents and aggregates.
type DashboardUseCase struct {
	repo     ports.DocumentRepository
	store    ports.AggregateStore
	exporter ports.ReportExporter
}

func NewDashboardUseCase(repo ports.DocumentRepository, store ports.AggregateStore, exporter ports.ReportExporter) *DashboardUseCase {
	return &DashboardUseCase{repo: repo, store: store, exporter: exporter}
}

func (uc *DashboardUseCase) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	counts, err := uc.repo.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	stats := &domain.DashboardStats{ByStatus: counts}
	for _, n := range counts {
		stats.TotalDocuments += n
	}

	reviews, err := uc.repo.ListNeedingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("list needing review: %w", err)
	}
	stats.NeedingReview = int64(len(reviews))

	vendors, err := uc.store.ListVendors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	for _, v := range vendors {
		stats.TotalAmount += v.TotalAmount
	}

	now := time.Now().UTC()
	days, err := uc.store.ListDayStats(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, fmt.Errorf("list day stats: %w", err)
	}
	var sum float64
	var samples int64
	for _, d := range days {
		sum += d.ConfidenceSum
		samples += d.ConfidenceSampleCnt
	}
	if samples > 0 {
		stats.AvgConfidence = sum / float64(samples)
	}
	return stats, nil
}

// ExportReport renders the vendor and daily-stat aggregates as a workbook.
func (uc *DashboardUseCase) ExportReport(ctx context.Context) ([]byte, error) {
	vendors, err := uc.store.ListVendors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	now := time.Now().UTC()
	days, err := uc.store.ListDayStats(ctx, now.AddDate(0, -3, 0), now)
	if err != nil {
		return nil, fmt.Errorf("list day stats: %w", err)
	}
	payload, err := uc.exporter.Export(ctx, vendors, days)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return payload, nil
}
