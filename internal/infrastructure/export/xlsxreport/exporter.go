// Package xlsxreport renders vendor and daily-stat aggregates as an xlsx
// workbook for downstream reporting consumers.
package xlsxreport

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pkaminski/docledger/internal/core/domain"
)

const (
	vendorSheet = "Vendors"
	statsSheet  = "Daily Stats"
)

type Exporter struct{}

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) Export(_ context.Context, vendors []domain.Vendor, stats []domain.ProcessingStats) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := e.writeVendors(f, vendors); err != nil {
		return nil, err
	}
	if err := e.writeStats(f, stats); err != nil {
		return nil, err
	}
	// Drop the default sheet so the workbook opens on the vendor roll-up.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) writeVendors(f *excelize.File, vendors []domain.Vendor) error {
	if _, err := f.NewSheet(vendorSheet); err != nil {
		return fmt.Errorf("create vendor sheet: %w", err)
	}
	header := []any{"Vendor", "Documents", "Total Amount", "Last Invoice"}
	if err := f.SetSheetRow(vendorSheet, "A1", &header); err != nil {
		return fmt.Errorf("write vendor header: %w", err)
	}
	for i, v := range vendors {
		lastInvoice := ""
		if v.LastInvoiceDate != nil {
			lastInvoice = v.LastInvoiceDate.Format("2006-01-02")
		}
		row := []any{v.Name, v.DocumentCount, v.TotalAmount, lastInvoice}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(vendorSheet, cell, &row); err != nil {
			return fmt.Errorf("write vendor row %d: %w", i+1, err)
		}
	}
	return nil
}

func (e *Exporter) writeStats(f *excelize.File, stats []domain.ProcessingStats) error {
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("create stats sheet: %w", err)
	}
	header := []any{"Date", "Processed", "Completed", "Failed", "Flagged For Review", "Avg Confidence"}
	if err := f.SetSheetRow(statsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	for i, s := range stats {
		row := []any{
			s.StatDate.Format("2006-01-02"),
			s.DocumentsProcessed,
			s.CompletedCount,
			s.FailedCount,
			s.ReviewFlaggedCount,
			s.AverageConfidence(),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(statsSheet, cell, &row); err != nil {
			return fmt.Errorf("write stats row %d: %w", i+1, err)
		}
	}
	return nil
}
