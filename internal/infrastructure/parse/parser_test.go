package parse

import (
	"context"
	"testing"

	"github.com/pkaminski/docledger/internal/core/domain"
)

const sampleInvoice = `ACME Pty Ltd
Invoice #: INV-2026-0042
Date: 2026-03-01
From: ACME Pty Ltd

1  Widget assembly   $10.00  $10.00
2  Mounting bracket  $5.50   $11.00

Tax: $2.10
Total: $23.10
`

func fieldByName(t *testing.T, fields []domain.FieldResult, name string) domain.FieldResult {
	t.Helper()
	for _, f := range fields {
		if f.FieldName == name {
			return f
		}
	}
	t.Fatalf("field %s not in results", name)
	return domain.FieldResult{}
}

func TestParseFieldsExtractsInvoiceData(t *testing.T) {
	fields, items, err := New().ParseFields(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	number := fieldByName(t, fields, domain.FieldInvoiceNumber)
	if number.Status != domain.AttemptExtracted || number.Value != "INV-2026-0042" {
		t.Fatalf("unexpected invoice number result %+v", number)
	}
	if number.Confidence != 0.9 {
		t.Fatalf("first pattern should carry 0.9 confidence, got %v", number.Confidence)
	}

	date := fieldByName(t, fields, domain.FieldInvoiceDate)
	if date.Status != domain.AttemptExtracted {
		t.Fatalf("expected extracted date, got %+v", date)
	}

	total := fieldByName(t, fields, domain.FieldTotalAmount)
	if total.Status != domain.AttemptExtracted || total.Value != "23.10" {
		t.Fatalf("unexpected total result %+v", total)
	}

	tax := fieldByName(t, fields, domain.FieldTaxAmount)
	if tax.Status != domain.AttemptExtracted || tax.Value != "2.10" {
		t.Fatalf("unexpected tax result %+v", tax)
	}

	currency := fieldByName(t, fields, domain.FieldCurrency)
	if currency.Value != "USD" {
		t.Fatalf("expected USD from the $ sign, got %+v", currency)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(items))
	}
	if items[0].Description != "Widget assembly" || items[0].Quantity != 1 || items[0].LineTotal != 10.00 {
		t.Fatalf("unexpected first line item %+v", items[0])
	}
	if items[1].LineNumber != 2 {
		t.Fatalf("line numbers must be sequential, got %d", items[1].LineNumber)
	}
}

// Every pattern tried must land in the audit trail, match or not.
func TestParseFieldsRecordsPatternsTried(t *testing.T) {
	fields, _, err := New().ParseFields(context.Background(), "completely unrelated text")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	number := fieldByName(t, fields, domain.FieldInvoiceNumber)
	if number.Status != domain.AttemptFailed {
		t.Fatalf("expected failed attempt, got %+v", number)
	}
	if len(number.PatternsTried) != 3 {
		t.Fatalf("expected all 3 patterns recorded, got %d", len(number.PatternsTried))
	}

	matched, _, err := New().ParseFields(context.Background(), "Invoice #: INV-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first := fieldByName(t, matched, domain.FieldInvoiceNumber)
	if len(first.PatternsTried) != 1 {
		t.Fatalf("first-pattern match should record only that pattern, got %d", len(first.PatternsTried))
	}
}

func TestParseFieldsFallbackPatternLowersConfidence(t *testing.T) {
	fields, _, err := New().ParseFields(context.Background(), "INV #: 778899 due later")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	number := fieldByName(t, fields, domain.FieldInvoiceNumber)
	if number.Status != domain.AttemptExtracted {
		t.Fatalf("expected fallback match, got %+v", number)
	}
	if number.Confidence >= 0.9 {
		t.Fatalf("fallback pattern must score below the primary, got %v", number.Confidence)
	}
}

func TestDetectCurrencyPrefersSpecificSymbols(t *testing.T) {
	cases := map[string]string{
		"Total: €10.00":     "EUR",
		"Total: £10.00":     "GBP",
		"Total: A$10.00":    "AUD",
		"Total: $10.00":     "USD",
		"Amount: 10.00 GBP": "GBP",
	}
	for text, want := range cases {
		result := detectCurrency(text)
		if result.Value != want {
			t.Fatalf("detectCurrency(%q) = %q, want %q", text, result.Value, want)
		}
	}
}

func TestParseLineItemsCapsAtLimit(t *testing.T) {
	text := ""
	for i := 0; i < 15; i++ {
		text += "1  Item  $1.00  $1.00\n"
	}
	items := parseLineItems(text)
	if len(items) != maxLineItems {
		t.Fatalf("expected cap at %d items, got %d", maxLineItems, len(items))
	}
}
