// Package parse is the built-in field parser: ordered regex patterns over
// recognized text, producing field candidates with confidences. The core
// treats it as a black box behind ports.FieldParser.
package parse

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkaminski/docledger/internal/core/domain"
)

type fieldPattern struct {
	expr       *regexp.Regexp
	confidence float64
}

// Patterns are ordered most-specific first; the first match wins and its
// position determines the candidate's confidence.
var invoiceNumberPatterns = []fieldPattern{
	{regexp.MustCompile(`(?i)invoice\s*#?\s*:?\s*([A-Z0-9][A-Z0-9\-]+)`), 0.9},
	{regexp.MustCompile(`(?i)inv\s*#?\s*:?\s*([A-Z0-9][A-Z0-9\-]+)`), 0.8},
	{regexp.MustCompile(`(?i)number\s*:?\s*([A-Z0-9][A-Z0-9\-]+)`), 0.6},
}

var datePatterns = []fieldPattern{
	{regexp.MustCompile(`(?i)date\s*:?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`), 0.85},
	{regexp.MustCompile(`(?i)issued\s*:?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`), 0.8},
	{regexp.MustCompile(`(?i)date\s*:?\s*(\d{4}-\d{2}-\d{2})`), 0.9},
	{regexp.MustCompile(`(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`), 0.5},
}

var totalPatterns = []fieldPattern{
	{regexp.MustCompile(`(?i)total\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.9},
	{regexp.MustCompile(`(?i)amount\s*due\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.85},
	{regexp.MustCompile(`(?i)balance\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.7},
}

var taxPatterns = []fieldPattern{
	{regexp.MustCompile(`(?i)tax\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.8},
	{regexp.MustCompile(`(?i)vat\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.8},
	{regexp.MustCompile(`(?i)gst\s*:?\s*[$€£]?\s*(\d+(?:[.,]\d{2})?)`), 0.8},
}

var vendorPatterns = []fieldPattern{
	{regexp.MustCompile(`(?i)(?:from|vendor|supplier|billed\s+by)\s*:?\s*([A-Za-z][A-Za-z0-9 .,&'\-]{2,60})`), 0.75},
}

var currencyPatterns = []struct {
	code string
	expr *regexp.Regexp
}{
	{"EUR", regexp.MustCompile(`(?i)€|EUR`)},
	{"GBP", regexp.MustCompile(`(?i)£|GBP`)},
	{"AUD", regexp.MustCompile(`(?i)A\$|AUD`)},
	{"USD", regexp.MustCompile(`(?i)\$|USD`)},
}

var lineItemPattern = regexp.MustCompile(`^(\d+)\s+(.+?)\s+[$€£]?(\d+(?:\.\d{2})?)\s+[$€£]?(\d+(?:\.\d{2})?)$`)

const maxLineItems = 10

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) ParseFields(_ context.Context, text string) ([]domain.FieldResult, []domain.LineItem, error) {
	fields := []domain.FieldResult{
		matchField(domain.FieldInvoiceNumber, text, invoiceNumberPatterns),
		matchField(domain.FieldInvoiceDate, text, datePatterns),
		matchField(domain.FieldTotalAmount, text, totalPatterns),
		matchField(domain.FieldTaxAmount, text, taxPatterns),
		matchField(domain.FieldVendorName, text, vendorPatterns),
		detectCurrency(text),
	}
	return fields, parseLineItems(text), nil
}

// matchField tries patterns in order and records every expression tried, so
// the audit row shows what was attempted even when nothing matched.
func matchField(name, text string, patterns []fieldPattern) domain.FieldResult {
	result := domain.FieldResult{
		FieldName:        name,
		ExtractionMethod: "regex",
		Status:           domain.AttemptFailed,
	}
	for _, p := range patterns {
		result.PatternsTried = append(result.PatternsTried, p.expr.String())
		match := p.expr.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		result.Value = strings.TrimSpace(match[1])
		result.Confidence = p.confidence
		result.Status = domain.AttemptExtracted
		return result
	}
	return result
}

func detectCurrency(text string) domain.FieldResult {
	result := domain.FieldResult{
		FieldName:        domain.FieldCurrency,
		ExtractionMethod: "regex",
		Status:           domain.AttemptFailed,
	}
	for _, c := range currencyPatterns {
		result.PatternsTried = append(result.PatternsTried, c.expr.String())
		if c.expr.MatchString(text) {
			result.Value = c.code
			result.Confidence = 0.7
			result.Status = domain.AttemptExtracted
			return result
		}
	}
	return result
}

func parseLineItems(text string) []domain.LineItem {
	var items []domain.LineItem
	for _, line := range strings.Split(text, "\n") {
		match := lineItemPattern.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		quantity, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		unitPrice, err := strconv.ParseFloat(match[3], 64)
		if err != nil {
			continue
		}
		lineTotal, err := strconv.ParseFloat(match[4], 64)
		if err != nil {
			continue
		}
		items = append(items, domain.LineItem{
			LineNumber:  len(items) + 1,
			Description: strings.TrimSpace(match[2]),
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
		if len(items) == maxLineItems {
			break
		}
	}
	return items
}
