// Package money is the only code path that produces premium totals, deltas,
// and change labels. Extraction and narrative output are structurally unable
// to carry aggregates; everything money-shaped in a rendered document comes
// from here.
package money

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// ChangeLabel describes the direction of a premium delta.
type ChangeLabel string

const (
	LabelIncrease ChangeLabel = "Increase"
	LabelSavings  ChangeLabel = "Savings"
	LabelNoChange ChangeLabel = "No change"
)

// ChangeTolerance is the band around zero treated as "No change". It absorbs
// display rounding on two-decimal currency amounts.
const ChangeTolerance = 0.005

// PremiumSummary is the derived, read-only premium computation for a case.
// Totals are nil (not zero) when no eligible client contributed an amount;
// delta and label are nil whenever either total is nil.
type PremiumSummary struct {
	Frequency model.Frequency

	ExistingTotal *float64
	NewTotal      *float64
	Delta         *float64
	Label         *ChangeLabel

	AnnualExisting *float64
	AnnualNew      *float64
	AnnualDelta    *float64

	// Pre-formatted currency strings for direct template injection.
	// Empty when the underlying value is nil.
	ExistingTotalDisplay  string
	NewTotalDisplay       string
	DeltaDisplay          string
	AnnualExistingDisplay string
	AnnualNewDisplay      string
}

var printer = message.NewPrinter(language.English)

// FormatCurrency renders an amount as a display string with a leading
// currency symbol, comma grouping, and exactly two decimal places.
func FormatCurrency(v float64) string {
	return printer.Sprintf("$%v", number.Decimal(v,
		number.MinFractionDigits(2),
		number.MaxFractionDigits(2),
	))
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatCurrency(*v)
}

// ParseDollar parses a display-formatted premium string into a raw amount.
// Accepts forms like "$1,234.56/month", "1234.56", "$ 45": the currency
// symbol, commas, whitespace, and anything after a "/" are stripped.
// Returns nil for empty or unparsable input.
func ParseDollar(s string) *float64 {
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseAmount coerces a loosely-typed extracted value into a raw amount.
// Numbers pass through; strings go through ParseDollar. Anything else is nil.
func ParseAmount(v any) *float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		f := n
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		return ParseDollar(n)
	default:
		return nil
	}
}

// ComputePremiumSummary derives the case premium totals from the per-client
// raw amounts. The UIState flags, not the fact record, decide which clients
// contribute: existing amounts count only when the case-level existing-cover
// toggle is on and the client's own flag is set; client B contributes only
// on partner cases.
func ComputePremiumSummary(clientA model.ClientFacts, clientB *model.ClientFacts, ui model.UIState, freq model.Frequency) PremiumSummary {
	s := PremiumSummary{Frequency: freq}

	if ui.HasExistingCover {
		if ui.ClientAHasExisting {
			s.ExistingTotal = addNullable(s.ExistingTotal, clientA.ExistingPremium)
		}
		if ui.IsPartner && ui.ClientBHasExisting && clientB != nil {
			s.ExistingTotal = addNullable(s.ExistingTotal, clientB.ExistingPremium)
		}
	}

	s.NewTotal = addNullable(s.NewTotal, clientA.NewPremium)
	if ui.IsPartner && clientB != nil {
		s.NewTotal = addNullable(s.NewTotal, clientB.NewPremium)
	}

	// Delta and label only when both sides are comparable.
	if s.ExistingTotal != nil && s.NewTotal != nil {
		d := *s.NewTotal - *s.ExistingTotal
		s.Delta = &d
		label := labelFor(d)
		s.Label = &label
	}

	factor := freq.AnnualFactor()
	s.AnnualExisting = scaleNullable(s.ExistingTotal, factor)
	s.AnnualNew = scaleNullable(s.NewTotal, factor)
	s.AnnualDelta = scaleNullable(s.Delta, factor)

	s.ExistingTotalDisplay = formatNullable(s.ExistingTotal)
	s.NewTotalDisplay = formatNullable(s.NewTotal)
	s.DeltaDisplay = formatNullable(s.Delta)
	s.AnnualExistingDisplay = formatNullable(s.AnnualExisting)
	s.AnnualNewDisplay = formatNullable(s.AnnualNew)

	return s
}

func labelFor(delta float64) ChangeLabel {
	switch {
	case delta > ChangeTolerance:
		return LabelIncrease
	case delta < -ChangeTolerance:
		return LabelSavings
	default:
		return LabelNoChange
	}
}

// addNullable sums nullable amounts: nil + nil stays nil so a missing total
// never collapses to zero.
func addNullable(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil {
		sum := *v
		return &sum
	}
	sum := *acc + *v
	return &sum
}

func scaleNullable(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	scaled := *v * factor
	return &scaled
}
