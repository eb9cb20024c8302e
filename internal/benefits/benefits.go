// Package benefits merges per-client monthly benefit facts into a symmetric
// structure with explicit "N/A" sentinels, so templates never see a hole.
package benefits

import (
	"strings"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// NotApplicable is the sentinel substituted for any absent benefit field.
const NotApplicable = "N/A"

// BenefitLine is one benefit (income or mortgage protection) with every
// field guaranteed non-blank.
type BenefitLine struct {
	MonthlyAmount string
	WaitPeriod    string
	BenefitPeriod string
	Premium       string
}

// HasData reports whether any field on the line holds a real value.
func (l BenefitLine) HasData() bool {
	for _, f := range []string{l.MonthlyAmount, l.WaitPeriod, l.BenefitPeriod, l.Premium} {
		if f != "" && f != NotApplicable {
			return true
		}
	}
	return false
}

// ClientBenefits is one client's benefit block.
type ClientBenefits struct {
	Name               string
	IncomeProtection   BenefitLine
	MortgageProtection BenefitLine
}

// HasAny reports whether the client has at least one real benefit field
// across both benefit types.
func (c ClientBenefits) HasAny() bool {
	return c.IncomeProtection.HasData() || c.MortgageProtection.HasData()
}

// Summary is the derived benefits view for a case. ClientB is nil unless
// the case is a partner case; it is never an empty block.
type Summary struct {
	ClientA ClientBenefits
	ClientB *ClientBenefits

	// AnyBenefitsExist decides whether the benefits section renders at all.
	AnyBenefitsExist bool
}

// Build assembles the benefits summary. Client B's raw input is ignored
// entirely for individual cases regardless of what extraction produced.
func Build(nameA string, rawA model.RawBenefits, nameB string, rawB *model.RawBenefits, ui model.UIState) Summary {
	s := Summary{
		ClientA: buildClient(nameA, rawA),
	}

	if ui.IsPartner {
		var raw model.RawBenefits
		if rawB != nil {
			raw = *rawB
		}
		cb := buildClient(nameB, raw)
		s.ClientB = &cb
	}

	s.AnyBenefitsExist = s.ClientA.HasAny() || (s.ClientB != nil && s.ClientB.HasAny())
	return s
}

func buildClient(name string, raw model.RawBenefits) ClientBenefits {
	return ClientBenefits{
		Name:               orNA(name),
		IncomeProtection:   buildLine(raw.IncomeProtection),
		MortgageProtection: buildLine(raw.MortgageProtection),
	}
}

func buildLine(d model.BenefitDetail) BenefitLine {
	return BenefitLine{
		MonthlyAmount: orNA(d.MonthlyAmount),
		WaitPeriod:    orNA(d.WaitPeriod),
		BenefitPeriod: orNA(d.BenefitPeriod),
		Premium:       orNA(d.Premium),
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotApplicable
	}
	return s
}
