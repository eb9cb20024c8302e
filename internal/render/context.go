// Package render turns a validated fact record plus computed money,
// benefits, and narrative results into the flat variable map a document
// template consumes, and executes the template.
package render

import (
	"fmt"
	"strings"

	"github.com/brightpath-advice/advicegen/internal/benefits"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
	"github.com/brightpath-advice/advicegen/internal/narrative"
)

// NotIncluded is the sentinel substituted wherever a per-cover-type value
// is absent. Templates never see a raw null.
const NotIncluded = "Not included"

// Inputs gathers everything the context builder flattens.
type Inputs struct {
	Record    *model.FactRecord
	UIState   *model.UIState
	Premiums  money.PremiumSummary
	Benefits  benefits.Summary
	Sections  narrative.Sections
	Reference string
}

// BuildContext flattens the run results into template variables. Structural
// flags are derived here, not copied blindly: the caller-supplied UIState
// wins, with the fact record as fallback only when none was supplied.
func BuildContext(in Inputs) map[string]any {
	ctx := make(map[string]any, 128)

	record := in.Record
	if record == nil {
		record = &model.FactRecord{}
	}

	isPartner := record.HasClientB()
	hasExisting := false
	if in.UIState != nil {
		isPartner = in.UIState.IsPartner
		hasExisting = in.UIState.HasExistingCover &&
			(in.UIState.ClientAHasExisting || (isPartner && in.UIState.ClientBHasExisting))
	}

	ctx["IS_PARTNER"] = isPartner
	ctx["HAS_EXISTING_COVER"] = hasExisting
	ctx["CASE_REFERENCE"] = in.Reference
	ctx["PREMIUM_FREQUENCY"] = string(in.Premiums.Frequency)

	flattenClient(ctx, "CLIENT_A", &record.ClientA)
	if isPartner && record.ClientB != nil {
		flattenClient(ctx, "CLIENT_B", record.ClientB)
	} else {
		flattenClient(ctx, "CLIENT_B", nil)
	}

	flattenPremiums(ctx, in.Premiums)
	flattenBenefits(ctx, in.Benefits)
	flattenSections(ctx, in.Sections)

	ctx["OBJECTIVES"] = record.Objectives
	ctx["SPECIAL_INSTRUCTIONS"] = record.SpecialInstructions
	ctx["MISSING_FIELDS"] = record.MissingFields

	// A before/after transition sentence only makes sense when there is a
	// "before".
	ctx["INSURER_TRANSITION_LABEL"] = ""
	if hasExisting {
		from := record.ClientA.ExistingInsurer
		to := record.ClientA.NewInsurer
		if from != "" && to != "" {
			ctx["INSURER_TRANSITION_LABEL"] = fmt.Sprintf("Summary of changes from %s to %s", from, to)
		}
	}

	return ctx
}

func flattenClient(ctx map[string]any, prefix string, c *model.ClientFacts) {
	if c == nil {
		ctx[prefix+"_NAME"] = ""
		ctx[prefix+"_EMAIL"] = ""
		ctx[prefix+"_PHONE"] = ""
		ctx[prefix+"_EXISTING_INSURER"] = ""
		ctx[prefix+"_NEW_INSURER"] = ""
		for _, ct := range model.CoverTypes {
			ctx[coverKey(prefix, "EXISTING", ct)] = NotIncluded
			ctx[coverKey(prefix, "NEW", ct)] = NotIncluded
		}
		return
	}

	ctx[prefix+"_NAME"] = c.Name
	ctx[prefix+"_EMAIL"] = c.Email
	ctx[prefix+"_PHONE"] = c.Phone
	ctx[prefix+"_EXISTING_INSURER"] = c.ExistingInsurer
	ctx[prefix+"_NEW_INSURER"] = c.NewInsurer

	for _, ct := range model.CoverTypes {
		ctx[coverKey(prefix, "EXISTING", ct)] = coverDisplay(c.ExistingCover, ct)
		ctx[coverKey(prefix, "NEW", ct)] = coverDisplay(c.NewCover, ct)
	}
}

func coverKey(prefix, kind string, ct model.CoverType) string {
	return prefix + "_" + kind + "_" + strings.ToUpper(string(ct))
}

func coverDisplay(covers map[model.CoverType]model.CoverLine, ct model.CoverType) string {
	line, ok := covers[ct]
	if !ok || line.Amount == nil {
		return NotIncluded
	}
	return money.FormatCurrency(*line.Amount)
}

func flattenPremiums(ctx map[string]any, p money.PremiumSummary) {
	ctx["EXISTING_PREMIUM_TOTAL"] = p.ExistingTotalDisplay
	ctx["NEW_PREMIUM_TOTAL"] = p.NewTotalDisplay
	ctx["PREMIUM_DELTA"] = p.DeltaDisplay
	ctx["ANNUAL_EXISTING_PREMIUM"] = p.AnnualExistingDisplay
	ctx["ANNUAL_NEW_PREMIUM"] = p.AnnualNewDisplay

	label := ""
	if p.Label != nil {
		label = string(*p.Label)
	}
	ctx["PREMIUM_CHANGE_LABEL"] = label
}

func flattenBenefits(ctx map[string]any, b benefits.Summary) {
	ctx["ANY_BENEFITS_EXIST"] = b.AnyBenefitsExist

	flattenBenefitClient(ctx, "CLIENT_A", &b.ClientA)
	flattenBenefitClient(ctx, "CLIENT_B", b.ClientB)
}

func flattenBenefitClient(ctx map[string]any, prefix string, c *benefits.ClientBenefits) {
	lines := map[string]benefits.BenefitLine{}
	if c != nil {
		lines["IP"] = c.IncomeProtection
		lines["MP"] = c.MortgageProtection
	} else {
		lines["IP"] = benefits.BenefitLine{}
		lines["MP"] = benefits.BenefitLine{}
	}

	for tag, line := range lines {
		ctx[prefix+"_"+tag+"_MONTHLY"] = orNA(line.MonthlyAmount)
		ctx[prefix+"_"+tag+"_WAIT"] = orNA(line.WaitPeriod)
		ctx[prefix+"_"+tag+"_TERM"] = orNA(line.BenefitPeriod)
		ctx[prefix+"_"+tag+"_PREMIUM"] = orNA(line.Premium)
	}
}

func orNA(s string) string {
	if s == "" {
		return benefits.NotApplicable
	}
	return s
}

func flattenSections(ctx map[string]any, sections narrative.Sections) {
	ctx["DOCUMENT_TITLE"] = ""
	for key, sec := range sections {
		upper := strings.ToUpper(key)
		ctx["SECTION_"+upper+"_INCLUDED"] = sec.Included
		if sec.Included {
			ctx["SECTION_"+upper+"_HTML"] = sec.HTML
		} else {
			// Excluded sections render blank, never placeholder text.
			ctx["SECTION_"+upper+"_HTML"] = ""
		}
	}
	if title, ok := sections["document_title"]; ok && title.Included {
		ctx["DOCUMENT_TITLE"] = title.HTML
	}
}
