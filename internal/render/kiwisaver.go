package render

import (
	"strconv"
	"strings"

	"github.com/brightpath-advice/advicegen/internal/benefits"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
	"github.com/brightpath-advice/advicegen/internal/narrative"
	"github.com/brightpath-advice/advicegen/internal/providers"
)

// KiwiSaverInputs gathers the KiwiSaver run results for flattening.
type KiwiSaverInputs struct {
	Record      *model.KiwiSaverFactRecord
	CurrentFund *providers.FundFacts
	Recommended *providers.FundFacts
	Sections    narrative.Sections
	Reference   string
}

// BuildKiwiSaverContext flattens a KiwiSaver run into template variables.
// Fund figures the provider did not publish resolve to the "N/A" sentinel,
// never a raw null.
func BuildKiwiSaverContext(in KiwiSaverInputs) map[string]any {
	ctx := make(map[string]any, 48)

	record := in.Record
	if record == nil {
		record = &model.KiwiSaverFactRecord{}
	}

	ctx["CASE_REFERENCE"] = in.Reference
	ctx["CLIENT_NAME"] = record.ClientName
	ctx["CLIENT_EMAIL"] = record.ClientEmail
	ctx["CURRENT_PROVIDER"] = record.CurrentProvider
	ctx["CURRENT_FUND"] = record.CurrentFund
	ctx["RECOMMENDED_PROVIDER"] = record.RecommendedProvider
	ctx["RECOMMENDED_FUND"] = record.RecommendedFund
	ctx["CONTRIBUTION_RATE"] = orSentinel(record.ContributionRate)
	ctx["RISK_PROFILE"] = orSentinel(record.RiskProfile)
	ctx["OBJECTIVES"] = record.Objectives
	ctx["MISSING_FIELDS"] = record.MissingFields

	if record.Balance != nil {
		ctx["BALANCE"] = money.FormatCurrency(*record.Balance)
	} else {
		ctx["BALANCE"] = benefits.NotApplicable
	}

	flattenFund(ctx, "CURRENT_FUND", in.CurrentFund)
	flattenFund(ctx, "RECOMMENDED_FUND", in.Recommended)
	flattenSections(ctx, in.Sections)

	return ctx
}

func flattenFund(ctx map[string]any, prefix string, f *providers.FundFacts) {
	if f == nil {
		f = &providers.FundFacts{}
	}
	ctx[prefix+"_FEE_PCT"] = pctDisplay(f.AnnualFeePct)
	ctx[prefix+"_MEMBER_FEE"] = currencyDisplay(f.MemberFee)
	ctx[prefix+"_RETURN_1YR"] = pctDisplay(f.Return1YrPct)
	ctx[prefix+"_RETURN_5YR"] = pctDisplay(f.Return5YrPct)
	ctx[prefix+"_RETURN_10YR"] = pctDisplay(f.Return10YrPct)
	ctx[prefix+"_AS_OF"] = orSentinel(f.AsOf)
	ctx[prefix+"_SOURCES"] = strings.Join(f.SourceURLs, ", ")

	risk := benefits.NotApplicable
	if f.RiskIndicator != nil {
		risk = riskDisplay(*f.RiskIndicator)
	}
	ctx[prefix+"_RISK"] = risk
	ctx[prefix+"_DATA_AVAILABLE"] = !f.Empty()
}

func pctDisplay(v *float64) string {
	if v == nil {
		return benefits.NotApplicable
	}
	return strconv.FormatFloat(*v, 'f', 2, 64) + "%"
}

func currencyDisplay(v *float64) string {
	if v == nil {
		return benefits.NotApplicable
	}
	return money.FormatCurrency(*v)
}

func riskDisplay(v int) string {
	return strconv.Itoa(v) + " of 7"
}

func orSentinel(s string) string {
	if strings.TrimSpace(s) == "" {
		return benefits.NotApplicable
	}
	return s
}
