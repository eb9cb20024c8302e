package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/benefits"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
)

func float64Ptr(v float64) *float64 { return &v }

func labelPtr(l money.ChangeLabel) *money.ChangeLabel { return &l }

func increaseSummary() money.PremiumSummary {
	return money.PremiumSummary{
		ExistingTotal: float64Ptr(60.64),
		NewTotal:      float64Ptr(107.34),
		Delta:         float64Ptr(46.70),
		Label:         labelPtr(money.LabelIncrease),
	}
}

func symmetricBenefits() benefits.Summary {
	return benefits.Summary{
		ClientA: benefits.ClientBenefits{Name: "John"},
		ClientB: &benefits.ClientBenefits{Name: "Jane"},
	}
}

func partnerUI() *model.UIState {
	return &model.UIState{IsPartner: true, HasExistingCover: true, ClientAHasExisting: true}
}

func TestValidate_CleanDocumentPasses(t *testing.T) {
	res := Validate(partnerUI(), increaseSummary(), symmetricBenefits(),
		"<html><body><p>Your premium will change by $46.70.</p></body></html>", "John Smith", "Jane Smith")

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidate_LabelSignMismatchBlocks(t *testing.T) {
	s := increaseSummary()
	s.Label = labelPtr(money.LabelSavings)

	res := Validate(partnerUI(), s, symmetricBenefits(), "<html></html>", "John", "Jane")
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "disagrees with delta")
}

func TestValidate_SavingsTextOverIncreaseBlocks(t *testing.T) {
	html := "<html><body><p>Great news: these savings will continue every fortnight!</p></body></html>"

	res := Validate(partnerUI(), increaseSummary(), symmetricBenefits(), html, "John", "Jane")
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "increase of 46.70")
}

func TestValidate_SavingsTextWithGenuineSavingsPasses(t *testing.T) {
	s := money.PremiumSummary{
		ExistingTotal: float64Ptr(107.34),
		NewTotal:      float64Ptr(60.64),
		Delta:         float64Ptr(-46.70),
		Label:         labelPtr(money.LabelSavings),
	}
	html := "<p>These savings apply from your next renewal.</p>"

	res := Validate(partnerUI(), s, symmetricBenefits(), html, "John", "Jane")
	assert.True(t, res.Valid)
}

func TestValidate_UnresolvedPlaceholderBlocks(t *testing.T) {
	html := "<p>Prepared for {{ CLIENT_A_NAME }}</p>{% if IS_PARTNER %}x{% endif %}"

	res := Validate(partnerUI(), increaseSummary(), symmetricBenefits(), html, "John", "Jane")
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "{{ CLIENT_A_NAME }}")
}

func TestValidate_TemplateCommentsAreIgnored(t *testing.T) {
	html := "<p>fine</p><!-- note -->{# internal template comment #}"

	res := Validate(partnerUI(), increaseSummary(), symmetricBenefits(), html, "John", "Jane")
	assert.True(t, res.Valid)
}

func TestValidate_NullTotalsNeedNoLabel(t *testing.T) {
	s := money.PremiumSummary{NewTotal: float64Ptr(107.34)}
	ui := &model.UIState{IsPartner: false}

	res := Validate(ui, s, benefits.Summary{}, "<p>ok</p>", "John", "")
	assert.True(t, res.Valid)
	assert.Empty(t, res.Warnings)
}

func TestValidate_LabelWithoutDeltaBlocks(t *testing.T) {
	s := money.PremiumSummary{Label: labelPtr(money.LabelNoChange)}

	res := Validate(partnerUI(), s, symmetricBenefits(), "<p>ok</p>", "John", "Jane")
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "without a computable delta")
}

func TestValidate_WarningsDoNotBlock(t *testing.T) {
	bens := symmetricBenefits()
	bens.ClientA.IncomeProtection = benefits.BenefitLine{
		MonthlyAmount: "$4,500", WaitPeriod: "N/A", BenefitPeriod: "N/A", Premium: "N/A",
	}

	res := Validate(partnerUI(), increaseSummary(), bens, "<p>ok</p>", "John", "Jane")
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "asymmetric benefits")
}

func TestValidate_MissingClientNamesWarn(t *testing.T) {
	res := Validate(partnerUI(), increaseSummary(), symmetricBenefits(), "<p>ok</p>", "Client A", "")
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "client A")
	assert.Contains(t, res.Warnings[1], "client B")
}

func TestValidate_ExistingToggleWithoutPremiumWarns(t *testing.T) {
	s := money.PremiumSummary{NewTotal: float64Ptr(107.34)}

	res := Validate(partnerUI(), s, symmetricBenefits(), "<p>ok</p>", "John", "Jane")
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "existing-cover toggle")
}

func TestValidate_MissingNewTotalWarns(t *testing.T) {
	ui := &model.UIState{IsPartner: false}

	res := Validate(ui, money.PremiumSummary{}, benefits.Summary{}, "<p>ok</p>", "John", "")
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no new premium total")
}
