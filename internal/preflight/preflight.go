// Package preflight is the post-render, pre-export safety gate. The
// upstream extraction and writing steps are probabilistic; this validator
// is the deterministic check that the artifact about to become a regulated
// PDF does not misstate the money facts. Errors block PDF export (the HTML
// is still saved for adviser review); warnings never block.
package preflight

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brightpath-advice/advicegen/internal/benefits"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
)

// Result is the validator verdict. Valid is false exactly when Errors is
// non-empty.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Placeholder syntax left unresolved in final output. Template comments
// ({# ... #}) are stripped by the engine and excluded here.
var (
	unresolvedVar   = regexp.MustCompile(`\{\{[^}]*\}\}`)
	unresolvedBlock = regexp.MustCompile(`\{%[^}]*%\}`)
)

// defaultClientNames are placeholder names that indicate a client was never
// actually identified.
var defaultClientNames = map[string]bool{
	"client":   true,
	"client a": true,
	"client b": true,
	"tbc":      true,
	"tbd":      true,
}

// Validate inspects the rendered output and the computed money facts.
func Validate(ui *model.UIState, premiums money.PremiumSummary, bens benefits.Summary, renderedHTML string, clientAName, clientBName string) Result {
	var res Result

	res.checkLabelSign(premiums)
	res.checkRenderedSavingsClaim(premiums, renderedHTML)
	res.checkUnresolvedPlaceholders(renderedHTML)

	res.warnClientNames(ui, clientAName, clientBName)
	res.warnAsymmetricBenefits(ui, bens)
	res.warnPremiumGaps(ui, premiums)

	res.Valid = len(res.Errors) == 0
	return res
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// checkLabelSign recomputes the change label from the delta and rejects any
// disagreement. A document must never call an increase a saving.
func (r *Result) checkLabelSign(p money.PremiumSummary) {
	if p.Delta == nil {
		if p.Label != nil {
			r.errorf("premium label %q present without a computable delta", *p.Label)
		}
		return
	}
	if p.Label == nil {
		r.errorf("premium delta %.2f present without a label", *p.Delta)
		return
	}

	expected := money.LabelNoChange
	switch {
	case *p.Delta > money.ChangeTolerance:
		expected = money.LabelIncrease
	case *p.Delta < -money.ChangeTolerance:
		expected = money.LabelSavings
	}
	if *p.Label != expected {
		r.errorf("premium label %q disagrees with delta %.2f (expected %q)", *p.Label, *p.Delta, expected)
	}
}

// checkRenderedSavingsClaim guards against an edited template hardcoding
// savings language over a computed increase.
func (r *Result) checkRenderedSavingsClaim(p money.PremiumSummary, html string) {
	if p.Delta == nil || *p.Delta <= money.ChangeTolerance {
		return
	}
	if strings.Contains(strings.ToLower(html), strings.ToLower(string(money.LabelSavings))) {
		r.errorf("rendered document mentions %q while the computed premium delta is an increase of %.2f", money.LabelSavings, *p.Delta)
	}
}

func (r *Result) checkUnresolvedPlaceholders(html string) {
	for _, re := range []*regexp.Regexp{unresolvedVar, unresolvedBlock} {
		if matches := re.FindAllString(html, 3); len(matches) > 0 {
			r.errorf("unresolved template placeholder in rendered output: %s", strings.Join(matches, ", "))
		}
	}
}

func (r *Result) warnClientNames(ui *model.UIState, nameA, nameB string) {
	if isMissingName(nameA) {
		r.warnf("client A has a missing or placeholder name")
	}
	if ui != nil && ui.IsPartner && isMissingName(nameB) {
		r.warnf("partner case but client B has a missing or placeholder name")
	}
}

func isMissingName(name string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(name))
	return trimmed == "" || defaultClientNames[trimmed]
}

// warnAsymmetricBenefits flags a partner case where one client has benefit
// detail and the other has none. Not necessarily wrong, but worth a look.
func (r *Result) warnAsymmetricBenefits(ui *model.UIState, b benefits.Summary) {
	if ui == nil || !ui.IsPartner || b.ClientB == nil {
		return
	}
	hasA := b.ClientA.HasAny()
	hasB := b.ClientB.HasAny()
	if hasA != hasB {
		with, without := b.ClientA.Name, b.ClientB.Name
		if hasB {
			with, without = without, with
		}
		r.warnf("asymmetric benefits: %s has benefit detail but %s has none", with, without)
	}
}

func (r *Result) warnPremiumGaps(ui *model.UIState, p money.PremiumSummary) {
	if p.NewTotal == nil {
		r.warnf("no new premium total could be computed")
	}
	if ui != nil && ui.HasExistingCover && p.ExistingTotal == nil {
		r.warnf("existing-cover toggle is on but no existing premium was found")
	}
}
