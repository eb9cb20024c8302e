package preflight

import (
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/providers"
)

// ValidateKiwiSaver is the safety gate for KiwiSaver advice documents.
// There is no premium arithmetic to cross-check; the gate is unresolved
// placeholders plus completeness warnings over the fund facts.
func ValidateKiwiSaver(record *model.KiwiSaverFactRecord, current, recommended *providers.FundFacts, renderedHTML string) Result {
	var res Result

	res.checkUnresolvedPlaceholders(renderedHTML)

	if record == nil || isMissingName(record.ClientName) {
		res.warnf("client has a missing or placeholder name")
	}
	if record != nil && record.RecommendedFund == "" {
		res.warnf("no recommended fund was identified")
	}
	if recommended == nil || recommended.Empty() {
		res.warnf("no fact-sheet data available for the recommended fund")
	}
	if record != nil && record.CurrentFund != "" && (current == nil || current.Empty()) {
		res.warnf("no fact-sheet data available for the current fund")
	}

	res.Valid = len(res.Errors) == 0
	return res
}
