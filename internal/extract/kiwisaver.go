package extract

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/resilience"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

const kiwiSaverSystemPrompt = `You are a data-entry assistant for a KiwiSaver advice firm. Extract facts from the supplied meeting material into a single JSON object and nothing else.

Hard rules:
- Extract only facts explicitly stated in the material. Never infer or guess.
- Never compute fees, returns, or projections. Fund figures come from official fact sheets, not from this extraction.
- Balance must be a raw number, never a formatted string.
- Any expected fact that is absent goes into "missing_fields". Do not invent a value.

Respond with one JSON object:
{"client_name": "", "client_email": "", "current_provider": "", "current_fund": "", "recommended_provider": "", "recommended_fund": "", "balance": null, "contribution_rate": "", "risk_profile": "", "objectives": "", "missing_fields": []}`

// ExtractKiwiSaver produces the KiwiSaver fact schema from the raw case
// material. Same degradation contract as Extract: parse failures end in an
// empty record flagged for manual review, not an error.
func (a *Adapter) ExtractKiwiSaver(ctx context.Context, in Inputs) (*model.KiwiSaverFactRecord, error) {
	prompt := a.buildPrompt(in, model.DocKiwiSaverAdvice)

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*llm.MessageResponse, error) {
		return a.client.CreateMessage(ctx, llm.MessageRequest{
			Model:     a.model,
			MaxTokens: int64(a.cfg.MaxOutputTokens),
			System:    kiwiSaverSystemPrompt,
			Messages:  []llm.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: call extraction service")
	}
	resp.Usage.LogCost(a.model, "extract-kiwisaver")

	record, ok := parseKiwiSaver(resp.Text())
	if !ok {
		zap.L().Warn("kiwisaver extraction unparsable, falling back to empty record")
		return emptyKiwiSaverRecord(in), nil
	}
	if in.ClientAName != "" {
		record.ClientName = in.ClientAName
	}
	return record, nil
}

func parseKiwiSaver(raw string) (*model.KiwiSaverFactRecord, bool) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var record model.KiwiSaverFactRecord
	if err := dec.Decode(&record); err == nil {
		if record.Balance == nil || *record.Balance >= 0 {
			return &record, true
		}
	}

	// Forgiving pass: naming drift only.
	var loose map[string]any
	if err := json.Unmarshal([]byte(cleaned), &loose); err != nil {
		return nil, false
	}
	record = model.KiwiSaverFactRecord{
		ClientName:          lookupString(loose, "client_name", "clientName", "name"),
		ClientEmail:         lookupString(loose, "client_email", "clientEmail", "email"),
		CurrentProvider:     lookupString(loose, "current_provider", "currentProvider", "provider"),
		CurrentFund:         lookupString(loose, "current_fund", "currentFund", "fund"),
		RecommendedProvider: lookupString(loose, "recommended_provider", "recommendedProvider"),
		RecommendedFund:     lookupString(loose, "recommended_fund", "recommendedFund"),
		Balance:             lookupAmount(loose, "balance", "current_balance", "currentBalance"),
		ContributionRate:    lookupString(loose, "contribution_rate", "contributionRate"),
		RiskProfile:         lookupString(loose, "risk_profile", "riskProfile"),
		Objectives:          lookupString(loose, "objectives", "goals"),
	}
	if list := lookupSlice(loose, "missing_fields", "missingFields"); list != nil {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				record.MissingFields = append(record.MissingFields, s)
			}
		}
	}
	if record.ClientName == "" && record.CurrentProvider == "" && record.RecommendedProvider == "" && record.Balance == nil {
		return nil, false
	}
	return &record, true
}

func emptyKiwiSaverRecord(in Inputs) *model.KiwiSaverFactRecord {
	return &model.KiwiSaverFactRecord{
		ClientName:    in.ClientAName,
		MissingFields: []string{MissingManualReview},
	}
}
