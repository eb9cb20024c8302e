// Package extract turns unstructured case material (transcripts, quote
// schedules, adviser notes) into a validated FactRecord via the text
// extraction service. The adapter degrades through an ordered ladder of
// recovery strategies and always returns some record: a total extraction
// failure produces an empty record flagged for manual review, never an
// error that would abort the run.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/resilience"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

// MissingManualReview is the sentinel appended to MissingFields when every
// recovery strategy has been exhausted.
const MissingManualReview = "Full extraction failed — review manually"

// Inputs carries the raw case material handed to the adapter.
type Inputs struct {
	ClientAName string
	ClientBName string

	Transcript     string
	QuoteText      string
	AdviserNotes   string
	DeviationNotes string
}

// Adapter invokes the extraction model and normalizes its output.
type Adapter struct {
	client llm.Client
	model  string
	cfg    config.ExtractConfig
	retry  resilience.RetryConfig
}

// New creates an Adapter using the given model client.
func New(client llm.Client, modelName string, cfg config.ExtractConfig) *Adapter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return &Adapter{client: client, model: modelName, cfg: cfg, retry: retry}
}

// errTryNext signals that a recovery strategy could not produce a record
// and the next strategy in the ladder should run.
var errTryNext = eris.New("extract: try next strategy")

// recoveryStrategy is one rung of the fallback ladder. Each strategy either
// returns a validated record, errTryNext, or a hard error (context
// cancellation only). The ladder is data, not control flow, so the recovery
// policy reads top to bottom.
type recoveryStrategy struct {
	name string
	run  func(ctx context.Context, a *Adapter, in Inputs, docType model.DocumentType, raw string) (*model.FactRecord, error)
}

var factLadder = []recoveryStrategy{
	{name: "strict", run: strictParse},
	{name: "forgiving", run: forgivingRemap},
	{name: "simplified-retry", run: simplifiedRetry},
	{name: "empty-record", run: emptyRecord},
}

// Extract produces a FactRecord from the raw case material. The returned
// error is non-nil only for context cancellation or a completely
// unreachable extraction service; schema and parse failures are absorbed
// by the ladder.
func (a *Adapter) Extract(ctx context.Context, in Inputs, docType model.DocumentType) (*model.FactRecord, error) {
	prompt := a.buildPrompt(in, docType)

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*llm.MessageResponse, error) {
		return a.client.CreateMessage(ctx, llm.MessageRequest{
			Model:     a.model,
			MaxTokens: int64(a.cfg.MaxOutputTokens),
			System:    factSystemPrompt,
			Messages:  []llm.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		// An unreachable service is an integrity failure, not a parse
		// failure; the ladder only absorbs bad output, not no output.
		return nil, eris.Wrap(err, "extract: call extraction service")
	}
	resp.Usage.LogCost(a.model, "extract")

	raw := resp.Text()
	for _, strategy := range factLadder {
		record, err := strategy.run(ctx, a, in, docType, raw)
		if eris.Is(err, errTryNext) {
			zap.L().Debug("extraction strategy exhausted", zap.String("strategy", strategy.name))
			continue
		}
		if err != nil {
			return nil, err
		}
		zap.L().Info("extraction parsed",
			zap.String("strategy", strategy.name),
			zap.Int("missing_fields", len(record.MissingFields)),
		)
		applyOverrides(record, in)
		return record, nil
	}

	// Unreachable: emptyRecord never returns errTryNext.
	return nil, eris.New("extract: recovery ladder exhausted")
}

const factSystemPrompt = `You are a data-entry assistant for an insurance advisory firm. Extract facts from the supplied meeting material into a single JSON object and nothing else.

Hard rules:
- Extract only facts explicitly stated in the material. Never infer or guess.
- Never compute totals, differences, or savings. Emit only the per-client amounts exactly as stated.
- Never decide whether this is a partner or individual case; report a second client only if one is explicitly named.
- Premium and cover amounts must be raw numbers (e.g. 68.49), never formatted strings.
- Any expected fact that is absent from the material goes into "missing_fields" as a short description. Do not invent a value.

Respond with one JSON object matching this shape:
{
  "client_a": {"name": "", "email": "", "phone": "", "existing_insurer": "", "new_insurer": "",
    "existing_cover": {"life": {"amount": null, "insurer": "", "notes": ""}},
    "new_cover": {},
    "existing_premium": null, "new_premium": null,
    "benefits": {"income_protection": {"monthly_amount": "", "wait_period": "", "benefit_period": "", "premium": ""},
                 "mortgage_protection": {"monthly_amount": "", "wait_period": "", "benefit_period": "", "premium": ""}}},
  "client_b": null,
  "premium_frequency": "fortnight|month|year",
  "objectives": "",
  "special_instructions": "",
  "include_sections": {},
  "missing_fields": []
}
Cover type keys: life, trauma, tpd, income_protection, mortgage_protection, accidental_injury, premium_waiver, health.`

// buildPrompt assembles the extraction prompt. Adviser notes and quote
// documents carry authority over the transcript, so they keep their full
// budget while the transcript absorbs truncation first.
func (a *Adapter) buildPrompt(in Inputs, docType model.DocumentType) string {
	var b strings.Builder

	if in.ClientAName != "" {
		fmt.Fprintf(&b, "Client A name (authoritative, use exactly): %s\n", in.ClientAName)
	}
	if in.ClientBName != "" {
		fmt.Fprintf(&b, "Client B name (authoritative, use exactly): %s\n", in.ClientBName)
	}

	if notes := truncate(in.AdviserNotes, a.cfg.NotesBudget); notes != "" {
		b.WriteString("\n--- Adviser Notes (primary, authoritative) ---\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}
	if quote := truncate(in.QuoteText, a.cfg.QuoteBudget); quote != "" {
		b.WriteString("\n--- Quote / Schedule Documents (primary source for cover amounts and premiums) ---\n")
		b.WriteString(quote)
		b.WriteString("\n")
	}
	if transcript := truncate(in.Transcript, a.cfg.TranscriptBudget); transcript != "" {
		b.WriteString("\n--- Meeting Transcript ---\n")
		b.WriteString(transcript)
		b.WriteString("\n")
	}
	if docType.IsAmendment() {
		if dev := truncate(in.DeviationNotes, a.cfg.NotesBudget); dev != "" {
			b.WriteString("\n--- Deviation From Original Recommendation ---\n")
			b.WriteString(dev)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nExtract the fact record JSON now.")
	return b.String()
}

// strictParse locates the first JSON object in the raw response and decodes
// it against the exact schema, rejecting unknown keys. Unknown keys mean the
// model drifted from the requested shape and the forgiving remap should run.
func strictParse(_ context.Context, _ *Adapter, _ Inputs, _ model.DocumentType, raw string) (*model.FactRecord, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, errTryNext
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var record model.FactRecord
	if err := dec.Decode(&record); err != nil {
		return nil, errTryNext
	}
	if err := validateRecord(&record); err != nil {
		return nil, errTryNext
	}
	return &record, nil
}

// forgivingRemap re-parses the response as a loose map and coerces known
// key spellings (camelCase, legacy nestings) into the strict shape. It
// relaxes naming only; it never invents factual content.
func forgivingRemap(_ context.Context, _ *Adapter, _ Inputs, _ model.DocumentType, raw string) (*model.FactRecord, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, errTryNext
	}

	var loose map[string]any
	if err := json.Unmarshal([]byte(cleaned), &loose); err != nil {
		return nil, errTryNext
	}

	record := remapLoose(loose)
	if record == nil {
		return nil, errTryNext
	}
	if err := validateRecord(record); err != nil {
		return nil, errTryNext
	}
	return record, nil
}

// simplifiedRetry issues one more model call asking for a minimal flat
// schema, then runs strict and forgiving parsing over the new response.
func simplifiedRetry(ctx context.Context, a *Adapter, in Inputs, docType model.DocumentType, _ string) (*model.FactRecord, error) {
	if a.client == nil {
		return nil, errTryNext
	}

	resp, err := a.client.CreateMessage(ctx, llm.MessageRequest{
		Model:     a.model,
		MaxTokens: int64(a.cfg.RetryOutputTokens),
		System:    simplifiedSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: a.buildPrompt(in, docType)}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "extract: simplified retry")
		}
		return nil, errTryNext
	}
	resp.Usage.LogCost(a.model, "extract-retry")

	raw := resp.Text()
	if record, err := strictParse(ctx, a, in, docType, raw); err == nil {
		return record, nil
	}
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, errTryNext
	}
	var flat flatRecord
	if err := json.Unmarshal([]byte(cleaned), &flat); err != nil {
		return nil, errTryNext
	}
	record := flat.toRecord()
	if err := validateRecord(record); err != nil {
		return nil, errTryNext
	}
	return record, nil
}

const simplifiedSystemPrompt = `Extract client facts into one small flat JSON object and nothing else. Only explicitly stated facts; raw numbers for amounts; no totals, no guesses.

{"client_a_name": "", "client_b_name": "", "existing_premium_a": null, "new_premium_a": null, "existing_premium_b": null, "new_premium_b": null, "premium_frequency": "", "objectives": "", "missing_fields": []}`

// flatRecord is the minimal schema requested on the simplified retry.
type flatRecord struct {
	ClientAName      string   `json:"client_a_name"`
	ClientBName      string   `json:"client_b_name"`
	ExistingPremiumA *float64 `json:"existing_premium_a"`
	NewPremiumA      *float64 `json:"new_premium_a"`
	ExistingPremiumB *float64 `json:"existing_premium_b"`
	NewPremiumB      *float64 `json:"new_premium_b"`
	PremiumFrequency string   `json:"premium_frequency"`
	Objectives       string   `json:"objectives"`
	MissingFields    []string `json:"missing_fields"`
}

func (f *flatRecord) toRecord() *model.FactRecord {
	record := &model.FactRecord{
		ClientA: model.ClientFacts{
			Name:            f.ClientAName,
			ExistingPremium: f.ExistingPremiumA,
			NewPremium:      f.NewPremiumA,
		},
		PremiumFrequency: model.Frequency(strings.ToLower(f.PremiumFrequency)),
		Objectives:       f.Objectives,
		MissingFields:    f.MissingFields,
	}
	if f.ClientBName != "" || f.ExistingPremiumB != nil || f.NewPremiumB != nil {
		record.ClientB = &model.ClientFacts{
			Name:            f.ClientBName,
			ExistingPremium: f.ExistingPremiumB,
			NewPremium:      f.NewPremiumB,
		}
	}
	return record
}

// emptyRecord is the terminal rung: a valid record with nothing in it,
// flagged for manual review. It never returns errTryNext.
func emptyRecord(_ context.Context, _ *Adapter, _ Inputs, _ model.DocumentType, _ string) (*model.FactRecord, error) {
	return &model.FactRecord{
		MissingFields: []string{MissingManualReview},
	}, nil
}

// applyOverrides enforces caller-supplied client names over whatever the
// model reported.
func applyOverrides(record *model.FactRecord, in Inputs) {
	if in.ClientAName != "" {
		record.ClientA.Name = in.ClientAName
	}
	if in.ClientBName != "" {
		if record.ClientB == nil {
			record.ClientB = &model.ClientFacts{}
		}
		record.ClientB.Name = in.ClientBName
	}
}

// validateRecord applies the structural checks a parsed record must pass
// before the pipeline will accept it.
func validateRecord(record *model.FactRecord) error {
	if record == nil {
		return eris.New("extract: nil record")
	}

	switch record.PremiumFrequency {
	case "", model.FrequencyFortnight, model.FrequencyMonth, model.FrequencyYear:
	default:
		if f, ok := normalizeFrequency(string(record.PremiumFrequency)); ok {
			record.PremiumFrequency = f
		} else {
			return eris.Errorf("extract: unknown premium frequency %q", record.PremiumFrequency)
		}
	}

	if err := validateClient(&record.ClientA); err != nil {
		return err
	}
	if record.ClientB != nil {
		if err := validateClient(record.ClientB); err != nil {
			return err
		}
	}
	return nil
}

func validateClient(c *model.ClientFacts) error {
	for _, covers := range []map[model.CoverType]model.CoverLine{c.ExistingCover, c.NewCover} {
		for ct, line := range covers {
			if !knownCoverType(ct) {
				return eris.Errorf("extract: unknown cover type %q", ct)
			}
			if line.Amount != nil && *line.Amount < 0 {
				return eris.Errorf("extract: negative cover amount for %q", ct)
			}
		}
	}
	if c.ExistingPremium != nil && *c.ExistingPremium < 0 {
		return eris.New("extract: negative existing premium")
	}
	if c.NewPremium != nil && *c.NewPremium < 0 {
		return eris.New("extract: negative new premium")
	}
	return nil
}

func knownCoverType(ct model.CoverType) bool {
	for _, known := range model.CoverTypes {
		if ct == known {
			return true
		}
	}
	return false
}

func normalizeFrequency(s string) (model.Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fortnight", "fortnightly", "biweekly", "bi-weekly":
		return model.FrequencyFortnight, true
	case "month", "monthly":
		return model.FrequencyMonth, true
	case "year", "yearly", "annual", "annually":
		return model.FrequencyYear, true
	}
	return "", false
}

// cleanJSON extracts the first JSON object from text that may contain
// markdown code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func truncate(s string, budget int) string {
	s = strings.TrimSpace(s)
	if budget > 0 && len(s) > budget {
		return s[:budget]
	}
	return s
}
