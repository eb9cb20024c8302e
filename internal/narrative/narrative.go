// Package narrative produces the prose fragments of an advice document via
// the text-writing service. Narrative is enhancement, not a blocking
// dependency: a failed or malformed response degrades to an empty section
// map with a default title, and the run continues.
package narrative

import (
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

// Section is one narrative fragment. A section with Included=false renders
// as empty, never as placeholder text.
type Section struct {
	Included bool   `json:"included"`
	HTML     string `json:"html"`
}

// Sections maps catalog section keys to written fragments.
type Sections map[string]Section

// forbiddenPhrases never appear in client-facing prose. The writing prompt
// prohibits them and the adapter strips sections that violate the list.
var forbiddenPhrases = []string{
	"guaranteed returns",
	"cannot lose",
	"risk-free",
	"you will save",
	"we guarantee",
}

// Adapter invokes the writing model and validates its output shape.
type Adapter struct {
	client llm.Client
	model  string
	cfg    config.NarrativeConfig
	retry  resilience.RetryConfig
}

// New creates an Adapter using the given model client.
func New(client llm.Client, modelName string, cfg config.NarrativeConfig) *Adapter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "narrative")
	return &Adapter{client: client, model: modelName, cfg: cfg, retry: retry}
}

// Write produces the narrative sections for a document. The error return is
// reserved for context cancellation; service and parse failures degrade to
// Fallback(docType).
func (a *Adapter) Write(ctx context.Context, record *model.FactRecord, docType model.DocumentType) (Sections, error) {
	prompt, err := a.buildPrompt(record, docType)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*llm.MessageResponse, error) {
		return a.client.CreateMessage(ctx, llm.MessageRequest{
			Model:     a.model,
			MaxTokens: int64(a.cfg.MaxOutputTokens),
			System:    systemPrompt(docType),
			Messages:  []llm.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "narrative: call writing service")
		}
		zap.L().Error("writing service failed, using fallback sections", zap.Error(err))
		return Fallback(docType), nil
	}
	resp.Usage.LogCost(a.model, "narrative")

	sections, ok := parseSections(resp.Text(), docType)
	if !ok {
		zap.L().Warn("narrative response unparsable, using fallback sections")
		return Fallback(docType), nil
	}
	return sections, nil
}

// Fallback returns the minimal section map used when writing fails: the
// catalog default title, nothing else. Everything downstream still renders.
func Fallback(docType model.DocumentType) Sections {
	return Sections{
		"document_title": {Included: true, HTML: DefaultTitle(docType)},
	}
}

func systemPrompt(docType model.DocumentType) string {
	tense := "future tense (\"we recommend\", \"this cover will\")"
	if docType.IsAmendment() {
		tense = "past tense (\"we implemented\", \"this cover was placed\")"
	}

	var b strings.Builder
	b.WriteString("You are a compliance-trained writer for a licensed insurance advisory firm. Write the narrative sections of an advice document as HTML fragments.\n\nHard rules:\n")
	fmt.Fprintf(&b, "- Write in %s throughout.\n", tense)
	b.WriteString("- Never state, compute, or imply premium totals, savings, or whether premiums increase or decrease. Figures and their labels are inserted separately by the document system.\n")
	b.WriteString("- Never use any of these phrases: " + strings.Join(forbiddenPhrases, "; ") + ".\n")
	b.WriteString("- Plain professional English. No marketing language.\n")
	b.WriteString("- Respond with one JSON object mapping section keys to {\"included\": bool, \"html\": string}. A section you cannot ground in the supplied facts gets included=false and empty html.\n")
	return b.String()
}

func (a *Adapter) buildPrompt(record *model.FactRecord, docType model.DocumentType) (string, error) {
	catalog, err := SectionCatalog(docType)
	if err != nil {
		return "", err
	}

	factJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "narrative: marshal fact record")
	}

	var b strings.Builder
	b.WriteString("Sections to write (key: purpose):\n")
	for _, def := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", def.Key, def.Title)
	}
	b.WriteString("\nExtracted facts (the only facts you may use):\n")
	b.Write(factJSON)
	b.WriteString("\n\nWrite the section JSON now.")
	return b.String(), nil
}

// parseSections locates the first JSON object in the response and validates
// it against the section catalog. Unknown keys are dropped; required
// catalog keys that are absent come back included=false.
func parseSections(raw string, docType model.DocumentType) (Sections, bool) {
	cleaned := firstJSONObject(raw)
	if cleaned == "" {
		return nil, false
	}

	var loose map[string]Section
	if err := json.Unmarshal([]byte(cleaned), &loose); err != nil {
		return nil, false
	}

	catalog, err := SectionCatalog(docType)
	if err != nil {
		return nil, false
	}

	sections := make(Sections, len(catalog))
	for _, def := range catalog {
		sec, ok := loose[def.Key]
		if !ok {
			if def.Required {
				sections[def.Key] = Section{Included: false}
			}
			continue
		}
		if sec.Included && containsForbiddenPhrase(sec.HTML) {
			zap.L().Warn("narrative section dropped for forbidden phrase", zap.String("section", def.Key))
			sec = Section{Included: false}
		}
		if !sec.Included {
			sec.HTML = ""
		}
		sections[def.Key] = sec
	}

	title, ok := sections["document_title"]
	if !ok || !title.Included || strings.TrimSpace(title.HTML) == "" {
		sections["document_title"] = Section{Included: true, HTML: DefaultTitle(docType)}
	}
	return sections, true
}

func containsForbiddenPhrase(html string) bool {
	lower := strings.ToLower(html)
	for _, phrase := range forbiddenPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func firstJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
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
