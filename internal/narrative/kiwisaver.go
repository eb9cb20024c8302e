package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/resilience"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

// WriteKiwiSaver produces the narrative sections for a KiwiSaver advice
// document. fundFacts is the provider fact-sheet data fetched upstream; the
// writer may describe those figures but never computes or projects from
// them. Degrades the same way as Write.
func (a *Adapter) WriteKiwiSaver(ctx context.Context, record *model.KiwiSaverFactRecord, fundFacts json.RawMessage) (Sections, error) {
	prompt, err := a.buildKiwiSaverPrompt(record, fundFacts)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*llm.MessageResponse, error) {
		return a.client.CreateMessage(ctx, llm.MessageRequest{
			Model:     a.model,
			MaxTokens: int64(a.cfg.MaxOutputTokens),
			System:    systemPrompt(model.DocKiwiSaverAdvice),
			Messages:  []llm.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "narrative: call writing service")
		}
		zap.L().Error("writing service failed, using fallback sections", zap.Error(err))
		return Fallback(model.DocKiwiSaverAdvice), nil
	}
	resp.Usage.LogCost(a.model, "narrative-kiwisaver")

	sections, ok := parseSections(resp.Text(), model.DocKiwiSaverAdvice)
	if !ok {
		zap.L().Warn("kiwisaver narrative response unparsable, using fallback sections")
		return Fallback(model.DocKiwiSaverAdvice), nil
	}
	return sections, nil
}

func (a *Adapter) buildKiwiSaverPrompt(record *model.KiwiSaverFactRecord, fundFacts json.RawMessage) (string, error) {
	catalog, err := SectionCatalog(model.DocKiwiSaverAdvice)
	if err != nil {
		return "", err
	}

	factJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "narrative: marshal kiwisaver fact record")
	}

	var b strings.Builder
	b.WriteString("Sections to write (key: purpose):\n")
	for _, def := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", def.Key, def.Title)
	}
	b.WriteString("\nExtracted facts (the only client facts you may use):\n")
	b.Write(factJSON)
	if len(fundFacts) > 0 {
		b.WriteString("\n\nOfficial fund fact-sheet data (cite as stated; null means unavailable, say so rather than estimating):\n")
		b.Write(fundFacts)
	}
	b.WriteString("\n\nWrite the section JSON now.")
	return b.String(), nil
}
