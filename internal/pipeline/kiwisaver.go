package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/narrative"
	"github.com/brightpath-advice/advicegen/internal/preflight"
	"github.com/brightpath-advice/advicegen/internal/providers"
	"github.com/brightpath-advice/advicegen/internal/render"
)

// runKiwiSaver is the KiwiSaver sub-pipeline: its own fact schema and a
// deterministic provider fact-sheet fetch between extraction and writing.
// Rendering, validating, and exporting behave as in the insurance pipeline.
func (r *runner) runKiwiSaver(ctx context.Context) (*Result, error) {
	r.setStatus(ctx, model.RunStatusExtracting)
	var record *model.KiwiSaverFactRecord
	err := r.trackPhase(ctx, "extract", func() (*model.PhaseResult, error) {
		var err error
		record, err = r.o.extractor.ExtractKiwiSaver(ctx, r.inputs())
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"missing_fields": len(record.MissingFields)}}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	// Provider fetch. Degrades to all-null fund records; never fatal.
	var current, recommended *providers.FundFacts
	_ = r.trackPhase(ctx, "fetch_funds", func() (*model.PhaseResult, error) {
		if r.o.funds == nil {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		current, recommended = r.o.funds.GetPair(ctx,
			record.CurrentProvider, record.CurrentFund,
			record.RecommendedProvider, record.RecommendedFund,
		)
		return &model.PhaseResult{Metadata: map[string]any{
			"current_available":     current != nil && !current.Empty(),
			"recommended_available": recommended != nil && !recommended.Empty(),
		}}, nil
	})

	r.setStatus(ctx, model.RunStatusWriting)
	var sections narrative.Sections
	err = r.trackPhase(ctx, "write", func() (*model.PhaseResult, error) {
		fundJSON := marshalFunds(current, recommended)
		var err error
		sections, err = r.o.writer.WriteKiwiSaver(ctx, record, fundJSON)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"sections": len(sections)}}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	r.setStatus(ctx, model.RunStatusRendering)
	var html string
	err = r.trackPhase(ctx, "render", func() (*model.PhaseResult, error) {
		tmpl, err := r.o.store.GetActiveTemplate(ctx, model.DocKiwiSaverAdvice, "default")
		if err != nil {
			return nil, err
		}
		renderCtx := render.BuildKiwiSaverContext(render.KiwiSaverInputs{
			Record:      record,
			CurrentFund: current,
			Recommended: recommended,
			Sections:    sections,
			Reference:   r.c.Reference,
		})
		html, err = render.Render(tmpl, renderCtx)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"template_version": tmpl.Version}}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	r.setStatus(ctx, model.RunStatusValidating)
	_ = r.trackPhase(ctx, "validate", func() (*model.PhaseResult, error) {
		r.res.Preflight = preflight.ValidateKiwiSaver(record, current, recommended, html)
		return &model.PhaseResult{Metadata: map[string]any{
			"valid":    r.res.Preflight.Valid,
			"errors":   len(r.res.Preflight.Errors),
			"warnings": len(r.res.Preflight.Warnings),
		}}, nil
	})

	snapshot, err := json.Marshal(record)
	if err != nil {
		return r.fail(ctx, eris.Wrap(err, "pipeline: marshal fact snapshot"))
	}
	return r.export(ctx, model.DocKiwiSaverAdvice, snapshot, html)
}

func marshalFunds(current, recommended *providers.FundFacts) json.RawMessage {
	payload := map[string]*providers.FundFacts{
		"current":     current,
		"recommended": recommended,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("pipeline: marshal fund facts", zap.Error(err))
		return nil
	}
	return data
}
