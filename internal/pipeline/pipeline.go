// Package pipeline orchestrates document generation: extraction, narrative
// writing, deterministic money and benefits computation, template
// rendering, preflight validation, and PDF export, with per-phase audit
// records. The orchestrator fails safe: probabilistic steps degrade, the
// deterministic steps gate what reaches the final artifact, and the caller
// always gets at least an HTML document unless rendering itself breaks.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/benefits"
	"github.com/brightpath-advice/advicegen/internal/extract"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
	"github.com/brightpath-advice/advicegen/internal/narrative"
	"github.com/brightpath-advice/advicegen/internal/preflight"
	"github.com/brightpath-advice/advicegen/internal/providers"
	"github.com/brightpath-advice/advicegen/internal/render"
	"github.com/brightpath-advice/advicegen/internal/store"
)

// Extractor produces fact records from raw case material.
type Extractor interface {
	Extract(ctx context.Context, in extract.Inputs, docType model.DocumentType) (*model.FactRecord, error)
	ExtractKiwiSaver(ctx context.Context, in extract.Inputs) (*model.KiwiSaverFactRecord, error)
}

// Writer produces narrative sections.
type Writer interface {
	Write(ctx context.Context, record *model.FactRecord, docType model.DocumentType) (narrative.Sections, error)
	WriteKiwiSaver(ctx context.Context, record *model.KiwiSaverFactRecord, fundFacts json.RawMessage) (narrative.Sections, error)
}

// Exporter renders final HTML to a PDF artifact.
type Exporter interface {
	Export(ctx context.Context, documentID, html string) (string, error)
}

// FundSource resolves fund fact-sheet data for KiwiSaver runs.
type FundSource interface {
	GetPair(ctx context.Context, currentProvider, currentFund, recommendedProvider, recommendedFund string) (current, recommended *providers.FundFacts)
}

// Orchestrator runs the generation state machine.
type Orchestrator struct {
	store     store.Store
	extractor Extractor
	writer    Writer
	exporter  Exporter
	funds     FundSource
}

// New wires an orchestrator. funds may be nil when KiwiSaver documents are
// not served.
func New(st store.Store, extractor Extractor, writer Writer, exporter Exporter, funds FundSource) *Orchestrator {
	return &Orchestrator{store: st, extractor: extractor, writer: writer, exporter: exporter, funds: funds}
}

// Result is what the caller gets back from a completed run. PDFPath is nil
// when preflight blocked export or the export itself failed; the HTML
// artifact is always persisted.
type Result struct {
	RunID      string              `json:"run_id"`
	DocumentID string              `json:"document_id"`
	PDFPath    *string             `json:"pdf_path,omitempty"`
	PDFError   string              `json:"pdf_error,omitempty"`
	Preflight  preflight.Result    `json:"preflight"`
	Phases     []model.PhaseResult `json:"phases,omitempty"`
}

// Generate runs the full pipeline for a case. The returned error is
// reserved for integrity failures: unknown case, unreachable extraction
// service, missing or broken template, storage errors.
func (o *Orchestrator) Generate(ctx context.Context, caseID string, docType model.DocumentType) (*Result, error) {
	if !docType.Valid() {
		return nil, eris.Errorf("pipeline: unknown document type %q", docType)
	}

	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load case %s", caseID)
	}

	run, err := o.store.CreateRun(ctx, caseID, docType)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	r := newRunner(o, run, c)
	if docType == model.DocKiwiSaverAdvice {
		return r.runKiwiSaver(ctx)
	}
	return r.runStandard(ctx, docType)
}

// runner carries per-run state and the phase-tracking helpers.
type runner struct {
	o   *Orchestrator
	run *model.Run
	c   *model.Case
	log *zap.Logger
	res *Result
}

func newRunner(o *Orchestrator, run *model.Run, c *model.Case) *runner {
	return &runner{
		o:   o,
		run: run,
		c:   c,
		log: zap.L().With(zap.String("run_id", run.ID), zap.String("case_id", c.ID)),
		res: &Result{RunID: run.ID},
	}
}

func (r *runner) setStatus(ctx context.Context, status model.RunStatus) {
	if err := r.o.store.UpdateRunStatus(ctx, r.run.ID, status); err != nil {
		r.log.Warn("pipeline: failed to update run status", zap.Error(err))
	}
}

// trackPhase persists a phase record around fn in the audit trail. Phase
// bookkeeping failures are logged, never fatal.
func (r *runner) trackPhase(ctx context.Context, name string, fn func() (*model.PhaseResult, error)) error {
	phase, phaseErr := r.o.store.CreatePhase(ctx, r.run.ID, name)
	if phaseErr != nil {
		r.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	start := time.Now()
	result, fnErr := fn()
	duration := time.Since(start).Milliseconds()

	if result == nil {
		result = &model.PhaseResult{}
	}
	result.Name = name
	result.Duration = duration

	if fnErr != nil {
		result.Status = model.PhaseStatusFailed
		result.Error = fnErr.Error()
		r.log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", duration), zap.Error(fnErr))
	} else if result.Status == "" {
		result.Status = model.PhaseStatusComplete
		r.log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", duration))
	}

	if phase != nil {
		_ = r.o.store.CompletePhase(ctx, phase.ID, result)
	}
	r.res.Phases = append(r.res.Phases, *result)
	return fnErr
}

func (r *runner) fail(ctx context.Context, err error) (*Result, error) {
	r.setStatus(ctx, model.RunStatusFailed)
	return nil, err
}

func (r *runner) inputs() extract.Inputs {
	return extract.Inputs{
		ClientAName:    r.c.ClientAName,
		ClientBName:    r.c.ClientBName,
		Transcript:     r.c.Transcript,
		QuoteText:      r.c.QuoteText,
		AdviserNotes:   r.c.AdviserNotes,
		DeviationNotes: r.c.DeviationNotes,
	}
}

func (r *runner) runStandard(ctx context.Context, docType model.DocumentType) (*Result, error) {
	// Extracting. Parse failures are absorbed inside the adapter; an error
	// here means the service was unreachable, which is fatal.
	r.setStatus(ctx, model.RunStatusExtracting)
	var record *model.FactRecord
	err := r.trackPhase(ctx, "extract", func() (*model.PhaseResult, error) {
		var err error
		record, err = r.o.extractor.Extract(ctx, r.inputs(), docType)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"missing_fields": len(record.MissingFields)}}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	// Writing. The adapter degrades to fallback sections on its own.
	r.setStatus(ctx, model.RunStatusWriting)
	var sections narrative.Sections
	err = r.trackPhase(ctx, "write", func() (*model.PhaseResult, error) {
		var err error
		sections, err = r.o.writer.Write(ctx, record, docType)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"sections": len(sections)}}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	// Computing. Pure functions over validated data; never fails.
	r.setStatus(ctx, model.RunStatusComputing)
	ui := r.effectiveUIState(record)
	var premiums money.PremiumSummary
	var bens benefits.Summary
	_ = r.trackPhase(ctx, "compute", func() (*model.PhaseResult, error) {
		premiums = money.ComputePremiumSummary(record.ClientA, record.ClientB, ui, record.PremiumFrequency)
		nameB := ""
		var rawB *model.RawBenefits
		if record.ClientB != nil {
			nameB = record.ClientB.Name
			rawB = &record.ClientB.Benefits
		}
		bens = benefits.Build(record.ClientA.Name, record.ClientA.Benefits, nameB, rawB, ui)
		return nil, nil
	})

	// Rendering. A broken template is a configuration defect: fatal.
	r.setStatus(ctx, model.RunStatusRendering)
	var html string
	err = r.trackPhase(ctx, "render", func() (*model.PhaseResult, error) {
		tmpl, err := r.o.store.GetActiveTemplate(ctx, docType, "default")
		if err != nil {
			return nil, err
		}
		renderCtx := render.BuildContext(render.Inputs{
			Record:    record,
			UIState:   &ui,
			Premiums:  premiums,
			Benefits:  bens,
			Sections:  sections,
			Reference: r.c.Reference,
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

	// Validating. valid=false does not fail the run; it only blocks export.
	r.setStatus(ctx, model.RunStatusValidating)
	_ = r.trackPhase(ctx, "validate", func() (*model.PhaseResult, error) {
		nameB := ""
		if record.ClientB != nil {
			nameB = record.ClientB.Name
		}
		r.res.Preflight = preflight.Validate(&ui, premiums, bens, html, record.ClientA.Name, nameB)
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
	return r.export(ctx, docType, snapshot, html)
}

// export runs the Exporting state and persists the document. PDF failures
// degrade to an HTML-only document, never a failed run.
func (r *runner) export(ctx context.Context, docType model.DocumentType, snapshot json.RawMessage, html string) (*Result, error) {
	r.setStatus(ctx, model.RunStatusExporting)

	documentID := uuid.New().String()
	var pdfPath *string
	_ = r.trackPhase(ctx, "export", func() (*model.PhaseResult, error) {
		if !r.res.Preflight.Valid {
			r.log.Warn("pipeline: preflight blocked pdf export", zap.Strings("errors", r.res.Preflight.Errors))
			return &model.PhaseResult{
				Status:   model.PhaseStatusSkipped,
				Metadata: map[string]any{"reason": "preflight errors"},
			}, nil
		}
		path, err := r.o.exporter.Export(ctx, documentID, html)
		if err != nil {
			r.res.PDFError = err.Error()
			r.log.Error("pipeline: pdf export failed, saving html only", zap.Error(err))
			return &model.PhaseResult{
				Status:   model.PhaseStatusComplete,
				Metadata: map[string]any{"pdf": false},
			}, nil
		}
		pdfPath = &path
		return &model.PhaseResult{Metadata: map[string]any{"pdf": true}}, nil
	})

	doc, err := r.o.store.CreateDocument(ctx, model.GeneratedDocument{
		ID:           documentID,
		CaseID:       r.c.ID,
		DocType:      docType,
		FactSnapshot: snapshot,
		HTML:         html,
		PDFPath:      pdfPath,
	})
	if err != nil {
		return r.fail(ctx, eris.Wrap(err, "pipeline: persist document"))
	}

	r.setStatus(ctx, model.RunStatusDone)
	r.res.DocumentID = doc.ID
	r.res.PDFPath = doc.PDFPath
	return r.res, nil
}

// effectiveUIState returns the caller-supplied structural flags, falling
// back to extraction-derived structure only when the caller supplied none.
func (r *runner) effectiveUIState(record *model.FactRecord) model.UIState {
	if r.c.UIState != nil {
		return *r.c.UIState
	}

	aHas := record.ClientA.ExistingPremium != nil || len(record.ClientA.ExistingCover) > 0
	bHas := record.ClientB != nil && (record.ClientB.ExistingPremium != nil || len(record.ClientB.ExistingCover) > 0)
	return model.UIState{
		IsPartner:          record.HasClientB(),
		HasExistingCover:   aHas || bHas,
		ClientAHasExisting: aHas,
		ClientBHasExisting: bHas,
	}
}
