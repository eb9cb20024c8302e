package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/extract"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/narrative"
	"github.com/brightpath-advice/advicegen/internal/providers"
	"github.com/brightpath-advice/advicegen/internal/store"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

func float64Ptr(v float64) *float64 { return &v }

// --- stubs ---

type stubExtractor struct {
	record   *model.FactRecord
	ksRecord *model.KiwiSaverFactRecord
	err      error
}

func (s *stubExtractor) Extract(context.Context, extract.Inputs, model.DocumentType) (*model.FactRecord, error) {
	return s.record, s.err
}

func (s *stubExtractor) ExtractKiwiSaver(context.Context, extract.Inputs) (*model.KiwiSaverFactRecord, error) {
	return s.ksRecord, s.err
}

type stubWriter struct {
	sections narrative.Sections
}

func (s *stubWriter) Write(context.Context, *model.FactRecord, model.DocumentType) (narrative.Sections, error) {
	return s.sections, nil
}

func (s *stubWriter) WriteKiwiSaver(context.Context, *model.KiwiSaverFactRecord, json.RawMessage) (narrative.Sections, error) {
	return s.sections, nil
}

type stubExporter struct {
	err   error
	calls int
}

func (s *stubExporter) Export(_ context.Context, documentID, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return filepath.Join("/out", documentID+".pdf"), nil
}

type stubFunds struct {
	current, recommended *providers.FundFacts
}

func (s *stubFunds) GetPair(context.Context, string, string, string, string) (*providers.FundFacts, *providers.FundFacts) {
	return s.current, s.recommended
}

// --- fixtures ---

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCase(t *testing.T, st store.Store) *model.Case {
	t.Helper()
	c, err := st.CreateCase(context.Background(), model.Case{
		Reference:   "SMITH-2026-001",
		ClientAName: "John Smith",
		ClientBName: "Jane Smith",
		Transcript:  "meeting transcript",
		UIState: &model.UIState{
			IsPartner:          true,
			HasExistingCover:   true,
			ClientAHasExisting: true,
			ClientBHasExisting: true,
		},
	})
	require.NoError(t, err)
	return c
}

func seedTemplate(t *testing.T, st store.Store, docType model.DocumentType, html string) {
	t.Helper()
	_, err := st.SaveTemplate(context.Background(), model.Template{
		DocType: docType,
		Variant: "default",
		HTML:    html,
		Active:  true,
	})
	require.NoError(t, err)
}

func scenarioRecord() *model.FactRecord {
	return &model.FactRecord{
		ClientA: model.ClientFacts{
			Name:            "John Smith",
			ExistingPremium: float64Ptr(37.96),
			NewPremium:      float64Ptr(68.49),
		},
		ClientB: &model.ClientFacts{
			Name:            "Jane Smith",
			ExistingPremium: float64Ptr(22.68),
			NewPremium:      float64Ptr(38.85),
		},
		PremiumFrequency: model.FrequencyFortnight,
	}
}

func titleSections(title string) narrative.Sections {
	return narrative.Sections{
		"document_title": {Included: true, HTML: title},
	}
}

const soaTemplate = `<html><head></head><body>
<h1>{{ DOCUMENT_TITLE }}</h1>
<p>{{ CLIENT_A_NAME }}{% if IS_PARTNER %} and {{ CLIENT_B_NAME }}{% endif %}</p>
<p>Existing: {{ EXISTING_PREMIUM_TOTAL }} New: {{ NEW_PREMIUM_TOTAL }} ({{ PREMIUM_CHANGE_LABEL }})</p>
</body></html>`

func TestGenerate_HappyPath(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)
	seedTemplate(t, st, model.DocStatementOfAdvice, soaTemplate)

	exporter := &stubExporter{}
	o := New(st, &stubExtractor{record: scenarioRecord()}, &stubWriter{sections: titleSections("Statement of Advice")}, exporter, nil)

	res, err := o.Generate(context.Background(), c.ID, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.DocumentID)
	require.NotNil(t, res.PDFPath)
	assert.Equal(t, 1, exporter.calls)
	assert.True(t, res.Preflight.Valid)

	doc, err := st.GetDocument(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "John Smith and Jane Smith")
	assert.Contains(t, doc.HTML, "Existing: $60.64 New: $107.34 (Increase)")
	require.NotNil(t, doc.PDFPath)
}

func TestGenerate_PreflightBlocksPDFButSavesHTML(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)
	// A template that hardcodes savings language over a computed increase.
	seedTemplate(t, st, model.DocStatementOfAdvice,
		`<html><body><p>Enjoy your savings, {{ CLIENT_A_NAME }}!</p></body></html>`)

	exporter := &stubExporter{}
	o := New(st, &stubExtractor{record: scenarioRecord()}, &stubWriter{sections: titleSections("SOA")}, exporter, nil)

	res, err := o.Generate(context.Background(), c.ID, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.False(t, res.Preflight.Valid)
	assert.NotEmpty(t, res.Preflight.Errors)
	assert.Nil(t, res.PDFPath)
	assert.Equal(t, 0, exporter.calls)

	// HTML artifact is still retrievable.
	doc, err := st.GetDocument(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "Enjoy your savings")
	assert.Nil(t, doc.PDFPath)
}

func TestGenerate_ExportFailureDegradesToHTMLOnly(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)
	seedTemplate(t, st, model.DocStatementOfAdvice, soaTemplate)

	exporter := &stubExporter{err: errors.New("browser crashed")}
	o := New(st, &stubExtractor{record: scenarioRecord()}, &stubWriter{sections: titleSections("SOA")}, exporter, nil)

	res, err := o.Generate(context.Background(), c.ID, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.NotEmpty(t, res.DocumentID)
	assert.Nil(t, res.PDFPath)
	assert.Contains(t, res.PDFError, "browser crashed")
}

func TestGenerate_MissingTemplateIsFatal(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)

	o := New(st, &stubExtractor{record: scenarioRecord()}, &stubWriter{sections: titleSections("SOA")}, &stubExporter{}, nil)

	_, err := o.Generate(context.Background(), c.ID, model.DocStatementOfAdvice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active template")
}

func TestGenerate_UnknownCaseIsFatal(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &stubExtractor{record: scenarioRecord()}, &stubWriter{}, &stubExporter{}, nil)

	_, err := o.Generate(context.Background(), "no-such-case", model.DocStatementOfAdvice)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerate_UnknownDocType(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &stubExtractor{}, &stubWriter{}, &stubExporter{}, nil)

	_, err := o.Generate(context.Background(), "x", model.DocumentType("newsletter"))
	require.Error(t, err)
}

// garbageClient makes every extraction model call return unparsable text.
type garbageClient struct{}

func (garbageClient) CreateMessage(context.Context, llm.MessageRequest) (*llm.MessageResponse, error) {
	return &llm.MessageResponse{Content: []llm.ContentBlock{{Type: "text", Text: "I cannot help with that."}}}, nil
}

func TestGenerate_ExtractionGarbageStillProducesDocument(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)
	seedTemplate(t, st, model.DocStatementOfAdvice, soaTemplate)

	adapter := extract.New(garbageClient{}, "claude-haiku-4-5-20251001", config.ExtractConfig{
		MaxOutputTokens: 1024, RetryOutputTokens: 512,
	})

	o := New(st, adapter, &stubWriter{sections: titleSections("SOA")}, &stubExporter{}, nil)

	res, err := o.Generate(context.Background(), c.ID, model.DocStatementOfAdvice)
	require.NoError(t, err)
	require.NotEmpty(t, res.DocumentID)

	doc, err := st.GetDocument(context.Background(), res.DocumentID)
	require.NoError(t, err)

	var snapshot model.FactRecord
	require.NoError(t, json.Unmarshal(doc.FactSnapshot, &snapshot))
	assert.Contains(t, snapshot.MissingFields, extract.MissingManualReview)
}

const kiwiSaverTemplate = `<html><head></head><body>
<h1>{{ DOCUMENT_TITLE }}</h1>
<p>{{ CLIENT_NAME }}: {{ CURRENT_PROVIDER }} to {{ RECOMMENDED_PROVIDER }}</p>
<p>Fee: {{ RECOMMENDED_FUND_FEE_PCT }}</p>
</body></html>`

func TestGenerate_KiwiSaverSubPipeline(t *testing.T) {
	st := newTestStore(t)
	c := seedCase(t, st)
	seedTemplate(t, st, model.DocKiwiSaverAdvice, kiwiSaverTemplate)

	extractor := &stubExtractor{ksRecord: &model.KiwiSaverFactRecord{
		ClientName:          "John Smith",
		CurrentProvider:     "OldProvider",
		CurrentFund:         "balanced",
		RecommendedProvider: "Fisher Funds",
		RecommendedFund:     "growth",
		Balance:             float64Ptr(45000),
	}}
	funds := &stubFunds{
		current:     &providers.FundFacts{Provider: "OldProvider", Fund: "balanced", AnnualFeePct: float64Ptr(1.30)},
		recommended: &providers.FundFacts{Provider: "Fisher Funds", Fund: "growth", AnnualFeePct: float64Ptr(1.05)},
	}
	exporter := &stubExporter{}

	o := New(st, extractor, &stubWriter{sections: titleSections("KiwiSaver Advice")}, exporter, funds)

	res, err := o.Generate(context.Background(), c.ID, model.DocKiwiSaverAdvice)
	require.NoError(t, err)
	assert.True(t, res.Preflight.Valid)
	require.NotNil(t, res.PDFPath)

	doc, err := st.GetDocument(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocKiwiSaverAdvice, doc.DocType)
	assert.Contains(t, doc.HTML, "OldProvider to Fisher Funds")
	assert.Contains(t, doc.HTML, "1.05%")
}
