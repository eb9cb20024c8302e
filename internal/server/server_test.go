package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/pipeline"
	"github.com/brightpath-advice/advicegen/internal/store"
)

type stubGenerator struct {
	calls  int
	result *pipeline.Result
	err    error
}

func (g *stubGenerator) Generate(_ context.Context, caseID string, docType model.DocumentType) (*pipeline.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &pipeline.Result{RunID: "run-1", DocumentID: "doc-" + caseID + "-" + string(docType)}, nil
}

func newTestServer(t *testing.T, gen Generator) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	cfg := config.ServerConfig{Port: 0, RateLimitPerMin: 600, RateLimitBurst: 10}
	return New(cfg, st, gen), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetCase(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases", map[string]any{
		"reference":     "CASE-100",
		"client_a_name": "Mere Walker",
		"transcript":    "adviser call notes",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "CASE-100", created.Reference)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/cases/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched model.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "Mere Walker", fetched.ClientAName)
}

func TestCreateCaseRequiresReference(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases", map[string]any{
		"client_a_name": "Mere Walker",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCaseReplacesInputs(t *testing.T) {
	srv, st := newTestServer(t, &stubGenerator{})
	c, err := st.CreateCase(context.Background(), model.Case{Reference: "CASE-101", Transcript: "old"})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/cases/"+c.ID, map[string]any{
		"transcript": "new transcript",
		"ui_state":   map[string]any{"is_partner": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := st.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "new transcript", updated.Transcript)
	require.NotNil(t, updated.UIState)
	assert.True(t, updated.UIState.IsPartner)
	assert.Equal(t, "CASE-101", updated.Reference)
}

func TestGetCaseNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/cases/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateDocument(t *testing.T) {
	gen := &stubGenerator{}
	srv, st := newTestServer(t, gen)
	c, err := st.CreateCase(context.Background(), model.Case{Reference: "CASE-102"})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/"+c.ID+"/documents", map[string]any{
		"doc_type": "soa",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gen.calls)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
}

func TestGenerateRejectsUnknownDocType(t *testing.T) {
	gen := &stubGenerator{}
	srv, _ := newTestServer(t, gen)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/c1/documents", map[string]any{
		"doc_type": "newsletter",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, gen.calls)
}

func TestGenerateRateLimited(t *testing.T) {
	gen := &stubGenerator{}
	srv, st := newTestServer(t, gen)
	// One request per minute with no burst headroom beyond the first.
	srv.limiter = newSessionLimiter(1, 1)

	c, err := st.CreateCase(context.Background(), model.Case{Reference: "CASE-103"})
	require.NoError(t, err)

	body := map[string]any{"doc_type": "soa"}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/"+c.ID+"/documents", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/"+c.ID+"/documents", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, gen.calls)
}

func TestRateLimitIsPerSession(t *testing.T) {
	gen := &stubGenerator{}
	srv, st := newTestServer(t, gen)
	srv.limiter = newSessionLimiter(1, 1)

	c, err := st.CreateCase(context.Background(), model.Case{Reference: "CASE-104"})
	require.NoError(t, err)

	for i, session := range []string{"session-a", "session-b"} {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"doc_type": "soa"}))
		req := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/documents", &buf)
		req.Header.Set("X-Session-ID", session)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "session %d", i)
	}
	assert.Equal(t, 2, gen.calls)
}

func TestDocumentEndpoints(t *testing.T) {
	srv, st := newTestServer(t, &stubGenerator{})
	c, err := st.CreateCase(context.Background(), model.Case{Reference: "CASE-105"})
	require.NoError(t, err)

	doc, err := st.CreateDocument(context.Background(), model.GeneratedDocument{
		CaseID:       c.ID,
		DocType:      model.DocStatementOfAdvice,
		FactSnapshot: json.RawMessage(`{}`),
		HTML:         "<html><body>Statement of Advice</body></html>",
	})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.GeneratedDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, doc.ID, fetched.ID)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/documents/"+doc.ID+"/html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Statement of Advice")

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/cases/"+c.ID+"/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Statement of Advice", "listing must omit HTML bodies")
}

func TestTemplateEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/templates", map[string]any{
		"doc_type": "soa",
		"html":     "<html><body>{{ DOCUMENT_TITLE }}</body></html>",
		"active":   true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var v1 model.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v1))
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "default", v1.Variant)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/templates", map[string]any{
		"doc_type": "soa",
		"html":     "<html><body>v2 {{ DOCUMENT_TITLE }}</body></html>",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var v2 model.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v2))
	assert.Equal(t, 2, v2.Version)
	assert.False(t, v2.Active)

	rec = doJSON(t, srv.Handler(), http.MethodPost, fmt.Sprintf("/api/templates/%s/activate", v2.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/templates?doc_type=soa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var templates []model.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &templates))
	assert.Len(t, templates, 2)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestGenerateUnknownCaseReturns404(t *testing.T) {
	gen := &stubGenerator{err: eris.Wrap(store.ErrNotFound, "pipeline: load case nope")}
	srv, _ := newTestServer(t, gen)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/nope/documents", map[string]any{
		"doc_type": "soa",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "case not found")
}

func TestGenerateOtherFailureReturns500(t *testing.T) {
	gen := &stubGenerator{err: eris.New("pipeline: render document")}
	srv, _ := newTestServer(t, gen)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/cases/c1/documents", map[string]any{
		"doc_type": "soa",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
