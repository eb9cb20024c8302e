// Package server exposes the generation pipeline over HTTP for the advice
// web UI. Generation endpoints sit behind a per-session quota because each
// run spends real money against the model services and holds the shared
// browser during export.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/pipeline"
	"github.com/brightpath-advice/advicegen/internal/store"
)

// Generator runs the document pipeline. Satisfied by *pipeline.Orchestrator.
type Generator interface {
	Generate(ctx context.Context, caseID string, docType model.DocumentType) (*pipeline.Result, error)
}

// Server is the HTTP surface over the store and the pipeline.
type Server struct {
	cfg       config.ServerConfig
	store     store.Store
	generator Generator
	limiter   *sessionLimiter

	http *http.Server
}

// New builds a server with its routes mounted.
func New(cfg config.ServerConfig, st store.Store, generator Generator) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		generator: generator,
		limiter:   newSessionLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Session-ID"},
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/cases", s.handleCreateCase)
		r.Get("/cases/{caseID}", s.handleGetCase)
		r.Put("/cases/{caseID}", s.handleUpdateCase)

		r.With(s.rateLimit).Post("/cases/{caseID}/documents", s.handleGenerate)
		r.Get("/cases/{caseID}/documents", s.handleListDocuments)

		r.Get("/documents/{documentID}", s.handleGetDocument)
		r.Get("/documents/{documentID}/html", s.handleGetDocumentHTML)

		r.Post("/templates", s.handleSaveTemplate)
		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates/{templateID}/activate", s.handleActivateTemplate)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mounted router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	zap.L().Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type caseRequest struct {
	Reference      string         `json:"reference"`
	ClientAName    string         `json:"client_a_name"`
	ClientBName    string         `json:"client_b_name"`
	Transcript     string         `json:"transcript"`
	QuoteText      string         `json:"quote_text"`
	AdviserNotes   string         `json:"adviser_notes"`
	DeviationNotes string         `json:"deviation_notes"`
	UIState        *model.UIState `json:"ui_state"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req caseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	c, err := s.store.CreateCase(r.Context(), model.Case{
		Reference:      req.Reference,
		ClientAName:    req.ClientAName,
		ClientBName:    req.ClientBName,
		Transcript:     req.Transcript,
		QuoteText:      req.QuoteText,
		AdviserNotes:   req.AdviserNotes,
		DeviationNotes: req.DeviationNotes,
		UIState:        req.UIState,
	})
	if err != nil {
		zap.L().Error("create case failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create case")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	existing, err := s.store.GetCase(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}

	var req caseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated := *existing
	if req.Reference != "" {
		updated.Reference = req.Reference
	}
	updated.ClientAName = req.ClientAName
	updated.ClientBName = req.ClientBName
	updated.Transcript = req.Transcript
	updated.QuoteText = req.QuoteText
	updated.AdviserNotes = req.AdviserNotes
	updated.DeviationNotes = req.DeviationNotes
	updated.UIState = req.UIState

	if err := s.store.UpdateCase(r.Context(), updated); err != nil {
		zap.L().Error("update case failed", zap.String("case_id", caseID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update case")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type generateRequest struct {
	DocType model.DocumentType `json:"doc_type"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.DocType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown document type %q", req.DocType))
		return
	}

	result, err := s.generator.Generate(r.Context(), caseID, req.DocType)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		zap.L().Error("generation failed", zap.String("case_id", caseID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "generation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	// Strip the HTML bodies from the listing.
	type docSummary struct {
		ID        string             `json:"id"`
		DocType   model.DocumentType `json:"doc_type"`
		PDFPath   *string            `json:"pdf_path,omitempty"`
		CreatedAt time.Time          `json:"created_at"`
	}
	summaries := make([]docSummary, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, docSummary{ID: d.ID, DocType: d.DocType, PDFPath: d.PDFPath, CreatedAt: d.CreatedAt})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetDocumentHTML(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc.HTML)) //nolint:errcheck
}

type templateRequest struct {
	DocType model.DocumentType `json:"doc_type"`
	Variant string             `json:"variant"`
	HTML    string             `json:"html"`
	CSS     string             `json:"css"`
	Active  bool               `json:"active"`
}

func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.DocType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown document type %q", req.DocType))
		return
	}
	if req.HTML == "" {
		writeError(w, http.StatusBadRequest, "html is required")
		return
	}
	if req.Variant == "" {
		req.Variant = "default"
	}

	t, err := s.store.SaveTemplate(r.Context(), model.Template{
		DocType: req.DocType,
		Variant: req.Variant,
		HTML:    req.HTML,
		CSS:     req.CSS,
		Active:  req.Active,
	})
	if err != nil {
		zap.L().Error("save template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save template")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	docType := model.DocumentType(r.URL.Query().Get("doc_type"))
	if !docType.Valid() {
		writeError(w, http.StatusBadRequest, "doc_type query parameter is required")
		return
	}
	templates, err := s.store.ListTemplates(r.Context(), docType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	if err := s.store.ActivateTemplate(r.Context(), templateID); err != nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated", "template_id": templateID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
