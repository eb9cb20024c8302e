package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// ErrNotFound is the sentinel wrapped by every lookup that misses, so
// callers can distinguish a missing record from a storage failure.
var ErrNotFound = eris.New("not found")

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Cases
	CreateCase(ctx context.Context, c model.Case) (*model.Case, error)
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	UpdateCase(ctx context.Context, c model.Case) error

	// Generated documents. Documents are insert-only; the newest document
	// for a case is its current one.
	CreateDocument(ctx context.Context, doc model.GeneratedDocument) (*model.GeneratedDocument, error)
	GetDocument(ctx context.Context, docID string) (*model.GeneratedDocument, error)
	ListDocuments(ctx context.Context, caseID string) ([]model.GeneratedDocument, error)

	// Templates, versioned with an active marker per (doc type, variant).
	SaveTemplate(ctx context.Context, t model.Template) (*model.Template, error)
	GetActiveTemplate(ctx context.Context, docType model.DocumentType, variant string) (*model.Template, error)
	ListTemplates(ctx context.Context, docType model.DocumentType) ([]model.Template, error)
	ActivateTemplate(ctx context.Context, templateID string) error

	// Run audit trail
	CreateRun(ctx context.Context, caseID string, docType model.DocumentType) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Provider fund-fact cache (opaque JSON payloads, TTL'd, lazily evicted)
	GetProviderFacts(ctx context.Context, provider, fund string) ([]byte, error)
	SetProviderFacts(ctx context.Context, provider, fund string, data []byte, ttl time.Duration) error
	DeleteExpiredProviderFacts(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
