package model

import (
	"encoding/json"
	"time"
)

// DocumentType identifies which advice document a pipeline run produces.
type DocumentType string

const (
	DocStatementOfAdvice DocumentType = "soa"
	DocRecordOfAdvice    DocumentType = "roa"
	DocScopeOfEngagement DocumentType = "soe"
	DocKiwiSaverAdvice   DocumentType = "kiwisaver"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocStatementOfAdvice, DocRecordOfAdvice, DocScopeOfEngagement, DocKiwiSaverAdvice:
		return true
	}
	return false
}

// Amendment-style documents carry deviation notes describing how the
// implemented cover differs from the original recommendation.
func (t DocumentType) IsAmendment() bool {
	return t == DocRecordOfAdvice
}

// Case is the persisted record of one advice engagement: the raw source
// material plus the caller-supplied structural flags.
type Case struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`

	ClientAName string `json:"client_a_name,omitempty"`
	ClientBName string `json:"client_b_name,omitempty"`

	Transcript     string `json:"transcript,omitempty"`
	QuoteText      string `json:"quote_text,omitempty"`
	AdviserNotes   string `json:"adviser_notes,omitempty"`
	DeviationNotes string `json:"deviation_notes,omitempty"`

	// UIState is nil when the caller has not set the structural flags;
	// the pipeline then falls back to extraction-derived structure.
	UIState *UIState `json:"ui_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GeneratedDocument is the persisted artifact of a pipeline run. Never
// mutated after creation; the most recent document for a case is treated
// as current.
type GeneratedDocument struct {
	ID      string       `json:"id"`
	CaseID  string       `json:"case_id"`
	DocType DocumentType `json:"doc_type"`

	// FactSnapshot is the validated fact record as extracted, kept for
	// audit alongside the rendered output.
	FactSnapshot json.RawMessage `json:"fact_snapshot"`

	HTML    string  `json:"html"`
	PDFPath *string `json:"pdf_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Template is a versioned document template. Exactly one version per
// (doc type, variant) is marked active.
type Template struct {
	ID      string       `json:"id"`
	DocType DocumentType `json:"doc_type"`
	Variant string       `json:"variant"`
	Version int          `json:"version"`
	HTML    string       `json:"html"`
	CSS     string       `json:"css,omitempty"`
	Active  bool         `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}
