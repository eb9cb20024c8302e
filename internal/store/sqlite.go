package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id              TEXT PRIMARY KEY,
	reference       TEXT NOT NULL,
	client_a_name   TEXT NOT NULL DEFAULT '',
	client_b_name   TEXT NOT NULL DEFAULT '',
	transcript      TEXT NOT NULL DEFAULT '',
	quote_text      TEXT NOT NULL DEFAULT '',
	adviser_notes   TEXT NOT NULL DEFAULT '',
	deviation_notes TEXT NOT NULL DEFAULT '',
	ui_state        TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	doc_type      TEXT NOT NULL,
	fact_snapshot TEXT NOT NULL,
	html          TEXT NOT NULL,
	pdf_path      TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	doc_type   TEXT NOT NULL,
	variant    TEXT NOT NULL DEFAULT 'default',
	version    INTEGER NOT NULL,
	html       TEXT NOT NULL,
	css        TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS provider_cache (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	fund       TEXT NOT NULL,
	data       TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_templates_doc_type ON templates(doc_type, variant);
CREATE INDEX IF NOT EXISTS idx_runs_case_id ON runs(case_id);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_provider_cache_key ON provider_cache(provider, fund);
CREATE INDEX IF NOT EXISTS idx_provider_cache_expires_at ON provider_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCase(ctx context.Context, c model.Case) (*model.Case, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	uiJSON, err := marshalUIState(c.UIState)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, reference, client_a_name, client_b_name, transcript, quote_text, adviser_notes, deviation_notes, ui_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Reference, c.ClientAName, c.ClientBName, c.Transcript, c.QuoteText, c.AdviserNotes, c.DeviationNotes, uiJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert case")
	}
	return &c, nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reference, client_a_name, client_b_name, transcript, quote_text, adviser_notes, deviation_notes, ui_state, created_at, updated_at
		 FROM cases WHERE id = ?`,
		caseID,
	)

	var c model.Case
	var uiJSON sql.NullString
	err := row.Scan(&c.ID, &c.Reference, &c.ClientAName, &c.ClientBName, &c.Transcript, &c.QuoteText, &c.AdviserNotes, &c.DeviationNotes, &uiJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "case %s", caseID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan case")
	}
	if c.UIState, err = unmarshalUIState(uiJSON.String); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateCase(ctx context.Context, c model.Case) error {
	uiJSON, err := marshalUIState(c.UIState)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET reference = ?, client_a_name = ?, client_b_name = ?, transcript = ?, quote_text = ?, adviser_notes = ?, deviation_notes = ?, ui_state = ?, updated_at = ?
		 WHERE id = ?`,
		c.Reference, c.ClientAName, c.ClientBName, c.Transcript, c.QuoteText, c.AdviserNotes, c.DeviationNotes, uiJSON, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update case %s", c.ID)
	}
	return checkRowsAffected(res, "case", c.ID)
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc model.GeneratedDocument) (*model.GeneratedDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	var pdfPath sql.NullString
	if doc.PDFPath != nil {
		pdfPath = sql.NullString{String: *doc.PDFPath, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CaseID, string(doc.DocType), string(doc.FactSnapshot), doc.HTML, pdfPath, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.GeneratedDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at FROM documents WHERE id = ?`,
		docID,
	)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "document %s", docID)
	}
	return doc, err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, caseID string) ([]model.GeneratedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at FROM documents
		 WHERE case_id = ? ORDER BY created_at DESC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.GeneratedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) SaveTemplate(ctx context.Context, t model.Template) (*model.Template, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()

	// Next version for this (doc type, variant).
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM templates WHERE doc_type = ? AND variant = ?`,
		string(t.DocType), t.Variant,
	)
	if err := row.Scan(&t.Version); err != nil {
		return nil, eris.Wrap(err, "sqlite: next template version")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, doc_type, variant, version, html, css, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.DocType), t.Variant, t.Version, t.HTML, t.CSS, boolToInt(t.Active), t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert template")
	}

	if t.Active {
		if err := s.deactivateOthers(ctx, t); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *SQLiteStore) GetActiveTemplate(ctx context.Context, docType model.DocumentType, variant string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, doc_type, variant, version, html, css, active, created_at FROM templates
		 WHERE doc_type = ? AND variant = ? AND active = 1
		 ORDER BY version DESC LIMIT 1`,
		string(docType), variant,
	)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("no active template for %s/%s", docType, variant)
	}
	return t, err
}

func (s *SQLiteStore) ListTemplates(ctx context.Context, docType model.DocumentType) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_type, variant, version, html, css, active, created_at FROM templates
		 WHERE doc_type = ? ORDER BY variant, version DESC`,
		string(docType),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

func (s *SQLiteStore) ActivateTemplate(ctx context.Context, templateID string) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, doc_type, variant, version, html, css, active, created_at FROM templates WHERE id = ?`,
		templateID,
	)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE templates SET active = 1 WHERE id = ?`, templateID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate template %s", templateID)
	}
	if err := checkRowsAffected(res, "template", templateID); err != nil {
		return err
	}
	return s.deactivateOthers(ctx, *t)
}

func (s *SQLiteStore) deactivateOthers(ctx context.Context, t model.Template) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE templates SET active = 0 WHERE doc_type = ? AND variant = ? AND id != ?`,
		string(t.DocType), t.Variant, t.ID,
	)
	return eris.Wrap(err, "sqlite: deactivate templates")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, caseID string, docType model.DocumentType) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, case_id, doc_type, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, caseID, string(docType), string(model.RunStatusIdle), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		CaseID:    caseID,
		DocType:   docType,
		Status:    model.RunStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) GetProviderFacts(ctx context.Context, provider, fund string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM provider_cache
		 WHERE provider = ? AND fund = ? AND expires_at > datetime('now')
		 ORDER BY cached_at DESC LIMIT 1`,
		provider, fund,
	)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get provider facts")
	}
	return []byte(data), nil
}

func (s *SQLiteStore) SetProviderFacts(ctx context.Context, provider, fund string, data []byte, ttl time.Duration) error {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_cache (id, provider, fund, data, cached_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, provider, fund, string(data), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set provider facts")
}

func (s *SQLiteStore) DeleteExpiredProviderFacts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired provider facts")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.GeneratedDocument, error) {
	var doc model.GeneratedDocument
	var docType, snapshot string
	var pdfPath sql.NullString

	err := row.Scan(&doc.ID, &doc.CaseID, &docType, &snapshot, &doc.HTML, &pdfPath, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}

	doc.DocType = model.DocumentType(docType)
	doc.FactSnapshot = json.RawMessage(snapshot)
	if pdfPath.Valid {
		doc.PDFPath = &pdfPath.String
	}
	return &doc, nil
}

func scanTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	var docType string
	var active int

	err := row.Scan(&t.ID, &docType, &t.Variant, &t.Version, &t.HTML, &t.CSS, &active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan template")
	}

	t.DocType = model.DocumentType(docType)
	t.Active = active == 1
	return &t, nil
}

func marshalUIState(ui *model.UIState) (any, error) {
	if ui == nil {
		return nil, nil
	}
	b, err := json.Marshal(ui)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ui state")
	}
	return string(b), nil
}

func unmarshalUIState(s string) (*model.UIState, error) {
	if s == "" {
		return nil, nil
	}
	var ui model.UIState
	if err := json.Unmarshal([]byte(s), &ui); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal ui state")
	}
	return &ui, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
