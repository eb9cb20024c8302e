package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brightpath-advice/advicegen/internal/db"
	"github.com/brightpath-advice/advicegen/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"insert_document":    `INSERT INTO documents (id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_case":           `SELECT id, reference, client_a_name, client_b_name, transcript, quote_text, adviser_notes, deviation_notes, ui_state, created_at, updated_at FROM cases WHERE id = $1`,
	"update_run_status":  `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_provider_facts": `SELECT data FROM provider_cache WHERE provider = $1 AND fund = $2 AND expires_at > now() ORDER BY cached_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	reference       TEXT NOT NULL,
	client_a_name   TEXT NOT NULL DEFAULT '',
	client_b_name   TEXT NOT NULL DEFAULT '',
	transcript      TEXT NOT NULL DEFAULT '',
	quote_text      TEXT NOT NULL DEFAULT '',
	adviser_notes   TEXT NOT NULL DEFAULT '',
	deviation_notes TEXT NOT NULL DEFAULT '',
	ui_state        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	doc_type      TEXT NOT NULL,
	fact_snapshot JSONB NOT NULL,
	html          TEXT NOT NULL,
	pdf_path      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	doc_type   TEXT NOT NULL,
	variant    TEXT NOT NULL DEFAULT 'default',
	version    INTEGER NOT NULL,
	html       TEXT NOT NULL,
	css        TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id    TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_cache (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider   TEXT NOT NULL,
	fund       TEXT NOT NULL,
	data       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_templates_doc_type ON templates(doc_type, variant);
CREATE INDEX IF NOT EXISTS idx_runs_case_id ON runs(case_id);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_provider_cache_key ON provider_cache(provider, fund);
CREATE INDEX IF NOT EXISTS idx_provider_cache_expires_at ON provider_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, c model.Case) (*model.Case, error) {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cases (id, reference, client_a_name, client_b_name, transcript, quote_text, adviser_notes, deviation_notes, ui_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Reference, c.ClientAName, c.ClientBName, c.Transcript, c.QuoteText, c.AdviserNotes, c.DeviationNotes, uiJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert case")
	}
	return &c, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, reference, client_a_name, client_b_name, transcript, quote_text, adviser_notes, deviation_notes, ui_state, created_at, updated_at FROM cases WHERE id = $1`,
		caseID,
	)

	var c model.Case
	var uiJSON *string
	err := row.Scan(&c.ID, &c.Reference, &c.ClientAName, &c.ClientBName, &c.Transcript, &c.QuoteText, &c.AdviserNotes, &c.DeviationNotes, &uiJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "case %s", caseID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get case")
	}
	if uiJSON != nil {
		if c.UIState, err = unmarshalUIState(*uiJSON); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCase(ctx context.Context, c model.Case) error {
	uiJSON, err := marshalUIState(c.UIState)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET reference = $1, client_a_name = $2, client_b_name = $3, transcript = $4, quote_text = $5, adviser_notes = $6, deviation_notes = $7, ui_state = $8, updated_at = $9 WHERE id = $10`,
		c.Reference, c.ClientAName, c.ClientBName, c.Transcript, c.QuoteText, c.AdviserNotes, c.DeviationNotes, uiJSON, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update case %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "case %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc model.GeneratedDocument) (*model.GeneratedDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.CaseID, string(doc.DocType), string(doc.FactSnapshot), doc.HTML, doc.PDFPath, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return &doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.GeneratedDocument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at FROM documents WHERE id = $1`,
		docID,
	)
	doc, err := scanPGDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", docID)
	}
	return doc, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseID string) ([]model.GeneratedDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, doc_type, fact_snapshot, html, pdf_path, created_at FROM documents WHERE case_id = $1 ORDER BY created_at DESC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.GeneratedDocument
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) SaveTemplate(ctx context.Context, t model.Template) (*model.Template, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()

	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM templates WHERE doc_type = $1 AND variant = $2`,
		string(t.DocType), t.Variant,
	)
	if err := row.Scan(&t.Version); err != nil {
		return nil, eris.Wrap(err, "postgres: next template version")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates (id, doc_type, variant, version, html, css, active, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, string(t.DocType), t.Variant, t.Version, t.HTML, t.CSS, t.Active, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert template")
	}

	if t.Active {
		_, err = s.pool.Exec(ctx,
			`UPDATE templates SET active = false WHERE doc_type = $1 AND variant = $2 AND id != $3`,
			string(t.DocType), t.Variant, t.ID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: deactivate templates")
		}
	}
	return &t, nil
}

func (s *PostgresStore) GetActiveTemplate(ctx context.Context, docType model.DocumentType, variant string) (*model.Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, doc_type, variant, version, html, css, active, created_at FROM templates
		 WHERE doc_type = $1 AND variant = $2 AND active = true ORDER BY version DESC LIMIT 1`,
		string(docType), variant,
	)
	t, err := scanPGTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("no active template for %s/%s", docType, variant)
	}
	return t, err
}

func (s *PostgresStore) ListTemplates(ctx context.Context, docType model.DocumentType) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc_type, variant, version, html, css, active, created_at FROM templates WHERE doc_type = $1 ORDER BY variant, version DESC`,
		string(docType),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanPGTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

func (s *PostgresStore) ActivateTemplate(ctx context.Context, templateID string) error {
	row := s.pool.QueryRow(ctx,
		`SELECT doc_type, variant FROM templates WHERE id = $1`,
		templateID,
	)
	var docType, variant string
	err := row.Scan(&docType, &variant)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: get template")
	}

	if _, err := s.pool.Exec(ctx, `UPDATE templates SET active = true WHERE id = $1`, templateID); err != nil {
		return eris.Wrapf(err, "postgres: activate template %s", templateID)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE templates SET active = false WHERE doc_type = $1 AND variant = $2 AND id != $3`,
		docType, variant, templateID,
	)
	return eris.Wrap(err, "postgres: deactivate templates")
}

func (s *PostgresStore) CreateRun(ctx context.Context, caseID string, docType model.DocumentType) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, case_id, doc_type, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, caseID, string(docType), string(model.RunStatusIdle), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) GetProviderFacts(ctx context.Context, provider, fund string) ([]byte, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM provider_cache WHERE provider = $1 AND fund = $2 AND expires_at > now() ORDER BY cached_at DESC LIMIT 1`,
		provider, fund,
	)

	var data string
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get provider facts")
	}
	return []byte(data), nil
}

func (s *PostgresStore) SetProviderFacts(ctx context.Context, provider, fund string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_cache (id, provider, fund, data, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), provider, fund, string(data), now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set provider facts")
}

func (s *PostgresStore) DeleteExpiredProviderFacts(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM provider_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired provider facts")
	}
	return int(tag.RowsAffected()), nil
}

func scanPGDocument(row pgx.Row) (*model.GeneratedDocument, error) {
	var doc model.GeneratedDocument
	var docType, snapshot string
	var pdfPath *string

	err := row.Scan(&doc.ID, &doc.CaseID, &docType, &snapshot, &doc.HTML, &pdfPath, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}

	doc.DocType = model.DocumentType(docType)
	doc.FactSnapshot = json.RawMessage(snapshot)
	doc.PDFPath = pdfPath
	return &doc, nil
}

func scanPGTemplate(row pgx.Row) (*model.Template, error) {
	var t model.Template
	var docType string

	err := row.Scan(&t.ID, &docType, &t.Variant, &t.Version, &t.HTML, &t.CSS, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan template")
	}

	t.DocType = model.DocumentType(docType)
	return &t, nil
}
