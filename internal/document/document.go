// Package document implements the per-document record store: user
// metadata, tag set, storage keys, and current pipeline state. Grounded
// on the teacher's pkg/storage/crud.go CRUD conventions, generalized to
// this module's single-entity, single-table shape.
package document

import (
	"context"
	"database/sql"
	"time"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
	"github.com/analytiq-hub/doc-router-sub001/internal/idgen"
	"github.com/lib/pq"
)

// Pipeline states, forming the DAG a document's State field walks.
// Transitions never regress (P3); the queue/pipeline packages enforce
// this by only ever calling UpdateState with the next state in sequence.
const (
	StateUploaded      = "uploaded"
	StateOCRProcessing = "ocr_processing"
	StateOCRCompleted  = "ocr_completed"
	StateOCRFailed     = "ocr_failed"
	StateLLMProcessing = "llm_processing"
	StateLLMCompleted  = "llm_completed"
	StateLLMFailed     = "llm_failed"
	StateKBIndexing    = "kb_index_processing"
	StateKBIndexed     = "kb_index_completed"
	StateKBIndexFailed = "kb_index_failed"
)

// Document is the persistent record for one uploaded file.
type Document struct {
	ID             string
	OrganizationID string
	UserFileName   string
	MongoFileName  string
	PDFFileName    string
	TagIDs         []string
	State          string
	StateUpdatedAt time.Time
	UploadDate     time.Time
}

// Store is the document state store.
type Store struct {
	db *dbx.DB
}

// New wraps a database handle.
func New(db *dbx.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			doc_id           TEXT PRIMARY KEY,
			organization_id  TEXT NOT NULL,
			user_file_name   TEXT NOT NULL,
			mongo_file_name  TEXT,
			pdf_file_name    TEXT,
			tag_ids          TEXT[] NOT NULL DEFAULT '{}',
			state            TEXT NOT NULL,
			state_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			upload_date      TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create documents table", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS documents_org_upload_idx ON documents (organization_id, upload_date)
	`)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create documents index", err)
	}
	return nil
}

// Put inserts doc if it is new (ID is empty, one is generated) or
// overwrites it entirely if ID is already set.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = idgen.New()
	}
	if doc.State == "" {
		doc.State = StateUploaded
	}
	now := time.Now().UTC()
	if doc.StateUpdatedAt.IsZero() {
		doc.StateUpdatedAt = now
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = now
	}

	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO documents (doc_id, organization_id, user_file_name, mongo_file_name, pdf_file_name, tag_ids, state, state_updated_at, upload_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doc_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			user_file_name = EXCLUDED.user_file_name,
			mongo_file_name = EXCLUDED.mongo_file_name,
			pdf_file_name = EXCLUDED.pdf_file_name,
			tag_ids = EXCLUDED.tag_ids,
			state = EXCLUDED.state,
			state_updated_at = EXCLUDED.state_updated_at,
			upload_date = EXCLUDED.upload_date
	`, doc.ID, doc.OrganizationID, doc.UserFileName, nullable(doc.MongoFileName), nullable(doc.PDFFileName),
		pq.Array(doc.TagIDs), doc.State, doc.StateUpdatedAt, doc.UploadDate)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "put document", err)
	}
	return nil
}

// Get reads a document by id, returning (nil, nil) if unknown.
func (s *Store) Get(ctx context.Context, docID string) (*Document, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT doc_id, organization_id, user_file_name, mongo_file_name, pdf_file_name, tag_ids, state, state_updated_at, upload_date
		FROM documents WHERE doc_id = $1
	`, docID)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "get document", err)
	}
	return doc, nil
}

// Delete removes a document by id; a missing id is not an error. Callers
// are responsible for cascading into blobstore/pipeline artifact cleanup
// (spec.md's "destroyed on user delete" cascade is orchestrated above
// this package, not inside it, since it spans multiple stores).
func (s *Store) Delete(ctx context.Context, docID string) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "delete document", err)
	}
	return nil
}

// List returns documents ordered by upload_date ascending, paginated by
// (skip, limit), plus the total matching count.
func (s *Store) List(ctx context.Context, skip, limit int) ([]*Document, int, error) {
	var total int
	if err := s.db.Querier(ctx).QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, svcerrors.Wrap(svcerrors.CodeInternal, "count documents", err)
	}

	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT doc_id, organization_id, user_file_name, mongo_file_name, pdf_file_name, tag_ids, state, state_updated_at, upload_date
		FROM documents ORDER BY upload_date ASC OFFSET $1 LIMIT $2
	`, skip, limit)
	if err != nil {
		return nil, 0, svcerrors.Wrap(svcerrors.CodeInternal, "list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, 0, svcerrors.Wrap(svcerrors.CodeInternal, "scan document row", err)
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// UpdateState sets a document's state and stamps state_updated_at with
// the current UTC instant. A no-op on unknown documents (no error).
func (s *Store) UpdateState(ctx context.Context, docID, state string) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE documents SET state = $1, state_updated_at = $2 WHERE doc_id = $3
	`, state, time.Now().UTC(), docID)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "update document state", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*Document, error) {
	return scanDocumentRows(row)
}

func scanDocumentRows(row rowScanner) (*Document, error) {
	var d Document
	var mongoFileName, pdfFileName sql.NullString
	if err := row.Scan(&d.ID, &d.OrganizationID, &d.UserFileName, &mongoFileName, &pdfFileName,
		pq.Array(&d.TagIDs), &d.State, &d.StateUpdatedAt, &d.UploadDate); err != nil {
		return nil, err
	}
	d.MongoFileName = mongoFileName.String
	d.PDFFileName = pdfFileName.String
	return &d, nil
}
