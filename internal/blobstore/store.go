// Package blobstore implements spec.md §4.1: durable byte storage keyed
// by (bucket, key) with sidecar metadata. The teacher's pkg/blob package
// backs this with Supabase Storage (an external SaaS collaborator); since
// this core has no such dependency in scope, the same Upload/Download/
// Delete shape is kept but backed directly by Postgres, consistent with
// "the database is the only shared mutable resource" (spec.md §5).
package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"

	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
)

// chunkSize is the initial capacity of the buffer PutReader reads a
// stream into. The buffer grows past it as needed; the whole object is
// held in memory and written as one bytea value, without Postgres large
// objects — see DESIGN.md for why bytea was chosen over a large-object
// implementation.
const chunkSize = 64 << 20

// Object is a retrieved blob plus its metadata.
type Object struct {
	Bytes    []byte
	Metadata map[string]string
}

// Store implements the blob store contract against Postgres.
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
		CREATE TABLE IF NOT EXISTS blobs (
			bucket     TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       BYTEA NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (bucket, key)
		)
	`)
	return err
}

// Put writes data under (bucket, key). If an object already exists at that
// key it is deleted first, then the new object is inserted — an overwrite
// is delete-then-insert, never an in-place update, per spec.md §3.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInvalidInput, "marshal blob metadata", err)
	}

	return s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.Querier(ctx)
		if _, err := q.ExecContext(ctx, `DELETE FROM blobs WHERE bucket = $1 AND key = $2`, bucket, key); err != nil {
			return svcerrors.Wrap(svcerrors.CodeInternal, "delete existing blob before overwrite", err)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO blobs (bucket, key, data, metadata) VALUES ($1, $2, $3, $4)
		`, bucket, key, data, metaJSON); err != nil {
			return svcerrors.Wrap(svcerrors.CodeInternal, "insert blob", err)
		}
		return nil
	})
}

// PutReader reads all of r into one in-memory buffer (pre-sized to
// chunkSize) and then writes it with a single Put, so readers never
// observe a partial object. Peak memory grows with the object's size.
func (s *Store) PutReader(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	buf := bytes.NewBuffer(make([]byte, 0, chunkSize))
	if _, err := io.Copy(buf, r); err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "read blob stream", err)
	}
	return s.Put(ctx, bucket, key, buf.Bytes(), metadata)
}

// Get reads the object at (bucket, key), returning (nil, nil) if missing —
// "missing" is not an error per spec.md §4.1.
func (s *Store) Get(ctx context.Context, bucket, key string) (*Object, error) {
	var data []byte
	var metaJSON []byte
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT data, metadata FROM blobs WHERE bucket = $1 AND key = $2
	`, bucket, key).Scan(&data, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "get blob", err)
	}

	var metadata map[string]string
	if err := json.Unmarshal(metaJSON, &metadata); err != nil {
		metadata = map[string]string{}
	}
	return &Object{Bytes: data, Metadata: metadata}, nil
}

// Delete removes the object at (bucket, key); it is a no-op if missing.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `DELETE FROM blobs WHERE bucket = $1 AND key = $2`, bucket, key)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "delete blob", err)
	}
	return nil
}

// DeleteByBucketPrefix removes every object whose key starts with prefix
// within bucket — used when a document is deleted to cascade its blobs
// (spec.md §3's document lifetime: "destroyed on user delete cascades to
// blobs, OCR artifacts...").
func (s *Store) DeleteByBucketPrefix(ctx context.Context, bucket, prefix string) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		DELETE FROM blobs WHERE bucket = $1 AND key LIKE $2
	`, bucket, prefix+"%")
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "delete blobs by prefix", err)
	}
	return nil
}
