package pipeline

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/blobstore"
	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
)

func TestDeleteDocumentCascadesToBlobsThenDocument(t *testing.T) {
	docConn, docMock, err := sqlmock.New()
	require.NoError(t, err)
	defer docConn.Close()
	blobConn, blobMock, err := sqlmock.New()
	require.NoError(t, err)
	defer blobConn.Close()

	log := logging.New("test", "error", "text")
	docs := document.New(dbx.New(docConn))
	blobs := blobstore.New(dbx.New(blobConn))
	pc := New(docs, blobs, nil, nil, nil, nil, log, nil)

	blobMock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WithArgs(blobBucket, "ocr/doc_1/%").
		WillReturnResult(sqlmock.NewResult(0, 2))
	blobMock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WithArgs(blobBucket, "llm/doc_1/%").
		WillReturnResult(sqlmock.NewResult(0, 1))
	docMock.ExpectExec("DELETE FROM documents WHERE doc_id = \\$1").
		WithArgs("doc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = pc.DeleteDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	require.NoError(t, docMock.ExpectationsWereMet())
	require.NoError(t, blobMock.ExpectationsWereMet())
}

func TestDeleteDocumentPropagatesBlobStoreError(t *testing.T) {
	docConn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer docConn.Close()
	blobConn, blobMock, err := sqlmock.New()
	require.NoError(t, err)
	defer blobConn.Close()

	log := logging.New("test", "error", "text")
	docs := document.New(dbx.New(docConn))
	blobs := blobstore.New(dbx.New(blobConn))
	pc := New(docs, blobs, nil, nil, nil, nil, log, nil)

	blobMock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WillReturnError(assert.AnError)

	err = pc.DeleteDocument(context.Background(), "doc_1")
	assert.Error(t, err)
}
