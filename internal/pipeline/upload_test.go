package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/queue"
)

func newTestContext(t *testing.T) (*Context, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	docConn, docMock, err := sqlmock.New()
	require.NoError(t, err)
	queueConn, queueMock, err := sqlmock.New()
	require.NoError(t, err)

	log := logging.New("test", "error", "text")
	docs := document.New(dbx.New(docConn))
	q := queue.New(dbx.New(queueConn), nil, log, nil, 10*time.Millisecond)

	ctx := New(docs, nil, q, nil, nil, nil, log, nil)

	t.Cleanup(func() {
		docConn.Close()
		queueConn.Close()
	})
	return ctx, docMock, queueMock
}

func TestUploadPutsDocumentAndEnqueuesOCR(t *testing.T) {
	pc, docMock, queueMock := newTestContext(t)

	docMock.ExpectExec("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "org_1", "report.pdf", "mongo-1", "pdf-1", sqlmock.AnyArg(), document.StateUploaded, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	queueMock.ExpectExec("INSERT INTO queue_messages").
		WithArgs(sqlmock.AnyArg(), QueueOCR, queue.StatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	docID, err := pc.Upload(context.Background(), UploadInput{
		OrganizationID: "org_1",
		UserFileName:   "report.pdf",
		MongoFileName:  "mongo-1",
		PDFFileName:    "pdf-1",
	})
	require.NoError(t, err)
	assert.Len(t, docID, 24)
	require.NoError(t, docMock.ExpectationsWereMet())
	require.NoError(t, queueMock.ExpectationsWereMet())
}

func TestUploadPropagatesDocumentStoreError(t *testing.T) {
	pc, docMock, _ := newTestContext(t)

	docMock.ExpectExec("INSERT INTO documents").WillReturnError(assert.AnError)

	_, err := pc.Upload(context.Background(), UploadInput{OrganizationID: "org_1", UserFileName: "report.pdf"})
	assert.Error(t, err)
}
