package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	return New(dbx.New(conn)), mock, func() { conn.Close() }
}

func TestPutDeletesThenInsertsWithinTransaction(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key = \\$2").
		WithArgs("docs", "abc/ocr.json").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO blobs").
		WithArgs("docs", "abc/ocr.json", []byte(`{"text":"hi"}`), []byte(`{"content_type":"application/json"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Put(context.Background(), "docs", "abc/ocr.json", []byte(`{"text":"hi"}`), map[string]string{"content_type": "application/json"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutRollsBackOnInsertFailure(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM blobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO blobs").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Put(context.Background(), "docs", "abc/ocr.json", []byte("data"), nil)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutReaderBuffersAndDelegatesToPut(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM blobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO blobs").
		WithArgs("docs", "abc/pdf", []byte("pdf-bytes"), []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.PutReader(context.Background(), "docs", "abc/pdf", bytes.NewReader([]byte("pdf-bytes")), nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsObject(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"data", "metadata"}).
		AddRow([]byte("hello"), []byte(`{"content_type":"text/plain"}`))
	mock.ExpectQuery("SELECT data, metadata FROM blobs WHERE bucket = \\$1 AND key = \\$2").
		WithArgs("docs", "abc/text").
		WillReturnRows(rows)

	obj, err := store.Get(context.Background(), "docs", "abc/text")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, []byte("hello"), obj.Bytes)
	assert.Equal(t, "text/plain", obj.Metadata["content_type"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNilOnMissing(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT data, metadata FROM blobs WHERE bucket = \\$1 AND key = \\$2").
		WithArgs("docs", "missing").
		WillReturnError(sql.ErrNoRows)

	obj, err := store.Get(context.Background(), "docs", "missing")
	require.NoError(t, err)
	assert.Nil(t, obj)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByBucketPrefix(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WithArgs("docs", "abc/%").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := store.DeleteByBucketPrefix(context.Background(), "docs", "abc/")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
