package document

import (
	"context"
	"testing"
	"time"

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

func TestPutGeneratesIDAndDefaultState(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "org_1", "report.pdf", nil, nil, sqlmock.AnyArg(), StateUploaded, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	doc := &Document{OrganizationID: "org_1", UserFileName: "report.pdf"}
	err := store.Put(context.Background(), doc)
	require.NoError(t, err)

	assert.Len(t, doc.ID, 24)
	assert.Equal(t, StateUploaded, doc.State)
	assert.False(t, doc.UploadDate.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutPreservesExplicitID(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("abcdefabcdefabcdefabcdef", "org_1", "report.pdf", nil, nil, sqlmock.AnyArg(), StateOCRCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	doc := &Document{ID: "abcdefabcdefabcdefabcdef", OrganizationID: "org_1", UserFileName: "report.pdf", State: StateOCRCompleted}
	require.NoError(t, store.Put(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsDocument(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"doc_id", "organization_id", "user_file_name", "mongo_file_name", "pdf_file_name",
		"tag_ids", "state", "state_updated_at", "upload_date",
	}).AddRow("abcdefabcdefabcdefabcdef", "org_1", "report.pdf", "mongo-1", nil, "{tag1,tag2}", StateUploaded, now, now)

	mock.ExpectQuery("SELECT .* FROM documents WHERE doc_id = \\$1").
		WithArgs("abcdefabcdefabcdefabcdef").
		WillReturnRows(rows)

	doc, err := store.Get(context.Background(), "abcdefabcdefabcdefabcdef")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "org_1", doc.OrganizationID)
	assert.Equal(t, "mongo-1", doc.MongoFileName)
	assert.Empty(t, doc.PDFFileName)
	assert.Equal(t, []string{"tag1", "tag2"}, doc.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNilOnNotFound(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM documents WHERE doc_id = \\$1").
		WithArgs("000000000000000000000000").
		WillReturnRows(sqlmock.NewRows([]string{
			"doc_id", "organization_id", "user_file_name", "mongo_file_name", "pdf_file_name",
			"tag_ids", "state", "state_updated_at", "upload_date",
		}))

	doc, err := store.Get(context.Background(), "000000000000000000000000")
	require.NoError(t, err)
	assert.Nil(t, doc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDoesNotErrorOnMissingID(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM documents WHERE doc_id = \\$1").
		WithArgs("000000000000000000000000").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "000000000000000000000000")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateState(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE documents SET state = \\$1, state_updated_at = \\$2 WHERE doc_id = \\$3").
		WithArgs(StateOCRCompleted, sqlmock.AnyArg(), "abcdefabcdefabcdefabcdef").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateState(context.Background(), "abcdefabcdefabcdefabcdef", StateOCRCompleted)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReturnsDocsAndTotalCount(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := sqlmock.NewRows([]string{
		"doc_id", "organization_id", "user_file_name", "mongo_file_name", "pdf_file_name",
		"tag_ids", "state", "state_updated_at", "upload_date",
	}).AddRow("aaaaaaaaaaaaaaaaaaaaaaaa", "org_1", "a.pdf", nil, nil, "{}", StateUploaded, now, now).
		AddRow("bbbbbbbbbbbbbbbbbbbbbbbb", "org_1", "b.pdf", nil, nil, "{}", StateUploaded, now, now)

	mock.ExpectQuery("SELECT .* FROM documents ORDER BY upload_date ASC OFFSET \\$1 LIMIT \\$2").
		WithArgs(0, 10).
		WillReturnRows(rows)

	docs, total, err := store.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, docs, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
