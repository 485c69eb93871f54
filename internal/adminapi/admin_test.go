package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/blobstore"
	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/pipeline"
	"github.com/analytiq-hub/doc-router-sub001/internal/secrets"
	"github.com/analytiq-hub/doc-router-sub001/internal/webhook"
)

func newTestHandler(t *testing.T) (*mux.Router, sqlmock.Sqlmock, func()) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	box := secrets.New("test-master-secret")
	configs := webhook.NewConfigStore(dbx.New(conn), box)
	log := logging.New("test", "error", "text")

	router := mux.NewRouter()
	New(configs, nil, log).Register(router)

	return router, mock, func() { conn.Close() }
}

func emptyConfigRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"organization_id", "enabled", "url", "events", "auth_type",
		"auth_header_name", "auth_header_value", "secret", "signature_enabled",
	})
}

func TestGetWebhookReturnsZeroValueForUnknownOrg(t *testing.T) {
	router, mock, cleanup := newTestHandler(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM webhook_configs WHERE organization_id = \\$1").
		WithArgs("org_1").
		WillReturnRows(emptyConfigRows())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orgs/org_1/webhook", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var view webhook.AdminView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "org_1", view.OrganizationID)
	assert.Equal(t, webhook.AuthNone, view.AuthType)
	assert.False(t, view.SecretSet)
}

func TestPutWebhookEnablingHMACReturnsGeneratedSecretOnce(t *testing.T) {
	router, mock, cleanup := newTestHandler(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM webhook_configs WHERE organization_id = \\$1").
		WithArgs("org_1").
		WillReturnRows(emptyConfigRows())
	mock.ExpectExec("INSERT INTO webhook_configs").WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(map[string]any{
		"enabled":   true,
		"url":       "https://example.com/hook",
		"auth_type": "hmac",
		"secret":    "",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/orgs/org_1/webhook", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var view webhook.AdminView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotEmpty(t, view.GeneratedSecret)
	assert.True(t, view.SecretSet)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutWebhookInvalidBodyReturns400(t *testing.T) {
	router, _, cleanup := newTestHandler(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/orgs/org_1/webhook", bytes.NewReader([]byte("not json")))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDocumentCascadesToBlobsAndReturns204(t *testing.T) {
	docConn, docMock, err := sqlmock.New()
	require.NoError(t, err)
	defer docConn.Close()
	blobConn, blobMock, err := sqlmock.New()
	require.NoError(t, err)
	defer blobConn.Close()

	log := logging.New("test", "error", "text")
	docs := document.New(dbx.New(docConn))
	blobs := blobstore.New(dbx.New(blobConn))
	pc := pipeline.New(docs, blobs, nil, nil, nil, nil, log, nil)

	blobMock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WithArgs("documents", "ocr/doc_1/%").
		WillReturnResult(sqlmock.NewResult(0, 2))
	blobMock.ExpectExec("DELETE FROM blobs WHERE bucket = \\$1 AND key LIKE \\$2").
		WithArgs("documents", "llm/doc_1/%").
		WillReturnResult(sqlmock.NewResult(0, 1))
	docMock.ExpectExec("DELETE FROM documents WHERE doc_id = \\$1").
		WithArgs("doc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := mux.NewRouter()
	New(nil, pc, log).Register(router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/documents/doc_1", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, docMock.ExpectationsWereMet())
	require.NoError(t, blobMock.ExpectationsWereMet())
}
