package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
)

func newTestDeliveryStore(t *testing.T) (*DeliveryStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewDeliveryStore(dbx.New(conn)), mock, func() { conn.Close() }
}

func TestCreateAssignsIDAndPendingStatus(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	d := &Delivery{OrganizationID: "org_1", EventType: "document.uploaded", Payload: []byte(`{}`), TargetURL: "https://example.com"}
	id, err := store.Create(context.Background(), d)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StatusPending, d.Status)
	assert.NotEmpty(t, d.EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func deliveryRowColumns() []string {
	return []string{
		"delivery_id", "organization_id", "event_type", "event_id", "document_id", "payload", "target_url",
		"auth_type", "auth_header_name", "auth_header_value_enc", "secret_enc",
		"attempts", "next_attempt_at", "status", "last_status_code", "last_error", "created_at", "updated_at",
	}
}

func TestClaimByIDReturnsDeliveryWhenDue(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows(deliveryRowColumns()).
		AddRow("d-1", "org_1", "document.uploaded", "evt-1", nil, []byte(`{}`), "https://example.com",
			AuthHMAC, nil, nil, "enc-secret", 0, now, StatusInFlight, nil, nil, now, now)

	mock.ExpectQuery("UPDATE webhook_deliveries").
		WithArgs(StatusInFlight, "d-1", StatusPending).
		WillReturnRows(rows)

	d, err := store.ClaimByID(context.Background(), "d-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, StatusInFlight, d.Status)
	assert.Equal(t, "enc-secret", d.SecretEnc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimByIDReturnsNilWhenNotDue(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE webhook_deliveries").
		WithArgs(StatusInFlight, "d-1", StatusPending).
		WillReturnRows(sqlmock.NewRows(deliveryRowColumns()))

	d, err := store.ClaimByID(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Nil(t, d)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSucceededDoesNotIncrementAttempts(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE webhook_deliveries SET status = \\$1, attempts = attempts, next_attempt_at").
		WithArgs(StatusSucceeded, sqlmock.AnyArg(), 200, nil, "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkSucceeded(context.Background(), "d-1", 200)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetrySetsNextAttemptAndIncrementsAttempts(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	next := time.Now().Add(30 * time.Second)
	mock.ExpectExec("UPDATE webhook_deliveries SET status = \\$1, attempts = attempts \\+ 1, next_attempt_at").
		WithArgs(StatusPending, next, 503, "http 503", "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkRetry(context.Background(), "d-1", 503, "http 503", next)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkGivingUp(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs(StatusGivingUp, sqlmock.AnyArg(), 410, "http 410", "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkGivingUp(context.Background(), "d-1", 410, "http 410")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleDoesNotIncrementAttempts(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	next := time.Now().Add(time.Second)
	mock.ExpectExec("UPDATE webhook_deliveries SET status = \\$1, attempts = attempts, next_attempt_at").
		WithArgs(StatusPending, next, nil, "rate limited", "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Reschedule(context.Background(), "d-1", "rate limited", next)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueForRetryReturnsOnlyPendingWithAttempts(t *testing.T) {
	store, mock, cleanup := newTestDeliveryStore(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows(deliveryRowColumns()).
		AddRow("d-1", "org_1", "document.uploaded", "evt-1", nil, []byte(`{}`), "https://example.com",
			AuthNone, nil, nil, nil, 1, now, StatusPending, nil, nil, now, now)

	mock.ExpectQuery("SELECT .* FROM webhook_deliveries").
		WithArgs(StatusPending, 50).
		WillReturnRows(rows)

	deliveries, err := store.DueForRetry(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "d-1", deliveries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
